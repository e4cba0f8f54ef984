package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/resolve/resolvetest"
)

func TestDerive_NilHandle(t *testing.T) {
	snap, err := Derive(nil)
	require.NoError(t, err)
	assert.Nil(t, snap.Handle)
	assert.Nil(t, snap.Context.Project)
	assert.Nil(t, snap.Context.Timeline)
}

func TestDerive_NoProject(t *testing.T) {
	snap, err := Derive(resolvetest.NewApp(nil))
	require.NoError(t, err)
	assert.NotNil(t, snap.Handle)
	assert.Nil(t, snap.Project)
	assert.Nil(t, snap.Context.Project)
}

func TestDerive_ProjectWithoutTimeline(t *testing.T) {
	snap, err := Derive(resolvetest.NewApp(resolvetest.NewProject("Edit")))
	require.NoError(t, err)
	require.NotNil(t, snap.Context.Project)
	assert.Equal(t, "Edit", *snap.Context.Project)
	assert.Nil(t, snap.Timeline)
	assert.Nil(t, snap.Context.Timeline)
}

func TestDerive_FullContext(t *testing.T) {
	tl := resolvetest.NewTimeline("Main")
	snap, err := Derive(resolvetest.NewApp(resolvetest.NewProject("Edit", tl)))
	require.NoError(t, err)
	assert.Equal(t, tl, snap.Timeline)
	require.NotNil(t, snap.Context.Timeline)
	assert.Equal(t, "Main", *snap.Context.Timeline)
}

func TestDerive_ProbeError(t *testing.T) {
	app := resolvetest.NewApp(nil)
	app.FailProbe(errors.New("gone"))
	_, err := Derive(app)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get project manager")
}

func TestStore_IgnoresOlderSnapshots(t *testing.T) {
	s := NewStore()
	assert.Equal(t, StateUnattached, s.Current().State)

	require.True(t, s.Apply(Snapshot{Seq: 2, State: StateAttached}))
	assert.False(t, s.Apply(Snapshot{Seq: 1, State: StateUnattached}))
	assert.Equal(t, StateAttached, s.Current().State)
}

func TestStore_Drain(t *testing.T) {
	s := NewStore()
	updates := make(chan Snapshot, 2)
	updates <- Snapshot{Seq: 1, State: StateUnattached}
	updates <- Snapshot{Seq: 2, State: StateUnavailable}

	s.Drain(updates)
	assert.Equal(t, uint64(2), s.Current().Seq)
	assert.Equal(t, StateUnavailable, s.Current().State)

	s.Drain(updates) // empty channel must not block
}

func TestState_Code(t *testing.T) {
	assert.Equal(t, protocol.CodeConnected, StateAttached.Code())
	assert.Equal(t, protocol.CodeNoSession, StateUnattached.Code())
	assert.Equal(t, protocol.CodeUnavailable, StateUnavailable.Code())
}
