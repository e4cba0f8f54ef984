package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/resolve/resolvetest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*protocol.StatusEvent
}

func (s *recordingSink) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := v.(*protocol.StatusEvent)
	if !ok {
		return errors.New("unexpected event type")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) codes() []protocol.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.StatusCode, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Code
	}
	return out
}

func (s *recordingSink) last() *protocol.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func newTestMonitor(a resolve.Attacher) (*Monitor, *recordingSink) {
	sink := &recordingSink{}
	m := NewMonitor(a, sink, Config{PollInterval: time.Millisecond, UnavailableInterval: time.Hour})
	return m, sink
}

func attachedApp() (*resolvetest.App, *resolvetest.Project, *resolvetest.Timeline) {
	tl := resolvetest.NewTimeline("Main")
	p := resolvetest.NewProject("Edit", tl)
	return resolvetest.NewApp(p), p, tl
}

func TestMonitor_RepeatedFailuresEmitOnce(t *testing.T) {
	a := resolvetest.NewAttacher()
	m, sink := newTestMonitor(a)

	for i := 0; i < 5; i++ {
		assert.Equal(t, time.Millisecond, m.Tick(context.Background()))
	}

	assert.Equal(t, 5, a.Calls())
	require.Equal(t, []protocol.StatusCode{protocol.CodeNoSession}, sink.codes())
	ev := sink.last()
	assert.False(t, ev.OK)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "No Resolve running", *ev.Error)
	assert.Nil(t, ev.Data)
}

func TestMonitor_AttachEmitsConnectedWithContext(t *testing.T) {
	a := resolvetest.NewAttacher()
	app, _, _ := attachedApp()
	a.Set(app, nil)
	m, sink := newTestMonitor(a)

	m.Tick(context.Background())

	require.Equal(t, []protocol.StatusCode{protocol.CodeConnected}, sink.codes())
	data, err := json.Marshal(sink.last())
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"status","ok":true,"code":"CONNECTED","data":{"project":"Edit","timeline":"Main"},"error":null}`, string(data))

	report := m.Status()
	assert.Equal(t, StateAttached, report.State)
	assert.NotEmpty(t, report.SessionID)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, StateUnattached, report.Transitions[0].From)
}

func TestMonitor_ContextChangeEmitsConnectedAgain(t *testing.T) {
	a := resolvetest.NewAttacher()
	app, project, _ := attachedApp()
	a.Set(app, nil)
	m, sink := newTestMonitor(a)

	m.Tick(context.Background())
	m.Tick(context.Background())
	require.Len(t, sink.codes(), 1, "unchanged context must not emit")

	project.SetCurrent(resolvetest.NewTimeline("Alt"))
	m.Tick(context.Background())

	require.Equal(t, []protocol.StatusCode{protocol.CodeConnected, protocol.CodeConnected}, sink.codes())
	require.NotNil(t, sink.last().Data.Timeline)
	assert.Equal(t, "Alt", *sink.last().Data.Timeline)
	assert.Equal(t, 1, a.Calls(), "probing an attached handle does not attach again")
}

func TestMonitor_ProbeFailureDropsHandle(t *testing.T) {
	a := resolvetest.NewAttacher()
	app, _, _ := attachedApp()
	a.Set(app, nil)
	m, sink := newTestMonitor(a)

	m.Tick(context.Background())
	app.FailProbe(errors.New("socket closed"))
	a.Set(nil, resolve.ErrNoSession)
	m.Tick(context.Background())
	m.Tick(context.Background())

	assert.Equal(t, []protocol.StatusCode{protocol.CodeConnected, protocol.CodeNoSession}, sink.codes())
	assert.True(t, app.Closed())
	assert.Equal(t, StateUnattached, m.Status().State)
	assert.Empty(t, m.Status().SessionID)
}

func TestMonitor_ProbePanicCountsAsLostSession(t *testing.T) {
	a := resolvetest.NewAttacher()
	a.Set(panickyApp{}, nil)
	m, sink := newTestMonitor(a)

	require.NotPanics(t, func() { m.Tick(context.Background()) })
	assert.Equal(t, []protocol.StatusCode{protocol.CodeNoSession}, sink.codes())
	assert.Contains(t, *sink.last().Error, "panic")
}

type panickyApp struct{}

func (panickyApp) GetProjectManager() (resolve.ProjectManager, error) { panic("dead proxy") }
func (panickyApp) Close() error                                      { return nil }

func TestMonitor_AttacherPanicIsNoSession(t *testing.T) {
	a := resolve.AttacherFunc(func(context.Context) (resolve.Resolve, error) {
		panic("loader exploded")
	})
	m, sink := newTestMonitor(a)

	require.NotPanics(t, func() { m.Tick(context.Background()) })
	assert.Equal(t, []protocol.StatusCode{protocol.CodeNoSession}, sink.codes())
}

func TestMonitor_UnavailableBacksOff(t *testing.T) {
	a := resolvetest.NewAttacher()
	a.Set(nil, resolve.ErrUnavailable)
	m, sink := newTestMonitor(a)

	assert.Equal(t, time.Hour, m.Tick(context.Background()))
	assert.Equal(t, time.Hour, m.Tick(context.Background()))

	assert.Equal(t, []protocol.StatusCode{protocol.CodeUnavailable}, sink.codes())
	assert.False(t, sink.last().OK)
	assert.Equal(t, StateUnavailable, m.Status().State)
}

func TestMonitor_ConnectAlwaysReports(t *testing.T) {
	a := resolvetest.NewAttacher()
	m, sink := newTestMonitor(a)

	m.Tick(context.Background())
	_, err := m.Connect(context.Background())
	require.ErrorIs(t, err, resolve.ErrNoSession)
	assert.Equal(t, []protocol.StatusCode{protocol.CodeNoSession, protocol.CodeNoSession}, sink.codes())
	assert.Len(t, m.Status().Transitions, 1, "a forced repeat is not a transition")

	app, _, _ := attachedApp()
	a.Set(app, nil)
	snap, err := m.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Attached())
	require.NotNil(t, snap.Context.Project)
	assert.Equal(t, "Edit", *snap.Context.Project)

	calls := a.Calls()
	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calls, a.Calls(), "connect while attached must not attach again")
}

func TestMonitor_ConnectUnavailable(t *testing.T) {
	a := resolvetest.NewAttacher()
	a.Set(nil, resolve.ErrUnavailable)
	m, sink := newTestMonitor(a)

	_, err := m.Connect(context.Background())
	require.ErrorIs(t, err, resolve.ErrUnavailable)
	assert.Equal(t, []protocol.StatusCode{protocol.CodeUnavailable}, sink.codes())
}

func TestMonitor_UpdatesKeepOnlyLatest(t *testing.T) {
	a := resolvetest.NewAttacher()
	m, _ := newTestMonitor(a)

	for i := 0; i < 3; i++ {
		m.Tick(context.Background())
	}

	select {
	case snap := <-m.Updates():
		assert.Equal(t, uint64(3), snap.Seq)
		assert.Equal(t, StateUnattached, snap.State)
	default:
		t.Fatal("expected a pending snapshot")
	}
	select {
	case <-m.Updates():
		t.Fatal("expected a single pending snapshot")
	default:
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	a := resolvetest.NewAttacher()
	m, _ := newTestMonitor(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Calls() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_CloseReleasesHandle(t *testing.T) {
	a := resolvetest.NewAttacher()
	app, _, _ := attachedApp()
	a.Set(app, nil)
	m, _ := newTestMonitor(a)

	m.Tick(context.Background())
	require.NoError(t, m.Close())
	assert.True(t, app.Closed())
	require.NoError(t, m.Close())
}
