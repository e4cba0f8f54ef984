package resolve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers calls from a fixed table keyed by "ref.Method".
type fakeGateway struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	calls []call
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{t: t}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var c call
			if err := conn.ReadJSON(&c); err != nil {
				return
			}
			g.mu.Lock()
			g.calls = append(g.calls, c)
			g.mu.Unlock()

			if c.Method == "Crash" {
				return
			}
			if c.Method == "Hang" {
				continue
			}
			if err := conn.WriteJSON(g.answer(c)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) endpoint() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) lastCall() call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

func (g *fakeGateway) answer(c call) reply {
	results := map[string]string{
		"resolve.GetProjectManager":  `{"$ref":"pm"}`,
		"pm.GetCurrentProject":       `{"$ref":"p1"}`,
		"p1.GetName":                 `"Edit"`,
		"p1.GetCurrentTimeline":      `null`,
		"p1.GetTimelineCount":        `2`,
		"p1.GetTimelineByIndex":      `{"$ref":"tl1"}`,
		"p1.SetCurrentTimeline":      `true`,
		"p1.AddRenderJob":            `"5c1e"`,
		"p1.GetRenderJobList":        `[{"JobId":"5c1e"}]`,
		"tl1.GetName":                `"Main"`,
		"tl1.AddMarker":              `true`,
		"tl1.GetSetting":             `25`,
		"tl1.GetItemListInTrack":     `[{"$ref":"it1"},null]`,
		"it1.GetFusionCompCount":     `1`,
		"it1.GetFusionCompByIndex":   `{"$ref":"comp1"}`,
		"comp1.GetToolList":          `{"Title":{"$ref":"tool1"}}`,
		"tool1.SetInput":             `null`,
		"tool1.GetInput":             `"Hello"`,
	}
	raw, ok := results[c.Ref+"."+c.Method]
	if !ok {
		return reply{ID: c.ID, Error: "no such method"}
	}
	return reply{ID: c.ID, Result: json.RawMessage(raw)}
}

func attach(t *testing.T, g *fakeGateway) Resolve {
	a := NewGatewayAttacher(g.endpoint(), time.Second, time.Second)
	r, err := a.Attach(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGatewayAttacher_EmptyEndpointIsUnavailable(t *testing.T) {
	_, err := NewGatewayAttacher("", time.Second, time.Second).Attach(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGatewayAttacher_DialFailureIsNoSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := NewGatewayAttacher(endpoint, time.Second, time.Second).Attach(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRemote_NavigatesObjectModel(t *testing.T) {
	g := newFakeGateway(t)
	r := attach(t, g)

	pm, err := r.GetProjectManager()
	require.NoError(t, err)
	p, err := pm.GetCurrentProject()
	require.NoError(t, err)
	require.NotNil(t, p)

	name, err := p.GetName()
	require.NoError(t, err)
	assert.Equal(t, "Edit", name)

	tl, err := p.GetCurrentTimeline()
	require.NoError(t, err)
	assert.Nil(t, tl, "null result must become a nil interface")

	count, err := p.GetTimelineCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	tl, err = p.GetTimelineByIndex(1)
	require.NoError(t, err)
	ok, err := p.SetCurrentTimeline(tl)
	require.NoError(t, err)
	assert.True(t, ok)
	last := g.lastCall()
	assert.Equal(t, "p1", last.Ref)
	assert.Equal(t, []any{map[string]any{"$ref": "tl1"}}, last.Args)

	assert.Equal(t, 25.0, TimelineFrameRate(tl))

	id, err := p.AddRenderJob()
	require.NoError(t, err)
	assert.Equal(t, "5c1e", id)

	jobs, err := p.GetRenderJobList()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"JobId": "5c1e"}}, jobs)
}

func TestRemote_AddMarkerSendsPositionalArgs(t *testing.T) {
	g := newFakeGateway(t)
	r := attach(t, g)
	pm, _ := r.GetProjectManager()
	p, _ := pm.GetCurrentProject()
	tl, err := p.GetTimelineByIndex(1)
	require.NoError(t, err)

	ok, err := tl.AddMarker(Marker{Timecode: "01:00:00:00", Color: "Blue", Duration: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{"01:00:00:00", "Blue", "", "", 1.0, ""}, g.lastCall().Args)
}

func TestRemote_FusionTools(t *testing.T) {
	g := newFakeGateway(t)
	r := attach(t, g)
	pm, _ := r.GetProjectManager()
	p, _ := pm.GetCurrentProject()
	tl, _ := p.GetTimelineByIndex(1)

	items, err := tl.GetItemListInTrack("video", 1)
	require.NoError(t, err)
	require.Len(t, items, 1, "null entries are dropped")

	comps, err := items[0].GetFusionComps()
	require.NoError(t, err)
	require.Len(t, comps, 1)

	tools, err := comps[0].GetToolList()
	require.NoError(t, err)
	require.Contains(t, tools, "Title")

	v, err := tools["Title"].GetInput("StyledText")
	require.NoError(t, err)
	assert.Equal(t, "Hello", v)

	ok, err := tools["Title"].SetInput("StyledText", "Bye")
	require.NoError(t, err)
	assert.True(t, ok, "null from SetInput counts as success")
}

func TestRemote_ScriptError(t *testing.T) {
	g := newFakeGateway(t)
	r := attach(t, g)
	pm, _ := r.GetProjectManager()
	p, _ := pm.GetCurrentProject()

	_, err := p.StartRendering()
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "StartRendering", se.Method)
	assert.Equal(t, "no such method", se.Message)
}

func TestRemote_ConnectionLossFailsCalls(t *testing.T) {
	g := newFakeGateway(t)
	r := attach(t, g)
	root := r.(*remoteResolve)

	_, err := root.call("Crash")
	require.ErrorIs(t, err, ErrClosed)

	_, err = r.GetProjectManager()
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, r.Close(), "closing a dead handle is harmless")
}

func TestRemote_AttachContextCancelsCalls(t *testing.T) {
	g := newFakeGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := NewGatewayAttacher(g.endpoint(), time.Second, time.Minute).Attach(ctx)
	require.NoError(t, err)
	defer r.Close()
	root := r.(*remoteResolve)

	errCh := make(chan error, 1)
	go func() {
		_, err := root.call("Hang")
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("call still waiting after the attach context was cancelled")
	}
}

func TestArgRef_RejectsForeignObjects(t *testing.T) {
	_, err := argRef(struct{}{})
	require.Error(t, err)
}
