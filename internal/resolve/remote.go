package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// RootRef names the application object on the gateway.
	RootRef = "resolve"

	writeDeadline = 10 * time.Second
	closeDeadline = time.Second
)

// call is one frame sent to the scripting gateway.
type call struct {
	ID     int64  `json:"id"`
	Ref    string `json:"ref"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// reply is the gateway's answer to a call with the same id.
type reply struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// refArg is how objects travel in both directions.
type refArg struct {
	Ref string `json:"$ref"`
}

// Conn multiplexes calls over one websocket connection to the gateway.
// Calls without an explicit context are bounded by the context the
// connection was attached with, so cancelling it aborts calls in flight.
type Conn struct {
	ws          *websocket.Conn
	ctx         context.Context
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan reply
	err     error
	done    chan struct{}
}

func newConn(ctx context.Context, ws *websocket.Conn, callTimeout time.Duration) *Conn {
	c := &Conn{
		ws:          ws,
		ctx:         ctx,
		callTimeout: callTimeout,
		pending:     make(map[int64]chan reply),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		var r reply
		if err := c.ws.ReadJSON(&r); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[r.ID]
		delete(c.pending, r.ID)
		c.mu.Unlock()
		if !ok {
			log.Printf("scripting gateway: reply for unknown call %d", r.ID)
			continue
		}
		ch <- r
	}
}

// fail marks the connection dead and releases every waiting caller.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	close(c.done)
	c.pending = make(map[int64]chan reply)
}

// Err reports why the connection died, or nil while it is alive.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call invokes method on the object named ref and returns the raw result.
func (c *Conn) Call(ref, method string, args ...any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
	defer cancel()
	return c.CallContext(ctx, ref, method, args...)
}

// CallContext is Call bounded by ctx instead of the call timeout.
func (c *Conn) CallContext(ctx context.Context, ref, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	err := c.ws.WriteJSON(call{ID: id, Ref: ref, Method: method, Args: args})
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		return nil, fmt.Errorf("%s: %w", method, c.Err())
	}

	select {
	case r := <-ch:
		if r.Error != "" {
			return nil, &ScriptError{Method: method, Message: r.Error}
		}
		return r.Result, nil
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", method, c.Err())
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeDeadline))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.fail(errors.New("closed by client"))
	return err
}

// GatewayAttacher attaches through the websocket scripting gateway.
type GatewayAttacher struct {
	Endpoint    string
	DialTimeout time.Duration
	CallTimeout time.Duration
}

// NewGatewayAttacher creates an attacher for the gateway at endpoint. An
// empty endpoint means no gateway is installed.
func NewGatewayAttacher(endpoint string, dialTimeout, callTimeout time.Duration) *GatewayAttacher {
	return &GatewayAttacher{
		Endpoint:    endpoint,
		DialTimeout: dialTimeout,
		CallTimeout: callTimeout,
	}
}

// Attach dials the gateway and returns the application root object. The
// handle's calls stop when ctx is cancelled.
func (a *GatewayAttacher) Attach(ctx context.Context) (Resolve, error) {
	if a.Endpoint == "" {
		return nil, ErrUnavailable
	}
	dialer := websocket.Dialer{HandshakeTimeout: a.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, a.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	timeout := a.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &remoteResolve{object{conn: newConn(ctx, ws, timeout), ref: RootRef}}, nil
}

// object is a handle to one gateway-side object.
type object struct {
	conn *Conn
	ref  string
}

func (o object) MarshalJSON() ([]byte, error) {
	return json.Marshal(refArg{Ref: o.ref})
}

func (o object) call(method string, args ...any) (json.RawMessage, error) {
	return o.conn.Call(o.ref, method, args...)
}

func (o object) callString(method string, args ...any) (string, error) {
	raw, err := o.call(method, args...)
	if err != nil {
		return "", err
	}
	var s *string
	if err := decode(method, raw, &s); err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

func (o object) callBool(method string, args ...any) (bool, error) {
	raw, err := o.call(method, args...)
	if err != nil {
		return false, err
	}
	var b *bool
	if err := decode(method, raw, &b); err != nil {
		return false, err
	}
	return b != nil && *b, nil
}

func (o object) callInt(method string, args ...any) (int, error) {
	raw, err := o.call(method, args...)
	if err != nil {
		return 0, err
	}
	var f *float64
	if err := decode(method, raw, &f); err != nil {
		return 0, err
	}
	if f == nil {
		return 0, nil
	}
	return int(*f), nil
}

// callObject returns the referenced object, or ok=false for null.
func (o object) callObject(method string, args ...any) (obj object, ok bool, err error) {
	raw, err := o.call(method, args...)
	if err != nil {
		return object{}, false, err
	}
	var r *refArg
	if err := decode(method, raw, &r); err != nil {
		return object{}, false, err
	}
	if r == nil || r.Ref == "" {
		return object{}, false, nil
	}
	return object{conn: o.conn, ref: r.Ref}, true, nil
}

func (o object) callObjectList(method string, args ...any) ([]object, error) {
	raw, err := o.call(method, args...)
	if err != nil {
		return nil, err
	}
	var refs []*refArg
	if err := decode(method, raw, &refs); err != nil {
		return nil, err
	}
	out := make([]object, 0, len(refs))
	for _, r := range refs {
		if r != nil && r.Ref != "" {
			out = append(out, object{conn: o.conn, ref: r.Ref})
		}
	}
	return out, nil
}

func (o object) callObjectMap(method string, args ...any) (map[string]object, error) {
	raw, err := o.call(method, args...)
	if err != nil {
		return nil, err
	}
	var refs map[string]*refArg
	if err := decode(method, raw, &refs); err != nil {
		return nil, err
	}
	out := make(map[string]object, len(refs))
	for name, r := range refs {
		if r != nil && r.Ref != "" {
			out[name] = object{conn: o.conn, ref: r.Ref}
		}
	}
	return out, nil
}

func decode(method string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: unexpected result %s: %w", method, raw, err)
	}
	return nil
}

// argRef converts an object produced by this package into a call argument.
func argRef(v any) (refArg, error) {
	if r, ok := v.(interface{ gatewayRef() string }); ok {
		return refArg{Ref: r.gatewayRef()}, nil
	}
	return refArg{}, fmt.Errorf("object %T does not belong to the scripting gateway", v)
}

func (o object) gatewayRef() string { return o.ref }

type remoteResolve struct{ object }

func (r *remoteResolve) GetProjectManager() (ProjectManager, error) {
	obj, ok, err := r.callObject("GetProjectManager")
	if err != nil || !ok {
		return nil, err
	}
	return remoteProjectManager{obj}, nil
}

func (r *remoteResolve) Close() error {
	if r.conn.Err() != nil {
		return nil
	}
	return r.conn.Close()
}

type remoteProjectManager struct{ object }

func (pm remoteProjectManager) GetCurrentProject() (Project, error) {
	obj, ok, err := pm.callObject("GetCurrentProject")
	if err != nil || !ok {
		return nil, err
	}
	return remoteProject{obj}, nil
}

type remoteProject struct{ object }

func (p remoteProject) GetName() (string, error) { return p.callString("GetName") }

func (p remoteProject) GetCurrentTimeline() (Timeline, error) {
	obj, ok, err := p.callObject("GetCurrentTimeline")
	if err != nil || !ok {
		return nil, err
	}
	return remoteTimeline{obj}, nil
}

func (p remoteProject) GetMediaPool() (MediaPool, error) {
	obj, ok, err := p.callObject("GetMediaPool")
	if err != nil || !ok {
		return nil, err
	}
	return remoteMediaPool{obj}, nil
}

func (p remoteProject) GetRenderSettings() (map[string]any, error) {
	raw, err := p.call("GetRenderSettings")
	if err != nil {
		return nil, err
	}
	var settings map[string]any
	if err := decode("GetRenderSettings", raw, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (p remoteProject) SetRenderSettings(settings map[string]any) (bool, error) {
	return p.callBool("SetRenderSettings", settings)
}

func (p remoteProject) GetTimelineCount() (int, error) { return p.callInt("GetTimelineCount") }

func (p remoteProject) GetTimelineByIndex(index int) (Timeline, error) {
	obj, ok, err := p.callObject("GetTimelineByIndex", index)
	if err != nil || !ok {
		return nil, err
	}
	return remoteTimeline{obj}, nil
}

func (p remoteProject) SetCurrentTimeline(tl Timeline) (bool, error) {
	ref, err := argRef(tl)
	if err != nil {
		return false, err
	}
	return p.callBool("SetCurrentTimeline", ref)
}

func (p remoteProject) LoadRenderPreset(name string) (bool, error) {
	return p.callBool("LoadRenderPreset", name)
}

func (p remoteProject) AddRenderJob() (string, error) {
	raw, err := p.call("AddRenderJob")
	if err != nil {
		return "", err
	}
	var id any
	if err := decode("AddRenderJob", raw, &id); err != nil {
		return "", err
	}
	switch v := id.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", nil
	}
}

func (p remoteProject) GetRenderJobList() ([]map[string]any, error) {
	raw, err := p.call("GetRenderJobList")
	if err != nil {
		return nil, err
	}
	var jobs []map[string]any
	if err := decode("GetRenderJobList", raw, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (p remoteProject) StartRendering() (bool, error) { return p.callBool("StartRendering") }

func (p remoteProject) StopRendering() (bool, error) {
	if _, err := p.call("StopRendering"); err != nil {
		return false, err
	}
	return true, nil
}

type remoteTimeline struct{ object }

func (t remoteTimeline) GetName() (string, error) { return t.callString("GetName") }

func (t remoteTimeline) GetCurrentTimecode() (string, error) {
	return t.callString("GetCurrentTimecode")
}

func (t remoteTimeline) SetCurrentTimecode(tc string) (bool, error) {
	return t.callBool("SetCurrentTimecode", tc)
}

func (t remoteTimeline) AddMarker(m Marker) (bool, error) {
	return t.callBool("AddMarker", m.Timecode, m.Color, m.Name, m.Note, m.Duration, m.CustomData)
}

func (t remoteTimeline) GetTrackCount(trackType string) (int, error) {
	return t.callInt("GetTrackCount", trackType)
}

func (t remoteTimeline) GetItemListInTrack(trackType string, index int) ([]TimelineItem, error) {
	objs, err := t.callObjectList("GetItemListInTrack", trackType, index)
	if err != nil {
		return nil, err
	}
	items := make([]TimelineItem, len(objs))
	for i, obj := range objs {
		items[i] = remoteItem{obj}
	}
	return items, nil
}

func (t remoteTimeline) GetSetting(key string) (string, error) {
	raw, err := t.call("GetSetting", key)
	if err != nil {
		return "", err
	}
	var v any
	if err := decode("GetSetting", raw, &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

type remoteItem struct{ object }

func (it remoteItem) GetName() (string, error) { return it.callString("GetName") }
func (it remoteItem) GetStart() (int, error)   { return it.callInt("GetStart") }

func (it remoteItem) GetFusionComps() ([]FusionComp, error) {
	count, err := it.callInt("GetFusionCompCount")
	if err != nil {
		return nil, err
	}
	comps := make([]FusionComp, 0, count)
	for i := 1; i <= count; i++ {
		obj, ok, err := it.callObject("GetFusionCompByIndex", i)
		if err != nil {
			return comps, err
		}
		if ok {
			comps = append(comps, remoteComp{obj})
		}
	}
	return comps, nil
}

type remoteComp struct{ object }

func (c remoteComp) GetToolList() (map[string]Tool, error) {
	objs, err := c.callObjectMap("GetToolList", false)
	if err != nil {
		return nil, err
	}
	tools := make(map[string]Tool, len(objs))
	for name, obj := range objs {
		tools[name] = remoteTool{obj}
	}
	return tools, nil
}

func (c remoteComp) CurrentTime() (int, error) { return c.callInt("CurrentTime") }

type remoteTool struct{ object }

func (t remoteTool) ID() (string, error) { return t.callString("ID") }

func (t remoteTool) GetInput(name string) (any, error) {
	raw, err := t.call("GetInput", name)
	if err != nil {
		return nil, err
	}
	var v any
	if err := decode("GetInput", raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t remoteTool) SetInput(name string, value any) (bool, error) {
	raw, err := t.call("SetInput", name, value)
	if err != nil {
		return false, err
	}
	// SetInput answers null on success for most tools.
	var b *bool
	if err := decode("SetInput", raw, &b); err != nil {
		return false, err
	}
	return b == nil || *b, nil
}

type remoteMediaPool struct{ object }

func (mp remoteMediaPool) GetRootFolder() (Folder, error) {
	obj, ok, err := mp.callObject("GetRootFolder")
	if err != nil || !ok {
		return nil, err
	}
	return remoteFolder{obj}, nil
}

func (mp remoteMediaPool) AddSubFolder(parent Folder, name string) (Folder, error) {
	ref, err := argRef(parent)
	if err != nil {
		return nil, err
	}
	obj, ok, err := mp.callObject("AddSubFolder", ref, name)
	if err != nil || !ok {
		return nil, err
	}
	return remoteFolder{obj}, nil
}

func (mp remoteMediaPool) SetCurrentFolder(f Folder) (bool, error) {
	ref, err := argRef(f)
	if err != nil {
		return false, err
	}
	return mp.callBool("SetCurrentFolder", ref)
}

type remoteFolder struct{ object }

func (f remoteFolder) GetName() (string, error) { return f.callString("GetName") }

func (f remoteFolder) GetSubFolderList() ([]Folder, error) {
	objs, err := f.callObjectList("GetSubFolderList")
	if err != nil {
		return nil, err
	}
	folders := make([]Folder, len(objs))
	for i, obj := range objs {
		folders[i] = remoteFolder{obj}
	}
	return folders, nil
}

func (f remoteFolder) GetClipList() ([]Clip, error) {
	objs, err := f.callObjectList("GetClipList")
	if err != nil {
		return nil, err
	}
	clips := make([]Clip, len(objs))
	for i, obj := range objs {
		clips[i] = remoteClip{obj}
	}
	return clips, nil
}

type remoteClip struct{ object }

func (c remoteClip) GetName() (string, error) { return c.callString("GetName") }
