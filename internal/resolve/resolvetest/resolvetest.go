// Package resolvetest provides an in-memory scripting object model for tests.
package resolvetest

import (
	"context"
	"fmt"
	"sync"

	"resolve-bridge/internal/resolve"
)

// App is a fake application handle.
type App struct {
	mu      sync.Mutex
	manager *ProjectManager
	probe   error
	closed  bool
}

// NewApp returns an application whose project manager has project p as
// current project. p may be nil.
func NewApp(p *Project) *App {
	return &App{manager: &ProjectManager{current: p}}
}

// Manager returns the fake project manager.
func (a *App) Manager() *ProjectManager { return a.manager }

// FailProbe makes GetProjectManager fail with err until called with nil.
func (a *App) FailProbe(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probe = err
}

// Closed reports whether Close was called.
func (a *App) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *App) GetProjectManager() (resolve.ProjectManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.probe != nil {
		return nil, a.probe
	}
	return a.manager, nil
}

func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// ProjectManager is a fake project manager.
type ProjectManager struct {
	mu      sync.Mutex
	current *Project
}

// SetCurrent switches the current project. p may be nil.
func (pm *ProjectManager) SetCurrent(p *Project) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.current = p
}

func (pm *ProjectManager) GetCurrentProject() (resolve.Project, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.current == nil {
		return nil, nil
	}
	return pm.current, nil
}

// Project is a fake project. Exported fields may be set before the project
// is shared with other goroutines.
type Project struct {
	mu sync.Mutex

	Name      string
	Timelines []*Timeline
	Pool      *MediaPool
	Settings  map[string]any
	// Presets lists the render presets LoadRenderPreset accepts.
	Presets map[string]bool
	// RefuseJobs makes AddRenderJob return an empty id.
	RefuseJobs bool

	current   *Timeline
	preset    string
	jobs      []map[string]any
	jobSeq    int
	rendering bool
	switches  []string
}

// NewProject returns a project with the given timelines; the first one, if
// any, is current.
func NewProject(name string, timelines ...*Timeline) *Project {
	p := &Project{
		Name:      name,
		Timelines: timelines,
		Pool:      NewMediaPool(),
		Settings:  map[string]any{},
		Presets:   map[string]bool{},
	}
	if len(timelines) > 0 {
		p.current = timelines[0]
	}
	return p
}

// SetName renames the project.
func (p *Project) SetName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Name = name
}

// SetCurrent makes tl the current timeline. tl may be nil.
func (p *Project) SetCurrent(tl *Timeline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = tl
}

// Jobs returns a copy of the render queue.
func (p *Project) Jobs() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.jobs...)
}

// Rendering reports whether StartRendering was called more recently than
// StopRendering.
func (p *Project) Rendering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendering
}

// Switches lists timeline names passed to SetCurrentTimeline, in order.
func (p *Project) Switches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.switches...)
}

func (p *Project) GetName() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Name, nil
}

func (p *Project) GetCurrentTimeline() (resolve.Timeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	return p.current, nil
}

func (p *Project) GetMediaPool() (resolve.MediaPool, error) {
	if p.Pool == nil {
		return nil, nil
	}
	return p.Pool, nil
}

func (p *Project) GetRenderSettings() (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.Settings))
	for k, v := range p.Settings {
		out[k] = v
	}
	return out, nil
}

func (p *Project) SetRenderSettings(settings map[string]any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Settings == nil {
		p.Settings = map[string]any{}
	}
	for k, v := range settings {
		p.Settings[k] = v
	}
	return true, nil
}

func (p *Project) GetTimelineCount() (int, error) {
	return len(p.Timelines), nil
}

func (p *Project) GetTimelineByIndex(index int) (resolve.Timeline, error) {
	if index < 1 || index > len(p.Timelines) || p.Timelines[index-1] == nil {
		return nil, nil
	}
	return p.Timelines[index-1], nil
}

func (p *Project) SetCurrentTimeline(tl resolve.Timeline) (bool, error) {
	fake, ok := tl.(*Timeline)
	if !ok {
		return false, fmt.Errorf("foreign timeline %T", tl)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = fake
	p.switches = append(p.switches, fake.Name)
	return true, nil
}

func (p *Project) LoadRenderPreset(name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Presets[name] {
		return false, nil
	}
	p.preset = name
	return true, nil
}

func (p *Project) AddRenderJob() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RefuseJobs {
		return "", nil
	}
	p.jobSeq++
	id := fmt.Sprintf("job-%d", p.jobSeq)
	job := map[string]any{"JobId": id, "PresetName": p.preset}
	if p.current != nil {
		job["TimelineName"] = p.current.Name
	}
	if dir, ok := p.Settings["TargetDir"]; ok {
		job["TargetDir"] = dir
	}
	p.jobs = append(p.jobs, job)
	return id, nil
}

func (p *Project) GetRenderJobList() ([]map[string]any, error) {
	return p.Jobs(), nil
}

func (p *Project) StartRendering() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.jobs) == 0 {
		return false, nil
	}
	p.rendering = true
	return true, nil
}

func (p *Project) StopRendering() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rendering = false
	return true, nil
}

// Timeline is a fake timeline with video tracks only.
type Timeline struct {
	mu sync.Mutex

	Name      string
	FrameRate string
	Tracks    [][]*Item
	// RefuseMarkers makes AddMarker report failure.
	RefuseMarkers bool

	timecode string
	markers  []resolve.Marker
}

// NewTimeline returns a timeline at 24 fps with the playhead at 01:00:00:00.
func NewTimeline(name string, tracks ...[]*Item) *Timeline {
	return &Timeline{Name: name, FrameRate: "24", Tracks: tracks, timecode: "01:00:00:00"}
}

// Markers returns the markers added so far.
func (t *Timeline) Markers() []resolve.Marker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]resolve.Marker(nil), t.markers...)
}

// SetName renames the timeline.
func (t *Timeline) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Name = name
}

func (t *Timeline) GetName() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Name, nil
}

func (t *Timeline) GetCurrentTimecode() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timecode, nil
}

func (t *Timeline) SetCurrentTimecode(tc string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timecode = tc
	return true, nil
}

func (t *Timeline) AddMarker(m resolve.Marker) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RefuseMarkers {
		return false, nil
	}
	t.markers = append(t.markers, m)
	return true, nil
}

func (t *Timeline) GetTrackCount(trackType string) (int, error) {
	if trackType != "video" {
		return 0, nil
	}
	return len(t.Tracks), nil
}

func (t *Timeline) GetItemListInTrack(trackType string, index int) ([]resolve.TimelineItem, error) {
	if trackType != "video" || index < 1 || index > len(t.Tracks) {
		return nil, nil
	}
	items := make([]resolve.TimelineItem, 0, len(t.Tracks[index-1]))
	for _, it := range t.Tracks[index-1] {
		items = append(items, it)
	}
	return items, nil
}

func (t *Timeline) GetSetting(key string) (string, error) {
	if key == resolve.SettingFrameRate {
		return t.FrameRate, nil
	}
	return "", nil
}

// Item is a fake timeline item.
type Item struct {
	Name  string
	Start int
	Comps []*Comp
}

func (it *Item) GetName() (string, error) { return it.Name, nil }
func (it *Item) GetStart() (int, error)   { return it.Start, nil }

func (it *Item) GetFusionComps() ([]resolve.FusionComp, error) {
	comps := make([]resolve.FusionComp, 0, len(it.Comps))
	for _, c := range it.Comps {
		comps = append(comps, c)
	}
	return comps, nil
}

// Comp is a fake compositing sub-document.
type Comp struct {
	Tools map[string]*Tool
	Time  int
}

func (c *Comp) GetToolList() (map[string]resolve.Tool, error) {
	tools := make(map[string]resolve.Tool, len(c.Tools))
	for name, tool := range c.Tools {
		tools[name] = tool
	}
	return tools, nil
}

func (c *Comp) CurrentTime() (int, error) { return c.Time, nil }

// Tool is a fake compositing node.
type Tool struct {
	mu     sync.Mutex
	RegID  string
	Inputs map[string]any
}

// NewTextTool returns a Text+ tool whose StyledText is text.
func NewTextTool(text string) *Tool {
	return &Tool{RegID: "TextPlus", Inputs: map[string]any{"StyledText": text}}
}

// Input returns the current value of input name.
func (t *Tool) Input(name string) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Inputs[name]
}

func (t *Tool) ID() (string, error) { return t.RegID, nil }

func (t *Tool) GetInput(name string) (any, error) {
	return t.Input(name), nil
}

func (t *Tool) SetInput(name string, value any) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Inputs == nil {
		t.Inputs = map[string]any{}
	}
	t.Inputs[name] = value
	return true, nil
}

// MediaPool is a fake media pool.
type MediaPool struct {
	mu   sync.Mutex
	Root *Folder
	// Refuse lists folder names AddSubFolder will not create.
	Refuse map[string]bool

	current *Folder
}

// NewMediaPool returns a pool with an empty "Master" root folder.
func NewMediaPool() *MediaPool {
	return &MediaPool{Root: &Folder{Name: "Master"}, Refuse: map[string]bool{}}
}

// Current returns the folder last passed to SetCurrentFolder.
func (mp *MediaPool) Current() *Folder {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.current
}

func (mp *MediaPool) GetRootFolder() (resolve.Folder, error) {
	if mp.Root == nil {
		return nil, nil
	}
	return mp.Root, nil
}

func (mp *MediaPool) AddSubFolder(parent resolve.Folder, name string) (resolve.Folder, error) {
	p, ok := parent.(*Folder)
	if !ok {
		return nil, fmt.Errorf("foreign folder %T", parent)
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.Refuse[name] {
		return nil, nil
	}
	f := &Folder{Name: name}
	p.Subs = append(p.Subs, f)
	return f, nil
}

func (mp *MediaPool) SetCurrentFolder(f resolve.Folder) (bool, error) {
	folder, ok := f.(*Folder)
	if !ok {
		return false, fmt.Errorf("foreign folder %T", f)
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.current = folder
	return true, nil
}

// Folder is a fake bin.
type Folder struct {
	Name  string
	Subs  []*Folder
	Clips []*Clip
}

// Sub returns the direct sub-folder called name, or nil.
func (f *Folder) Sub(name string) *Folder {
	for _, s := range f.Subs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (f *Folder) GetName() (string, error) { return f.Name, nil }

func (f *Folder) GetSubFolderList() ([]resolve.Folder, error) {
	out := make([]resolve.Folder, 0, len(f.Subs))
	for _, s := range f.Subs {
		out = append(out, s)
	}
	return out, nil
}

func (f *Folder) GetClipList() ([]resolve.Clip, error) {
	out := make([]resolve.Clip, 0, len(f.Clips))
	for _, c := range f.Clips {
		out = append(out, c)
	}
	return out, nil
}

// Clip is a fake media pool item.
type Clip struct {
	Name string
}

func (c *Clip) GetName() (string, error) { return c.Name, nil }

// Attacher hands out a configurable application or error.
type Attacher struct {
	mu    sync.Mutex
	app   resolve.Resolve
	err   error
	calls int
}

// NewAttacher returns an attacher that fails with resolve.ErrNoSession
// until Set is called.
func NewAttacher() *Attacher {
	return &Attacher{err: resolve.ErrNoSession}
}

// Set configures the next Attach results. A nil app with a nil err is
// treated as resolve.ErrNoSession.
func (a *Attacher) Set(app resolve.Resolve, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.app, a.err = app, err
}

// Calls returns how many times Attach ran.
func (a *Attacher) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Attacher) Attach(ctx context.Context) (resolve.Resolve, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if a.app == nil {
		return nil, resolve.ErrNoSession
	}
	return a.app, nil
}
