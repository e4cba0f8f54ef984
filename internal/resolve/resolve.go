// Package resolve models the slice of the editing application's scripting
// object model that the bridge uses. Every method is fallible: transport
// failures, script errors and vanished objects all surface as errors, and an
// absent object is returned as a nil interface with a nil error.
package resolve

import "context"

// Resolve is the top-level application handle.
type Resolve interface {
	GetProjectManager() (ProjectManager, error)
	// Close releases the handle. Calling it on a dead handle is harmless.
	Close() error
}

// ProjectManager gives access to the open project.
type ProjectManager interface {
	GetCurrentProject() (Project, error)
}

// Project is an open project.
type Project interface {
	GetName() (string, error)
	GetCurrentTimeline() (Timeline, error)
	GetMediaPool() (MediaPool, error)
	GetRenderSettings() (map[string]any, error)
	SetRenderSettings(settings map[string]any) (bool, error)
	GetTimelineCount() (int, error)
	// GetTimelineByIndex is 1-based.
	GetTimelineByIndex(index int) (Timeline, error)
	SetCurrentTimeline(tl Timeline) (bool, error)
	LoadRenderPreset(name string) (bool, error)
	// AddRenderJob returns the new job id, or "" when the job was refused.
	AddRenderJob() (string, error)
	GetRenderJobList() ([]map[string]any, error)
	StartRendering() (bool, error)
	StopRendering() (bool, error)
}

// Marker describes a timeline marker.
type Marker struct {
	Timecode   string
	Color      string
	Name       string
	Note       string
	Duration   int
	CustomData string
}

// Timeline is a project timeline.
type Timeline interface {
	GetName() (string, error)
	GetCurrentTimecode() (string, error)
	SetCurrentTimecode(tc string) (bool, error)
	AddMarker(m Marker) (bool, error)
	GetTrackCount(trackType string) (int, error)
	// GetItemListInTrack is 1-based on index.
	GetItemListInTrack(trackType string, index int) ([]TimelineItem, error)
	GetSetting(key string) (string, error)
}

// TimelineItem is a clip placed on a track.
type TimelineItem interface {
	GetName() (string, error)
	GetStart() (int, error)
	GetFusionComps() ([]FusionComp, error)
}

// FusionComp is a compositing sub-document attached to a timeline item.
type FusionComp interface {
	// GetToolList returns the comp's tools keyed by tool name.
	GetToolList() (map[string]Tool, error)
	CurrentTime() (int, error)
}

// Tool is a node inside a FusionComp.
type Tool interface {
	// ID returns the registry id of the tool, e.g. "TextPlus".
	ID() (string, error)
	GetInput(name string) (any, error)
	SetInput(name string, value any) (bool, error)
}

// MediaPool manages bins and clips.
type MediaPool interface {
	GetRootFolder() (Folder, error)
	AddSubFolder(parent Folder, name string) (Folder, error)
	SetCurrentFolder(f Folder) (bool, error)
}

// Folder is a media pool bin.
type Folder interface {
	GetName() (string, error)
	GetSubFolderList() ([]Folder, error)
	GetClipList() ([]Clip, error)
}

// Clip is a media pool item.
type Clip interface {
	GetName() (string, error)
}

// Attacher acquires a handle to a running application.
//
// Attach returns ErrUnavailable when the attach mechanism itself is missing,
// and ErrNoSession (possibly wrapped) when no application answered.
type Attacher interface {
	Attach(ctx context.Context) (Resolve, error)
}

// AttacherFunc adapts a function to Attacher.
type AttacherFunc func(ctx context.Context) (Resolve, error)

// Attach calls f.
func (f AttacherFunc) Attach(ctx context.Context) (Resolve, error) {
	return f(ctx)
}
