package session

import (
	"fmt"
	"time"

	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/resolve"
)

// State represents the attach state of the session.
type State string

const (
	StateUnattached  State = "unattached"
	StateAttached    State = "attached"
	StateUnavailable State = "no_capability"
)

// Code returns the status code reported for s.
func (s State) Code() protocol.StatusCode {
	switch s {
	case StateAttached:
		return protocol.CodeConnected
	case StateUnavailable:
		return protocol.CodeUnavailable
	default:
		return protocol.CodeNoSession
	}
}

// Snapshot is the session state derived from one application handle. It is
// always recomputed as a whole, never patched.
type Snapshot struct {
	// Seq orders snapshots; a store never goes back to a lower Seq.
	Seq       uint64
	State     State
	SessionID string
	Handle    resolve.Resolve
	Project   resolve.Project
	Timeline  resolve.Timeline
	Context   protocol.ContextInfo
	Reason    string
	At        time.Time
}

// Attached reports whether the snapshot holds a live handle.
func (s Snapshot) Attached() bool {
	return s.State == StateAttached && s.Handle != nil
}

// Transition is one observed change of state or context.
type Transition struct {
	From      State                 `json:"from"`
	To        State                 `json:"to"`
	Code      protocol.StatusCode   `json:"code"`
	SessionID string                `json:"session_id,omitempty"`
	Context   *protocol.ContextInfo `json:"context,omitempty"`
	Error     string                `json:"error,omitempty"`
	At        time.Time             `json:"at"`
}

// Derive walks handle -> project manager -> current project -> current
// timeline and reads their names. Any failure or panic along the way is
// returned as an error; absent objects are not errors.
func Derive(handle resolve.Resolve) (Snapshot, error) {
	var snap Snapshot
	if handle == nil {
		return snap, nil
	}
	snap.Handle = handle

	err := resolve.Guard("refresh context", func() error {
		pm, err := handle.GetProjectManager()
		if err != nil {
			return fmt.Errorf("get project manager: %w", err)
		}
		if pm == nil {
			return nil
		}
		project, err := pm.GetCurrentProject()
		if err != nil {
			return fmt.Errorf("get current project: %w", err)
		}
		if project == nil {
			return nil
		}
		name, err := project.GetName()
		if err != nil {
			return fmt.Errorf("get project name: %w", err)
		}
		snap.Project = project
		snap.Context.Project = &name

		timeline, err := project.GetCurrentTimeline()
		if err != nil {
			return fmt.Errorf("get current timeline: %w", err)
		}
		if timeline == nil {
			return nil
		}
		tlName, err := timeline.GetName()
		if err != nil {
			return fmt.Errorf("get timeline name: %w", err)
		}
		snap.Timeline = timeline
		snap.Context.Timeline = &tlName
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Store holds the authoritative session snapshot. It is owned by the
// dispatcher goroutine and is not safe for concurrent use.
type Store struct {
	snap Snapshot
}

// NewStore returns a store in the unattached state.
func NewStore() *Store {
	return &Store{snap: Snapshot{State: StateUnattached}}
}

// Current returns the latest applied snapshot.
func (s *Store) Current() Snapshot {
	return s.snap
}

// Apply replaces the snapshot unless snap is older than the current one.
func (s *Store) Apply(snap Snapshot) bool {
	if snap.Seq < s.snap.Seq {
		return false
	}
	s.snap = snap
	return true
}

// Drain applies every snapshot waiting on updates without blocking.
func (s *Store) Drain(updates <-chan Snapshot) {
	for {
		select {
		case snap := <-updates:
			s.Apply(snap)
		default:
			return
		}
	}
}
