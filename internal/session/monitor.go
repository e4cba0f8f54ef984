package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/resolve"
)

const (
	defaultPollInterval        = time.Second
	defaultUnavailableInterval = 30 * time.Second
	defaultHistorySize         = 32
)

const (
	reasonNoSession = "No Resolve running"
	reasonLost      = "Lost connection to Resolve"
)

// EventSink receives status events. protocol.LineWriter satisfies it.
type EventSink interface {
	WriteJSON(v any) error
}

// Config controls monitor cadence.
type Config struct {
	PollInterval        time.Duration
	UnavailableInterval time.Duration
	HistorySize         int
}

// Monitor attaches to the application, probes liveness on every tick and
// reports connectivity transitions as status events. Each cycle produces a
// fresh Snapshot that is offered to the dispatcher through Updates.
type Monitor struct {
	attacher resolve.Attacher
	sink     EventSink
	cfg      Config
	now      func() time.Time

	// mu serializes attach attempts and probes.
	mu        sync.Mutex
	handle    resolve.Resolve
	state     State
	sessionID string
	seq       uint64
	lastCode  protocol.StatusCode
	lastCtx   protocol.ContextInfo
	current   Snapshot

	updates chan Snapshot
	history *RingBuffer[Transition]
}

// NewMonitor creates a monitor in the unattached state.
func NewMonitor(attacher resolve.Attacher, sink EventSink, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.UnavailableInterval <= 0 {
		cfg.UnavailableInterval = defaultUnavailableInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	return &Monitor{
		attacher: attacher,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		state:    StateUnattached,
		current:  Snapshot{State: StateUnattached},
		updates:  make(chan Snapshot, 1),
		history:  NewRingBuffer[Transition](cfg.HistorySize),
	}
}

// Updates delivers the most recent snapshot proposed by the monitor. Older
// unread proposals are replaced, so a reader only ever sees the latest one.
func (m *Monitor) Updates() <-chan Snapshot {
	return m.updates
}

// Run polls until ctx is cancelled. The wait between cycles is the poll
// interval, or the unavailable interval once the attach mechanism is missing.
func (m *Monitor) Run(ctx context.Context) error {
	log.Printf("watching for Resolve availability")
	for {
		wait := m.Tick(ctx)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one attach-or-probe cycle and returns the wait before the next.
func (m *Monitor) Tick(ctx context.Context) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		m.probeLocked()
	} else {
		m.attachLocked(ctx, false)
	}

	if m.state == StateUnavailable {
		return m.cfg.UnavailableInterval
	}
	return m.cfg.PollInterval
}

// Connect performs one attach attempt unless a handle is already held. The
// resulting status is always emitted, even when unchanged.
func (m *Monitor) Connect(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return m.current, nil
	}
	err := m.attachLocked(ctx, true)
	return m.current, err
}

// Status returns a report of the monitor state and recent transitions.
func (m *Monitor) Status() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Report{
		State:       m.state,
		Code:        m.state.Code(),
		SessionID:   m.sessionID,
		Context:     m.current.Context,
		Transitions: m.history.ReadAll(),
	}
}

// Close releases the held handle, if any.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	return err
}

// Report is the monitor state returned by the status command.
type Report struct {
	State       State                `json:"state"`
	Code        protocol.StatusCode  `json:"code"`
	SessionID   string               `json:"session_id,omitempty"`
	Context     protocol.ContextInfo `json:"context"`
	Transitions []Transition         `json:"transitions"`
}

func (m *Monitor) probeLocked() {
	snap, err := Derive(m.handle)
	if err == nil {
		snap.State = StateAttached
		snap.SessionID = m.sessionID
		m.publishLocked(snap)
		m.reportLocked(StateAttached, "", false)
		return
	}

	log.Printf("lost connection to Resolve: %v", err)
	m.dropHandleLocked()
	m.publishLocked(Snapshot{State: StateUnattached, Reason: reasonLost})
	m.reportLocked(StateUnattached, reasonLost, false)
}

func (m *Monitor) attachLocked(ctx context.Context, force bool) error {
	if m.lastCode == "" {
		log.Printf("attempting to connect to Resolve")
	}

	var handle resolve.Resolve
	err := resolve.Guard("attach", func() error {
		var err error
		handle, err = m.attacher.Attach(ctx)
		return err
	})
	if err == nil && handle == nil {
		err = resolve.ErrNoSession
	}
	if err != nil {
		if errors.Is(err, resolve.ErrUnavailable) {
			m.publishLocked(Snapshot{State: StateUnavailable, Reason: err.Error()})
			m.reportLocked(StateUnavailable, err.Error(), force)
			return err
		}
		m.publishLocked(Snapshot{State: StateUnattached, Reason: reasonNoSession})
		m.reportLocked(StateUnattached, reasonNoSession, force)
		return fmt.Errorf("%s: %w", reasonNoSession, err)
	}

	snap, err := Derive(handle)
	if err != nil {
		_ = handle.Close()
		reason := fmt.Sprintf("attach failed: %v", err)
		m.publishLocked(Snapshot{State: StateUnattached, Reason: reason})
		m.reportLocked(StateUnattached, reason, force)
		return fmt.Errorf("%w: %s", resolve.ErrNoSession, reason)
	}

	m.handle = handle
	m.sessionID = uuid.New().String()
	log.Printf("connected to Resolve (session %s)", m.sessionID)
	snap.State = StateAttached
	snap.SessionID = m.sessionID
	m.publishLocked(snap)
	m.reportLocked(StateAttached, "", force)
	return nil
}

func (m *Monitor) dropHandleLocked() {
	if err := m.handle.Close(); err != nil {
		log.Printf("close Resolve handle: %v", err)
	}
	m.handle = nil
	m.sessionID = ""
}

// publishLocked stamps snap and offers it to the dispatcher, replacing any
// proposal it has not picked up yet.
func (m *Monitor) publishLocked(snap Snapshot) {
	m.seq++
	snap.Seq = m.seq
	snap.At = m.now()
	m.current = snap

	select {
	case <-m.updates:
	default:
	}
	m.updates <- snap
}

// reportLocked moves to state and emits a status event when the code or the
// attached context changed since the last event, or when force is set.
func (m *Monitor) reportLocked(state State, reason string, force bool) {
	from := m.state
	m.state = state
	code := state.Code()
	ctxInfo := m.current.Context

	changed := code != m.lastCode ||
		(code == protocol.CodeConnected && !ctxInfo.Equal(m.lastCtx))
	if !changed && !force {
		return
	}
	var data *protocol.ContextInfo
	if code == protocol.CodeConnected {
		c := ctxInfo
		data = &c
	}
	m.lastCode = code
	m.lastCtx = ctxInfo

	if changed {
		m.history.Write(Transition{
			From:      from,
			To:        state,
			Code:      code,
			SessionID: m.sessionID,
			Context:   data,
			Error:     reason,
			At:        m.now(),
		})
		if code != protocol.CodeConnected {
			log.Printf("Resolve status %s: %s", code, reason)
		}
	}
	if err := m.sink.WriteJSON(protocol.NewStatusEvent(code, data, reason)); err != nil {
		log.Printf("emit status event: %v", err)
	}
}
