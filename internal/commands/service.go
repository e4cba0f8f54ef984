// Package commands implements the bridge's command handlers on top of the
// scripting object model.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"resolve-bridge/internal/config"
	"resolve-bridge/internal/journal"
	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/session"
	"resolve-bridge/internal/transcribe"
	"resolve-bridge/internal/worker"
)

var (
	// ErrNoProject is returned by handlers that need an open project.
	ErrNoProject = errors.New("No active project")
	// ErrNoTimeline is returned by handlers that need a current timeline.
	ErrNoTimeline = errors.New("No active timeline")
	// ErrNoResolve is returned by connect when no application answered.
	ErrNoResolve = errors.New("No Resolve running")
	// ErrJournalDisabled is returned by history when no journal is open.
	ErrJournalDisabled = errors.New("command journal is disabled")
)

// Connector is the part of the session monitor used by handlers.
type Connector interface {
	Connect(ctx context.Context) (session.Snapshot, error)
	Status() session.Report
}

// History reads journaled commands.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Settings are the reloadable parts of the configuration.
type Settings struct {
	Commands   config.CommandsConfig
	Transcribe config.TranscribeConfig
}

// SettingsFrom extracts the handler settings from cfg.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{Commands: cfg.Commands, Transcribe: cfg.Transcribe}
}

// Options wires a Service to its collaborators.
type Options struct {
	Monitor Connector
	// Journal may be nil when journaling is disabled.
	Journal History
	// Runner executes external transcription tools; nil uses os/exec.
	Runner transcribe.Runner
}

// Service holds the dependencies shared by all handlers.
type Service struct {
	monitor  Connector
	journal  History
	runner   transcribe.Runner
	settings atomic.Pointer[Settings]
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Service with initial settings.
func New(opts Options, settings Settings) *Service {
	s := &Service{
		monitor: opts.Monitor,
		journal: opts.Journal,
		runner:  opts.Runner,
		sleep:   sleepContext,
	}
	s.Update(settings)
	return s
}

// Update replaces the settings seen by subsequent requests. It is safe to
// call from any goroutine.
func (s *Service) Update(settings Settings) {
	if len(settings.Commands.BinsStructure) == 0 {
		settings.Commands.BinsStructure = config.DefaultBins()
	}
	s.settings.Store(&settings)
}

// Settings returns the current settings.
func (s *Service) Settings() Settings {
	return *s.settings.Load()
}

// Register adds every handler to reg.
func (s *Service) Register(reg *worker.Registry) {
	reg.Register("connect", s.handleConnect)
	reg.Register("context", s.handleContext)
	reg.Register("status", s.handleStatus)
	reg.Register("history", s.handleHistory)
	reg.Register("shutdown", s.handleShutdown)
	reg.Register("add_marker", s.handleAddMarker)
	reg.Register("goto", s.handleGoto)
	reg.Register("start_render", s.handleStartRender)
	reg.Register("stop_render", s.handleStopRender)
	reg.Register("create_project_bins", s.handleCreateProjectBins)
	reg.Register("lp_base_export", s.handleLPBaseExport)
	reg.Register("spellcheck", s.handleSpellcheck)
	reg.Register("update_text", s.handleUpdateText)
	reg.Register("transcribe", s.handleTranscribe)
}

type resultData struct {
	Result bool `json:"result"`
}

// currentProject re-reads the open project through the attached handle so
// a handler never acts on an object the user has since closed.
func currentProject(call *worker.Call) (resolve.Project, error) {
	snap, err := fresh(call)
	if err != nil || snap.Project == nil {
		return nil, ErrNoProject
	}
	return snap.Project, nil
}

// currentTimeline is currentProject for the current timeline.
func currentTimeline(call *worker.Call) (resolve.Project, resolve.Timeline, error) {
	snap, err := fresh(call)
	if err != nil || snap.Timeline == nil {
		return nil, nil, ErrNoTimeline
	}
	return snap.Project, snap.Timeline, nil
}

func fresh(call *worker.Call) (session.Snapshot, error) {
	current := call.Session.Current()
	if !current.Attached() {
		return session.Snapshot{}, ErrNoProject
	}
	snap, err := session.Derive(current.Handle)
	if err != nil {
		log.Printf("%s: refresh context: %v", call.Request.Cmd, err)
		return session.Snapshot{}, err
	}
	return snap, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// present reports whether raw holds a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// textValue returns raw as text when it is a non-empty string or a number.
func textValue(raw json.RawMessage) (string, bool) {
	if !present(raw) {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		if t == 0 {
			return "", false
		}
		return strings.TrimSpace(string(raw)), true
	}
	return "", false
}

// intValue accepts a JSON number (truncated toward zero) or a string
// holding an integer.
func intValue(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("not a finite number: %v", t)
		}
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("not an integer: %s", raw)
}

// intOr returns the integer in raw, or def when raw is absent or null.
func intOr(raw json.RawMessage, def int, field string) (int, error) {
	if !present(raw) {
		return def, nil
	}
	n, err := intValue(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", field)
	}
	return n, nil
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
