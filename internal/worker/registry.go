// Package worker runs the request loop: it reads command lines, routes them
// to registered handlers and writes exactly one response per request.
package worker

import (
	"context"
	"fmt"
	"sort"

	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/session"
)

// Logger streams progress lines to the host while a handler runs.
type Logger interface {
	Logf(format string, args ...any)
}

// Call carries everything a handler may use for one request.
type Call struct {
	Request *protocol.Request
	// Session is the dispatcher-owned session state, already refreshed with
	// the monitor's latest snapshot.
	Session *session.Store
	Log     Logger

	shutdown func()
}

// RequestShutdown asks the dispatcher to exit once the current response has
// been written.
func (c *Call) RequestShutdown() {
	if c.shutdown != nil {
		c.shutdown()
	}
}

// Handler runs one command and returns its result value.
type Handler func(ctx context.Context, call *Call) (any, error)

// Registry maps command names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering ping or a name twice is a
// programming error and panics.
func (r *Registry) Register(name string, h Handler) {
	if name == protocol.CommandPing {
		panic("worker: ping is handled by the dispatcher")
	}
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("worker: duplicate handler for %q", name))
	}
	r.handlers[name] = h
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
