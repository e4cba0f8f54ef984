package worker

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"resolve-bridge/internal/protocol"
)

// EventWriter writes one JSON value per output line.
type EventWriter interface {
	WriteJSON(v any) error
}

// Emitter sends handler progress as message events correlated by the
// request's trace_id, and mirrors every line to the diagnostic log.
type Emitter struct {
	out     EventWriter
	cmd     string
	traceID json.RawMessage
	now     func() time.Time
}

// NewEmitter creates an emitter for one request.
func NewEmitter(out EventWriter, cmd string, traceID json.RawMessage) *Emitter {
	return &Emitter{out: out, cmd: cmd, traceID: traceID, now: time.Now}
}

// Logf formats and emits one message event.
func (e *Emitter) Logf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	log.Printf("%s: %s", e.cmd, text)
	if err := e.out.WriteJSON(protocol.NewMessageEvent(e.traceID, e.now(), text)); err != nil {
		log.Printf("emit message event: %v", err)
	}
}
