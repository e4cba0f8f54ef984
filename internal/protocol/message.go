package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is a single inbound command line.
// ID and TraceID are kept as raw JSON so they can be echoed verbatim.
type Request struct {
	ID      json.RawMessage
	Cmd     string
	TraceID json.RawMessage

	raw    []byte
	fields map[string]json.RawMessage
}

// HasID reports whether the request carried an "id" field.
func (r *Request) HasID() bool {
	return len(r.ID) > 0
}

// Raw returns the original line the request was decoded from.
func (r *Request) Raw() []byte {
	return r.raw
}

// Has reports whether the request contains the named field with a non-null value.
func (r *Request) Has(key string) bool {
	v, ok := r.fields[key]
	return ok && string(v) != "null"
}

// Field returns the raw JSON of a top-level field, or nil when absent.
func (r *Request) Field(key string) json.RawMessage {
	return r.fields[key]
}

// Decode unmarshals the whole request object into v.
// Handlers use this to read their own payload fields.
func (r *Request) Decode(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", r.Cmd, err)
	}
	return nil
}

// Response is the single correlated reply to a Request.
// A nil ID marshals as null.
type Response struct {
	ID      json.RawMessage `json:"id"`
	OK      bool            `json:"ok"`
	Data    any             `json:"data"`
	Error   *string         `json:"error"`
	TraceID json.RawMessage `json:"trace_id,omitempty"`
}

// NewResponse builds a success response correlated to req.
func NewResponse(req *Request, data any) *Response {
	resp := &Response{OK: true, Data: data}
	if req != nil {
		resp.ID = req.ID
		resp.TraceID = req.TraceID
	}
	return resp
}

// NewErrorResponse builds a failure response. req may be nil when the line
// could not be decoded far enough to extract an id.
func NewErrorResponse(req *Request, message string) *Response {
	resp := &Response{OK: false, Error: &message}
	if req != nil {
		resp.ID = req.ID
		resp.TraceID = req.TraceID
	}
	return resp
}

// Event types.
const (
	EventStatus  = "status"
	EventMessage = "message"
)

// StatusCode describes the connectivity reported by a status event.
type StatusCode string

const (
	CodeConnected   StatusCode = "CONNECTED"
	CodeNoSession   StatusCode = "NO_SESSION"
	CodeUnavailable StatusCode = "NO_PYTHON_GET_RESOLVE"
)

// ContextInfo is the project/timeline projection of the session.
type ContextInfo struct {
	Project  *string `json:"project"`
	Timeline *string `json:"timeline"`
}

// Equal reports whether both projections name the same project and timeline.
func (c ContextInfo) Equal(o ContextInfo) bool {
	return strEqual(c.Project, o.Project) && strEqual(c.Timeline, o.Timeline)
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// StatusEvent reports a connectivity transition. It carries no id.
type StatusEvent struct {
	Event string       `json:"event"`
	OK    bool         `json:"ok"`
	Code  StatusCode   `json:"code"`
	Data  *ContextInfo `json:"data,omitempty"`
	Error *string      `json:"error"`
}

// NewStatusEvent creates a status event. An empty errMsg marshals as null.
func NewStatusEvent(code StatusCode, data *ContextInfo, errMsg string) *StatusEvent {
	ev := &StatusEvent{
		Event: EventStatus,
		OK:    code == CodeConnected,
		Code:  code,
		Data:  data,
	}
	if errMsg != "" {
		ev.Error = &errMsg
	}
	return ev
}

// MessageEvent is a timestamped log line streamed to the host while a
// command runs. TraceID echoes the triggering request, or null.
type MessageEvent struct {
	Event   string          `json:"event"`
	TraceID json.RawMessage `json:"trace_id"`
	Message string          `json:"message"`
}

// NewMessageEvent formats text as "[HH:MM:SS] text".
func NewMessageEvent(traceID json.RawMessage, at time.Time, text string) *MessageEvent {
	return &MessageEvent{
		Event:   EventMessage,
		TraceID: traceID,
		Message: fmt.Sprintf("[%s] %s", at.Format("15:04:05"), text),
	}
}

// CommandPing is answered by the dispatcher without consulting the registry.
const CommandPing = "ping"

// PingData is the payload of every ping response.
var PingData = map[string]string{"status": "ok"}
