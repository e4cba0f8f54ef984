package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidJSON is returned when an inbound line is not a JSON object.
var ErrInvalidJSON = errors.New("invalid JSON")

// DecodeRequest parses one inbound line into a Request.
// The id is extracted before anything else so that every later failure can
// still be correlated. A missing or non-string cmd is not a decode error; the
// dispatcher reports it as an unknown command.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidJSON)
	}

	raw := make([]byte, len(line))
	copy(raw, line)

	req := &Request{raw: raw, fields: fields}
	if id, ok := fields["id"]; ok && !isNull(id) {
		req.ID = id
	}
	if tid, ok := fields["trace_id"]; ok && !isNull(tid) {
		req.TraceID = tid
	}

	if cmd, ok := fields["cmd"]; ok && !isNull(cmd) {
		var name string
		if err := json.Unmarshal(cmd, &name); err != nil {
			// Keep the literal so the error message shows what was sent.
			name = string(cmd)
		}
		req.Cmd = name
	}

	return req, nil
}

// IsBlank reports whether a line carries no content and must be skipped.
func IsBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// UnknownCommandError is the message for a missing or unregistered command.
func UnknownCommandError(cmd string) string {
	return fmt.Sprintf("unknown command: '%s'", cmd)
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
