package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the attach mechanism is not installed or configured.
	ErrUnavailable = errors.New("scripting API not available")
	// ErrNoSession means no running application could be reached.
	ErrNoSession = errors.New("no Resolve running")
	// ErrClosed is returned by calls on a handle whose transport has gone away.
	ErrClosed = errors.New("scripting connection closed")
)

// ScriptError is a failure reported by the scripting side for one call.
type ScriptError struct {
	Method  string
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Guard runs fn and turns a panic into an error. External object
// implementations are not trusted to stay panic-free.
func Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
	}()
	return fn()
}
