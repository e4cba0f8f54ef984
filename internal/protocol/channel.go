package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLineSize bounds a single inbound line, terminator excluded.
const MaxLineSize = 16 * 1024 * 1024 // 16 MB

// ErrLineTooLong is returned by LineReader.Next for a line over the size
// limit. The rest of that line has been consumed; reading may continue.
var ErrLineTooLong = errors.New("line too long")

// LineReader yields newline-delimited request lines from a stream.
type LineReader struct {
	r     *bufio.Reader
	limit int
	buf   []byte
}

// NewLineReader wraps r with the default line limit.
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderSize(r, MaxLineSize)
}

// NewLineReaderSize wraps r, rejecting lines longer than limit bytes.
func NewLineReaderSize(r io.Reader, limit int) *LineReader {
	if limit <= 0 {
		limit = MaxLineSize
	}
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// Next returns the next non-blank line. It returns io.EOF at end of stream
// and ErrLineTooLong for an oversized line. The returned slice is only valid
// until the next call.
func (lr *LineReader) Next() ([]byte, error) {
	for {
		line, err := lr.readLine()
		if err != nil {
			return nil, err
		}
		if IsBlank(line) {
			continue
		}
		return line, nil
	}
}

// readLine reads up to the next newline. An oversized line is discarded
// chunk by chunk instead of being buffered.
func (lr *LineReader) readLine() ([]byte, error) {
	lr.buf = lr.buf[:0]
	tooLong := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		content := len(chunk)
		if err == nil {
			content-- // newline
		}
		if !tooLong {
			if len(lr.buf)+content > lr.limit {
				tooLong = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, ErrLineTooLong
			}
			return trimEOL(lr.buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, ErrLineTooLong
			}
			if len(lr.buf) == 0 {
				return nil, io.EOF
			}
			return trimEOL(lr.buf), nil
		default:
			return nil, fmt.Errorf("read line: %w", err)
		}
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// LineWriter serializes values as single JSON lines and flushes after every
// line. It is safe for concurrent use; the monitor and the dispatcher share it.
// The first write failure is sticky.
type LineWriter struct {
	mu  sync.Mutex
	buf *bufio.Writer
	err error
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{buf: bufio.NewWriter(w)}
}

// WriteJSON writes v followed by a newline and flushes.
func (lw *LineWriter) WriteJSON(v any) error {
	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode line: %w", err)
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.err != nil {
		return lw.err
	}
	if _, err := lw.buf.Write(line.Bytes()); err != nil {
		lw.err = fmt.Errorf("write line: %w", err)
		return lw.err
	}
	if err := lw.buf.Flush(); err != nil {
		lw.err = fmt.Errorf("flush line: %w", err)
		return lw.err
	}
	return nil
}

// Err returns the sticky write error, if any.
func (lw *LineWriter) Err() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.err
}
