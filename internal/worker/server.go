package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"resolve-bridge/internal/journal"
	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/session"
	"resolve-bridge/internal/tracing"
)

// ErrShutdown is returned by Serve after a shutdown request was answered.
var ErrShutdown = errors.New("shutdown requested")

const defaultShutdownGrace = 50 * time.Millisecond

// Recorder persists one entry per dispatched request.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures optional collaborators of the Server.
type Options struct {
	// Updates carries snapshots proposed by the session monitor.
	Updates <-chan session.Snapshot
	Journal Recorder
	Tracer  trace.Tracer
	// ShutdownGrace is slept after the shutdown response is flushed.
	ShutdownGrace time.Duration
	// MaxLineSize bounds one input line; zero uses protocol.MaxLineSize.
	MaxLineSize int
}

// Server is the single-threaded dispatcher. Requests are handled strictly
// in input order; a handler runs to completion before the next line is read.
type Server struct {
	registry *Registry
	store    *session.Store
	out      *protocol.LineWriter
	updates  <-chan session.Snapshot
	journal  Recorder
	tracer   trace.Tracer
	grace    time.Duration
	maxLine  int
	now      func() time.Time

	shutdown bool
}

// New creates a dispatcher writing to out.
func New(registry *Registry, store *session.Store, out *protocol.LineWriter, opts Options) *Server {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	return &Server{
		registry: registry,
		store:    store,
		out:      out,
		updates:  opts.Updates,
		journal:  opts.Journal,
		tracer:   tracer,
		grace:    grace,
		maxLine:  opts.MaxLineSize,
		now:      time.Now,
	}
}

// Serve reads lines from in until end of stream. It returns nil at end of
// input, ErrShutdown after a shutdown command, and any output write error.
// Oversized lines are answered like malformed ones.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	lr := protocol.NewLineReaderSize(in, s.maxLine)
	for {
		line, err := lr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, protocol.ErrLineTooLong):
			if err := s.reject(ctx, s.now(), err); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		if err := s.HandleLine(ctx, line); err != nil {
			return err
		}
	}
}

// HandleLine processes one non-blank input line and writes its response.
func (s *Server) HandleLine(ctx context.Context, line []byte) error {
	start := s.now()

	req, err := protocol.DecodeRequest(line)
	if err != nil {
		return s.reject(ctx, start, err)
	}

	ctx, span := tracing.StartCommand(ctx, s.tracer, spanCommand(req.Cmd), string(req.ID), string(req.TraceID))
	resp := s.dispatch(ctx, req)
	tracing.EndCommand(span, errorText(resp))
	return s.finish(ctx, req, resp, start)
}

// reject answers a line that could not be read or decoded with an error
// response carrying a null id.
func (s *Server) reject(ctx context.Context, start time.Time, cause error) error {
	ctx, span := tracing.StartCommand(ctx, s.tracer, invalidCommand, "", "")
	resp := protocol.NewErrorResponse(nil, cause.Error())
	tracing.EndCommand(span, cause.Error())
	return s.finish(ctx, nil, resp, start)
}

// finish writes resp, journals it and honors a pending shutdown.
func (s *Server) finish(ctx context.Context, req *protocol.Request, resp *protocol.Response, start time.Time) error {
	if err := s.out.WriteJSON(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	s.record(ctx, req, resp, s.now().Sub(start))

	if s.shutdown {
		log.Printf("shutdown requested, exiting in %s", s.grace)
		time.Sleep(s.grace)
		return ErrShutdown
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	if s.updates != nil {
		s.store.Drain(s.updates)
	}

	if req.Cmd == protocol.CommandPing {
		return protocol.NewResponse(req, protocol.PingData)
	}

	handler, ok := s.registry.Lookup(req.Cmd)
	if !ok {
		return protocol.NewErrorResponse(req, protocol.UnknownCommandError(req.Cmd))
	}

	call := &Call{
		Request:  req,
		Session:  s.store,
		Log:      NewEmitter(s.out, req.Cmd, req.TraceID),
		shutdown: func() { s.shutdown = true },
	}
	data, err := invoke(ctx, handler, call)
	if err != nil {
		return protocol.NewErrorResponse(req, err.Error())
	}
	return protocol.NewResponse(req, data)
}

// Span names for lines that never reach a named command.
const (
	invalidCommand = "invalid"
	missingCommand = "unknown"
)

func spanCommand(cmd string) string {
	if cmd == "" {
		return missingCommand
	}
	return cmd
}

func errorText(resp *protocol.Response) string {
	if resp.Error == nil {
		return ""
	}
	return *resp.Error
}

// invoke runs h and converts a panic into an error.
func invoke(ctx context.Context, h Handler, call *Call) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler %s panicked: %v\n%s", call.Request.Cmd, r, debug.Stack())
			data, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()
	return h(ctx, call)
}

func (s *Server) record(ctx context.Context, req *protocol.Request, resp *protocol.Response, elapsed time.Duration) {
	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		At:         s.now(),
		OK:         resp.OK,
		DurationMS: elapsed.Milliseconds(),
	}
	if req != nil {
		entry.Cmd = req.Cmd
		entry.RequestID = req.ID
		entry.TraceID = req.TraceID
	}
	if resp.Error != nil {
		entry.Error = *resp.Error
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		log.Printf("journal: %v", err)
	}
}
