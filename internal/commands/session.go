package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"resolve-bridge/internal/journal"
	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/worker"
)

// handleConnect performs one attach attempt through the monitor and applies
// the resulting snapshot before answering.
func (s *Service) handleConnect(ctx context.Context, call *worker.Call) (any, error) {
	snap, err := s.monitor.Connect(ctx)
	call.Session.Apply(snap)
	if err != nil {
		if errors.Is(err, resolve.ErrUnavailable) {
			return nil, err
		}
		log.Printf("connect: %v", err)
		return nil, ErrNoResolve
	}
	return resultData{Result: true}, nil
}

func (s *Service) handleContext(_ context.Context, call *worker.Call) (any, error) {
	return call.Session.Current().Context, nil
}

func (s *Service) handleStatus(_ context.Context, _ *worker.Call) (any, error) {
	return s.monitor.Status(), nil
}

type historyData struct {
	Entries []journal.Entry `json:"entries"`
}

func (s *Service) handleHistory(ctx context.Context, call *worker.Call) (any, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	var p struct {
		Limit json.RawMessage `json:"limit"`
	}
	if err := call.Request.Decode(&p); err != nil {
		return nil, err
	}
	limit, err := intOr(p.Limit, journal.DefaultLimit, "limit")
	if err != nil {
		return nil, err
	}
	entries, err := s.journal.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return historyData{Entries: entries}, nil
}

func (s *Service) handleShutdown(_ context.Context, call *worker.Call) (any, error) {
	call.RequestShutdown()
	return resultData{Result: true}, nil
}
