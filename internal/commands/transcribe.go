package commands

import (
	"context"
	"encoding/json"
	"errors"

	"resolve-bridge/internal/transcribe"
	"resolve-bridge/internal/worker"
)

// handleTranscribe runs a transcription batch over a folder. It does not
// need an attached session.
func (s *Service) handleTranscribe(ctx context.Context, call *worker.Call) (any, error) {
	var p struct {
		FolderPath json.RawMessage `json:"folder_path"`
		Language   *string         `json:"language"`
		Model      *string         `json:"model"`
		OutputMode *string         `json:"output_mode"`
		Overwrite  bool            `json:"overwrite"`
		DryRun     bool            `json:"dry_run"`
	}
	if err := call.Request.Decode(&p); err != nil {
		return nil, err
	}
	var folder string
	if err := json.Unmarshal(p.FolderPath, &folder); err != nil || folder == "" {
		return nil, errors.New("folder_path is required")
	}

	t := transcribe.New(s.Settings().Transcribe, s.runner)
	return t.Run(ctx, transcribe.Options{
		Folder:     folder,
		Language:   stringOr(p.Language, ""),
		Model:      stringOr(p.Model, ""),
		OutputMode: stringOr(p.OutputMode, ""),
		Overwrite:  p.Overwrite,
		DryRun:     p.DryRun,
	}, call.Log)
}
