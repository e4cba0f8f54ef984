// Package transcribe discovers media files, plans transcript outputs, and
// runs an external speech-to-text engine over them.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"resolve-bridge/internal/config"
)

// Logger receives human-readable progress lines.
type Logger interface {
	Logf(format string, args ...any)
}

// Options are the per-request parameters.
type Options struct {
	Folder     string
	Language   string
	Model      string
	OutputMode string
	Overwrite  bool
	DryRun     bool
}

// Output describes one planned or completed transcript.
type Output struct {
	File        string     `json:"file"`
	Output      string     `json:"output"`
	TextOutput  string     `json:"text_output,omitempty"`
	OutputPaths []string   `json:"output_paths,omitempty"`
	Status      string     `json:"status"`
	Language    string     `json:"language"`
	Model       string     `json:"model"`
	Engine      string     `json:"engine"`
	OutputMode  string     `json:"output_mode"`
	Preprocess  Preprocess `json:"preprocess"`
	Segments    []Segment  `json:"segments,omitempty"`
}

// Failure describes a file that produced no transcript.
type Failure struct {
	File   string `json:"file"`
	Output string `json:"output"`
	Reason string `json:"reason"`
}

// Result is the record returned for a whole run.
type Result struct {
	FolderPath     string    `json:"folder_path"`
	Language       string    `json:"language"`
	Model          string    `json:"model"`
	Engine         string    `json:"engine"`
	OutputMode     string    `json:"output_mode"`
	Overwrite      bool      `json:"overwrite"`
	DryRun         bool      `json:"dry_run"`
	RunID          string    `json:"run_id"`
	FilesProcessed int       `json:"files_processed"`
	Outputs        []Output  `json:"outputs"`
	Failures       []Failure `json:"failures"`
}

// Output statuses.
const (
	StatusReady       = "ready"
	StatusTranscribed = "transcribed"
)

// Transcriber runs transcription batches.
type Transcriber struct {
	Engine     Engine
	Normalizer *Normalizer
	Settings   config.TranscribeConfig

	now   func() time.Time
	newID func() string
}

// New creates a Transcriber backed by the configured external tools.
func New(settings config.TranscribeConfig, runner Runner) *Transcriber {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Transcriber{
		Engine:     &WhisperCLI{Command: settings.EngineCommand, Runner: runner},
		Normalizer: &Normalizer{Command: settings.FFmpeg, Runner: runner},
		Settings:   settings,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// Run processes every supported file under opts.Folder. Per-file problems
// become failures; only invalid options return an error.
func (t *Transcriber) Run(ctx context.Context, opts Options, log Logger) (*Result, error) {
	folder, err := ResolveFolder(opts.Folder)
	if err != nil {
		return nil, err
	}
	mode, err := NormalizeMode(opts.OutputMode)
	if err != nil {
		return nil, err
	}

	res := &Result{
		FolderPath: folder,
		Language:   firstNonEmpty(opts.Language, t.Settings.Language),
		Model:      firstNonEmpty(opts.Model, t.Settings.Model),
		Engine:     t.Engine.Name(),
		OutputMode: mode,
		Overwrite:  opts.Overwrite,
		DryRun:     opts.DryRun,
		RunID:      t.newID(),
		Outputs:    []Output{},
		Failures:   []Failure{},
	}

	files := FindMedia(folder)
	log.Logf("Found %d media file(s) in %s", len(files), folder)

	var scratch string
	if !opts.DryRun && len(files) > 0 {
		scratch, err = os.MkdirTemp("", "resolve-bridge-transcribe-")
		if err != nil {
			return nil, fmt.Errorf("creating scratch directory: %w", err)
		}
		defer os.RemoveAll(scratch)
	}

	reserved := make(map[string]bool)
	for i, src := range files {
		out := Output{
			File:       src,
			Output:     UniquePath(DefaultOutput(src, mode), opts.Overwrite, reserved),
			Status:     StatusReady,
			Language:   res.Language,
			Model:      res.Model,
			Engine:     res.Engine,
			OutputMode: mode,
			Preprocess: Preprocess{Required: Required(src, t.Settings.Normalize)},
		}

		if opts.DryRun {
			out.Preprocess.Status = PreprocessSkipped
			if out.Preprocess.Required {
				out.Preprocess.Status = PreprocessPlanned
				out.Preprocess.Details = "convert to 16 kHz mono wav"
			}
			res.Outputs = append(res.Outputs, out)
			continue
		}

		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, Failure{File: src, Output: out.Output, Reason: err.Error()})
			continue
		}

		log.Logf("[%d/%d] Transcribing %s", i+1, len(files), filepath.Base(src))
		if err := t.process(ctx, &out, filepath.Join(scratch, strconv.Itoa(i+1)), res.RunID, log); err != nil {
			log.Logf("[%d/%d] Failed %s: %v", i+1, len(files), filepath.Base(src), err)
			res.Failures = append(res.Failures, Failure{File: src, Output: out.Output, Reason: err.Error()})
			continue
		}
		log.Logf("[%d/%d] Wrote %s", i+1, len(files), out.Output)
		res.Outputs = append(res.Outputs, out)
	}

	res.FilesProcessed = len(res.Outputs)
	return res, nil
}

func (t *Transcriber) process(ctx context.Context, out *Output, scratch, runID string, log Logger) error {
	progress := func(line string) {
		if strings.Contains(line, "progress") {
			log.Logf("%s", strings.TrimSpace(line))
		}
	}

	// Sources from different folders may share a base name, so each file
	// gets its own scratch directory.
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	audio := out.File
	if out.Preprocess.Required {
		converted, err := t.Normalizer.Normalize(ctx, out.File, scratch, nil)
		if err != nil {
			out.Preprocess.Status = PreprocessFailed
			out.Preprocess.Details = err.Error()
			return fmt.Errorf("preprocess failed: %w", err)
		}
		audio = converted
		out.Preprocess.Status = PreprocessDone
		out.Preprocess.Details = "converted to 16 kHz mono wav"
	} else {
		out.Preprocess.Status = PreprocessSkipped
		out.Preprocess.Details = "source is wav"
	}

	tr, err := t.Engine.Transcribe(ctx, Request{
		Audio:    audio,
		Model:    out.Model,
		Language: out.Language,
		Threads:  t.Settings.Threads,
		Scratch:  scratch,
	}, progress)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	if tr.Language != "" {
		out.Language = tr.Language
	}

	meta := Metadata{
		Source:      out.File,
		Model:       out.Model,
		Engine:      out.Engine,
		Language:    out.Language,
		RunID:       runID,
		GeneratedAt: t.now().UTC(),
	}
	if err := Write(out.Output, out.OutputMode, tr, meta, t.Settings.Header); err != nil {
		return err
	}

	out.Status = StatusTranscribed
	out.TextOutput = tr.Text
	out.OutputPaths = []string{out.Output}
	out.Segments = tr.Segments
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
