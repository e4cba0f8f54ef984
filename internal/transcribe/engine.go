package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Segment is one timed piece of a transcript. Times are in seconds.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the engine's result for one file.
type Transcript struct {
	Text     string
	Language string
	Segments []Segment
}

// Request describes one engine invocation.
type Request struct {
	Audio    string
	Model    string
	Language string
	Threads  int
	// Scratch is a directory the engine may write intermediate files to.
	Scratch string
}

// Engine turns an audio file into a transcript.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request, progress func(string)) (Transcript, error)
}

// WhisperCLI drives a whisper.cpp style command line tool that writes its
// result as JSON next to a requested output base name.
type WhisperCLI struct {
	Command string
	Runner  Runner
}

// Name returns the executable's base name.
func (w *WhisperCLI) Name() string {
	return filepath.Base(w.Command)
}

// Transcribe runs the tool and parses its JSON output.
func (w *WhisperCLI) Transcribe(ctx context.Context, req Request, progress func(string)) (Transcript, error) {
	base := filepath.Join(req.Scratch, strings.TrimSuffix(filepath.Base(req.Audio), filepath.Ext(req.Audio)))
	lang := req.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{"-m", req.Model, "-f", req.Audio, "-l", lang, "-oj", "-of", base}
	if req.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(req.Threads))
	}

	if err := os.Remove(base + ".json"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Transcript{}, fmt.Errorf("clearing engine output: %w", err)
	}
	if err := w.Runner.Run(ctx, w.Command, args, progress); err != nil {
		return Transcript{}, err
	}

	data, err := os.ReadFile(base + ".json")
	if err != nil {
		return Transcript{}, fmt.Errorf("reading engine output: %w", err)
	}
	return ParseWhisperJSON(data)
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseWhisperJSON converts whisper.cpp JSON output. Offsets are milliseconds.
func ParseWhisperJSON(data []byte) (Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Transcript{}, fmt.Errorf("parsing engine output: %w", err)
	}

	t := Transcript{Language: out.Result.Language}
	texts := make([]string, 0, len(out.Transcription))
	for i, s := range out.Transcription {
		text := strings.TrimSpace(s.Text)
		t.Segments = append(t.Segments, Segment{
			ID:    i,
			Start: float64(s.Offsets.From) / 1000,
			End:   float64(s.Offsets.To) / 1000,
			Text:  text,
		})
		if text != "" {
			texts = append(texts, text)
		}
	}
	t.Text = strings.Join(texts, " ")
	return t, nil
}
