package transcribe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Metadata is stored alongside every written transcript.
type Metadata struct {
	Source      string    `json:"source"`
	Model       string    `json:"model"`
	Engine      string    `json:"engine"`
	Language    string    `json:"language"`
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SRTTimestamp formats seconds as HH:MM:SS,mmm.
func SRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// RenderTxt renders the plain transcript, optionally preceded by a header.
func RenderTxt(t Transcript, meta Metadata, header bool) []byte {
	var b bytes.Buffer
	if header {
		fmt.Fprintf(&b, "Source: %s\n", meta.Source)
		fmt.Fprintf(&b, "Generated: %s\n", meta.GeneratedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "Model: %s\n", meta.Model)
		b.WriteString("\n")
	}
	b.WriteString(t.Text)
	b.WriteString("\n")
	return b.Bytes()
}

// RenderSRT renders numbered subtitle cues.
func RenderSRT(t Transcript) []byte {
	var b bytes.Buffer
	n := 0
	for _, s := range t.Segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", n, SRTTimestamp(s.Start), SRTTimestamp(s.End), s.Text)
	}
	return b.Bytes()
}

// RenderJSON renders {text, segments, metadata}.
func RenderJSON(t Transcript, meta Metadata) ([]byte, error) {
	segments := t.Segments
	if segments == nil {
		segments = []Segment{}
	}
	doc := struct {
		Text     string    `json:"text"`
		Segments []Segment `json:"segments"`
		Metadata Metadata  `json:"metadata"`
	}{t.Text, segments, meta}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Write renders t in mode and writes it to path.
func Write(path, mode string, t Transcript, meta Metadata, header bool) error {
	var data []byte
	switch mode {
	case ModeSRT:
		data = RenderSRT(t)
	case ModeJSON:
		var err error
		if data, err = RenderJSON(t, meta); err != nil {
			return fmt.Errorf("encoding transcript: %w", err)
		}
	default:
		data = RenderTxt(t, meta, header)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	return nil
}
