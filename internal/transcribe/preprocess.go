package transcribe

import (
	"context"
	"path/filepath"
	"strings"
)

// Preprocess statuses.
const (
	PreprocessSkipped = "skipped"
	PreprocessPlanned = "planned"
	PreprocessDone    = "done"
	PreprocessFailed  = "failed"
)

// Preprocess describes the audio normalization step for one file.
type Preprocess struct {
	Required bool   `json:"required"`
	Status   string `json:"status"`
	Details  string `json:"details"`
}

// Normalizer converts media into 16 kHz mono PCM wav with ffmpeg.
type Normalizer struct {
	Command string
	Runner  Runner
}

// Required reports whether source must be converted before transcription.
// Non-wav media always needs conversion; wav only when always is set.
func Required(source string, always bool) bool {
	return always || strings.ToLower(filepath.Ext(source)) != ".wav"
}

// Args returns the ffmpeg arguments converting source into dest.
func (n *Normalizer) Args(source, dest string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", source,
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
		dest,
	}
}

// Normalize writes a converted copy of source into scratch and returns its path.
func (n *Normalizer) Normalize(ctx context.Context, source, scratch string, progress func(string)) (string, error) {
	dest := filepath.Join(scratch, strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))+".16k.wav")
	if err := n.Runner.Run(ctx, n.Command, n.Args(source, dest), progress); err != nil {
		return "", err
	}
	return dest, nil
}
