package resolve

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultFrameRate is used when a timeline reports no usable frame rate.
const DefaultFrameRate = 24

// SettingFrameRate is the timeline setting key holding the frame rate.
const SettingFrameRate = "timelineFrameRate"

// FramesToTimecode converts an absolute frame number to HH:MM:SS:FF. The
// rate is rounded to the nearest integer; non-positive rates fall back to
// DefaultFrameRate.
func FramesToTimecode(frame int, fps float64) string {
	rate := int(math.Round(fps))
	if rate <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		rate = DefaultFrameRate
	}
	if frame < 0 {
		frame = 0
	}
	hours := frame / (rate * 3600)
	minutes := (frame / (rate * 60)) % 60
	seconds := (frame / rate) % 60
	frames := frame % rate
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}

// ParseFrameRate parses a frame rate setting such as "23.976" or "25".
// Empty or invalid values yield DefaultFrameRate.
func ParseFrameRate(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultFrameRate
	}
	return f
}

// TimelineFrameRate reads the frame rate of tl, falling back to
// DefaultFrameRate when the setting cannot be read.
func TimelineFrameRate(tl Timeline) float64 {
	var value string
	err := Guard("GetSetting", func() error {
		var err error
		value, err = tl.GetSetting(SettingFrameRate)
		return err
	})
	if err != nil {
		return DefaultFrameRate
	}
	return ParseFrameRate(value)
}
