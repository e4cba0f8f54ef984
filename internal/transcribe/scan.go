package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Output modes.
const (
	ModeTxt  = "txt"
	ModeJSON = "json"
	ModeSRT  = "srt"
)

// supportedExtensions are the media types handed to the engine.
var supportedExtensions = map[string]bool{
	".aac":  true,
	".aif":  true,
	".aiff": true,
	".flac": true,
	".m4a":  true,
	".mp3":  true,
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".wav":  true,
}

// IsSupported reports whether path has a transcribable extension.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// NormalizeMode lowercases mode and defaults it to txt.
func NormalizeMode(mode string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(mode))
	if m == "" {
		return ModeTxt, nil
	}
	switch m {
	case ModeTxt, ModeJSON, ModeSRT:
		return m, nil
	}
	return "", fmt.Errorf("output_mode must be one of: txt, json, srt")
}

// ResolveFolder expands a leading ~ and checks that the folder exists.
func ResolveFolder(folder string) (string, error) {
	if folder == "" {
		return "", fmt.Errorf("folder_path is required")
	}
	path := folder
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("folder_path does not exist or is not a directory: %s", folder)
	}
	return path, nil
}

// FindMedia returns every supported file under dir, recursively, sorted by
// path. Unreadable entries are skipped.
func FindMedia(dir string) []string {
	var files []string
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}
		if d.IsDir() {
			return nil
		}
		if d.Type().IsRegular() && IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files
}

// DefaultOutput swaps the source extension for the output mode.
func DefaultOutput(source, mode string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + "." + mode
}

// UniquePath picks the output path for a source. Unless overwrite is set, an
// existing file is avoided by suffixing _1, _2, ... before the extension.
// Paths already reserved in this run are always avoided. The chosen path is
// added to reserved.
func UniquePath(path string, overwrite bool, reserved map[string]bool) string {
	taken := func(p string) bool {
		if reserved[p] {
			return true
		}
		if overwrite {
			return false
		}
		_, err := os.Lstat(p)
		return err == nil
	}

	chosen := path
	if taken(path) {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
			if !taken(candidate) {
				chosen = candidate
				break
			}
		}
	}
	reserved[chosen] = true
	return chosen
}
