package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, time.Second, d.Monitor.PollInterval)
	assert.Equal(t, 30*time.Second, d.Monitor.UnavailableInterval)
	assert.Equal(t, 50*time.Millisecond, d.Commands.ShutdownGrace)
	assert.Equal(t, "EXPORT", d.Commands.Export.BinName)
	assert.True(t, d.Commands.Export.Strict)
	assert.False(t, d.Tracing.Enabled)

	names := make([]string, 0, len(d.Commands.BinsStructure))
	for _, b := range d.Commands.BinsStructure {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"FOOTAGE", "AUDIO", "SEQUENCES", "WORK", "MUSIC", "SFX", "GFX", "EXPORT"}, names)
	assert.Equal(t, []string{"BROLL", "ATEM", "4K"}, d.Commands.BinsStructure[0].Children)
}

func TestWriteDefaultThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = WriteDefault(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	d := Defaults()
	assert.Equal(t, d.Monitor, cfg.Monitor)
	assert.Equal(t, d.Resolve, cfg.Resolve)
	assert.Equal(t, d.Commands.Export, cfg.Commands.Export)
	assert.Equal(t, d.Transcribe, cfg.Transcribe)
	require.Len(t, cfg.Commands.BinsStructure, len(d.Commands.BinsStructure))
	assert.Equal(t, "SEQUENCES", cfg.Commands.BinsStructure[2].Name)
	assert.Equal(t, []string{"MC"}, cfg.Commands.BinsStructure[2].Children)
}

func TestMarshalUsesTwoSpaceIndent(t *testing.T) {
	data, err := Marshal(Defaults())
	require.NoError(t, err)
	assert.Contains(t, string(data), "monitor:\n  poll_interval: 1s\n")
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `monitor:
  poll_interval: 250ms
commands:
  export:
    preset: Custom Preset
  bins_structure:
    - name: RUSHES
      children: [DAY1]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Monitor.UnavailableInterval)
	assert.Equal(t, "Custom Preset", cfg.Commands.Export.Preset)
	assert.Equal(t, "EXPORT", cfg.Commands.Export.BinName)
	assert.Equal(t, []Bin{{Name: "RUSHES", Children: []string{"DAY1"}}}, cfg.Commands.BinsStructure)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Resolve.Endpoint, cfg.Resolve.Endpoint)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RESOLVE_BRIDGE_RESOLVE_ENDPOINT", "ws://10.0.0.5:9000/scripting")
	t.Setenv("RESOLVE_BRIDGE_TRACING_ENABLED", "true")

	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:9000/scripting", cfg.Resolve.Endpoint)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor: [unterminated\n"), 0o600))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  export:\n    preset: A\n"), 0o600))

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "A", cfg.Commands.Export.Preset)

	require.NoError(t, os.WriteFile(path, []byte("commands:\n  export:\n    preset: B\n"), 0o600))
	cfg, err = Reload(v)
	require.NoError(t, err)
	assert.Equal(t, "B", cfg.Commands.Export.Preset)
}
