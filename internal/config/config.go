// Package config provides configuration types, defaults, loading and the
// default file writer for resolve-bridge.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. RESOLVE_BRIDGE_RESOLVE_ENDPOINT.
const EnvPrefix = "RESOLVE_BRIDGE"

// LocalFile is looked up in the working directory before the user config.
const LocalFile = ".resolve-bridge.yaml"

// Config holds all configuration options.
type Config struct {
	Monitor    MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Resolve    ResolveConfig    `mapstructure:"resolve" yaml:"resolve"`
	Commands   CommandsConfig   `mapstructure:"commands" yaml:"commands"`
	Transcribe TranscribeConfig `mapstructure:"transcribe" yaml:"transcribe"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// MonitorConfig controls the session monitor cadence.
type MonitorConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	UnavailableInterval time.Duration `mapstructure:"unavailable_interval" yaml:"unavailable_interval"`
}

// ResolveConfig locates the scripting gateway. An empty endpoint disables
// attaching altogether.
type ResolveConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// Bin is a top-level media pool folder and its sub-folders.
type Bin struct {
	Name     string   `mapstructure:"name" yaml:"name" json:"name"`
	Children []string `mapstructure:"children" yaml:"children" json:"children"`
}

// CommandsConfig holds command defaults. It is reloaded when the file changes.
type CommandsConfig struct {
	BinsStructure []Bin         `mapstructure:"bins_structure" yaml:"bins_structure"`
	Export        ExportConfig  `mapstructure:"export" yaml:"export"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// ExportConfig drives lp_base_export.
type ExportConfig struct {
	BinName       string        `mapstructure:"bin_name" yaml:"bin_name"`
	Preset        string        `mapstructure:"preset" yaml:"preset"`
	Strict        bool          `mapstructure:"strict" yaml:"strict"`
	AutoCreateDir bool          `mapstructure:"auto_create_dir" yaml:"auto_create_dir"`
	DefaultDir    string        `mapstructure:"default_dir" yaml:"default_dir"`
	SwitchDelay   time.Duration `mapstructure:"switch_delay" yaml:"switch_delay"`
}

// TranscribeConfig configures the external transcription tools. It is
// reloaded when the file changes.
type TranscribeConfig struct {
	EngineCommand string `mapstructure:"engine_command" yaml:"engine_command"`
	Model         string `mapstructure:"model" yaml:"model"`
	FFmpeg        string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Language      string `mapstructure:"language" yaml:"language"`
	Normalize     bool   `mapstructure:"normalize" yaml:"normalize"`
	Header        bool   `mapstructure:"header" yaml:"header"`
	Threads       int    `mapstructure:"threads" yaml:"threads"`
}

// JournalConfig controls the sqlite command journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"`
	FilePath     string  `mapstructure:"file_path" yaml:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// LogConfig controls diagnostic logging. Logs never go to stdout.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`
}

// DefaultBins is the built-in media pool structure.
func DefaultBins() []Bin {
	return []Bin{
		{Name: "FOOTAGE", Children: []string{"BROLL", "ATEM", "4K"}},
		{Name: "AUDIO", Children: []string{}},
		{Name: "SEQUENCES", Children: []string{"MC"}},
		{Name: "WORK", Children: []string{}},
		{Name: "MUSIC", Children: []string{}},
		{Name: "SFX", Children: []string{}},
		{Name: "GFX", Children: []string{}},
		{Name: "EXPORT", Children: []string{}},
	}
}

// Dir returns the user configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".resolve-bridge"
	}
	return filepath.Join(home, ".config", "resolve-bridge")
}

// DefaultPath returns the user configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Monitor: MonitorConfig{
			PollInterval:        time.Second,
			UnavailableInterval: 30 * time.Second,
		},
		Resolve: ResolveConfig{
			Endpoint:    "ws://127.0.0.1:9237/scripting",
			DialTimeout: 2 * time.Second,
			CallTimeout: 10 * time.Second,
		},
		Commands: CommandsConfig{
			BinsStructure: DefaultBins(),
			Export: ExportConfig{
				BinName:       "EXPORT",
				Preset:        "General LP Export",
				Strict:        true,
				AutoCreateDir: true,
				SwitchDelay:   time.Second,
			},
			ShutdownGrace: 50 * time.Millisecond,
		},
		Transcribe: TranscribeConfig{
			EngineCommand: "whisper-cli",
			Model:         "ggml-base.bin",
			FFmpeg:        "ffmpeg",
			Normalize:     true,
			Header:        true,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(Dir(), "journal.db"),
		},
		Tracing: TracingConfig{
			Exporter:     "file",
			FilePath:     filepath.Join(Dir(), "traces", "spans.jsonl"),
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// SetDefaults registers every default value with v so that env overrides and
// partial files resolve against them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval)
	v.SetDefault("monitor.unavailable_interval", d.Monitor.UnavailableInterval)
	v.SetDefault("resolve.endpoint", d.Resolve.Endpoint)
	v.SetDefault("resolve.dial_timeout", d.Resolve.DialTimeout)
	v.SetDefault("resolve.call_timeout", d.Resolve.CallTimeout)
	v.SetDefault("commands.bins_structure", d.Commands.BinsStructure)
	v.SetDefault("commands.export.bin_name", d.Commands.Export.BinName)
	v.SetDefault("commands.export.preset", d.Commands.Export.Preset)
	v.SetDefault("commands.export.strict", d.Commands.Export.Strict)
	v.SetDefault("commands.export.auto_create_dir", d.Commands.Export.AutoCreateDir)
	v.SetDefault("commands.export.default_dir", d.Commands.Export.DefaultDir)
	v.SetDefault("commands.export.switch_delay", d.Commands.Export.SwitchDelay)
	v.SetDefault("commands.shutdown_grace", d.Commands.ShutdownGrace)
	v.SetDefault("transcribe.engine_command", d.Transcribe.EngineCommand)
	v.SetDefault("transcribe.model", d.Transcribe.Model)
	v.SetDefault("transcribe.ffmpeg", d.Transcribe.FFmpeg)
	v.SetDefault("transcribe.language", d.Transcribe.Language)
	v.SetDefault("transcribe.normalize", d.Transcribe.Normalize)
	v.SetDefault("transcribe.header", d.Transcribe.Header)
	v.SetDefault("transcribe.threads", d.Transcribe.Threads)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.debug", d.Log.Debug)
}

// Load configures v and reads the configuration. When file is empty the
// lookup order is ./.resolve-bridge.yaml, then DefaultPath(). A missing file
// is not an error; defaults and environment apply.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case file != "":
		v.SetConfigFile(file)
	case fileExists(LocalFile):
		v.SetConfigFile(LocalFile)
	default:
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(file != "" && errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	return Decode(v)
}

// Reload re-reads the file v was loaded from.
func Reload(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reloading config: %w", err)
	}
	return Decode(v)
}

// Decode unmarshals the current state of v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if len(cfg.Commands.BinsStructure) == 0 {
		cfg.Commands.BinsStructure = DefaultBins()
	}
	return cfg, nil
}

// Marshal renders cfg as YAML with two-space indentation.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force && fileExists(path) {
		return fmt.Errorf("config file already exists: %s", path)
	}
	data, err := Marshal(Defaults())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
