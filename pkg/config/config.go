// Package config defines the server configuration surface and its YAML
// loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Recognizer modes.
const (
	ModeSenseVoice          = "sense-voice"
	ModeStreamingZipformer  = "streaming-zipformer"
	ModeStreamingParaformer = "streaming-paraformer"
)

// SenseVoiceConfig holds the non-streaming model files.
type SenseVoiceConfig struct {
	Model  string `yaml:"model"`
	Tokens string `yaml:"tokens"`
}

// ZipformerConfig holds the streaming transducer model files.
type ZipformerConfig struct {
	Encoder    string `yaml:"encoder"`
	Decoder    string `yaml:"decoder"`
	Joiner     string `yaml:"joiner"`
	Tokens     string `yaml:"tokens"`
	FeatureDim int    `yaml:"feature_dim"`
}

// ParaformerConfig holds the streaming paraformer model files.
type ParaformerConfig struct {
	Encoder string `yaml:"encoder"`
	Decoder string `yaml:"decoder"`
	Tokens  string `yaml:"tokens"`
}

// RecognizerConfig selects and configures the recognition model family.
type RecognizerConfig struct {
	// Mode is one of sense-voice, streaming-zipformer,
	// streaming-paraformer.
	Mode string `yaml:"mode"`

	// NumThreads is the inference thread count per model.
	NumThreads int `yaml:"num_threads"`

	// Provider is the compute provider (cpu, cuda, ...).
	Provider string `yaml:"provider"`

	// UseITN enables inverse text normalization by default; the client
	// may override it per session.
	UseITN bool `yaml:"use_itn"`

	SenseVoice SenseVoiceConfig `yaml:"sense_voice"`
	Zipformer  ZipformerConfig  `yaml:"zipformer"`
	Paraformer ParaformerConfig `yaml:"paraformer"`
}

// Streaming reports whether the mode uses the online engine.
func (r *RecognizerConfig) Streaming() bool {
	return r.Mode == ModeStreamingZipformer || r.Mode == ModeStreamingParaformer
}

// VADConfig configures segmentation for the offline engine.
type VADConfig struct {
	Model string `yaml:"model"`

	// Threshold is the speech probability threshold.
	Threshold float32 `yaml:"threshold"`

	MinSilenceMS int `yaml:"min_silence_ms"`
	MinSpeechMS  int `yaml:"min_speech_ms"`
	MaxSpeechMS  int `yaml:"max_speech_ms"`

	// WindowMS is the VAD window size in milliseconds.
	WindowMS int `yaml:"window_ms"`
}

// PunctuationConfig configures the sentence-end punctuation model.
type PunctuationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}

// SpeakerConfig configures speaker identification.
type SpeakerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`

	// SegmentationModel enables diarization pre-validation during
	// enrollment when set.
	SegmentationModel string `yaml:"segmentation_model,omitempty"`

	// CatalogDir is the voice-print catalog root. Empty means
	// $HOME/.zasr/voice-prints.
	CatalogDir string `yaml:"catalog_dir"`

	// Threshold is the cosine similarity a match must reach.
	Threshold float32 `yaml:"threshold"`

	// AutoTrack registers unmatched voices as unknown speakers.
	AutoTrack bool `yaml:"auto_track"`
}

// Config is the full server configuration.
type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	WorkerThreads  int    `yaml:"worker_threads"`

	// SampleRate must be 16000.
	SampleRate int `yaml:"sample_rate"`

	// Toolkit names the registered inference toolkit to use.
	Toolkit string `yaml:"toolkit"`

	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	VAD         VADConfig         `yaml:"vad"`
	Punctuation PunctuationConfig `yaml:"punctuation"`
	Speaker     SpeakerConfig     `yaml:"speaker"`

	ConnectionTimeoutSeconds  int `yaml:"connection_timeout_seconds"`
	RecognitionTimeoutSeconds int `yaml:"recognition_timeout_seconds"`

	// UpdateIntervalMS throttles intermediate Result events.
	UpdateIntervalMS int `yaml:"update_interval_ms"`

	// DataDir is accepted in the config file; the server does not read it
	// and saves no per-session audio.
	DataDir string `yaml:"data_dir,omitempty"`

	// LogFile redirects logging when set.
	LogFile string `yaml:"log_file,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           2026,
		MaxConnections: 256,
		WorkerThreads:  4,
		SampleRate:     16000,
		Toolkit:        "sherpa",
		Recognizer: RecognizerConfig{
			Mode:       ModeSenseVoice,
			NumThreads: 2,
			Provider:   "cpu",
			UseITN:     true,
		},
		VAD: VADConfig{
			Threshold:    0.5,
			MinSilenceMS: 100,
			MinSpeechMS:  250,
			MaxSpeechMS:  8000,
			WindowMS:     30,
		},
		Speaker: SpeakerConfig{
			Threshold: 0.75,
			AutoTrack: true,
		},
		ConnectionTimeoutSeconds:  15,
		RecognitionTimeoutSeconds: 30,
		UpdateIntervalMS:          200,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the server depends on.
func (c *Config) Validate() error {
	if c.SampleRate != 16000 {
		return fmt.Errorf("config: sample_rate %d unsupported, must be 16000", c.SampleRate)
	}
	switch c.Recognizer.Mode {
	case ModeSenseVoice, ModeStreamingZipformer, ModeStreamingParaformer:
	default:
		return fmt.Errorf("config: unknown recognizer mode %q", c.Recognizer.Mode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: max_connections must be positive")
	}
	if c.WorkerThreads <= 0 {
		return fmt.Errorf("config: worker_threads must be positive")
	}
	if c.VAD.WindowMS <= 0 {
		return fmt.Errorf("config: vad window_ms must be positive")
	}
	return nil
}

// CatalogDir resolves the voice-print catalog directory, defaulting to
// $HOME/.zasr/voice-prints.
func (c *Config) CatalogDir() (string, error) {
	if c.Speaker.CatalogDir != "" {
		return c.Speaker.CatalogDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve catalog dir: %w", err)
	}
	return filepath.Join(home, ".zasr", "voice-prints"), nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Summary returns a loggable one-line description without model paths.
func (c *Config) Summary() string {
	return fmt.Sprintf("addr=%s mode=%s workers=%d max_conns=%d punctuation=%v speaker=%v",
		c.Addr(), c.Recognizer.Mode, c.WorkerThreads, c.MaxConnections,
		c.Punctuation.Enabled, c.Speaker.Enabled)
}
