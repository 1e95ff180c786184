package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summary       SummaryConfig       `yaml:"summary"`
	Store         StoreConfig         `yaml:"store"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CaptureConfig contains capture session parameters.
type CaptureConfig struct {
	Root           string  `yaml:"root"`            // storage root for session directories
	SilenceTimeout float64 `yaml:"silence_timeout"` // seconds of trailing silence closing a stream
	StartTimeout   int     `yaml:"start_timeout"`   // seconds allowed to establish a new session
}

// AudioConfig contains the raw capture and transcription audio formats.
type AudioConfig struct {
	SourceRate int `yaml:"source_rate"` // Hz of raw capture audio
	Channels   int `yaml:"channels"`    // raw capture channels
	BitDepth   int `yaml:"bit_depth"`   // bits per sample
	TargetRate int `yaml:"target_rate"` // Hz of transcription audio
}

// SegmenterConfig contains segmentation tuning parameters. The defaults
// are heuristics; both values are deliberately configurable.
type SegmenterConfig struct {
	MinPaddingMillis int `yaml:"min_padding_ms"`       // distance from edges and between splits
	MinPartMillis    int `yaml:"min_part_duration_ms"` // parts shorter than this are flagged
}

// TranscriptionConfig contains transcription collaborator configuration.
// An empty endpoint disables transcription rather than failing startup.
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	BatchEndpoint string `yaml:"batch_endpoint"`
	AuthHeader    string `yaml:"auth_header"`
	AuthValue     string `yaml:"auth_value"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// SummaryConfig contains summarization collaborator configuration. An
// empty api_key disables summarization.
type SummaryConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// StoreConfig contains persistence configuration. An empty path disables
// persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig contains dashboard API server configuration.
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.Capture.SilenceTimeout == 0 {
		c.Capture.SilenceTimeout = 1.0
	}
	if c.Capture.StartTimeout == 0 {
		c.Capture.StartTimeout = 20
	}
	if c.Audio.SourceRate == 0 {
		c.Audio.SourceRate = 48000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 2
	}
	if c.Audio.BitDepth == 0 {
		c.Audio.BitDepth = 16
	}
	if c.Audio.TargetRate == 0 {
		c.Audio.TargetRate = 16000
	}
	if c.Segmenter.MinPaddingMillis == 0 {
		c.Segmenter.MinPaddingMillis = 50
	}
	if c.Segmenter.MinPartMillis == 0 {
		c.Segmenter.MinPartMillis = 80
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 60
	}
	if c.Transcription.MaxConcurrent == 0 {
		c.Transcription.MaxConcurrent = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs validation of the configuration. Missing collaborator
// credentials are not errors: those features degrade to skipped.
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration.
func (cc *CaptureConfig) Validate() error {
	if cc.Root == "" {
		return fmt.Errorf("root cannot be empty")
	}

	if cc.SilenceTimeout <= 0 {
		return fmt.Errorf("silence_timeout must be positive, got %f", cc.SilenceTimeout)
	}

	if cc.StartTimeout < 1 {
		return fmt.Errorf("start_timeout must be at least 1 second, got %d", cc.StartTimeout)
	}

	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.SourceRate <= 0 {
		return fmt.Errorf("source_rate must be positive, got %d", a.SourceRate)
	}

	if a.Channels != 2 {
		return fmt.Errorf("channels must be 2 (interleaved stereo capture), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.TargetRate <= 0 {
		return fmt.Errorf("target_rate must be positive, got %d", a.TargetRate)
	}

	if a.SourceRate%a.TargetRate != 0 {
		return fmt.Errorf("source_rate (%d) must be an integer multiple of target_rate (%d)",
			a.SourceRate, a.TargetRate)
	}

	return nil
}

// Validate validates segmenter configuration.
func (s *SegmenterConfig) Validate() error {
	if s.MinPaddingMillis < 1 {
		return fmt.Errorf("min_padding_ms must be at least 1, got %d", s.MinPaddingMillis)
	}

	if s.MinPartMillis < 1 {
		return fmt.Errorf("min_part_duration_ms must be at least 1, got %d", s.MinPartMillis)
	}

	return nil
}

// Validate validates transcription configuration.
func (t *TranscriptionConfig) Validate() error {
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetSilenceTimeout returns the trailing-silence timeout as a duration.
func (cc *CaptureConfig) GetSilenceTimeout() time.Duration {
	return time.Duration(cc.SilenceTimeout * float64(time.Second))
}

// GetStartTimeout returns the session readiness bound as a duration.
func (cc *CaptureConfig) GetStartTimeout() time.Duration {
	return time.Duration(cc.StartTimeout) * time.Second
}

// GetMinPadding returns the split-point padding as a duration.
func (s *SegmenterConfig) GetMinPadding() time.Duration {
	return time.Duration(s.MinPaddingMillis) * time.Millisecond
}

// GetMinPartDuration returns the minimum part duration as a duration.
func (s *SegmenterConfig) GetMinPartDuration() time.Duration {
	return time.Duration(s.MinPartMillis) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a duration.
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
