package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Session       SessionConfig       `yaml:"session"`
	Audio         AudioConfig         `yaml:"audio"`
	Vendors       VendorsConfig       `yaml:"vendors"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP and WebSocket server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds, 0 disables (streaming responses)
	Dialect      string `yaml:"dialect"`       // native or openai

	// AllowedOrigins lists extra websocket origin patterns; same-host
	// origins are always accepted
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionConfig contains realtime session parameters
type SessionConfig struct {
	MaxSessions       int     `yaml:"max_sessions"`
	ConfigTimeout     float64 `yaml:"config_timeout"` // seconds
	DrainTimeout      float64 `yaml:"drain_timeout"`  // seconds
	QueueCapacity     int     `yaml:"queue_capacity"`
	MaxDuration       int     `yaml:"max_duration"` // seconds
	ReconnectMaxTries int     `yaml:"reconnect_max_tries"`
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	TTSChunkSize      int `yaml:"tts_chunk_size"`      // bytes
	DefaultSampleRate int `yaml:"default_sample_rate"` // speech PCM rate when a request omits it
}

// VendorsConfig contains vendor credentials and endpoint overrides
type VendorsConfig struct {
	DefaultASR       string          `yaml:"default_asr"`
	DefaultTTS       string          `yaml:"default_tts"`
	HandshakeTimeout int             `yaml:"handshake_timeout"` // seconds
	Xunfei           XunfeiConfig    `yaml:"xunfei"`
	DashScope        DashScopeConfig `yaml:"dashscope"`
	Doubao           DoubaoConfig    `yaml:"doubao"`
}

// XunfeiConfig contains iFlytek credentials
type XunfeiConfig struct {
	AppID           string `yaml:"app_id"`
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	LFASRSecret     string `yaml:"lfasr_secret"`
	RTASRURL        string `yaml:"rtasr_url"`
	TTSURL          string `yaml:"tts_url"`
	TTSHost         string `yaml:"tts_host"`
	LFASRURL        string `yaml:"lfasr_url"`
	FrameIntervalMs int    `yaml:"frame_interval_ms"`
}

// DashScopeConfig contains Alibaba DashScope credentials
type DashScopeConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
	Model  string `yaml:"model"`
}

// DoubaoConfig contains ByteDance credentials
type DoubaoConfig struct {
	AppID      string `yaml:"app_id"`
	Token      string `yaml:"token"`
	Cluster    string `yaml:"cluster"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id"`
	BinaryURL  string `yaml:"binary_url"`
	HTTPURL    string `yaml:"http_url"`
}

// TranscriptionConfig contains batch transcription parameters
type TranscriptionConfig struct {
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	PollInterval  float64 `yaml:"poll_interval"` // seconds
	MaxFileSize   int64   `yaml:"max_file_size"` // bytes
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        8080,
			Address:     "0.0.0.0",
			ReadTimeout: 30,
			Dialect:     "openai",
		},
		Session: SessionConfig{
			MaxSessions:       100,
			ConfigTimeout:     5,
			DrainTimeout:      10,
			QueueCapacity:     100,
			MaxDuration:       3600,
			ReconnectMaxTries: 3,
		},
		Audio: AudioConfig{
			TTSChunkSize:      2048,
			DefaultSampleRate: 24000,
		},
		Vendors: VendorsConfig{
			DefaultASR:       "xunfei",
			DefaultTTS:       "doubao",
			HandshakeTimeout: 10,
			Xunfei:           XunfeiConfig{FrameIntervalMs: 40},
		},
		Transcription: TranscriptionConfig{
			Timeout:       300,
			MaxRetries:    3,
			MaxConcurrent: 10,
			PollInterval:  2,
			MaxFileSize:   100 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults, then applies
// secrets from the environment
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides vendor secrets from the environment when set
func (c *Config) ApplyEnv() {
	env := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	env(&c.Vendors.Xunfei.AppID, "XUNFEI_APP_ID")
	env(&c.Vendors.Xunfei.APIKey, "XUNFEI_API_KEY")
	env(&c.Vendors.Xunfei.APISecret, "XUNFEI_API_SECRET")
	env(&c.Vendors.Xunfei.LFASRSecret, "XUNFEI_LFASR_SECRET")
	env(&c.Vendors.DashScope.APIKey, "DASHSCOPE_API_KEY")
	env(&c.Vendors.Doubao.AppID, "DOUBAO_APP_ID")
	env(&c.Vendors.Doubao.Token, "DOUBAO_TOKEN")
	env(&c.Vendors.Doubao.Cluster, "DOUBAO_CLUSTER")
	env(&c.Vendors.Doubao.AccessKey, "DOUBAO_ACCESS_KEY")
	env(&c.Vendors.Doubao.ResourceID, "DOUBAO_RESOURCE_ID")
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Vendors.Validate(); err != nil {
		return fmt.Errorf("vendors config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.Dialect != "native" && h.Dialect != "openai" {
		return fmt.Errorf("dialect must be 'native' or 'openai', got '%s'", h.Dialect)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.ConfigTimeout <= 0 {
		return fmt.Errorf("config_timeout must be positive, got %f", s.ConfigTimeout)
	}

	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %f", s.DrainTimeout)
	}

	if s.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", s.QueueCapacity)
	}

	if s.MaxDuration < 1 {
		return fmt.Errorf("max_duration must be at least 1 second, got %d", s.MaxDuration)
	}

	if s.ReconnectMaxTries < 0 {
		return fmt.Errorf("reconnect_max_tries cannot be negative, got %d", s.ReconnectMaxTries)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TTSChunkSize < 2 || a.TTSChunkSize%2 != 0 {
		return fmt.Errorf("tts_chunk_size must be a positive even number of bytes, got %d", a.TTSChunkSize)
	}

	if a.DefaultSampleRate < 8000 || a.DefaultSampleRate > 48000 {
		return fmt.Errorf("default_sample_rate must be between 8000 and 48000 Hz, got %d", a.DefaultSampleRate)
	}

	return nil
}

var (
	asrVendors = map[string]bool{"xunfei": true, "dashscope": true}
	ttsVendors = map[string]bool{"xunfei": true, "doubao": true, "doubao-http": true}
)

// Validate validates vendor selection. Credentials are optional: vendors
// without them are simply not registered.
func (v *VendorsConfig) Validate() error {
	if v.DefaultASR != "" && !asrVendors[v.DefaultASR] {
		return fmt.Errorf("default_asr must be one of [xunfei, dashscope], got '%s'", v.DefaultASR)
	}

	if v.DefaultTTS != "" && !ttsVendors[v.DefaultTTS] {
		return fmt.Errorf("default_tts must be one of [xunfei, doubao, doubao-http], got '%s'", v.DefaultTTS)
	}

	if v.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", v.HandshakeTimeout)
	}

	if v.Xunfei.FrameIntervalMs < 0 {
		return fmt.Errorf("xunfei frame_interval_ms cannot be negative, got %d", v.Xunfei.FrameIntervalMs)
	}

	return nil
}

// Validate validates transcription configuration
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

	if t.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", t.PollInterval)
	}

	if t.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive, got %d", t.MaxFileSize)
	}

	return nil
}

// Validate validates logging configuration
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

	// Output is stdout, stderr or a file path

	return nil
}

// Enabled reports whether RTASR and TTS credentials are present
func (x *XunfeiConfig) Enabled() bool {
	return x.AppID != "" && x.APIKey != ""
}

// BatchEnabled reports whether LFASR credentials are present
func (x *XunfeiConfig) BatchEnabled() bool {
	return x.AppID != "" && x.LFASRSecret != ""
}

// Enabled reports whether an API key is present
func (d *DashScopeConfig) Enabled() bool {
	return d.APIKey != ""
}

// BinaryEnabled reports whether ws_binary credentials are present
func (d *DoubaoConfig) BinaryEnabled() bool {
	return d.AppID != "" && d.Token != ""
}

// HTTPEnabled reports whether v3 HTTP credentials are present
func (d *DoubaoConfig) HTTPEnabled() bool {
	return d.AppID != "" && d.AccessKey != ""
}

// Sanitized returns a copy with every secret masked
func (c *Config) Sanitized() Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&out.Vendors.Xunfei.APIKey)
	mask(&out.Vendors.Xunfei.APISecret)
	mask(&out.Vendors.Xunfei.LFASRSecret)
	mask(&out.Vendors.DashScope.APIKey)
	mask(&out.Vendors.Doubao.Token)
	mask(&out.Vendors.Doubao.AccessKey)
	return out
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetConfigTimeoutDuration returns the session.update wait as a time.Duration
func (s *SessionConfig) GetConfigTimeoutDuration() time.Duration {
	return time.Duration(s.ConfigTimeout * float64(time.Second))
}

// GetDrainTimeoutDuration returns the drain bound as a time.Duration
func (s *SessionConfig) GetDrainTimeoutDuration() time.Duration {
	return time.Duration(s.DrainTimeout * float64(time.Second))
}

// GetMaxDuration returns the session lifetime limit as a time.Duration
func (s *SessionConfig) GetMaxDuration() time.Duration {
	return time.Duration(s.MaxDuration) * time.Second
}

// GetHandshakeTimeoutDuration returns the vendor handshake timeout as a time.Duration
func (v *VendorsConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(v.HandshakeTimeout) * time.Second
}

// GetFrameInterval returns the RTASR frame pacing interval as a time.Duration
func (x *XunfeiConfig) GetFrameInterval() time.Duration {
	return time.Duration(x.FrameIntervalMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetPollIntervalDuration returns the batch polling period as a time.Duration
func (t *TranscriptionConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(t.PollInterval * float64(time.Second))
}
