package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/qxb-in/ot/internal/proxyerr"
)

// Audio format defaults
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBitDepth   = 16
)

// SessionConfig is the audio format and vendor selection a client sends in
// its first message
type SessionConfig struct {
	Vendor     string `json:"vendor,omitempty"`
	Language   string `json:"language,omitempty"`
	Model      string `json:"model,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
}

// sessionWire accepts both the native fields and the OpenAI
// input_audio_transcription object
type sessionWire struct {
	SessionConfig
	Transcription *struct {
		Model    string `json:"model"`
		Language string `json:"language"`
	} `json:"input_audio_transcription,omitempty"`
}

func parseSessionConfig(raw json.RawMessage) (SessionConfig, error) {
	var wire sessionWire
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &wire); err != nil {
			return SessionConfig{}, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "malformed session config")
		}
	}

	cfg := wire.SessionConfig
	if t := wire.Transcription; t != nil {
		if cfg.Language == "" {
			cfg.Language = t.Language
		}
		if cfg.Model == "" {
			cfg.Model = t.Model
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued audio parameters
func (c *SessionConfig) ApplyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.BitDepth == 0 {
		c.BitDepth = DefaultBitDepth
	}
}

// Validate checks the audio format
func (c *SessionConfig) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return invalid("sample_rate must be between 8000 and 48000, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return invalid("channels must be 1 or 2, got %d", c.Channels)
	}
	switch c.BitDepth {
	case 8, 16, 24, 32:
	default:
		return invalid("bit_depth must be 8, 16, 24 or 32, got %d", c.BitDepth)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c SessionConfig) String() string {
	return fmt.Sprintf("SessionConfig{Vendor:%q, Language:%q, SampleRate:%d, Channels:%d, BitDepth:%d}",
		c.Vendor, c.Language, c.SampleRate, c.Channels, c.BitDepth)
}

func invalid(format string, args ...any) error {
	return proxyerr.New(proxyerr.KindInvalidConfig, format, args...)
}
