package xunfei

import (
	"log/slog"
	"time"

	"github.com/qxb-in/ot/internal/provider"
)

const (
	// Name is the registry name of every Xunfei adapter
	Name = "xunfei"

	DefaultRTASRURL = "ws://rtasr.xfyun.cn/v1/ws"
	DefaultTTSURL   = "wss://tts-api.xfyun.cn/v2/tts"
	DefaultTTSHost  = "ws-api.xfyun.cn"
	DefaultLFASRURL = "https://raasr.xfyun.cn/v2/api"

	// RTASR expects 16 kHz 16-bit mono in 1280 byte frames every 40ms
	RTASRSampleRate    = 16000
	RTASRFrameSize     = 1280
	RTASRFrameInterval = 40 * time.Millisecond

	// TTS returns raw 16 kHz PCM
	TTSSampleRate = 16000
)

// Config holds Xunfei credentials and endpoints
type Config struct {
	AppID       string
	APIKey      string // RTASR signing key and TTS api_key
	APISecret   string // TTS signing secret
	LFASRSecret string // LFASR signing key

	RTASRURL string
	TTSURL   string
	TTSHost  string // host used in the TTS signature origin
	LFASRURL string

	// FrameInterval paces RTASR audio; zero disables pacing
	FrameInterval time.Duration

	// PollInterval is the LFASR result polling period
	PollInterval time.Duration

	Dial provider.DialOptions

	// Now returns the signing clock, time.Now when nil
	Now func() time.Time

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RTASRURL == "" {
		c.RTASRURL = DefaultRTASRURL
	}
	if c.TTSURL == "" {
		c.TTSURL = DefaultTTSURL
	}
	if c.TTSHost == "" {
		c.TTSHost = DefaultTTSHost
	}
	if c.LFASRURL == "" {
		c.LFASRURL = DefaultLFASRURL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
