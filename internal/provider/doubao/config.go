package doubao

import (
	"log/slog"
	"strings"

	"github.com/qxb-in/ot/internal/provider"
)

const (
	// Name is the registry name of the ws_binary adapter. The HTTP adapter
	// registers as NameHTTP.
	Name     = "doubao"
	NameHTTP = "doubao-http"

	DefaultBinaryURL = "wss://openspeech.bytedance.com/api/v1/tts/ws_binary"
	DefaultHTTPURL   = "https://openspeech.bytedance.com/api/v3/tts/unidirectional"
	DefaultCluster   = "volcano_tts"

	DefaultVoice     = "zh_female_shuangkuaisisi_moon_bigtts"
	DefaultHTTPVoice = "zh_female_shuangkuaisisi_emo_v2_mars_bigtts"

	// OutputSampleRate is the rate both APIs are asked to produce
	OutputSampleRate = 24000
)

// Config holds Doubao credentials and endpoints
type Config struct {
	AppID      string
	Token      string // ws_binary access token
	Cluster    string
	AccessKey  string // v3 HTTP access key
	ResourceID string // v3 HTTP resource id
	UID        string

	BinaryURL string
	HTTPURL   string

	Dial   provider.DialOptions
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BinaryURL == "" {
		c.BinaryURL = DefaultBinaryURL
	}
	if c.HTTPURL == "" {
		c.HTTPURL = DefaultHTTPURL
	}
	if c.Cluster == "" {
		c.Cluster = DefaultCluster
	}
	if c.UID == "" {
		c.UID = "ot-proxy"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// speaker picks the vendor voice; OpenAI voice names are not Doubao
// speakers and fall back to def
func speaker(voice, def string) string {
	switch voice {
	case "", "alloy", "echo", "fable", "onyx", "nova", "shimmer":
		return def
	}
	return voice
}

// encoding maps a response format onto what the vendor can produce. WAV is
// requested as PCM and wrapped afterwards.
func encoding(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "mp3"
	case "ogg_opus", "opus":
		return "ogg_opus"
	default:
		return "pcm"
	}
}
