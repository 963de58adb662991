package xunfei

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"math"

	"github.com/tidwall/gjson"

	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// OpenAI voice names mapped to Xunfei speakers
var voices = map[string]string{
	"alloy":   "x4_yezi",
	"echo":    "x4_lingfeng",
	"fable":   "x4_xiaomo",
	"onyx":    "x4_yezi",
	"nova":    "x4_lingfeng",
	"shimmer": "x4_xiaomo",
}

const defaultVoice = "x4_yezi"

// Voice maps a requested voice to a Xunfei speaker. Unknown OpenAI names
// fall back to the default; native x4_ speakers pass through.
func Voice(name string) string {
	if v, ok := voices[name]; ok {
		return v
	}
	if len(name) > 3 && name[:3] == "x4_" {
		return name
	}
	return defaultVoice
}

// TTS is the streaming synthesis adapter
type TTS struct {
	cfg Config
}

// NewTTS creates a synthesizer
func NewTTS(cfg Config) *TTS {
	return &TTS{cfg: cfg.withDefaults()}
}

// Name returns the vendor name
func (t *TTS) Name() string {
	return Name
}

// OutputFormat reports raw 16 kHz PCM regardless of the request
func (t *TTS) OutputFormat(provider.SpeechRequest) (string, int) {
	return "pcm", TTSSampleRate
}

type ttsRequest struct {
	Common   ttsCommon   `json:"common"`
	Business ttsBusiness `json:"business"`
	Data     ttsData     `json:"data"`
}

type ttsCommon struct {
	AppID string `json:"app_id"`
}

type ttsBusiness struct {
	Aue   string `json:"aue"`
	Auf   string `json:"auf"`
	Vcn   string `json:"vcn"`
	Tte   string `json:"tte"`
	Speed int    `json:"speed"`
}

type ttsData struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

// speedParam maps a 1.0-normal multiplier onto Xunfei's 0..100 scale
func speedParam(speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	return int(math.Max(0, math.Min(100, math.Round(speed*50))))
}

// Synthesize signs the TTS URL, sends the whole text in one frame and
// streams back the decoded PCM
func (t *TTS) Synthesize(ctx context.Context, req provider.SpeechRequest) (provider.Stream, error) {
	if req.Text == "" {
		return nil, proxyerr.New(proxyerr.KindInvalidConfig, "empty synthesis text")
	}

	u, err := AuthURL(t.cfg.TTSURL, t.cfg.TTSHost, t.cfg.APIKey, t.cfg.APISecret, t.cfg.Now())
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "failed to sign tts url")
	}

	sock, err := provider.Dial(ctx, u, nil, t.cfg.Dial)
	if err != nil {
		return nil, err
	}

	voice := Voice(req.Voice)
	body := ttsRequest{
		Common: ttsCommon{AppID: t.cfg.AppID},
		Business: ttsBusiness{
			Aue:   "raw",
			Auf:   "audio/L16;rate=16000",
			Vcn:   voice,
			Tte:   "utf8",
			Speed: speedParam(req.Speed),
		},
		Data: ttsData{
			Status: 2,
			Text:   base64.StdEncoding.EncodeToString([]byte(req.Text)),
		},
	}
	if err := sock.WriteJSON(body); err != nil {
		sock.Close()
		return nil, err
	}

	t.cfg.Logger.Debug("TTS request sent",
		slog.String("vendor", Name),
		slog.String("voice", voice),
		slog.Int("text_len", len(req.Text)))

	return &ttsStream{sock: sock}, nil
}

type ttsStream struct {
	sock *provider.Socket

	eosPending bool
	finished   bool
}

// Receive returns audio events followed by EventEOS after the status 2 frame
func (s *ttsStream) Receive(ctx context.Context) (provider.Event, error) {
	if s.finished {
		return provider.Event{}, io.EOF
	}
	if s.eosPending {
		s.finished = true
		return provider.Event{Kind: provider.EventEOS}, nil
	}

	for {
		msg, err := s.sock.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return provider.Event{}, proxyerr.New(proxyerr.KindNetwork, "vendor closed connection before last frame")
			}
			return provider.Event{}, err
		}

		ev, ok, err := s.parse(msg.Data)
		if err != nil {
			return provider.Event{}, err
		}
		if ok {
			return ev, nil
		}
		if s.eosPending {
			s.finished = true
			return provider.Event{Kind: provider.EventEOS}, nil
		}
	}
}

func (s *ttsStream) parse(data []byte) (provider.Event, bool, error) {
	if !gjson.ValidBytes(data) {
		return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "malformed vendor message")
	}

	if code := gjson.GetBytes(data, "code").Int(); code != 0 {
		s.finished = true
		return provider.Event{
			Kind:   provider.EventError,
			Code:   gjson.GetBytes(data, "code").String(),
			Detail: gjson.GetBytes(data, "message").String(),
		}, true, nil
	}

	if gjson.GetBytes(data, "data.status").Int() == 2 {
		s.eosPending = true
	}

	encoded := gjson.GetBytes(data, "data.audio").String()
	if encoded == "" {
		return provider.Event{}, false, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return provider.Event{}, false, proxyerr.Wrap(proxyerr.KindVendorProtocol, err, "invalid audio payload")
	}
	return provider.Event{Kind: provider.EventAudio, Audio: pcm}, true, nil
}

// Close releases the connection
func (s *ttsStream) Close() error {
	return s.sock.Close()
}
