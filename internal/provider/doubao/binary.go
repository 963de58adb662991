package doubao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/qxb-in/ot/internal/frame"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// BinaryTTS is the ws_binary streaming synthesis adapter
type BinaryTTS struct {
	cfg Config
}

// NewBinaryTTS creates a synthesizer
func NewBinaryTTS(cfg Config) *BinaryTTS {
	return &BinaryTTS{cfg: cfg.withDefaults()}
}

// Name returns the vendor name
func (b *BinaryTTS) Name() string {
	return Name
}

// OutputFormat reports the encoding requested from the vendor
func (b *BinaryTTS) OutputFormat(req provider.SpeechRequest) (string, int) {
	return encoding(req.Format), OutputSampleRate
}

type binaryRequest struct {
	App struct {
		AppID   string `json:"appid"`
		Token   string `json:"token"`
		Cluster string `json:"cluster"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		VoiceType   string  `json:"voice_type"`
		Encoding    string  `json:"encoding"`
		Rate        int     `json:"rate"`
		SpeedRatio  float64 `json:"speed_ratio"`
		VolumeRatio float64 `json:"volume_ratio"`
		PitchRatio  float64 `json:"pitch_ratio"`
		Emotion     string  `json:"emotion,omitempty"`
	} `json:"audio"`
	Request struct {
		ReqID     string `json:"reqid"`
		Text      string `json:"text"`
		TextType  string `json:"text_type"`
		Operation string `json:"operation"`
	} `json:"request"`
}

func (b *BinaryTTS) buildRequest(req provider.SpeechRequest) binaryRequest {
	var r binaryRequest
	r.App.AppID = b.cfg.AppID
	r.App.Token = b.cfg.Token
	r.App.Cluster = b.cfg.Cluster
	r.User.UID = b.cfg.UID

	r.Audio.VoiceType = speaker(req.Voice, DefaultVoice)
	r.Audio.Encoding = encoding(req.Format)
	r.Audio.Rate = OutputSampleRate
	r.Audio.SpeedRatio = req.Speed
	if r.Audio.SpeedRatio <= 0 {
		r.Audio.SpeedRatio = 1.0
	}
	r.Audio.VolumeRatio = 1.0
	r.Audio.PitchRatio = 1.0
	r.Audio.Emotion = req.Emotion

	r.Request.ReqID = uuid.NewString()
	r.Request.Text = req.Text
	r.Request.TextType = "plain"
	r.Request.Operation = "submit"
	return r
}

// Synthesize sends one full client request frame and streams back the
// audio-only responses
func (b *BinaryTTS) Synthesize(ctx context.Context, req provider.SpeechRequest) (provider.Stream, error) {
	if req.Text == "" {
		return nil, proxyerr.New(proxyerr.KindInvalidConfig, "empty synthesis text")
	}

	body := b.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}
	data, err := frame.Encode(frame.MsgFullClientRequest, frame.FlagNone, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tts request: %w", err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer; "+b.cfg.Token)

	sock, err := provider.Dial(ctx, b.cfg.BinaryURL, h, b.cfg.Dial)
	if err != nil {
		return nil, err
	}
	if err := sock.WriteBinary(data); err != nil {
		sock.Close()
		return nil, err
	}

	logger := b.cfg.Logger.With(slog.String("vendor", Name), slog.String("reqid", body.Request.ReqID))
	logger.Debug("TTS request sent",
		slog.String("voice", body.Audio.VoiceType),
		slog.String("encoding", body.Audio.Encoding))

	return &binaryStream{sock: sock, logger: logger}, nil
}

type binaryStream struct {
	sock   *provider.Socket
	logger *slog.Logger

	eosPending bool
	finished   bool
}

// Receive returns audio events until the negative-sequence frame
func (s *binaryStream) Receive(ctx context.Context) (provider.Event, error) {
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
				return provider.Event{}, proxyerr.New(proxyerr.KindNetwork, "vendor closed connection before final frame")
			}
			return provider.Event{}, err
		}

		f, err := frame.Decode(msg.Data)
		if err != nil {
			var perr *proxyerr.Error
			if errors.As(err, &perr) && perr.Kind == proxyerr.KindVendorProtocol {
				s.finished = true
				return provider.Event{Kind: provider.EventError, Code: perr.Code, Detail: perr.Message}, nil
			}
			return provider.Event{}, err
		}

		switch {
		case f.IsAck():
			continue
		case f.MessageType == frame.MsgFullServerResponse:
			s.logger.Debug("Server response", slog.String("payload", string(f.Payload)))
			if f.Final() {
				s.finished = true
				return provider.Event{Kind: provider.EventEOS}, nil
			}
			continue
		case f.MessageType != frame.MsgAudioOnlyResponse:
			return provider.Event{}, proxyerr.New(proxyerr.KindVendorProtocol,
				"unexpected %s frame", frame.MessageTypeString(f.MessageType))
		}

		if f.Final() {
			if len(f.Payload) == 0 {
				s.finished = true
				return provider.Event{Kind: provider.EventEOS}, nil
			}
			s.eosPending = true
		}
		if len(f.Payload) == 0 {
			continue
		}
		return provider.Event{Kind: provider.EventAudio, Audio: f.Payload}, nil
	}
}

// Close releases the connection
func (s *binaryStream) Close() error {
	return s.sock.Close()
}
