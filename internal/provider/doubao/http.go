package doubao

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// codeFinished ends a v3 response stream
const codeFinished = 20000000

// additions is sent verbatim as a JSON string in req_params
var additions = mustJSON(map[string]any{
	"disable_markdown_filter":          true,
	"enable_language_detector":         true,
	"enable_latex_tn":                  true,
	"disable_default_bit_rate":         true,
	"max_length_to_filter_parenthesis": 0,
	"cache_config": map[string]any{
		"text_type": 1,
		"use_cache": true,
	},
})

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// HTTPTTS is the v3 unidirectional HTTP synthesis adapter. The response
// body is a stream of JSON lines.
type HTTPTTS struct {
	cfg    Config
	client *http.Client
}

// NewHTTPTTS creates a synthesizer; a nil client selects http.DefaultClient
func NewHTTPTTS(cfg Config, client *http.Client) *HTTPTTS {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTTS{cfg: cfg.withDefaults(), client: client}
}

// Name returns the vendor name
func (h *HTTPTTS) Name() string {
	return NameHTTP
}

// OutputFormat reports the encoding requested from the vendor
func (h *HTTPTTS) OutputFormat(req provider.SpeechRequest) (string, int) {
	return encoding(req.Format), OutputSampleRate
}

type audioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Emotion    string `json:"emotion,omitempty"`
	SpeechRate int    `json:"speech_rate"`
}

type reqParams struct {
	Text        string      `json:"text"`
	Speaker     string      `json:"speaker"`
	Additions   string      `json:"additions"`
	AudioParams audioParams `json:"audio_params"`
}

type httpRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams reqParams `json:"req_params"`
}

// SpeechRate maps a 1.0-normal multiplier onto the v3 -50..100 scale
func SpeechRate(speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	return int(math.Max(-50, math.Min(100, math.Round(100*speed-100))))
}

// Synthesize posts the request and streams audio from the response lines
func (h *HTTPTTS) Synthesize(ctx context.Context, req provider.SpeechRequest) (provider.Stream, error) {
	if req.Text == "" {
		return nil, proxyerr.New(proxyerr.KindInvalidConfig, "empty synthesis text")
	}

	var body httpRequest
	body.User.UID = h.cfg.UID
	body.ReqParams = reqParams{
		Text:      req.Text,
		Speaker:   speaker(req.Voice, DefaultHTTPVoice),
		Additions: additions,
		AudioParams: audioParams{
			Format:     encoding(req.Format),
			SampleRate: OutputSampleRate,
			Emotion:    req.Emotion,
			SpeechRate: SpeechRate(req.Speed),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}

	// the stream outlives this call, so it gets its own cancel
	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.cfg.HTTPURL, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, proxyerr.Wrap(proxyerr.KindInternal, err, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-App-Id", h.cfg.AppID)
	httpReq.Header.Set("X-Api-Access-Key", h.cfg.AccessKey)
	httpReq.Header.Set("X-Api-Resource-Id", h.cfg.ResourceID)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, proxyerr.Wrap(proxyerr.KindNetwork, err, "tts request failed")
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := strconv.Itoa(resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &proxyerr.Error{Kind: proxyerr.KindAuth, Code: code, Message: string(detail)}
		case resp.StatusCode >= 500:
			return nil, &proxyerr.Error{Kind: proxyerr.KindNetwork, Code: code, Message: string(detail)}
		default:
			return nil, proxyerr.Vendor(code, string(detail))
		}
	}

	h.cfg.Logger.Debug("TTS stream opened",
		slog.String("vendor", NameHTTP),
		slog.String("speaker", body.ReqParams.Speaker),
		slog.String("emotion", req.Emotion),
		slog.Int("speech_rate", body.ReqParams.AudioParams.SpeechRate))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	return &lineStream{body: resp.Body, scanner: scanner, cancel: cancel}, nil
}

type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	finished  bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// Receive parses the next non-empty JSON line
func (s *lineStream) Receive(ctx context.Context) (provider.Event, error) {
	if s.closed.Load() {
		return provider.Event{}, provider.ErrClosed
	}
	if s.finished {
		return provider.Event{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return provider.Event{}, err
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, ok, err := parseLine(line)
		if err != nil {
			return provider.Event{}, err
		}
		if !ok {
			continue
		}
		if ev.Kind == provider.EventEOS || ev.Kind == provider.EventError {
			s.finished = true
		}
		return ev, nil
	}

	if err := s.scanner.Err(); err != nil {
		if s.closed.Load() {
			return provider.Event{}, provider.ErrClosed
		}
		return provider.Event{}, proxyerr.Wrap(proxyerr.KindNetwork, err, "tts stream read failed")
	}
	return provider.Event{}, proxyerr.New(proxyerr.KindNetwork, "tts stream ended without completion")
}

func parseLine(line []byte) (provider.Event, bool, error) {
	if !gjson.ValidBytes(line) {
		return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "malformed vendor line")
	}

	code := gjson.GetBytes(line, "code").Int()
	switch {
	case code == codeFinished:
		return provider.Event{Kind: provider.EventEOS}, true, nil
	case code > 0:
		return provider.Event{
			Kind:   provider.EventError,
			Code:   strconv.FormatInt(code, 10),
			Detail: gjson.GetBytes(line, "message").String(),
		}, true, nil
	}

	encoded := gjson.GetBytes(line, "data").String()
	if encoded == "" {
		return provider.Event{}, false, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return provider.Event{}, false, proxyerr.Wrap(proxyerr.KindVendorProtocol, err, "invalid audio payload")
	}
	return provider.Event{Kind: provider.EventAudio, Audio: pcm}, true, nil
}

// Close cancels the request and releases the body
func (s *lineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.body.Close()
	})
	return err
}
