package dashscope

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

const (
	// Name is the registry name of the adapter
	Name = "dashscope"

	DefaultURL      = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"
	DefaultModel    = "gummy-realtime-v1"
	DefaultLanguage = "zh"

	// SampleRate is the rate audio is sent at
	SampleRate = 16000
)

// Credential failures reported in task-failed
var authCodes = map[string]bool{
	"InvalidApiKey": true,
	"AccessDenied":  true,
}

// Config holds DashScope credentials and endpoint
type Config struct {
	APIKey string
	URL    string
	Model  string

	Dial   provider.DialOptions
	Logger *slog.Logger
}

// Gummy is the realtime recognition adapter
type Gummy struct {
	cfg Config
}

// NewGummy creates a recognizer
func NewGummy(cfg Config) *Gummy {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gummy{cfg: cfg}
}

// Name returns the vendor name
func (g *Gummy) Name() string {
	return Name
}

type header struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id"`
	Streaming string `json:"streaming"`
}

type parameters struct {
	Format               string `json:"format"`
	SampleRate           int    `json:"sample_rate"`
	SourceLanguage       string `json:"source_language"`
	TranscriptionEnabled bool   `json:"transcription_enabled"`
	TranslationEnabled   bool   `json:"translation_enabled"`
}

type runTaskPayload struct {
	TaskGroup  string         `json:"task_group"`
	Task       string         `json:"task"`
	Function   string         `json:"function"`
	Model      string         `json:"model"`
	Parameters parameters     `json:"parameters"`
	Input      map[string]any `json:"input"`
}

type runTask struct {
	Header  header         `json:"header"`
	Payload runTaskPayload `json:"payload"`
}

type finishTask struct {
	Header  header `json:"header"`
	Payload struct {
		Input map[string]any `json:"input"`
	} `json:"payload"`
}

// Connect dials the inference socket, starts a recognition task and waits
// for task-started
func (g *Gummy) Connect(ctx context.Context, opts provider.RecognizeOptions) (provider.RecognizerConn, error) {
	h := http.Header{}
	h.Set("Authorization", "bearer "+g.cfg.APIKey)

	sock, err := provider.Dial(ctx, g.cfg.URL, h, g.cfg.Dial)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" || strings.HasPrefix(model, "whisper") || strings.HasPrefix(model, "gpt-") {
		model = g.cfg.Model
	}
	lang := opts.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	taskID := strings.ReplaceAll(uuid.NewString(), "-", "")
	logger := g.cfg.Logger.With(
		slog.String("vendor", Name),
		slog.String("session_id", opts.SessionID),
		slog.String("task_id", taskID))

	req := runTask{
		Header: header{Action: "run-task", TaskID: taskID, Streaming: "duplex"},
		Payload: runTaskPayload{
			TaskGroup: "audio",
			Task:      "asr",
			Function:  "recognition",
			Model:     model,
			Parameters: parameters{
				Format:               "pcm",
				SampleRate:           SampleRate,
				SourceLanguage:       lang,
				TranscriptionEnabled: true,
			},
			Input: map[string]any{},
		},
	}
	if err := sock.WriteJSON(req); err != nil {
		sock.Close()
		return nil, err
	}

	if err := awaitStarted(ctx, sock); err != nil {
		sock.Close()
		return nil, err
	}
	logger.Debug("Recognition task started", slog.String("model", model))

	return &gummyConn{sock: sock, taskID: taskID, logger: logger}, nil
}

func awaitStarted(ctx context.Context, sock *provider.Socket) error {
	msg, err := sock.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return proxyerr.New(proxyerr.KindNetwork, "vendor closed connection during handshake")
		}
		return err
	}

	switch event := gjson.GetBytes(msg.Data, "header.event").String(); event {
	case "task-started":
		return nil
	case "task-failed":
		return taskError(msg.Data)
	default:
		return proxyerr.New(proxyerr.KindVendorProtocol, "unexpected handshake event %q", event)
	}
}

func taskError(data []byte) error {
	code := gjson.GetBytes(data, "header.error_code").String()
	message := gjson.GetBytes(data, "header.error_message").String()
	if authCodes[code] {
		return &proxyerr.Error{Kind: proxyerr.KindAuth, Code: code, Message: message}
	}
	return proxyerr.Vendor(code, message)
}

type gummyConn struct {
	sock   *provider.Socket
	taskID string
	logger *slog.Logger

	finished atomic.Bool
}

// SendAudio converts the chunk to 16 kHz mono and sends it as one binary frame
func (c *gummyConn) SendAudio(_ context.Context, chunk audio.Chunk) error {
	pcm := audio.Convert(chunk, SampleRate)
	if len(pcm.Data) == 0 {
		return nil
	}
	return c.sock.WriteBinary(pcm.Data)
}

// CloseSend sends finish-task
func (c *gummyConn) CloseSend(context.Context) error {
	var req finishTask
	req.Header = header{Action: "finish-task", TaskID: c.taskID, Streaming: "duplex"}
	req.Payload.Input = map[string]any{}
	if err := c.sock.WriteJSON(req); err != nil {
		return err
	}
	c.logger.Debug("Sent finish-task")
	return nil
}

// Receive returns the next recognition event
func (c *gummyConn) Receive(ctx context.Context) (provider.Event, error) {
	if c.finished.Load() {
		return provider.Event{Kind: provider.EventEOS}, nil
	}
	for {
		msg, err := c.sock.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return provider.Event{}, proxyerr.New(proxyerr.KindNetwork, "vendor closed connection before task finished")
			}
			return provider.Event{}, err
		}

		ev, ok, err := parseEvent(msg.Data)
		if err != nil {
			return provider.Event{}, err
		}
		if !ok {
			continue
		}
		if ev.Kind == provider.EventEOS {
			c.finished.Store(true)
		}
		return ev, nil
	}
}

// Close releases the connection
func (c *gummyConn) Close() error {
	return c.sock.Close()
}

// parseEvent maps one server event; ok is false for events without
// client-visible content
func parseEvent(data []byte) (provider.Event, bool, error) {
	if !gjson.ValidBytes(data) {
		return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "malformed vendor message")
	}

	switch event := gjson.GetBytes(data, "header.event").String(); event {
	case "task-started":
		return provider.Event{}, false, nil

	case "result-generated":
		tr := gjson.GetBytes(data, "payload.output.transcription")
		if !tr.Exists() {
			// translation-only or usage results
			return provider.Event{}, false, nil
		}
		kind := provider.EventInterim
		if tr.Get("sentence_end").Bool() {
			kind = provider.EventFinal
		}
		return provider.Event{
			Kind:      kind,
			Text:      tr.Get("text").String(),
			SegmentID: tr.Get("sentence_id").String(),
		}, true, nil

	case "task-finished":
		return provider.Event{Kind: provider.EventEOS}, true, nil

	case "task-failed":
		return provider.Event{
			Kind:   provider.EventError,
			Code:   gjson.GetBytes(data, "header.error_code").String(),
			Detail: gjson.GetBytes(data, "header.error_message").String(),
		}, true, nil

	default:
		return provider.Event{}, false, proxyerr.New(proxyerr.KindVendorProtocol, "unknown vendor event %q", event)
	}
}
