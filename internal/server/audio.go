package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
	"github.com/qxb-in/ot/internal/session"
)

// speechRequest is the OpenAI /v1/audio/speech body plus vendor extensions
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
	SampleRate     int     `json:"sample_rate"`
	Vendor         string  `json:"vendor"`
	Emotion        string  `json:"emotion"`
}

// errorResponse follows the OpenAI error envelope
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

var contentTypes = map[string]string{
	"pcm":  "audio/pcm",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
}

// httpStatusFor maps an error kind to an HTTP status
func httpStatusFor(kind proxyerr.Kind) int {
	switch kind {
	case proxyerr.KindInvalidConfig:
		return http.StatusBadRequest
	case proxyerr.KindAuth, proxyerr.KindNetwork, proxyerr.KindVendorProtocol, proxyerr.KindFrameDecode:
		return http.StatusBadGateway
	case proxyerr.KindCapacity:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := proxyerr.KindOf(err)
	errType := "server_error"
	if kind == proxyerr.KindInvalidConfig {
		errType = "invalid_request_error"
	}
	writeJSON(w, httpStatusFor(kind), errorResponse{Error: errorDetail{
		Message: proxyerr.MessageOf(err),
		Type:    errType,
		Code:    proxyerr.CodeOf(err),
	}})
}

// audioWriter defers the response header until the first audio byte so a
// failure before that can still be reported with a proper status
type audioWriter struct {
	w           http.ResponseWriter
	contentType string
	started     bool
}

func (a *audioWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", a.contentType)
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

func (a *audioWriter) Flush() {
	if f, ok := a.w.(http.Flusher); ok && a.started {
		f.Flush()
	}
}

// handleSpeech implements POST /v1/audio/speech
func (h *HTTPServer) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body speechRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "request body is not valid JSON"))
		return
	}
	if body.ResponseFormat == "" {
		body.ResponseFormat = "mp3"
	}
	if body.SampleRate == 0 {
		body.SampleRate = h.config.Audio.DefaultSampleRate
	}
	if body.Speed == 0 {
		body.Speed = 1.0
	}

	synth, err := h.registry.Synthesizer(body.Vendor)
	if err != nil {
		writeError(w, err)
		return
	}

	req := provider.SpeechRequest{
		Text:       body.Input,
		Voice:      body.Voice,
		Speed:      body.Speed,
		Format:     body.ResponseFormat,
		SampleRate: body.SampleRate,
		Emotion:    body.Emotion,
	}

	format, _ := synth.OutputFormat(req)
	if body.ResponseFormat == "wav" && format == "pcm" {
		format = "wav"
	}
	contentType, ok := contentTypes[format]
	if !ok {
		contentType = "application/octet-stream"
	}

	startTime := time.Now()
	sink := &audioWriter{w: w, contentType: contentType}
	result, err := session.Synthesize(r.Context(), synth, req, sink, h.config.Audio.TTSChunkSize, h.logger)
	elapsed := time.Since(startTime)
	if err != nil {
		h.metrics.RecordTTS(synth.Name(), "error", result.Bytes, elapsed.Seconds())
		h.logger.Error("Speech synthesis failed",
			slog.String("vendor", synth.Name()),
			slog.Int("bytes", result.Bytes),
			slog.String("error", err.Error()),
		)
		if !sink.started {
			writeError(w, err)
		}
		return
	}

	h.metrics.RecordTTS(synth.Name(), "ok", result.Bytes, elapsed.Seconds())
	h.logger.Info("Speech synthesized",
		slog.String("vendor", synth.Name()),
		slog.String("format", result.Format),
		slog.Int("sample_rate", result.SampleRate),
		slog.Int("bytes", result.Bytes),
		slog.Duration("duration", elapsed),
	)
}

// handleTranscriptions implements POST /v1/audio/transcriptions
func (h *HTTPServer) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.transcriber == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorDetail{
			Message: "batch transcription is not configured",
			Type:    "server_error",
			Code:    "unavailable",
		}})
		return
	}

	limit := h.config.Transcription.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, proxyerr.New(proxyerr.KindInvalidConfig, "audio file exceeds %d bytes", limit))
			return
		}
		writeError(w, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "failed to read file"))
		return
	}

	text, err := h.transcriber.TranscribeBatch(r.Context(), data, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.FormValue("response_format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, text)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
