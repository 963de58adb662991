package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// emotionTag matches [E:happy] and the full-width 【E：happy】 form
var emotionTag = regexp.MustCompile(`(?:\[E[:：]\s*([a-zA-Z]+)\]|【E[:：]\s*([a-zA-Z]+)】)`)

// DefaultChunkSize is the write size used when none is configured
const DefaultChunkSize = 2048

// SynthesisResult summarises a finished synthesis
type SynthesisResult struct {
	Format     string
	SampleRate int
	Bytes      int
	Chunks     int
}

// ExtractEmotion removes emotion tags from text and returns the cleaned text
// and the last tagged emotion
func ExtractEmotion(text string) (string, string) {
	var emotion string
	for _, m := range emotionTag.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			emotion = strings.ToLower(m[1])
		} else if m[2] != "" {
			emotion = strings.ToLower(m[2])
		}
	}
	cleaned := strings.TrimSpace(emotionTag.ReplaceAllString(text, ""))
	return cleaned, emotion
}

type flusher interface {
	Flush()
}

// Synthesize streams speech for req into sink in chunkSize writes. PCM from
// the vendor is resampled when req asks for a different rate. A wav request
// is buffered and written as one WAV file once the vendor finishes.
func Synthesize(ctx context.Context, synth provider.Synthesizer, req provider.SpeechRequest, sink io.Writer, chunkSize int, logger *slog.Logger) (SynthesisResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	text, emotion := ExtractEmotion(req.Text)
	if text == "" {
		return SynthesisResult{}, proxyerr.New(proxyerr.KindInvalidConfig, "input text is empty")
	}
	req.Text = text
	if req.Emotion == "" {
		req.Emotion = emotion
	}

	format, rate := synth.OutputFormat(req)
	resample := format == "pcm" && req.SampleRate > 0 && req.SampleRate != rate
	result := SynthesisResult{Format: format, SampleRate: rate}
	if resample {
		result.SampleRate = req.SampleRate
	}
	wav := req.Format == "wav" && format == "pcm"
	if wav {
		result.Format = "wav"
	}

	logger.Debug("Starting synthesis",
		slog.String("vendor", synth.Name()),
		slog.String("voice", req.Voice),
		slog.String("emotion", req.Emotion),
		slog.String("format", result.Format),
		slog.Int("vendor_rate", rate),
		slog.Int("sample_rate", result.SampleRate),
	)

	stream, err := synth.Synthesize(ctx, req)
	if err != nil {
		return result, err
	}
	defer stream.Close()

	var wavBuf bytes.Buffer
	out := sink
	if wav {
		out = &wavBuf
	}
	f, canFlush := sink.(flusher)

	write := func(frame []byte) error {
		if _, err := out.Write(frame); err != nil {
			return proxyerr.Wrap(proxyerr.KindClientGone, err, "write synthesized audio")
		}
		result.Bytes += len(frame)
		result.Chunks++
		if canFlush && !wav {
			f.Flush()
		}
		return nil
	}

	framer := audio.NewFramer(chunkSize)
	var carry []byte // odd trailing byte between PCM events

	for {
		ev, err := stream.Receive(ctx)
		if err != nil {
			return result, err
		}

		switch ev.Kind {
		case provider.EventAudio:
			data := ev.Audio
			if resample {
				data = append(carry, data...)
				carry = nil
				if len(data)%2 == 1 {
					carry = []byte{data[len(data)-1]}
					data = data[:len(data)-1]
				}
				data = audio.Convert(audio.NewChunk(data, rate, 1), req.SampleRate).Data
			}
			for _, frame := range framer.Write(data) {
				if err := write(frame); err != nil {
					return result, err
				}
			}

		case provider.EventError:
			return result, proxyerr.Vendor(ev.Code, ev.Detail)

		case provider.EventEOS:
			if tail := framer.Flush(); len(tail) > 0 {
				if err := write(tail); err != nil {
					return result, err
				}
			}
			if wav {
				file, err := audio.EncodeWAV(wavBuf.Bytes(), result.SampleRate, 1)
				if err != nil {
					return result, proxyerr.Wrap(proxyerr.KindInternal, err, "encode wav")
				}
				if _, err := sink.Write(file); err != nil {
					return result, proxyerr.Wrap(proxyerr.KindClientGone, err, "write synthesized audio")
				}
				result.Bytes = len(file)
			}
			logger.Debug("Synthesis finished",
				slog.String("vendor", synth.Name()),
				slog.Int("bytes", result.Bytes),
				slog.Int("chunks", result.Chunks),
			)
			return result, nil
		}
	}
}
