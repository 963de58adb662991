package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/qxb-in/ot/internal/audio"
)

// ErrClosed is returned by Receive after the stream has been closed
var ErrClosed = errors.New("vendor stream closed")

// EventKind identifies a normalised vendor event
type EventKind int

const (
	EventInterim EventKind = iota + 1
	EventFinal
	EventAudio
	EventError
	EventEOS
)

// Event is one normalised vendor event
type Event struct {
	Kind      EventKind
	Text      string // Interim, Final
	SegmentID string // Interim, Final
	Audio     []byte // Audio
	Code      string // Error
	Detail    string // Error
}

// Stream is a finite, non-restartable sequence of vendor events
type Stream interface {
	// Receive blocks until the next event. It returns ErrClosed once Close
	// has been called.
	Receive(ctx context.Context) (Event, error)

	// Close releases the vendor connection. It is idempotent and cancels a
	// pending Receive.
	Close() error
}

// RecognizerConn is a live streaming recognition connection
type RecognizerConn interface {
	Stream

	// SendAudio transmits one chunk, pacing sends when the vendor requires it
	SendAudio(ctx context.Context, chunk audio.Chunk) error

	// CloseSend signals end of audio to the vendor
	CloseSend(ctx context.Context) error
}

// RecognizeOptions configures a recognition connection
type RecognizeOptions struct {
	SessionID  string
	Language   string
	Model      string
	SampleRate int // client sample rate, adapters convert as needed
	Channels   int
}

// Recognizer opens streaming recognition connections
type Recognizer interface {
	Name() string
	Connect(ctx context.Context, opts RecognizeOptions) (RecognizerConn, error)
}

// SpeechRequest describes one synthesis request
type SpeechRequest struct {
	Text       string
	Voice      string
	Speed      float64 // 1.0 is normal
	Format     string  // pcm, mp3, wav
	SampleRate int
	Emotion    string
}

// Synthesizer streams synthesized audio for a request
type Synthesizer interface {
	Name() string

	// Synthesize starts a request; audio arrives as EventAudio followed by EventEOS
	Synthesize(ctx context.Context, req SpeechRequest) (Stream, error)

	// OutputFormat reports the format and sample rate the vendor returns for req
	OutputFormat(req SpeechRequest) (format string, sampleRate int)
}

// BatchTranscriber transcribes a complete audio file
type BatchTranscriber interface {
	Name() string
	TranscribeBatch(ctx context.Context, data []byte, filename string) (string, error)
}

// String returns a human-readable event kind name
func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventAudio:
		return "audio"
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
