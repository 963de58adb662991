package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/qxb-in/ot/internal/proxyerr"
)

// Kind identifies a client protocol message
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionUpdate
	KindAudioAppend
	KindEnd
	KindTranscriptDelta
	KindTranscriptCompleted
	KindError
)

// Wire type names
const (
	TypeSessionUpdate       = "session.update"
	TypeAudioAppend         = "audio.append"
	TypeEnd                 = "end"
	TypeTranscriptDelta     = "transcript.delta"
	TypeTranscriptCompleted = "transcript.completed"
	TypeError               = "error"

	// OpenAI realtime transcription aliases
	TypeOpenAISessionUpdate       = "transcription_session.update"
	TypeOpenAIAudioAppend         = "input_audio_buffer.append"
	TypeOpenAICommit              = "input_audio_buffer.commit"
	TypeOpenAITranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	TypeOpenAITranscriptCompleted = "conversation.item.input_audio_transcription.completed"
)

// Dialect selects outbound message names
type Dialect string

const (
	DialectNative Dialect = "native"
	DialectOpenAI Dialect = "openai"
)

// Message is one client protocol message. Exactly the fields relevant to
// Kind are set.
type Message struct {
	Kind      Kind
	Config    *SessionConfig // SessionUpdate
	Audio     []byte         // AudioAppend, decoded PCM bytes
	Text      string         // TranscriptDelta, TranscriptCompleted
	SegmentID string         // TranscriptDelta, TranscriptCompleted
	Code      string         // Error
	Detail    string         // Error
}

// SessionUpdate creates a configuration message
func SessionUpdate(cfg SessionConfig) Message {
	return Message{Kind: KindSessionUpdate, Config: &cfg}
}

// AudioAppend creates an audio message
func AudioAppend(pcm []byte) Message {
	return Message{Kind: KindAudioAppend, Audio: pcm}
}

// End creates an end-of-input message
func End() Message {
	return Message{Kind: KindEnd}
}

// Delta creates an incremental transcript message
func Delta(segmentID, text string) Message {
	return Message{Kind: KindTranscriptDelta, SegmentID: segmentID, Text: text}
}

// Completed creates a completed transcript message
func Completed(segmentID, text string) Message {
	return Message{Kind: KindTranscriptCompleted, SegmentID: segmentID, Text: text}
}

// Error creates an error message
func Error(code, detail string) Message {
	return Message{Kind: KindError, Code: code, Detail: detail}
}

// ErrorFrom creates an error message from a classified error
func ErrorFrom(err error) Message {
	return Error(string(proxyerr.KindOf(err)), proxyerr.MessageOf(err))
}

// envelope is the JSON shape shared by every message type
type envelope struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Session    json.RawMessage `json:"session,omitempty"`
	Audio      string          `json:"audio,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	SegmentID  string          `json:"segment_id,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	Error      *errorBody      `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Parse decodes a client text message
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "malformed message")
	}

	switch env.Type {
	case TypeSessionUpdate, TypeOpenAISessionUpdate:
		cfg, err := parseSessionConfig(env.Session)
		if err != nil {
			return Message{}, err
		}
		return SessionUpdate(cfg), nil

	case TypeAudioAppend, TypeOpenAIAudioAppend:
		pcm, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return Message{}, proxyerr.Wrap(proxyerr.KindInvalidConfig, err, "audio is not valid base64")
		}
		return AudioAppend(pcm), nil

	case TypeEnd, TypeOpenAICommit:
		return End(), nil

	case "":
		return Message{}, proxyerr.New(proxyerr.KindInvalidConfig, "message type is missing")

	default:
		return Message{}, proxyerr.New(proxyerr.KindInvalidConfig, "unknown message type %q", env.Type)
	}
}

// Encode serializes an outbound message in the given dialect
func Encode(msg Message, dialect Dialect) ([]byte, error) {
	openai := dialect == DialectOpenAI

	var env envelope
	switch msg.Kind {
	case KindTranscriptDelta:
		env = envelope{Type: TypeTranscriptDelta, Delta: msg.Text, SegmentID: msg.SegmentID}
		if openai {
			env = envelope{Type: TypeOpenAITranscriptDelta, Delta: msg.Text, ItemID: msg.SegmentID}
		}
	case KindTranscriptCompleted:
		env = envelope{Type: TypeTranscriptCompleted, Transcript: msg.Text, SegmentID: msg.SegmentID}
		if openai {
			env = envelope{Type: TypeOpenAITranscriptCompleted, Transcript: msg.Text, ItemID: msg.SegmentID}
		}
	case KindError:
		env = envelope{Type: TypeError, Error: &errorBody{Code: msg.Code, Message: msg.Detail}}
	case KindSessionUpdate:
		session, err := json.Marshal(msg.Config)
		if err != nil {
			return nil, err
		}
		env = envelope{Type: TypeSessionUpdate, Session: session}
	case KindAudioAppend:
		env = envelope{Type: TypeAudioAppend, Audio: base64.StdEncoding.EncodeToString(msg.Audio)}
		if openai {
			env.Type = TypeOpenAIAudioAppend
		}
	case KindEnd:
		env = envelope{Type: TypeEnd}
	default:
		return nil, fmt.Errorf("cannot encode message kind %s", msg.Kind)
	}

	return json.Marshal(env)
}

// ParseDialect maps a configuration value to a dialect
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectNative, "":
		return DialectNative, nil
	case DialectOpenAI:
		return DialectOpenAI, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

// String returns a human-readable kind name
func (k Kind) String() string {
	switch k {
	case KindSessionUpdate:
		return "session_update"
	case KindAudioAppend:
		return "audio_append"
	case KindEnd:
		return "end"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindTranscriptCompleted:
		return "transcript_completed"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
