package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/qxb-in/ot/internal/proxyerr"
)

// Protocol constants
const (
	Version1 = 0x1

	// Header size in 4-byte words
	HeaderWords = 0x1
	headerBytes = 4

	// Message types
	MsgFullClientRequest  = 0x1
	MsgAudioOnlyRequest   = 0x2
	MsgFullServerResponse = 0x9
	MsgAudioOnlyResponse  = 0xb
	MsgError              = 0xf

	// Serialization methods
	SerializationNone = 0x0
	SerializationJSON = 0x1

	// Compression methods
	CompressionNone = 0x0
	CompressionGzip = 0x1

	// Flags carried by audio-only responses
	FlagNone        = 0x0
	FlagPositiveSeq = 0x1
	FlagNegativeSeq = 0x3

	maxPayloadSize = 64 << 20
)

// Frame is one decoded vendor envelope
type Frame struct {
	Version       uint8
	HeaderSize    uint8 // in 4-byte words
	MessageType   uint8
	Flags         uint8
	Serialization uint8
	Compression   uint8
	Sequence      int32
	Payload       []byte // always uncompressed
}

// New builds a frame with the default header for the message type.
// JSON requests and responses are gzip-compressed, audio is sent raw.
func New(messageType, flags uint8, payload []byte) Frame {
	f := Frame{
		Version:     Version1,
		HeaderSize:  HeaderWords,
		MessageType: messageType,
		Flags:       flags,
		Compression: CompressionGzip,
		Payload:     payload,
	}
	switch messageType {
	case MsgFullClientRequest, MsgFullServerResponse:
		f.Serialization = SerializationJSON
	}
	return f
}

// Encode builds header + length-prefixed compressed payload for the message
func Encode(messageType, flags uint8, payload []byte) ([]byte, error) {
	f := New(messageType, flags, payload)
	return f.Encode()
}

// HasSequence reports whether frames of this type and flags carry a sequence number
func HasSequence(messageType, flags uint8) bool {
	if messageType != MsgFullServerResponse && messageType != MsgAudioOnlyResponse {
		return false
	}
	return flags != FlagNone
}

// Final reports whether this frame ends the stream. A negative sequence
// number is the only end-of-stream marker the vendor sends.
func (f *Frame) Final() bool {
	return HasSequence(f.MessageType, f.Flags) && f.Sequence < 0
}

// IsAck reports whether the frame is a payload-less acknowledgement
func (f *Frame) IsAck() bool {
	return f.MessageType == MsgAudioOnlyResponse && f.Flags == FlagNone && len(f.Payload) == 0
}

// Header returns the 4 header bytes for the frame
func (f *Frame) Header() [headerBytes]byte {
	return [headerBytes]byte{
		f.Version<<4 | f.HeaderSize&0x0f,
		f.MessageType<<4 | f.Flags&0x0f,
		f.Serialization<<4 | f.Compression&0x0f,
		0x00,
	}
}

// Encode serializes the frame
func (f *Frame) Encode() ([]byte, error) {
	if f.MessageType > 0x0f || f.Flags > 0x0f {
		return nil, fmt.Errorf("message type %#x or flags %#x exceed a nibble", f.MessageType, f.Flags)
	}
	if f.HeaderSize == 0 {
		f.HeaderSize = HeaderWords
	}

	payload := f.Payload
	if f.Compression == CompressionGzip {
		compressed, err := Gzip(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		payload = compressed
	}

	extra := int(f.HeaderSize)*4 - headerBytes
	buf := bytes.NewBuffer(make([]byte, 0, headerBytes+extra+8+len(payload)))
	header := f.Header()
	buf.Write(header[:])
	buf.Write(make([]byte, extra))

	if HasSequence(f.MessageType, f.Flags) {
		binary.Write(buf, binary.BigEndian, f.Sequence)
	}
	binary.Write(buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes(), nil
}

// EncodeError builds an error frame. Only used by tests and mock vendors.
func EncodeError(code uint32, message string, compress bool) ([]byte, error) {
	msg := []byte(message)
	compression := uint8(CompressionNone)
	if compress {
		compressed, err := Gzip(msg)
		if err != nil {
			return nil, err
		}
		msg = compressed
		compression = CompressionGzip
	}

	f := Frame{Version: Version1, HeaderSize: HeaderWords, MessageType: MsgError, Compression: compression}
	header := f.Header()
	buf := bytes.NewBuffer(make([]byte, 0, headerBytes+8+len(msg)))
	buf.Write(header[:])
	binary.Write(buf, binary.BigEndian, code)
	binary.Write(buf, binary.BigEndian, uint32(len(msg)))
	buf.Write(msg)
	return buf.Bytes(), nil
}

// Decode parses a vendor frame. Error frames decode into a vendor protocol
// error carrying the vendor code and message; malformed envelopes return a
// frame decode error.
func Decode(data []byte) (*Frame, error) {
	if len(data) < headerBytes {
		return nil, decodeErr("frame too short: expected at least %d bytes, got %d", headerBytes, len(data))
	}

	f := &Frame{
		Version:       data[0] >> 4,
		HeaderSize:    data[0] & 0x0f,
		MessageType:   data[1] >> 4,
		Flags:         data[1] & 0x0f,
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0f,
	}

	if f.Version != Version1 {
		return nil, decodeErr("unsupported protocol version %d", f.Version)
	}
	if f.HeaderSize == 0 {
		return nil, decodeErr("header size cannot be zero")
	}

	offset := int(f.HeaderSize) * 4
	if len(data) < offset {
		return nil, decodeErr("frame shorter than declared header: %d < %d", len(data), offset)
	}
	rest := data[offset:]

	switch f.MessageType {
	case MsgError:
		return f, decodeError(f, rest)
	case MsgAudioOnlyResponse, MsgFullServerResponse, MsgFullClientRequest, MsgAudioOnlyRequest:
	default:
		return nil, decodeErr("unknown message type %#x", f.MessageType)
	}

	if HasSequence(f.MessageType, f.Flags) {
		if len(rest) < 4 {
			return nil, decodeErr("missing sequence number")
		}
		f.Sequence = int32(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
	}

	// Acks carry no payload at all
	if len(rest) == 0 && f.MessageType == MsgAudioOnlyResponse {
		return f, nil
	}

	payload, err := readSized(rest)
	if err != nil {
		return nil, err
	}
	if f.Compression == CompressionGzip {
		payload, err = Gunzip(payload)
		if err != nil {
			return nil, proxyerr.Wrap(proxyerr.KindFrameDecode, err, "failed to decompress payload")
		}
	}
	f.Payload = payload

	return f, nil
}

// decodeError turns an error frame body into a vendor protocol error
func decodeError(f *Frame, rest []byte) error {
	if len(rest) < 4 {
		return decodeErr("error frame missing code")
	}
	code := binary.BigEndian.Uint32(rest[:4])

	msg, err := readSized(rest[4:])
	if err != nil {
		return err
	}
	if f.Compression == CompressionGzip {
		msg, err = Gunzip(msg)
		if err != nil {
			return proxyerr.Wrap(proxyerr.KindFrameDecode, err, "failed to decompress error message")
		}
	}
	f.Payload = msg

	return proxyerr.Vendor(strconv.FormatUint(uint64(code), 10), string(msg))
}

func readSized(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, decodeErr("missing payload size")
	}
	size := binary.BigEndian.Uint32(data[:4])
	if size > maxPayloadSize {
		return nil, decodeErr("payload size %d exceeds limit", size)
	}
	if int(size) > len(data)-4 {
		return nil, decodeErr("payload size mismatch: header says %d bytes, got %d", size, len(data)-4)
	}
	out := make([]byte, size)
	copy(out, data[4:4+size])
	return out, nil
}

func decodeErr(format string, args ...any) error {
	return proxyerr.New(proxyerr.KindFrameDecode, format, args...)
}

// Gzip compresses data
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses data
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxPayloadSize))
}

// MessageTypeString returns a human-readable message type name
func MessageTypeString(messageType uint8) string {
	switch messageType {
	case MsgFullClientRequest:
		return "full_client_request"
	case MsgAudioOnlyRequest:
		return "audio_only_request"
	case MsgFullServerResponse:
		return "full_server_response"
	case MsgAudioOnlyResponse:
		return "audio_only_response"
	case MsgError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%#x)", messageType)
	}
}
