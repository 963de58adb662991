package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"pgregory.net/rapid"

	"github.com/qxb-in/ot/internal/proxyerr"
)

func TestEncodeHeader(t *testing.T) {
	data, err := Encode(MsgFullClientRequest, FlagNone, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Default header used by binary TTS requests
	want := []byte{0x11, 0x10, 0x11, 0x00}
	if !bytes.Equal(data[:4], want) {
		t.Errorf("Expected header % x, got % x", want, data[:4])
	}

	size := binary.BigEndian.Uint32(data[4:8])
	if int(size) != len(data)-8 {
		t.Errorf("Expected payload size %d, got %d", len(data)-8, size)
	}
}

func TestRoundTrip(t *testing.T) {
	types := []uint8{MsgFullClientRequest, MsgAudioOnlyRequest, MsgFullServerResponse, MsgAudioOnlyResponse}

	rapid.Check(t, func(rt *rapid.T) {
		mt := rapid.SampledFrom(types).Draw(rt, "messageType")
		flags := uint8(rapid.IntRange(0, 15).Draw(rt, "flags"))
		payload := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(rt, "payload")
		compress := rapid.Bool().Draw(rt, "compress")

		f := New(mt, flags, payload)
		if !compress {
			f.Compression = CompressionNone
		}
		data, err := f.Encode()
		if err != nil {
			rt.Fatalf("Encode failed: %v", err)
		}

		decoded, err := Decode(data)
		if err != nil {
			rt.Fatalf("Decode failed: %v", err)
		}
		if decoded.MessageType != mt {
			rt.Fatalf("message type: want %#x, got %#x", mt, decoded.MessageType)
		}
		if decoded.Flags != flags {
			rt.Fatalf("flags: want %#x, got %#x", flags, decoded.Flags)
		}
		if !bytes.Equal(decoded.Payload, payload) {
			rt.Fatalf("payload mismatch: want %d bytes, got %d", len(payload), len(decoded.Payload))
		}
	})
}

func TestSequenceTermination(t *testing.T) {
	tests := []struct {
		name     string
		flags    uint8
		sequence int32
		final    bool
	}{
		{"first chunk", FlagPositiveSeq, 1, false},
		{"zero sequence", FlagPositiveSeq, 0, false},
		{"large sequence", FlagPositiveSeq, 1 << 30, false},
		{"last chunk", FlagNegativeSeq, -1, true},
		{"negative counter", FlagNegativeSeq, -42, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(MsgAudioOnlyResponse, tt.flags, []byte{1, 2, 3, 4})
			f.Compression = CompressionNone
			f.Sequence = tt.sequence

			data, err := f.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Sequence != tt.sequence {
				t.Errorf("Expected sequence %d, got %d", tt.sequence, decoded.Sequence)
			}
			if decoded.Final() != tt.final {
				t.Errorf("Expected final=%v, got %v", tt.final, decoded.Final())
			}
		})
	}
}

func TestDecodeAck(t *testing.T) {
	decoded, err := Decode([]byte{0x11, 0xb0, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.IsAck() {
		t.Error("Expected frame to be an ack")
	}
	if decoded.Final() {
		t.Error("Ack must not end the stream")
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data, err := EncodeError(3050, "quota exceeded", compress)
		if err != nil {
			t.Fatalf("EncodeError failed: %v", err)
		}

		_, err = Decode(data)
		if !proxyerr.Is(err, proxyerr.KindVendorProtocol) {
			t.Fatalf("Expected vendor protocol error, got %v", err)
		}
		if proxyerr.CodeOf(err) != "3050" {
			t.Errorf("Expected code 3050, got %q", proxyerr.CodeOf(err))
		}
		if proxyerr.MessageOf(err) != "quota exceeded" {
			t.Errorf("Expected message 'quota exceeded', got %q", proxyerr.MessageOf(err))
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"short header", []byte{0x11, 0x10}},
		{"bad version", []byte{0x21, 0x10, 0x11, 0x00, 0, 0, 0, 0}},
		{"zero header size", []byte{0x10, 0x10, 0x11, 0x00, 0, 0, 0, 0}},
		{"unknown type", []byte{0x11, 0x50, 0x00, 0x00, 0, 0, 0, 0}},
		{"size beyond buffer", []byte{0x11, 0x10, 0x00, 0x00, 0, 0, 0, 9, 1, 2}},
		{"missing sequence", []byte{0x11, 0xb1, 0x00, 0x00, 0, 0}},
		{"corrupt gzip", []byte{0x11, 0x10, 0x11, 0x00, 0, 0, 0, 2, 0xde, 0xad}},
		{"truncated error", []byte{0x11, 0xf0, 0x00, 0x00, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !proxyerr.Is(err, proxyerr.KindFrameDecode) {
				t.Errorf("Expected frame decode error, got %v", err)
			}
		})
	}
}

func TestEncodeRejectsWideNibbles(t *testing.T) {
	f := New(0x1f, 0, nil)
	if _, err := f.Encode(); err == nil {
		t.Error("Expected error for message type wider than a nibble")
	}
}
