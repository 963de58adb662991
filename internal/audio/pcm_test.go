package audio

import (
	"testing"
	"time"
)

func TestSamplesBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}

	got := BytesToSamples(SamplesToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestToPCM16(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		bitDepth int
		expected []int16
		wantErr  bool
	}{
		{"16-bit passthrough", []byte{0x01, 0x00, 0xff, 0xff}, 16, []int16{1, -1}, false},
		{"16-bit odd length", []byte{0x01}, 16, nil, true},
		{"8-bit unsigned", []byte{128, 0, 255}, 8, []int16{0, -32768, 32512}, false},
		{"24-bit signed", []byte{0xaa, 0x34, 0x12, 0x00, 0x00, 0x80}, 24, []int16{0x1234, -32768}, false},
		{"32-bit signed", []byte{0, 0, 0x34, 0x12}, 32, []int16{0x1234}, false},
		{"24-bit misaligned", []byte{1, 2}, 24, nil, true},
		{"unsupported depth", []byte{1, 2}, 12, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ToPCM16(tt.data, tt.bitDepth)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			got := BytesToSamples(out)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d samples, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Sample %d: expected %d, got %d", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestDownmix(t *testing.T) {
	stereo := []int16{100, 300, -200, 200, 32767, 32767}

	mono := Downmix(stereo, 2)
	expected := []int16{200, 0, 32767}
	if len(mono) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(mono))
	}
	for i := range mono {
		if mono[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], mono[i])
		}
	}

	if got := Downmix(stereo, 1); len(got) != len(stereo) {
		t.Error("Mono input should be returned unchanged")
	}
}

func TestConvert(t *testing.T) {
	// 100ms of 24kHz stereo
	data := make([]byte, 2400*2*2)
	chunk := NewChunk(data, 24000, 2)

	if chunk.Duration() != 100*time.Millisecond {
		t.Fatalf("Expected 100ms input, got %v", chunk.Duration())
	}

	out := Convert(chunk, 16000)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Errorf("Expected 16000 Hz mono, got %d Hz %d channels", out.SampleRate, out.Channels)
	}
	if len(out.Data) != 1600*2 {
		t.Errorf("Expected %d bytes, got %d", 1600*2, len(out.Data))
	}
	if out.Duration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms output, got %v", out.Duration())
	}
}

func TestConvertNoop(t *testing.T) {
	chunk := NewChunk([]byte{1, 0, 2, 0}, 16000, 1)
	out := Convert(chunk, 16000)
	if &out.Data[0] != &chunk.Data[0] {
		t.Error("Expected matching format to reuse the chunk data")
	}
}
