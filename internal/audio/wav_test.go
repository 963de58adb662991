package audio

import (
	"bytes"
	"math"
	"testing"
)

// sineWave generates PCM16 bytes of a sine tone
func sineWave(sampleRate int, seconds, frequency float64) []byte {
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*frequency*t))
	}
	return SamplesToBytes(samples)
}

func TestEncodeWAV(t *testing.T) {
	pcm := sineWave(16000, 0.1, 440)

	wavData, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) != WAVHeaderSize+len(pcm) {
		t.Errorf("Expected WAV size %d, got %d", WAVHeaderSize+len(pcm), len(wavData))
	}
	if !IsWAV(wavData) {
		t.Error("Encoded data is not recognised as WAV")
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.1s, got %f", info.Duration)
	}
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	pcm := sineWave(24000, 0.05, 220)

	wavData, err := EncodeWAV(pcm, 24000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	chunk, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if chunk.SampleRate != 24000 || chunk.Channels != 2 {
		t.Errorf("Expected 24000 Hz stereo, got %d Hz %d channels", chunk.SampleRate, chunk.Channels)
	}
	if !bytes.Equal(chunk.Data, pcm) {
		t.Error("Decoded PCM differs from input")
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Error("Expected error for empty audio")
	}
	if _, err := EncodeWAV([]byte{0, 0}, 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", append([]byte("JUNK"), make([]byte, 40)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error but got none")
			}
			if IsWAV(tt.data) {
				t.Error("Expected IsWAV to be false")
			}
		})
	}
}
