package audio

import (
	"testing"

	"pgregory.net/rapid"
)

func TestResampleDuration(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		input    int
		expected int
	}{
		{"16k to 24k one second", 16000, 24000, 16000, 24000},
		{"24k to 16k one second", 24000, 16000, 24000, 16000},
		{"8k to 16k 100ms", 8000, 16000, 800, 1600},
		{"44.1k to 16k 10ms", 44100, 16000, 441, 160},
		{"same rate", 16000, 16000, 320, 320},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(make([]int16, tt.input), tt.from, tt.to)
			if len(out) != tt.expected {
				t.Errorf("Expected %d samples, got %d", tt.expected, len(out))
			}
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	out := Resample([]int16{0, 100, 200}, 1, 2)
	expected := []int16{0, 50, 100, 150, 200, 200}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(out))
	}
	for i := range out {
		if out[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestResampleInvalid(t *testing.T) {
	if Resample([]int16{1, 2}, 0, 16000) != nil {
		t.Error("Expected nil for zero source rate")
	}
	if Resample(nil, 16000, 8000) != nil {
		t.Error("Expected nil for empty input")
	}
}

func TestResampleProperties(t *testing.T) {
	rates := []int{8000, 11025, 16000, 22050, 24000, 44100, 48000}

	rapid.Check(t, func(rt *rapid.T) {
		from := rapid.SampledFrom(rates).Draw(rt, "from")
		to := rapid.SampledFrom(rates).Draw(rt, "to")
		samples := rapid.SliceOfN(rapid.Int16(), 1, 2000).Draw(rt, "samples")

		out := Resample(samples, from, to)

		// Duration preserved within one sample
		exact := float64(len(samples)) * float64(to) / float64(from)
		if diff := float64(len(out)) - exact; diff > 1 || diff < -1 {
			rt.Fatalf("length %d too far from %f", len(out), exact)
		}

		// Deterministic for identical input
		again := Resample(samples, from, to)
		for i := range out {
			if out[i] != again[i] {
				rt.Fatalf("non-deterministic output at %d", i)
			}
		}

		// Interpolated values stay within the input range
		lo, hi := samples[0], samples[0]
		for _, s := range samples {
			lo, hi = min(lo, s), max(hi, s)
		}
		for i, s := range out {
			if s < lo || s > hi {
				rt.Fatalf("sample %d = %d outside [%d, %d]", i, s, lo, hi)
			}
		}
	})
}
