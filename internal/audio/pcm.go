package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Chunk is an immutable block of 16-bit signed little-endian PCM
type Chunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// NewChunk copies data into a new chunk
func NewChunk(data []byte, sampleRate, channels int) Chunk {
	buf := make([]byte, len(data))
	copy(buf, data)
	if channels <= 0 {
		channels = 1
	}
	return Chunk{Data: buf, SampleRate: sampleRate, Channels: channels}
}

// Samples returns the chunk's interleaved samples
func (c Chunk) Samples() []int16 {
	return BytesToSamples(c.Data)
}

// Frames returns the number of sample frames (samples per channel)
func (c Chunk) Frames() int {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	return len(c.Data) / 2 / channels
}

// Duration returns the playback duration of the chunk
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// BytesToSamples converts little-endian PCM16 bytes to samples. A trailing
// odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM16 bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// ToPCM16 converts little-endian PCM of the given bit depth to PCM16.
// 8-bit audio is unsigned, every other depth is signed.
func ToPCM16(data []byte, bitDepth int) ([]byte, error) {
	switch bitDepth {
	case 16, 0:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("16-bit audio length must be even, got %d bytes", len(data))
		}
		return data, nil
	case 8:
		out := make([]byte, len(data)*2)
		for i, b := range data {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(int(b)-128)<<8))
		}
		return out, nil
	case 24, 32:
		width := bitDepth / 8
		if len(data)%width != 0 {
			return nil, fmt.Errorf("%d-bit audio length must be a multiple of %d, got %d bytes", bitDepth, width, len(data))
		}
		out := make([]byte, len(data)/width*2)
		for i := 0; i < len(data)/width; i++ {
			// Keep the two most significant bytes
			src := data[i*width+width-2:]
			out[i*2] = src[0]
			out[i*2+1] = src[1]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

// Downmix averages interleaved channels into mono
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Convert downmixes a chunk to mono and resamples it to targetRate
func Convert(c Chunk, targetRate int) Chunk {
	if c.Channels <= 1 && c.SampleRate == targetRate {
		return Chunk{Data: c.Data, SampleRate: c.SampleRate, Channels: 1}
	}
	samples := Downmix(c.Samples(), c.Channels)
	if c.SampleRate != targetRate {
		samples = Resample(samples, c.SampleRate, targetRate)
	}
	return Chunk{Data: SamplesToBytes(samples), SampleRate: targetRate, Channels: 1}
}
