// Package audio handles PCM conversion between client and vendor formats.
// It implements stateless resampling, channel downmixing, bit-depth
// conversion, fixed-size re-framing, the bounded chunk queue that sits
// between a session's client reader and vendor sender, and WAV encoding.
package audio
