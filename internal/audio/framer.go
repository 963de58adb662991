package audio

// Framer re-frames an arbitrary byte stream into fixed-size frames.
// Bytes that do not fill a whole frame stay pending until more data arrives
// or Flush is called. A Framer is owned by a single goroutine.
type Framer struct {
	frameSize int
	pending   []byte

	// Statistics
	bytesIn   uint64
	framesOut uint64
}

// FramerStats represents framer statistics
type FramerStats struct {
	FrameSize    int    `json:"frame_size"`
	BytesIn      uint64 `json:"bytes_in"`
	FramesOut    uint64 `json:"frames_out"`
	PendingBytes int    `json:"pending_bytes"`
}

// NewFramer creates a framer emitting frames of frameSize bytes
func NewFramer(frameSize int) *Framer {
	if frameSize <= 0 {
		frameSize = 1
	}
	return &Framer{
		frameSize: frameSize,
		pending:   make([]byte, 0, frameSize*2),
	}
}

// Write appends data and returns every complete frame now available
func (f *Framer) Write(data []byte) [][]byte {
	f.bytesIn += uint64(len(data))
	f.pending = append(f.pending, data...)

	n := len(f.pending) / f.frameSize
	if n == 0 {
		return nil
	}

	frames := make([][]byte, n)
	for i := range frames {
		frame := make([]byte, f.frameSize)
		copy(frame, f.pending[i*f.frameSize:])
		frames[i] = frame
	}
	f.framesOut += uint64(n)

	// Keep the tail without growing the backing array forever
	rest := len(f.pending) - n*f.frameSize
	copy(f.pending, f.pending[n*f.frameSize:])
	f.pending = f.pending[:rest]

	return frames
}

// Flush returns the pending partial frame, if any, and resets the framer
func (f *Framer) Flush() []byte {
	if len(f.pending) == 0 {
		return nil
	}
	tail := make([]byte, len(f.pending))
	copy(tail, f.pending)
	f.pending = f.pending[:0]
	f.framesOut++
	return tail
}

// Pending returns the number of buffered bytes not yet framed
func (f *Framer) Pending() int {
	return len(f.pending)
}

// GetStats returns framer statistics
func (f *Framer) GetStats() FramerStats {
	return FramerStats{
		FrameSize:    f.frameSize,
		BytesIn:      f.bytesIn,
		FramesOut:    f.framesOut,
		PendingBytes: len(f.pending),
	}
}
