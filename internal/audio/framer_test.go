package audio

import (
	"bytes"
	"testing"
)

func TestFramer(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Write([]byte{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("Expected no frames, got %d", len(frames))
	}
	if f.Pending() != 3 {
		t.Errorf("Expected 3 pending bytes, got %d", f.Pending())
	}

	frames := f.Write([]byte{4, 5, 6, 7, 8, 9, 10})
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) || !bytes.Equal(frames[1], []byte{5, 6, 7, 8}) {
		t.Errorf("Unexpected frames %v", frames)
	}

	tail := f.Flush()
	if !bytes.Equal(tail, []byte{9, 10}) {
		t.Errorf("Expected tail [9 10], got %v", tail)
	}
	if f.Flush() != nil {
		t.Error("Second flush should return nil")
	}

	stats := f.GetStats()
	if stats.BytesIn != 10 || stats.FramesOut != 3 || stats.PendingBytes != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestFramerFramesAreIndependent(t *testing.T) {
	f := NewFramer(2)
	frames := f.Write([]byte{1, 2, 3, 4})
	f.Write([]byte{9, 9})

	if !bytes.Equal(frames[0], []byte{1, 2}) {
		t.Error("Earlier frame was overwritten by a later write")
	}
}
