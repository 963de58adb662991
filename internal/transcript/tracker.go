package transcript

import (
	"log/slog"
	"strings"
)

// Kind identifies an output of the tracker
type Kind int

const (
	KindDelta Kind = iota
	KindCompleted
)

// Output is one client-facing transcript event
type Output struct {
	Kind      Kind
	SegmentID string
	Text      string
}

// Tracker keeps the last text seen per open segment. It is owned by the
// single goroutine that reads vendor events and is not safe for concurrent use.
type Tracker struct {
	logger   *slog.Logger
	segments map[string]string

	// Statistics
	deltas      uint64
	completed   uint64
	corrections uint64
}

// Stats represents tracker statistics
type Stats struct {
	Deltas       uint64 `json:"deltas"`
	Completed    uint64 `json:"completed"`
	Corrections  uint64 `json:"corrections"`
	OpenSegments int    `json:"open_segments"`
}

// NewTracker creates an empty tracker
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger,
		segments: make(map[string]string),
	}
}

// Update consumes the cumulative text of a segment and returns the events to
// emit. When final is set the segment is completed and its state is reset.
func (t *Tracker) Update(segmentID, text string, final bool) []Output {
	prev := t.segments[segmentID]
	var out []Output

	if delta, ok := t.delta(segmentID, prev, text); ok {
		out = append(out, Output{Kind: KindDelta, SegmentID: segmentID, Text: delta})
		t.deltas++
	}

	if !final {
		t.segments[segmentID] = text
		return out
	}

	delete(t.segments, segmentID)
	t.completed++
	return append(out, Output{Kind: KindCompleted, SegmentID: segmentID, Text: text})
}

// delta returns the text to append after prev to reach next
func (t *Tracker) delta(segmentID, prev, next string) (string, bool) {
	if next == prev {
		return "", false
	}
	if strings.HasPrefix(next, prev) {
		return next[len(prev):], true
	}

	// The vendor revised earlier words; resend the whole text
	t.corrections++
	t.logger.Warn("Transcript correction, resending full segment text",
		slog.String("segment_id", segmentID),
		slog.String("previous", prev),
		slog.String("revised", next),
	)
	if next == "" {
		return "", false
	}
	return next, true
}

// Reset drops every open segment
func (t *Tracker) Reset() {
	if len(t.segments) > 0 {
		t.logger.Info("Discarding open transcript segments", slog.Int("open_segments", len(t.segments)))
	}
	clear(t.segments)
}

// GetStats returns tracker statistics
func (t *Tracker) GetStats() Stats {
	return Stats{
		Deltas:       t.deltas,
		Completed:    t.completed,
		Corrections:  t.corrections,
		OpenSegments: len(t.segments),
	}
}
