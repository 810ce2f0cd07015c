// Package telemetry provides the durable, indexed append-only log of
// decoded bus frames. Exactly one goroutine writes; any number of
// readers poll for frames past a watermark. Insertion order is the
// order of truth, timestamps are advisory for range queries.
package telemetry

import (
	"time"
)

// Frame is one decoded bus frame. Frames are immutable once logged and
// retained indefinitely; there is no retention or eviction.
type Frame struct {
	ID        int64     // Monotonic row ID assigned by the store
	Timestamp time.Time // Receive time, UTC
	PID       string    // Bus identifier, e.g. "0x0D0"
	Value     float64   // Decoded numeric payload
	Raw       []byte    // Original payload bytes, may be nil
}

// Watermark marks a reader's position in the log. The zero value reads
// from the beginning. Readers must advance it over frames actually
// returned, never to wall-clock now: a slow write committed between
// "now" and the next poll would otherwise be skipped forever.
type Watermark struct {
	Timestamp time.Time
	ID        int64
}

// Advance moves the watermark past frame if the frame is ahead of it.
func (w *Watermark) Advance(frame Frame) {
	if frame.Timestamp.After(w.Timestamp) ||
		(frame.Timestamp.Equal(w.Timestamp) && frame.ID > w.ID) {
		w.Timestamp = frame.Timestamp
		w.ID = frame.ID
	}
}

// Before reports whether the watermark is strictly behind frame.
func (w Watermark) Before(frame Frame) bool {
	if frame.Timestamp.After(w.Timestamp) {
		return true
	}
	return frame.Timestamp.Equal(w.Timestamp) && frame.ID > w.ID
}
