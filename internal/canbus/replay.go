package canbus

import (
	"sync"
	"time"
)

// ReplayBus is an in-memory Bus that serves a scripted sequence of
// receive results and records every sent frame. It backs protocol and
// dispatcher tests.
type ReplayBus struct {
	mu     sync.Mutex
	script []replayStep
	sent   []Frame
	closed bool

	// Responder, when set, is invoked for each sent frame and may queue
	// response frames, emulating a request/response peer such as an ECU.
	Responder func(sent Frame) []Frame
}

type replayStep struct {
	frame Frame
	err   error
}

// NewReplayBus creates an empty replay bus. With no queued frames every
// Receive reports ErrTimeout, which models a silent bus.
func NewReplayBus() *ReplayBus {
	return &ReplayBus{}
}

// QueueFrame schedules a frame to be returned by a future Receive.
func (b *ReplayBus) QueueFrame(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, replayStep{frame: frame})
}

// QueueError schedules an error to be returned by a future Receive.
func (b *ReplayBus) QueueError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, replayStep{err: err})
}

// Send records the frame and lets the Responder queue any replies.
func (b *ReplayBus) Send(frame Frame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.sent = append(b.sent, frame)
	responder := b.Responder
	b.mu.Unlock()

	if responder != nil {
		for _, reply := range responder(frame) {
			b.QueueFrame(reply)
		}
	}
	return nil
}

// Receive pops the next scripted step, or reports ErrTimeout when the
// script is exhausted. The timeout is not slept so tests stay fast.
func (b *ReplayBus) Receive(timeout time.Duration) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Frame{}, ErrClosed
	}
	if len(b.script) == 0 {
		return Frame{}, ErrTimeout
	}

	step := b.script[0]
	b.script = b.script[1:]
	if step.err != nil {
		return Frame{}, step.err
	}

	frame := step.frame
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}
	return frame, nil
}

// Sent returns a copy of all frames sent so far.
func (b *ReplayBus) Sent() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

// Close marks the bus closed. Safe to call multiple times.
func (b *ReplayBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
