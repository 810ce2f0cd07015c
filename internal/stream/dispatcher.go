// Package stream runs the background pipeline that pulls frames off the
// CAN bus, decodes them, writes them through the telemetry store and
// fans them out to subscribers.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpetrenko/drivetrace/internal/canbus"
	"github.com/dpetrenko/drivetrace/internal/telemetry"
)

const (
	// pollTimeout bounds each bus read so the cancellation flag is
	// observed promptly.
	pollTimeout = 100 * time.Millisecond

	// stopTimeout bounds how long Stop waits for the background
	// goroutine to exit.
	stopTimeout = 2 * time.Second

	subscriberBuffer = 64
)

// ErrAlreadyActive is returned by Start when the dispatcher is running.
var ErrAlreadyActive = errors.New("dispatcher is already active")

// Event is one item on a subscriber channel: either a decoded frame or
// a terminal stream error. After an Event with a non-nil Err the
// channel is closed; a broken stream never just disappears.
type Event struct {
	Frame telemetry.Frame
	Err   error
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.logger = logger.With(slog.String("component", "dispatcher"))
	}
}

// WithPollTimeout overrides the bus poll timeout. Mostly for tests.
func WithPollTimeout(timeout time.Duration) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.pollTimeout = timeout
	}
}

// Dispatcher owns bus ingestion end to end: read, decode, persist,
// fan out. Exactly one background goroutine runs the loop; Stop is
// cooperative and returns after a bounded join whether or not the
// goroutine has actually exited.
type Dispatcher struct {
	bus    canbus.Bus
	store  *telemetry.Store
	logger *slog.Logger

	pollTimeout time.Duration

	active atomic.Bool

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers []chan Event
}

// New creates a dispatcher over an open bus and store. The dispatcher
// does not own either; the caller closes them after Stop.
func New(bus canbus.Bus, store *telemetry.Store, options ...func(*Dispatcher)) *Dispatcher {
	d := Dispatcher{
		bus:         bus,
		store:       store,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		pollTimeout: pollTimeout,
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// Subscribe registers a consumer. Subscribers added after Start see
// only frames received from that point on. A slow subscriber drops
// events rather than stalling ingestion.
func (d *Dispatcher) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	d.mu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.mu.Unlock()

	return ch
}

// Start launches the background streaming goroutine. Callers are never
// blocked by ingestion. Returns ErrAlreadyActive if already running.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.active.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	// The goroutine releases its own context, so the loop exiting on a
	// terminal bus error does not leak the derived context.
	go func() {
		defer cancel()
		d.run(ctx, done)
	}()

	d.logger.Info("live stream started")
	return nil
}

// Stop sets the cancellation flag and waits up to stopTimeout for the
// loop to exit. The loop may still be draining a blocking bus read
// when Stop returns; IsActive stays best-effort.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil { // never started
		return
	}

	cancel()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		d.logger.Warn("stream did not stop within timeout")
	}
}

// IsActive reports best-effort liveness of the streaming goroutine.
func (d *Dispatcher) IsActive() bool {
	return d.active.Load()
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer func() {
		d.active.Store(false)
		close(done)
	}()

	var received, dropped uint64

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("live stream stopped",
				slog.Uint64("received", received),
				slog.Uint64("dropped", dropped))
			d.closeSubscribers(nil)
			return

		default:
		}

		busFrame, err := d.bus.Receive(d.pollTimeout)
		if err != nil {
			if errors.Is(err, canbus.ErrTimeout) {
				continue
			}

			// Transport failure is terminal for the stream. Subscribers
			// get the error in-band instead of a silent disconnect.
			err = fmt.Errorf("bus receive failed: %w", err)
			d.logger.Error(err.Error())
			d.closeSubscribers(err)
			return
		}

		frame := Decode(busFrame)
		received++

		id, err := d.store.LogFrame(ctx, frame)
		if err != nil {
			// Bounded blast radius: one lost frame, the stream lives on.
			dropped++
			d.logger.Error("dropping frame after store failure",
				slog.String("pid", frame.PID),
				slog.Any("error", err))
			continue
		}
		frame.ID = id

		d.publish(Event{Frame: frame})
	}
}

// Decode converts a raw bus frame to a telemetry frame. The payload is
// interpreted as a big-endian unsigned integer over however many bytes
// the frame carries; the PID is the arbitration ID in hex.
func Decode(f canbus.Frame) telemetry.Frame {
	var value uint64
	for _, b := range f.Data {
		value = value<<8 | uint64(b)
	}

	raw := make([]byte, len(f.Data))
	copy(raw, f.Data)

	return telemetry.Frame{
		Timestamp: f.Timestamp.UTC(),
		PID:       fmt.Sprintf("0x%03X", f.ID),
		Value:     float64(value),
		Raw:       raw,
	}
}

// EncodeValue renders a value the way Decode reads it: big-endian over
// size bytes. Used by tests and the replay tooling.
func EncodeValue(value uint64, size int) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return buf[8-size:]
}

func (d *Dispatcher) publish(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range d.subscribers {
		select {
		case ch <- event:
		default: // subscriber is behind, drop
		}
	}
}

// closeSubscribers emits an optional terminal error and closes every
// subscriber channel.
func (d *Dispatcher) closeSubscribers(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range d.subscribers {
		if err != nil {
			select {
			case ch <- Event{Err: err}:
			default:
			}
		}
		close(ch)
	}
	d.subscribers = nil
}
