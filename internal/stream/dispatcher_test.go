package stream

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dpetrenko/drivetrace/internal/canbus"
	"github.com/dpetrenko/drivetrace/internal/telemetry"
)

func testStore(t *testing.T) *telemetry.Store {
	t.Helper()

	store := telemetry.NewStore(filepath.Join(t.TempDir(), "trace.sqlite"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDecode(t *testing.T) {
	ts := time.Now().UTC()

	testCases := []struct {
		name      string
		frame     canbus.Frame
		wantPID   string
		wantValue float64
	}{
		{
			name:      "two byte big endian",
			frame:     canbus.Frame{ID: 0x0D0, Data: []byte{0x01, 0x02}, Timestamp: ts},
			wantPID:   "0x0D0",
			wantValue: 258,
		},
		{
			name:      "single byte",
			frame:     canbus.Frame{ID: 0x7FF, Data: []byte{0xFF}, Timestamp: ts},
			wantPID:   "0x7FF",
			wantValue: 255,
		},
		{
			name:      "empty payload",
			frame:     canbus.Frame{ID: 0x100, Timestamp: ts},
			wantPID:   "0x100",
			wantValue: 0,
		},
		{
			name:      "full width",
			frame:     canbus.Frame{ID: 0x1, Data: EncodeValue(0x0102030405060708, 8), Timestamp: ts},
			wantPID:   "0x001",
			wantValue: float64(uint64(0x0102030405060708)),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decode(tc.frame)
			if got.PID != tc.wantPID {
				t.Errorf("PID = %s, want %s", got.PID, tc.wantPID)
			}
			if got.Value != tc.wantValue {
				t.Errorf("Value = %f, want %f", got.Value, tc.wantValue)
			}
			if !got.Timestamp.Equal(ts) {
				t.Errorf("Timestamp = %s, want %s", got.Timestamp, ts)
			}
		})
	}
}

func TestDispatcherPersistsAndPublishes(t *testing.T) {
	bus := canbus.NewReplayBus()
	store := testStore(t)

	bus.QueueFrame(canbus.Frame{ID: 0x0D0, Data: []byte{0x00, 0x64}})
	bus.QueueFrame(canbus.Frame{ID: 0x1A0, Data: []byte{0x10}})

	d := New(bus, store, WithPollTimeout(time.Millisecond))
	events := d.Subscribe()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	var got []telemetry.Frame
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("unexpected stream error: %v", ev.Err)
			}
			got = append(got, ev.Frame)
		case <-timeout:
			t.Fatalf("received %d events, want 2", len(got))
		}
	}

	if got[0].PID != "0x0D0" || got[0].Value != 100 {
		t.Errorf("first frame = %+v", got[0])
	}
	if got[1].PID != "0x1A0" || got[1].Value != 16 {
		t.Errorf("second frame = %+v", got[1])
	}

	// Frames must be durable, not just published
	frames, err := store.FramesSince(context.Background(), telemetry.Watermark{}, 10)
	if err != nil {
		t.Fatalf("FramesSince: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("store holds %d frames, want 2", len(frames))
	}
}

func TestDispatcherTerminalError(t *testing.T) {
	bus := canbus.NewReplayBus()
	store := testStore(t)

	busErr := errors.New("interface went away")
	bus.QueueFrame(canbus.Frame{ID: 0x0D0, Data: []byte{0x01}})
	bus.QueueError(busErr)

	d := New(bus, store, WithPollTimeout(time.Millisecond))
	events := d.Subscribe()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var sawFrame, sawError bool
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !sawFrame || !sawError {
					t.Fatalf("channel closed early: frame=%v error=%v", sawFrame, sawError)
				}
				if d.IsActive() {
					t.Error("dispatcher still active after terminal error")
				}
				return
			}
			if ev.Err != nil {
				if !errors.Is(ev.Err, busErr) {
					t.Errorf("terminal error = %v, want wrapped %v", ev.Err, busErr)
				}
				sawError = true
			} else {
				sawFrame = true
			}
		case <-timeout:
			t.Fatal("no terminal error delivered")
		}
	}
}

func TestDispatcherStop(t *testing.T) {
	bus := canbus.NewReplayBus()
	store := testStore(t)

	d := New(bus, store, WithPollTimeout(time.Millisecond))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.IsActive() {
		t.Fatal("dispatcher not active after Start")
	}

	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start = %v, want ErrAlreadyActive", err)
	}

	start := time.Now()
	d.Stop()
	if elapsed := time.Since(start); elapsed > stopTimeout {
		t.Errorf("Stop took %s, bound is %s", elapsed, stopTimeout)
	}

	// Idle loop observes cancellation within the poll window, so the
	// flag settles quickly after Stop.
	deadline := time.Now().Add(time.Second)
	for d.IsActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.IsActive() {
		t.Error("dispatcher still active after Stop")
	}

	// Stop on a stopped dispatcher is a no-op
	d.Stop()
}

func TestDispatcherStopAfterTerminalError(t *testing.T) {
	bus := canbus.NewReplayBus()
	store := testStore(t)

	bus.QueueError(errors.New("bus off"))

	parent, parentCancel := context.WithCancel(context.Background())
	defer parentCancel()

	d := New(bus, store, WithPollTimeout(time.Millisecond))
	events := d.Subscribe()

	if err := d.Start(parent); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Drain until the terminal error closes the channel
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-events:
			open = ok
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}

	// The loop has exited on its own; Stop must still return promptly
	// instead of waiting out the join timeout.
	start := time.Now()
	d.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %s after loop exit", elapsed)
	}
	if d.IsActive() {
		t.Error("dispatcher active after terminal error and Stop")
	}
}

func TestDispatcherStopBeforeStart(t *testing.T) {
	d := New(canbus.NewReplayBus(), testStore(t))

	// Must not panic or block
	d.Stop()

	if d.IsActive() {
		t.Error("dispatcher active without Start")
	}
}

func TestEncodeValue(t *testing.T) {
	got := EncodeValue(0x0102, 2)
	if len(got) != 2 || got[0] != 0x01 || got[1] != 0x02 {
		t.Errorf("EncodeValue = %x, want 0102", got)
	}
}
