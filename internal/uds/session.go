package uds

import (
	"errors"
	"fmt"
	"time"

	"github.com/dpetrenko/drivetrace/internal/canbus"
)

const (
	// defaultResponseTimeout bounds each wait for an ECU reply.
	defaultResponseTimeout = 250 * time.Millisecond

	// readChunkSize is the most data a single positive 0x63 response
	// frame can carry after its SID byte.
	readChunkSize = 7

	// writeChunkSize is the data that fits a 0x3D request frame after
	// SID, format byte and a 4-byte address.
	writeChunkSize = 2
)

// SessionConfig holds the addressing for a diagnostic session.
type SessionConfig struct {
	// RequestID is the arbitration ID the ECU listens on.
	RequestID uint32

	// ResponseID is the arbitration ID the ECU answers from.
	ResponseID uint32

	// ResponseTimeout bounds each wait for a reply frame.
	ResponseTimeout time.Duration
}

// BusSession implements Session with single-frame UDS requests over a
// CAN bus.
type BusSession struct {
	config SessionConfig
}

// NewBusSession creates a UDS session with the given addressing.
// Zero ResponseTimeout gets the default.
func NewBusSession(config SessionConfig) *BusSession {
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = defaultResponseTimeout
	}
	return &BusSession{config: config}
}

// ReadMemoryByAddress reads size bytes starting at addr, chunking the
// transfer so each exchange fits one request and one response frame.
func (s *BusSession) ReadMemoryByAddress(bus canbus.Bus, addr uint32, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid read size %d", size)
	}

	out := make([]byte, 0, size)
	for size > 0 {
		chunk := min(size, readChunkSize)

		request := canbus.Frame{
			ID: s.config.RequestID,
			Data: []byte{
				sidReadMemoryByAddress,
				addressAndLengthFormat,
				byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
				byte(chunk),
			},
		}
		if err := bus.Send(request); err != nil {
			return nil, fmt.Errorf("sending read request: %w", err)
		}

		payload, err := s.awaitResponse(bus, sidReadMemoryByAddress)
		if err != nil {
			return nil, err
		}
		if len(payload) < chunk {
			return nil, fmt.Errorf("short read response: got %d bytes, want %d", len(payload), chunk)
		}

		out = append(out, payload[:chunk]...)
		addr += uint32(chunk)
		size -= chunk
	}

	return out, nil
}

// WriteMemoryByAddress writes data starting at addr, chunked to fit
// single request frames. Each chunk must be positively acknowledged
// before the next is sent.
func (s *BusSession) WriteMemoryByAddress(bus canbus.Bus, addr uint32, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty write")
	}

	for len(data) > 0 {
		chunk := min(len(data), writeChunkSize)

		payload := []byte{
			sidWriteMemoryByAddress,
			addressAndLengthFormat,
			byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
		}
		payload = append(payload, data[:chunk]...)

		if err := bus.Send(canbus.Frame{ID: s.config.RequestID, Data: payload}); err != nil {
			return fmt.Errorf("sending write request: %w", err)
		}

		if _, err := s.awaitResponse(bus, sidWriteMemoryByAddress); err != nil {
			return err
		}

		addr += uint32(chunk)
		data = data[chunk:]
	}

	return nil
}

// Close releases session state. BusSession keeps none; the transport
// belongs to the client.
func (s *BusSession) Close() error {
	return nil
}

// awaitResponse reads frames until the ECU's response ID carries a
// positive or negative response to sid, skipping unrelated traffic.
// Returns the payload following the response SID.
func (s *BusSession) awaitResponse(bus canbus.Bus, sid byte) ([]byte, error) {
	deadline := time.Now().Add(s.config.ResponseTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response to service %#02x within %s", sid, s.config.ResponseTimeout)
		}

		frame, err := bus.Receive(remaining)
		if err != nil {
			if errors.Is(err, canbus.ErrTimeout) {
				return nil, fmt.Errorf("no response to service %#02x within %s", sid, s.config.ResponseTimeout)
			}
			return nil, fmt.Errorf("receiving response: %w", err)
		}

		if frame.ID != s.config.ResponseID || len(frame.Data) == 0 {
			continue
		}

		switch frame.Data[0] {
		case sid + positiveResponseOffset:
			return frame.Data[1:], nil

		case sidNegativeResponse:
			if len(frame.Data) >= 3 && frame.Data[1] == sid {
				return nil, fmt.Errorf("%w: service %#02x, code %#02x", ErrNegativeResponse, sid, frame.Data[2])
			}
		}
	}
}
