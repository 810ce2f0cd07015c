// Package uds implements request/response access to ECU memory over a
// CAN bus. The preferred path speaks UDS ReadMemoryByAddress (0x23) and
// WriteMemoryByAddress (0x3D) in single classic frames; when no UDS
// session is configured, or the session fails mid-operation, reads fall
// back to a degraded CAN-only path whose results are explicitly tagged.
//
// This is deliberately not a full ISO-TP/UDS stack: requests and
// responses are single frames and transfers are chunked to fit them.
package uds

import (
	"errors"

	"github.com/dpetrenko/drivetrace/internal/canbus"
)

var (
	// ErrNotConnected is returned when an operation requires a bus
	// connection and connecting failed.
	ErrNotConnected = errors.New("not connected to bus")

	// ErrWriteUnsupported is returned for memory writes on a CAN-only
	// client. There is no raw-frame write protocol to fall back to, and
	// fabricating success would be worse than failing.
	ErrWriteUnsupported = errors.New("memory write requires a UDS session")

	// ErrNegativeResponse is returned when the ECU answers a request
	// with a UDS negative response (0x7F).
	ErrNegativeResponse = errors.New("ECU returned negative response")
)

// Service identifiers and response offsets for the two memory services.
const (
	sidReadMemoryByAddress  = 0x23
	sidWriteMemoryByAddress = 0x3D
	sidNegativeResponse     = 0x7F

	// positiveResponseOffset is added to a request SID in the ECU's
	// positive response, per the UDS convention.
	positiveResponseOffset = 0x40

	// addressAndLengthFormat encodes a 1-byte size and 4-byte address
	// in each request.
	addressAndLengthFormat = 0x14
)

// MemoryRead is the result of a memory read. Degraded marks data that
// came from the CAN-only fallback: bytes the ECU never answered for are
// zero-filled, so the payload must not be trusted as genuine memory
// contents.
type MemoryRead struct {
	Data     []byte
	Degraded bool
}

// Session is the UDS capability used by the Client for its preferred
// path. The bus is passed per call because the client owns the
// transport and opens it lazily.
type Session interface {
	ReadMemoryByAddress(bus canbus.Bus, addr uint32, size int) ([]byte, error)
	WriteMemoryByAddress(bus canbus.Bus, addr uint32, data []byte) error
	Close() error
}
