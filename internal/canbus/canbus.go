// Package canbus defines the CAN bus transport used by the live stream
// dispatcher and the ECU memory client, with a SocketCAN implementation
// for Linux hosts.
package canbus

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Receive when no frame arrived within the
// poll window. It is the only Receive error a caller should treat as
// retryable.
var ErrTimeout = errors.New("receive timed out")

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// MaxDataLen is the payload size limit of a classic CAN 2.0 frame.
const MaxDataLen = 8

// Frame is a single CAN 2.0 frame as seen on the wire.
type Frame struct {
	ID        uint32    // Arbitration ID
	Data      []byte    // Payload, at most MaxDataLen bytes
	Timestamp time.Time // Receive time, set by the transport
}

// Bus is a framed CAN transport. Receive blocks for at most timeout and
// returns ErrTimeout on an empty window; any other error is terminal
// for the caller's read loop. Implementations must make Close
// idempotent.
type Bus interface {
	Send(frame Frame) error
	Receive(timeout time.Duration) (Frame, error)
	Close() error
}

// Config holds the transport settings for opening a SocketCAN bus.
type Config struct {
	// Interface is the network interface name, e.g. "can0".
	Interface string `yaml:"interface"`

	// Bitrate is informational here; SocketCAN bitrate is configured on
	// the interface itself (ip link). Recorded with sessions for
	// diagnostics.
	Bitrate int `yaml:"bitrate"`
}
