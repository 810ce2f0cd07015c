//go:build !linux

package canbus

import (
	"fmt"
	"runtime"
	"time"
)

// SocketCAN is only available on Linux hosts; other platforms get a
// stub so the rest of the tree still builds.
type SocketCAN struct{}

func OpenSocketCAN(config Config) (*SocketCAN, error) {
	return nil, fmt.Errorf("SocketCAN is not supported on %s", runtime.GOOS)
}

func (b *SocketCAN) Send(frame Frame) error {
	return fmt.Errorf("SocketCAN is not supported on %s", runtime.GOOS)
}

func (b *SocketCAN) Receive(timeout time.Duration) (Frame, error) {
	return Frame{}, fmt.Errorf("SocketCAN is not supported on %s", runtime.GOOS)
}

func (b *SocketCAN) Interface() string { return "" }

func (b *SocketCAN) Close() error { return nil }
