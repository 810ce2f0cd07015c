package canbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const canRaw = 1

// SocketCAN is a Bus backed by a raw AF_CAN socket bound to a single
// interface. Safe for one sender and one receiver goroutine.
type SocketCAN struct {
	fd     int
	ifname string

	mu             sync.Mutex
	closed         bool
	currentTimeout time.Duration
}

// OpenSocketCAN opens a raw CAN socket and binds it to the configured
// interface.
func OpenSocketCAN(config Config) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("creating CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(config.Interface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("creating ifreq for %s: %w", config.Interface, err)
	}
	if err = unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("resolving interface %s: %w", config.Interface, err)
	}

	addr := &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}
	if err = unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", config.Interface, err)
	}

	return &SocketCAN{fd: fd, ifname: config.Interface, currentTimeout: -1}, nil
}

// Send writes a single frame to the bus.
func (b *SocketCAN) Send(frame Frame) error {
	if len(frame.Data) > MaxDataLen {
		return fmt.Errorf("payload of %d bytes exceeds CAN frame limit", len(frame.Data))
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	fd := b.fd
	b.mu.Unlock()

	buf := encodeFrame(frame)
	if _, err := unix.Write(fd, buf[:]); err != nil {
		return fmt.Errorf("writing CAN frame: %w", err)
	}
	return nil
}

// Receive reads the next frame, waiting at most timeout. Returns
// ErrTimeout when the window elapses with no traffic.
func (b *SocketCAN) Receive(timeout time.Duration) (Frame, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Frame{}, ErrClosed
	}
	fd := b.fd
	if err := b.applyTimeoutLocked(timeout); err != nil {
		b.mu.Unlock()
		return Frame{}, err
	}
	b.mu.Unlock()

	var buf [frameSize]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, fmt.Errorf("reading CAN frame: %w", err)
	}
	if n < frameSize {
		return Frame{}, fmt.Errorf("short CAN frame: %d bytes", n)
	}

	frame := decodeFrame(buf)
	frame.Timestamp = time.Now().UTC()

	return frame, nil
}

// applyTimeoutLocked sets SO_RCVTIMEO when the requested timeout differs
// from the one currently applied. Sockets keep the option between reads,
// so steady-state polling costs no syscall here.
func (b *SocketCAN) applyTimeoutLocked(timeout time.Duration) error {
	if timeout == b.currentTimeout {
		return nil
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(b.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("setting receive timeout: %w", err)
	}

	b.currentTimeout = timeout
	return nil
}

// Interface returns the bound interface name.
func (b *SocketCAN) Interface() string {
	return b.ifname
}

// Close releases the socket. Safe to call multiple times.
func (b *SocketCAN) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if err := unix.Close(b.fd); err != nil {
		return fmt.Errorf("closing CAN socket: %w", err)
	}
	return nil
}
