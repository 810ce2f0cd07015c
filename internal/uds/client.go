package uds

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dpetrenko/drivetrace/internal/canbus"
)

// Config selects the client's capability at construction time. A client
// is either UDS-capable (EnableUDS with session addressing) or CAN-only;
// the decision is static, there is no runtime capability discovery.
type Config struct {
	Bus canbus.Config

	// EnableUDS turns on the preferred UDS path. Without it the client
	// is CAN-only: reads are degraded, writes unsupported.
	EnableUDS bool
	Session   SessionConfig
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "ecu-client"))
	}
}

// WithBus injects an already-open bus, bypassing the lazy SocketCAN
// open. Used by tests and by callers sharing a transport.
func WithBus(bus canbus.Bus) func(*Client) {
	return func(c *Client) {
		c.bus = bus
		c.connected = true
	}
}

// WithSession overrides the session built from Config. A nil session
// forces the CAN-only fallback regardless of Config.EnableUDS.
func WithSession(session Session) func(*Client) {
	return func(c *Client) {
		c.session = session
		c.sessionSet = true
	}
}

// Client provides bounds-free read/write access to ECU memory by
// address. It owns its bus handle, opening it lazily on first use;
// Close releases both session and bus and is idempotent.
//
// A Client is meant for one caller at a time; operations are
// synchronous on the calling goroutine.
type Client struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	bus        canbus.Bus
	connected  bool
	session    Session
	sessionSet bool

	closeOnce sync.Once
	closeErr  error
}

// New creates a client. The capability (UDS-capable or CAN-only) is
// fixed here and never changes for the client's lifetime.
func New(config Config, options ...func(*Client)) *Client {
	c := Client{
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	if !c.sessionSet && config.EnableUDS {
		c.session = NewBusSession(config.Session)
	}

	return &c
}

// Connect opens the bus transport if it is not open yet. It never
// returns an error: failure is observable through the return value and
// IsConnected. Calling Connect on a connected client is a no-op.
func (c *Client) Connect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() bool {
	if c.connected {
		return true
	}

	bus, err := canbus.OpenSocketCAN(c.config.Bus)
	if err != nil {
		c.logger.Warn("bus connect failed", slog.String("interface", c.config.Bus.Interface), slog.Any("error", err))
		return false
	}

	c.bus = bus
	c.connected = true
	c.logger.Info("connected to bus", slog.String("interface", c.config.Bus.Interface))
	return true
}

// IsConnected reports whether the bus transport is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// UDSCapable reports whether the client was constructed with a UDS
// session.
func (c *Client) UDSCapable() bool {
	return c.session != nil
}

// ReadMemory reads size bytes at addr. The UDS path is tried first
// when a session exists; on any session failure the client logs a
// warning and falls back to the degraded CAN-only path, whose result
// carries Degraded=true. On success the returned data is always
// exactly size bytes.
func (c *Client) ReadMemory(addr uint32, size int) (MemoryRead, error) {
	if size <= 0 {
		return MemoryRead{}, fmt.Errorf("invalid read size %d", size)
	}

	bus, err := c.acquireBus()
	if err != nil {
		return MemoryRead{}, err
	}

	if c.session != nil {
		data, err := c.session.ReadMemoryByAddress(bus, addr, size)
		if err == nil {
			return MemoryRead{Data: data}, nil
		}
		c.logger.Warn("UDS read failed, falling back to raw bus",
			slog.Uint64("addr", uint64(addr)),
			slog.Int("size", size),
			slog.Any("error", err))
	}

	return c.rawRead(bus, size), nil
}

// rawRead is the CAN-only fallback. It drains whatever frames the ECU
// happens to emit on the response ID within one short window and
// zero-fills the remainder. The result is a placeholder, not trusted
// memory contents, and is tagged as such.
func (c *Client) rawRead(bus canbus.Bus, size int) MemoryRead {
	data := make([]byte, size)
	filled := 0

	deadline := time.Now().Add(defaultResponseTimeout)
	for filled < size {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		frame, err := bus.Receive(remaining)
		if err != nil {
			break
		}
		if frame.ID != c.config.Session.ResponseID {
			continue
		}

		filled += copy(data[filled:], frame.Data)
	}

	c.logger.Warn("returning degraded memory read",
		slog.Int("size", size),
		slog.Int("genuineBytes", filled))

	return MemoryRead{Data: data, Degraded: true}
}

// WriteMemory writes data at addr over the UDS path. A CAN-only client
// fails with ErrWriteUnsupported: no raw write protocol exists and the
// client must not pretend one does.
func (c *Client) WriteMemory(addr uint32, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty write")
	}
	if c.session == nil {
		return ErrWriteUnsupported
	}

	bus, err := c.acquireBus()
	if err != nil {
		return err
	}

	if err := c.session.WriteMemoryByAddress(bus, addr, data); err != nil {
		return fmt.Errorf("writing %d bytes at %#08x: %w", len(data), addr, err)
	}
	return nil
}

func (c *Client) acquireBus() (canbus.Bus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectLocked() {
		return nil, ErrNotConnected
	}
	return c.bus, nil
}

// Close releases the UDS session and the bus handle. Safe to call
// multiple times; reconnecting requires a fresh client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		var sessionErr, busErr error
		if c.session != nil {
			sessionErr = c.session.Close()
		}
		if c.bus != nil {
			busErr = c.bus.Close()
			c.bus = nil
		}
		c.connected = false

		switch {
		case sessionErr != nil && busErr != nil:
			c.closeErr = errors.Join(sessionErr, busErr)
		case sessionErr != nil:
			c.closeErr = sessionErr
		case busErr != nil:
			c.closeErr = busErr
		}
	})

	return c.closeErr
}
