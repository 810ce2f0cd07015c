package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBatchLimit   = 256
)

// WithPollInterval sets how often the poller queries for new frames.
func WithPollInterval(interval time.Duration) func(*Poller) {
	return func(p *Poller) {
		p.interval = interval
	}
}

// WithBatchLimit caps the number of frames fetched per poll.
func WithBatchLimit(limit int) func(*Poller) {
	return func(p *Poller) {
		p.limit = limit
	}
}

// WithPID restricts the poller to frames of a single bus identifier.
func WithPID(pid string) func(*Poller) {
	return func(p *Poller) {
		p.pid = pid
	}
}

// WithPollerLogger sets the poller logger.
func WithPollerLogger(logger *slog.Logger) func(*Poller) {
	return func(p *Poller) {
		p.logger = logger.With(slog.String("component", "poller"))
	}
}

// Poller turns "frames since watermark" queries into pushed batches.
// The watermark advances only over frames actually returned, so delivery
// is gapless and at-least-once even when commits land between polls.
type Poller struct {
	store    *Store
	interval time.Duration
	limit    int
	pid      string
	logger   *slog.Logger

	watermark Watermark
}

// NewPoller creates a poller starting at the given watermark. The zero
// watermark replays the log from the beginning.
func NewPoller(store *Store, start Watermark, options ...func(*Poller)) *Poller {
	p := Poller{
		store:     store,
		interval:  defaultPollInterval,
		limit:     defaultBatchLimit,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		watermark: start,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Watermark returns the poller's current position.
func (p *Poller) Watermark() Watermark {
	return p.watermark
}

// Poll fetches one batch past the current watermark and advances the
// watermark over it.
func (p *Poller) Poll(ctx context.Context) ([]Frame, error) {
	var frames []Frame
	var err error

	if p.pid != "" {
		frames, err = p.store.FramesSinceByPID(ctx, p.pid, p.watermark, p.limit)
	} else {
		frames, err = p.store.FramesSince(ctx, p.watermark, p.limit)
	}
	if err != nil {
		return nil, fmt.Errorf("polling frames: %w", err)
	}

	for _, frame := range frames {
		p.watermark.Advance(frame)
	}
	return frames, nil
}

// Run polls until the context is cancelled, invoking fn for every
// non-empty batch. Query errors are logged and retried on the next
// tick; only context cancellation ends the loop.
func (p *Poller) Run(ctx context.Context, fn func([]Frame)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			frames, err := p.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("poll failed", slog.Any("error", err))
				continue
			}
			if len(frames) > 0 {
				fn(frames)
			}
		}
	}
}
