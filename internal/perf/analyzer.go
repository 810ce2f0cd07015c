// Package perf converts a stream of timestamped speed samples into
// discrete acceleration runs, with a best-ever metrics cache and a
// capped persisted history.
package perf

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// State is the analyzer run state.
type State int

const (
	// Idle means the vehicle is considered stationary.
	Idle State = iota

	// Running means a run is in progress and metrics are being captured.
	Running
)

const (
	// defaultLaunchThreshold is the speed (m/s) that starts a run.
	defaultLaunchThreshold = 1.5

	// defaultIdleThreshold is the near-zero speed (m/s) under which the
	// idle window accumulates.
	defaultIdleThreshold = 0.5

	// defaultIdleWindow is how long speed must stay under the idle
	// threshold before a run finalizes.
	defaultIdleWindow = 3 * time.Second
)

// Config tunes the analyzer. Zero values get defaults; an empty Metrics
// slice gets DefaultMetrics.
type Config struct {
	HistoryPath     string
	LaunchThreshold float64
	IdleThreshold   float64
	IdleWindow      time.Duration

	Metrics []Metric
}

// WithAnalyzerLogger sets the analyzer logger.
func WithAnalyzerLogger(logger *slog.Logger) func(*Analyzer) {
	return func(a *Analyzer) {
		a.logger = logger.With(slog.String("component", "analyzer"))
	}
}

// Analyzer is the streaming run detector. It is designed for a single
// owner: Update is called sample by sample from one goroutine.
type Analyzer struct {
	config  Config
	metrics []Metric
	logger  *slog.Logger

	history *History
	best    map[string]float64

	state State

	prevTime     time.Time
	prevSpeed    float64
	havePrev     bool
	distance     float64 // integrated meters over the whole session
	prevDistance float64 // distance before the latest sample

	runStart         time.Time
	runStartDistance float64
	captured         map[string]float64
	rollingArmed     map[string]time.Time
	idleSince        time.Time
	idleTracking     bool
}

// NewAnalyzer creates an analyzer, loading the persisted history and
// rebuilding the best-metrics cache from it.
func NewAnalyzer(config Config, options ...func(*Analyzer)) (*Analyzer, error) {
	if config.LaunchThreshold <= 0 {
		config.LaunchThreshold = defaultLaunchThreshold
	}
	if config.IdleThreshold <= 0 {
		config.IdleThreshold = defaultIdleThreshold
	}
	if config.IdleWindow <= 0 {
		config.IdleWindow = defaultIdleWindow
	}

	metrics := config.Metrics
	if len(metrics) == 0 {
		metrics = DefaultMetrics()
	}

	history, err := LoadHistory(config.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("loading run history: %w", err)
	}

	a := Analyzer{
		config:  config,
		metrics: metrics,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		history: history,
		best:    history.BestMetrics(),
	}

	for _, option := range options {
		option(&a)
	}

	return &a, nil
}

// State returns the current run state.
func (a *Analyzer) State() State {
	return a.state
}

// BestMetrics returns a copy of the best-ever cache: the minimum
// elapsed seconds observed per metric label across all history.
func (a *Analyzer) BestMetrics() map[string]float64 {
	out := make(map[string]float64, len(a.best))
	for label, seconds := range a.best {
		out[label] = seconds
	}
	return out
}

// History returns the persisted run history.
func (a *Analyzer) History() *History {
	return a.history
}

// Update feeds one sample through the state machine. When the sample
// completes the idle window of a run with captured metrics, the
// finalized record is returned; a run with no metrics is discarded as
// noise. The error is non-nil only when persisting a finalized run
// failed after bounded retries; the record is still returned so the
// caller can surface it.
func (a *Analyzer) Update(sample Sample) (*RunRecord, error) {
	speed := sample.normalizedSpeed()

	// First sample seeds the integrator and contributes no distance.
	if !a.havePrev {
		a.prevTime = sample.Timestamp
		a.prevSpeed = speed
		a.havePrev = true
		return nil, nil
	}

	dt := sample.Timestamp.Sub(a.prevTime)
	if dt < 0 {
		// Out-of-order sample; treat as a seed, never integrate
		// negative time.
		a.prevTime = sample.Timestamp
		a.prevSpeed = speed
		return nil, nil
	}

	a.prevDistance = a.distance
	a.distance += (speed + a.prevSpeed) / 2 * dt.Seconds()

	record, err := a.step(sample.Timestamp, speed)

	a.prevTime = sample.Timestamp
	a.prevSpeed = speed
	return record, err
}

func (a *Analyzer) step(now time.Time, speed float64) (*RunRecord, error) {
	switch a.state {
	case Idle:
		if speed > a.config.LaunchThreshold {
			a.beginRun(now)
			a.captureMetrics(now, speed)
		}
		return nil, nil

	case Running:
		a.captureMetrics(now, speed)

		if speed < a.config.IdleThreshold {
			if !a.idleTracking {
				a.idleTracking = true
				a.idleSince = now
			}
			if now.Sub(a.idleSince) >= a.config.IdleWindow {
				return a.finalize(now)
			}
		} else {
			a.idleTracking = false
		}
		return nil, nil
	}

	return nil, nil
}

// beginRun opens a run anchored at the previous sample: that is the
// last moment the vehicle was provably stationary, so elapsed times
// measure from the launch, not from the first moving sample.
func (a *Analyzer) beginRun(now time.Time) {
	a.state = Running
	a.runStart = a.prevTime
	if a.runStart.IsZero() {
		a.runStart = now
	}
	a.runStartDistance = a.prevDistance
	a.captured = make(map[string]float64)
	a.rollingArmed = make(map[string]time.Time)
	a.idleTracking = false

	a.logger.Debug("run started", slog.Time("startedAt", a.runStart))
}

// captureMetrics evaluates every metric not yet captured this run.
// Each metric captures at most once per run; re-crossing a threshold
// later in the same run is a no-op.
func (a *Analyzer) captureMetrics(now time.Time, speed float64) {
	elapsed := now.Sub(a.runStart).Seconds()
	runDistance := a.distance - a.runStartDistance

	for _, m := range a.metrics {
		if _, done := a.captured[m.Label]; done {
			continue
		}

		switch m.Kind {
		case MetricInstant:
			if speed >= m.Target {
				a.capture(m.Label, elapsed)
			}

		case MetricRolling:
			armedAt, armed := a.rollingArmed[m.Label]
			if armed && now.After(armedAt) && speed >= m.Target {
				a.capture(m.Label, now.Sub(armedAt).Seconds())
			} else if !armed && speed >= m.Start {
				a.rollingArmed[m.Label] = now
			}

		case MetricDistance:
			if runDistance >= m.Target {
				a.capture(m.Label, elapsed)
			}
		}
	}
}

func (a *Analyzer) capture(label string, seconds float64) {
	a.captured[label] = seconds

	if best, ok := a.best[label]; !ok || seconds < best {
		a.best[label] = seconds
		a.logger.Info("new best",
			slog.String("metric", label),
			slog.Float64("seconds", seconds))
	} else {
		a.logger.Debug("metric captured",
			slog.String("metric", label),
			slog.Float64("seconds", seconds))
	}
}

func (a *Analyzer) finalize(now time.Time) (*RunRecord, error) {
	captured := a.captured

	a.state = Idle
	a.captured = nil
	a.rollingArmed = nil
	a.idleTracking = false

	if len(captured) == 0 {
		// Creeping in traffic, never crossed a threshold: noise.
		a.logger.Debug("discarding run with no captured metrics")
		return nil, nil
	}

	record := RunRecord{
		StartedAt: a.runStart,
		Duration:  now.Sub(a.runStart),
		Metrics:   captured,
	}

	if err := a.history.Append(record); err != nil {
		a.logger.Error("persisting finalized run failed", slog.Any("error", err))
		return &record, err
	}

	a.logger.Info("run finalized",
		slog.Time("startedAt", record.StartedAt),
		slog.Duration("duration", record.Duration),
		slog.Int("metrics", len(record.Metrics)))

	return &record, nil
}
