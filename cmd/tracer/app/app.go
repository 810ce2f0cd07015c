package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dpetrenko/drivetrace/internal/canbus"
	"github.com/dpetrenko/drivetrace/internal/perf"
	"github.com/dpetrenko/drivetrace/internal/stream"
	"github.com/dpetrenko/drivetrace/internal/telemetry"
)

const (
	storageDir = "data"
)

// Run opens the bus and the trace store, then dispatches frames until
// the context is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	bus, err := canbus.OpenSocketCAN(config.Bus)
	if err != nil {
		return fmt.Errorf("opening bus %s: %w", config.Bus.Interface, err)
	}
	defer bus.Close()

	analyzer, err := createAnalyzer(&config.Analyzer, logger)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}

	dispatcher := stream.New(bus, store, stream.WithLogger(logger))
	events := dispatcher.Subscribe()

	started := time.Now()
	if err = dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	err = consume(ctx, config, logger, analyzer, events)
	dispatcher.Stop()

	// The signal context is already cancelled at this point.
	reportStats(context.Background(), store, logger, started)
	return err
}

// consume drains dispatcher events, forwarding speed frames to the
// analyzer when one is configured. Returns when the context is done or
// the dispatcher reports a terminal bus error.
func consume(ctx context.Context, config *Config, logger *slog.Logger, analyzer *perf.Analyzer, events <-chan stream.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Err != nil {
				return fmt.Errorf("bus receive: %w", event.Err)
			}
			if analyzer == nil || event.Frame.PID != config.Analyzer.SpeedPID {
				continue
			}

			if _, err := analyzer.Update(speedSample(&config.Analyzer, event.Frame)); err != nil {
				logger.Error("run record not persisted", slog.Any("error", err))
			}
		}
	}
}

func speedSample(config *AnalyzerConfig, frame telemetry.Frame) perf.Sample {
	value := frame.Value * config.SpeedScale
	sample := perf.Sample{Timestamp: frame.Timestamp}
	switch config.SpeedUnit {
	case SpeedUnitMPH:
		sample.SpeedMPH = &value
	case SpeedUnitKPH:
		sample.SpeedKPH = &value
	default:
		sample.SpeedMS = &value
	}
	return sample
}

func createAnalyzer(config *AnalyzerConfig, logger *slog.Logger) (*perf.Analyzer, error) {
	if !config.Enabled {
		return nil, nil
	}

	return perf.NewAnalyzer(perf.Config{
		HistoryPath:     config.HistoryFile,
		LaunchThreshold: config.LaunchThreshold,
		IdleThreshold:   config.IdleThreshold,
		IdleWindow:      time.Duration(config.IdleWindowSeconds * float64(time.Second)),
	}, perf.WithAnalyzerLogger(logger))
}

func createStorage(config *StorageConfig) (*telemetry.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	var dbPath string
	if config.DataDirectory != "" {
		dbPath = filepath.Join(wd, config.DataDirectory)
	} else {
		dbPath = filepath.Join(wd, storageDir)
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("trace_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return telemetry.NewStore(dbPath), nil
}

func reportStats(ctx context.Context, store *telemetry.Store, logger *slog.Logger, started time.Time) {
	count, err := store.FrameCount(ctx)
	if err != nil {
		logger.Warn("reading frame count", slog.Any("error", err))
		return
	}

	logger.Info("capture finished",
		slog.String("frames", humanize.Comma(count)),
		slog.String("rate", frameRate(count, time.Since(started))),
		slog.String("elapsed", humanize.RelTime(started, time.Now(), "ago", "")))
}

func frameRate(count int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0 fps"
	}
	return humanize.SI(float64(count)/elapsed.Seconds(), "fps")
}
