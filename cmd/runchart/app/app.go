package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dpetrenko/drivetrace/internal/telemetry"
)

const queryBatchSize = 5000

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := telemetry.NewStore(config.DBPath)
	defer store.Close()

	return renderChart(ctx, store, config, logger)
}

func renderChart(ctx context.Context, store *telemetry.Store, config *Config, logger *slog.Logger) error {
	logger.Info("reading frames",
		slog.String("db", config.DBPath),
		slog.String("pid", config.PID))

	series := NewSeriesData(config.ValueScale)

	// Batches walk the (timestamp, id) order; the watermark advances
	// only over rows actually returned.
	var watermark telemetry.Watermark
	for {
		frames, err := store.FramesSinceByPID(ctx, config.PID, watermark, queryBatchSize)
		if err != nil {
			return fmt.Errorf("querying frames: %w", err)
		}
		if len(frames) == 0 {
			break
		}

		for _, frame := range frames {
			series.Update(frame)
			watermark.Advance(frame)
		}

		logger.Debug("read batch",
			slog.Int("frames", len(frames)),
			slog.Time("watermark", watermark.Timestamp))
	}

	if series.Empty() {
		return fmt.Errorf("no frames recorded for %s", config.PID)
	}

	logger.Info("finished reading frames",
		slog.Group("stats",
			slog.Int("samples", len(series.Points)),
			slog.String("minTimestamp", series.TimestampStart.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", series.TimestampEnd.Local().Format(time.DateTime)),
			slog.String("minValue", fmt.Sprintf("%0.2f", series.ValueMin)),
			slog.String("maxValue", fmt.Sprintf("%0.2f", series.ValueMax)),
		))

	renderer, err := NewChartRenderer(RenderConfig{
		FontPath:  config.FontPath,
		Width:     config.Width,
		Height:    config.Height,
		ValueUnit: config.ValueUnit,
	})
	if err != nil {
		return fmt.Errorf("creating chart renderer: %w", err)
	}

	logger.Info("rendering chart",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(series)
	if err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
