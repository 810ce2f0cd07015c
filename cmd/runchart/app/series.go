package app

import (
	"math"
	"time"

	"github.com/dpetrenko/drivetrace/internal/telemetry"
)

// Point is one plotted sample.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// SeriesData accumulates the frames of one bus identifier and tracks the
// bounds needed for axis scaling.
type SeriesData struct {
	Points []Point

	TimestampStart time.Time
	TimestampEnd   time.Time
	ValueMin       float64
	ValueMax       float64

	scale float64
}

func NewSeriesData(scale float64) *SeriesData {
	if scale == 0 {
		scale = 1
	}
	return &SeriesData{
		ValueMin: math.Inf(1),
		ValueMax: math.Inf(-1),
		scale:    scale,
	}
}

// Update appends one frame. Frames must arrive in watermark order; the
// time bounds only ever extend forward.
func (s *SeriesData) Update(frame telemetry.Frame) {
	value := frame.Value * s.scale

	if len(s.Points) == 0 {
		s.TimestampStart = frame.Timestamp
	}
	s.TimestampEnd = frame.Timestamp

	s.ValueMin = math.Min(s.ValueMin, value)
	s.ValueMax = math.Max(s.ValueMax, value)
	s.Points = append(s.Points, Point{Timestamp: frame.Timestamp, Value: value})
}

// Empty reports whether no frames were accumulated.
func (s *SeriesData) Empty() bool {
	return len(s.Points) == 0
}

// Duration is the covered time span.
func (s *SeriesData) Duration() time.Duration {
	if s.Empty() {
		return 0
	}
	return s.TimestampEnd.Sub(s.TimestampStart)
}
