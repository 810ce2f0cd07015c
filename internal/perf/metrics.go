package perf

import (
	"math"
	"time"
)

// Speed unit conversions to meters per second.
const (
	mph = 0.44704
	kph = 1.0 / 3.6

	// QuarterMileMeters is the classic quarter-mile distance target.
	QuarterMileMeters = 402.336
)

// MetricKind selects how a metric is captured during a run.
type MetricKind int

const (
	// MetricInstant captures elapsed time since run start the first
	// time speed reaches Target.
	MetricInstant MetricKind = iota

	// MetricRolling arms at the first sample reaching Start and
	// captures the delta at the first later sample reaching Target.
	MetricRolling

	// MetricDistance captures elapsed time once the distance covered
	// since run start reaches Target meters.
	MetricDistance
)

// Metric is one acceleration measurement definition. Speeds are in
// m/s, distances in meters; the label is what ends up in run records
// and the best cache.
type Metric struct {
	Label  string
	Kind   MetricKind
	Start  float64 // Rolling metrics only: arming speed
	Target float64
}

// DefaultMetrics returns the stock metric set: 0-30/0-60/0-100 mph,
// the 60-130 mph rolling pull, and the quarter mile.
func DefaultMetrics() []Metric {
	return []Metric{
		{Label: "0-30 mph", Kind: MetricInstant, Target: 30 * mph},
		{Label: "0-60 mph", Kind: MetricInstant, Target: 60 * mph},
		{Label: "0-100 mph", Kind: MetricInstant, Target: 100 * mph},
		{Label: "60-130 mph", Kind: MetricRolling, Start: 60 * mph, Target: 130 * mph},
		{Label: "1/4 mile", Kind: MetricDistance, Target: QuarterMileMeters},
	}
}

// Sample is one timestamped speed reading. Exactly one of the speed
// fields is expected; when several are set the first in priority order
// (m/s, km/h, mph, generic) wins, and a sample with none reads as
// standing still rather than failing.
type Sample struct {
	Timestamp time.Time
	SpeedMS   *float64 // meters per second
	SpeedKPH  *float64 // kilometers per hour
	SpeedMPH  *float64 // miles per hour
	Speed     *float64 // generic, treated as m/s
}

// normalizedSpeed resolves the sample to m/s. Malformed values (nil,
// NaN, negative) degrade to zero.
func (s Sample) normalizedSpeed() float64 {
	var v float64
	switch {
	case s.SpeedMS != nil:
		v = *s.SpeedMS
	case s.SpeedKPH != nil:
		v = *s.SpeedKPH * kph
	case s.SpeedMPH != nil:
		v = *s.SpeedMPH * mph
	case s.Speed != nil:
		v = *s.Speed
	}

	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
