package perf

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestAnalyzer(t *testing.T, dir string) *Analyzer {
	t.Helper()

	a, err := NewAnalyzer(Config{HistoryPath: filepath.Join(dir, "runs.json")})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

func mphSample(base time.Time, offsetSec, speedMPH float64) Sample {
	v := speedMPH
	return Sample{
		Timestamp: base.Add(time.Duration(offsetSec * float64(time.Second))),
		SpeedMPH:  &v,
	}
}

// feed runs samples through the analyzer and returns the last
// finalized record, if any.
func feed(t *testing.T, a *Analyzer, samples []Sample) *RunRecord {
	t.Helper()

	var finalized *RunRecord
	for i, s := range samples {
		record, err := a.Update(s)
		if err != nil {
			t.Fatalf("Update(sample %d): %v", i, err)
		}
		if record != nil {
			finalized = record
		}
	}
	return finalized
}

func TestNormalizedSpeed(t *testing.T) {
	ms, kphV, mphV, generic := 10.0, 36.0, 60.0, 5.0
	nan := math.NaN()
	neg := -3.0

	testCases := []struct {
		name   string
		sample Sample
		want   float64
	}{
		{"m/s", Sample{SpeedMS: &ms}, 10},
		{"km/h", Sample{SpeedKPH: &kphV}, 10},
		{"mph", Sample{SpeedMPH: &mphV}, 60 * mph},
		{"generic", Sample{Speed: &generic}, 5},
		{"priority m/s over mph", Sample{SpeedMS: &ms, SpeedMPH: &mphV}, 10},
		{"empty", Sample{}, 0},
		{"NaN degrades to zero", Sample{SpeedMS: &nan}, 0},
		{"negative degrades to zero", Sample{SpeedMS: &neg}, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sample.normalizedSpeed(); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("normalizedSpeed() = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestRunScenario(t *testing.T) {
	a := newTestAnalyzer(t, t.TempDir())
	base := time.Now().UTC()

	record := feed(t, a, []Sample{
		mphSample(base, 0, 0),
		mphSample(base, 1, 20),
		mphSample(base, 2, 35),
		mphSample(base, 3, 65),
		mphSample(base, 4, 0),
		mphSample(base, 5, 0),
		mphSample(base, 6, 0),
		mphSample(base, 7, 0),
	})
	if record == nil {
		t.Fatal("run did not finalize")
	}

	want := map[string]float64{
		"0-30 mph": 2.0,
		"0-60 mph": 3.0,
	}
	if len(record.Metrics) != len(want) {
		t.Fatalf("metrics = %v, want exactly %v", record.Metrics, want)
	}
	for label, seconds := range want {
		if got := record.Metrics[label]; math.Abs(got-seconds) > 1e-9 {
			t.Errorf("%s = %f, want %f", label, got, seconds)
		}
	}

	if !record.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %s, want %s", record.StartedAt, base)
	}

	// Cache was empty before; it now holds exactly these values
	best := a.BestMetrics()
	for label, seconds := range want {
		if got := best[label]; math.Abs(got-seconds) > 1e-9 {
			t.Errorf("best[%s] = %f, want %f", label, got, seconds)
		}
	}

	if a.State() != Idle {
		t.Error("analyzer not Idle after finalize")
	}
	if a.History().Len() != 1 {
		t.Errorf("history holds %d records, want 1", a.History().Len())
	}
}

func TestMetricCaptureIdempotent(t *testing.T) {
	a := newTestAnalyzer(t, t.TempDir())
	base := time.Now().UTC()

	// Cross 30 mph at t=2, dip below, cross again at t=4. Only the
	// first crossing counts.
	record := feed(t, a, []Sample{
		mphSample(base, 0, 0),
		mphSample(base, 1, 20),
		mphSample(base, 2, 35),
		mphSample(base, 3, 25),
		mphSample(base, 4, 40),
		mphSample(base, 5, 0),
		mphSample(base, 6, 0),
		mphSample(base, 7, 0),
		mphSample(base, 8, 0),
	})
	if record == nil {
		t.Fatal("run did not finalize")
	}

	if got := record.Metrics["0-30 mph"]; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("0-30 mph = %f, want first crossing at 2.0", got)
	}
}

func TestRollingWindowMetric(t *testing.T) {
	a := newTestAnalyzer(t, t.TempDir())
	base := time.Now().UTC()

	// 60 mph crossed at t=3, 130 mph at t=8: 60-130 = 5.0 s.
	samples := []Sample{
		mphSample(base, 0, 0),
		mphSample(base, 1, 20),
		mphSample(base, 2, 45),
		mphSample(base, 3, 62),
		mphSample(base, 4, 80),
		mphSample(base, 5, 95),
		mphSample(base, 6, 110),
		mphSample(base, 7, 125),
		mphSample(base, 8, 132),
		mphSample(base, 9, 0),
		mphSample(base, 10, 0),
		mphSample(base, 11, 0),
		mphSample(base, 12, 0),
	}

	record := feed(t, a, samples)
	if record == nil {
		t.Fatal("run did not finalize")
	}
	if got := record.Metrics["60-130 mph"]; math.Abs(got-5.0) > 1e-9 {
		t.Errorf("60-130 mph = %f, want 5.0", got)
	}
}

func TestQuarterMileMetric(t *testing.T) {
	a := newTestAnalyzer(t, t.TempDir())
	base := time.Now().UTC()

	// Hold 45 m/s (~100 mph): trapezoid distance crosses 402.336 m
	// between t=9 and t=10 (22.5 + 45*8 = 382.5 at t=9, 427.5 at t=10).
	speed := 45.0
	samples := []Sample{{Timestamp: base, SpeedMS: new(float64)}}
	for i := 1; i <= 12; i++ {
		v := speed
		samples = append(samples, Sample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			SpeedMS:   &v,
		})
	}
	for i := 13; i <= 17; i++ {
		samples = append(samples, Sample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			SpeedMS:   new(float64),
		})
	}

	record := feed(t, a, samples)
	if record == nil {
		t.Fatal("run did not finalize")
	}
	if got := record.Metrics["1/4 mile"]; math.Abs(got-10.0) > 1e-9 {
		t.Errorf("1/4 mile = %f, want capture at 10.0", got)
	}
}

func TestNoiseRunDiscarded(t *testing.T) {
	dir := t.TempDir()
	a := newTestAnalyzer(t, dir)
	base := time.Now().UTC()

	// Creeping at parking-lot speed: run opens but captures nothing.
	record := feed(t, a, []Sample{
		mphSample(base, 0, 0),
		mphSample(base, 1, 5),
		mphSample(base, 2, 6),
		mphSample(base, 3, 0),
		mphSample(base, 4, 0),
		mphSample(base, 5, 0),
		mphSample(base, 6, 0),
	})
	if record != nil {
		t.Fatalf("noise run produced record %+v", record)
	}
	if a.History().Len() != 0 {
		t.Error("noise run reached history")
	}
	if a.State() != Idle {
		t.Error("analyzer not Idle after discarded run")
	}
}

func TestIdleWindowMustBeContinuous(t *testing.T) {
	a := newTestAnalyzer(t, t.TempDir())
	base := time.Now().UTC()

	// Dips to zero for 2 s, moves again, then holds zero: only the
	// second, continuous window finalizes.
	record := feed(t, a, []Sample{
		mphSample(base, 0, 0),
		mphSample(base, 1, 40),
		mphSample(base, 2, 0),
		mphSample(base, 3, 0),
		mphSample(base, 4, 30),
	})
	if record != nil {
		t.Fatal("run finalized despite interrupted idle window")
	}
	if a.State() != Running {
		t.Fatal("analyzer left Running state early")
	}

	record = feed(t, a, []Sample{
		mphSample(base, 5, 0),
		mphSample(base, 6, 0),
		mphSample(base, 7, 0),
		mphSample(base, 8, 0),
	})
	if record == nil {
		t.Fatal("run did not finalize after continuous idle window")
	}
}

func TestBestCacheMonotonic(t *testing.T) {
	dir := t.TempDir()
	a := newTestAnalyzer(t, dir)
	base := time.Now().UTC()

	runTimes := []float64{3.0, 2.0, 4.0} // seconds to 30 mph per run
	offset := 0.0
	for _, crossAt := range runTimes {
		samples := []Sample{
			mphSample(base, offset, 0),
			mphSample(base, offset+1, 20),
			mphSample(base, offset+crossAt, 35),
			mphSample(base, offset+crossAt+1, 0),
			mphSample(base, offset+crossAt+2, 0),
			mphSample(base, offset+crossAt+3, 0),
			mphSample(base, offset+crossAt+4, 0),
		}
		if record := feed(t, a, samples); record == nil {
			t.Fatal("run did not finalize")
		}
		offset += crossAt + 10
	}

	best := a.BestMetrics()["0-30 mph"]
	if math.Abs(best-2.0) > 1e-9 {
		t.Errorf("best 0-30 mph = %f, want 2.0", best)
	}

	// Best equals the true minimum over history
	trueMin := math.Inf(1)
	for _, record := range a.History().Records() {
		if v, ok := record.Metrics["0-30 mph"]; ok && v < trueMin {
			trueMin = v
		}
	}
	if math.Abs(best-trueMin) > 1e-9 {
		t.Errorf("best cache %f != history minimum %f", best, trueMin)
	}
}

func TestBestCacheRebuiltOnRestart(t *testing.T) {
	dir := t.TempDir()
	a := newTestAnalyzer(t, dir)
	base := time.Now().UTC()

	if record := feed(t, a, []Sample{
		mphSample(base, 0, 0),
		mphSample(base, 1, 20),
		mphSample(base, 2, 35),
		mphSample(base, 3, 0),
		mphSample(base, 4, 0),
		mphSample(base, 5, 0),
		mphSample(base, 6, 0),
	}); record == nil {
		t.Fatal("run did not finalize")
	}

	restarted := newTestAnalyzer(t, dir)
	best := restarted.BestMetrics()
	if got := best["0-30 mph"]; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("rebuilt best 0-30 mph = %f, want 2.0", got)
	}
}
