package perf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// HistoryCap bounds the persisted run history to the most recent
	// records.
	HistoryCap = 500

	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond
)

// RunRecord is one finalized acceleration run. Records are immutable
// once appended. The JSON form is flat: metric labels sit next to
// started_at and duration in a single object.
type RunRecord struct {
	StartedAt time.Time
	Duration  time.Duration
	Metrics   map[string]float64 // label → elapsed seconds
}

// MarshalJSON flattens the record: {"started_at": unix seconds,
// "duration": seconds, "<label>": seconds, ...}.
func (r RunRecord) MarshalJSON() ([]byte, error) {
	flat := make(map[string]float64, len(r.Metrics)+2)
	flat["started_at"] = float64(r.StartedAt.UnixMilli()) / 1000.0
	flat["duration"] = r.Duration.Seconds()
	for label, seconds := range r.Metrics {
		flat[label] = seconds
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *RunRecord) UnmarshalJSON(data []byte) error {
	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	r.Metrics = make(map[string]float64)
	for key, value := range flat {
		switch key {
		case "started_at":
			r.StartedAt = time.UnixMilli(int64(value * 1000)).UTC()
		case "duration":
			r.Duration = time.Duration(value * float64(time.Second))
		default:
			r.Metrics[key] = value
		}
	}
	return nil
}

// History is the persisted run log: a JSON array of flat records,
// most recent first, capped at HistoryCap and rewritten wholesale on
// each append. Owned by a single analyzer.
type History struct {
	path    string
	cap     int
	records []RunRecord
}

// LoadHistory reads the history file at path. A missing file is an
// empty history; a corrupt one is an error, not silent data loss.
func LoadHistory(path string) (*History, error) {
	h := &History{path: path, cap: HistoryCap}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h, nil
		}
		return nil, fmt.Errorf("reading run history: %w", err)
	}

	if err = json.Unmarshal(data, &h.records); err != nil {
		return nil, fmt.Errorf("parsing run history: %w", err)
	}
	if len(h.records) > h.cap {
		h.records = h.records[:h.cap]
	}
	return h, nil
}

// Records returns the in-memory records, most recent first. The slice
// is shared; callers must not mutate it.
func (h *History) Records() []RunRecord {
	return h.records
}

// Len returns the number of retained records.
func (h *History) Len() int {
	return len(h.records)
}

// Append prepends a finalized run, trims to the cap and rewrites the
// file. Persistence is retried a bounded number of times before the
// error propagates; on failure the in-memory state still holds the
// record, so a later append may yet land it.
func (h *History) Append(record RunRecord) error {
	h.records = append([]RunRecord{record}, h.records...)
	if len(h.records) > h.cap {
		h.records = h.records[:h.cap]
	}

	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(persistBackoff)
		}
		if err = h.persist(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("persisting run history after %d attempts: %w", persistAttempts, err)
}

// BestMetrics folds the history into the minimum observed value per
// metric label.
func (h *History) BestMetrics() map[string]float64 {
	best := make(map[string]float64)
	for _, record := range h.records {
		for label, seconds := range record.Metrics {
			if current, ok := best[label]; !ok || seconds < current {
				best[label] = seconds
			}
		}
	}
	return best
}

// persist rewrites the whole file through a temp file and rename so a
// crash mid-write never leaves a truncated history.
func (h *History) persist() error {
	data, err := json.MarshalIndent(h.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run history: %w", err)
	}

	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".runs-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if writeErr != nil {
			return fmt.Errorf("writing temp file: %w", writeErr)
		}
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err = os.Rename(tmp.Name(), h.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replacing run history: %w", err)
	}
	return nil
}
