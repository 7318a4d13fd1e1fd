package pipeline

import "time"

// NormalizedPoint is one tagged, numeric sample ready for the sink.
// Params: measurement name, tag set, field values, and sample time.
// Returns: storage-ready point record.
type NormalizedPoint struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Time        time.Time          `json:"time"`
}

// CollectionResult maps stat name to the points it produced in configuration order.
// Every collected stat has an entry; a stat without output maps to an empty slice.
type CollectionResult map[string][]NormalizedPoint

// Report summarizes one collection run.
// Params: run id, per-stat results, and point outcome counters.
// Returns: run outcome.
type Report struct {
	RunID      string           `json:"run_id"`
	Results    CollectionResult `json:"results"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Incomplete bool             `json:"incomplete"`
}

// AllFailed reports whether points were attempted and none succeeded.
// Params: none.
// Returns: true when every attempted point failed.
func (r Report) AllFailed() bool {
	return r.Succeeded == 0 && r.Failed > 0
}
