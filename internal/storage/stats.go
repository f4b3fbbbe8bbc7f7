package storage

import "encoding/json"

// RunStats is the completion ledger for one run.
//
// Invariants maintained by the lifecycle tracker:
//   - CompletedJobs never decreases
//   - CompletedJobs == SuccessCount + ErrorCount
//   - TotalJobs is written once, at dispatch time, before any job runs
type RunStats struct {
	TotalJobs     int `json:"total_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	SuccessCount  int `json:"success_count"`
	ErrorCount    int `json:"error_count"`
}

// Done reports whether the run's completion predicate holds.
// The degenerate TotalJobs == 0 case counts a single completion as done so
// a mis-dispatched run cannot stay open forever.
func (s RunStats) Done() bool {
	if s.TotalJobs > 0 {
		return s.CompletedJobs >= s.TotalJobs
	}
	return s.CompletedJobs > 0
}

func (s RunStats) Encode() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeRunStats parses a stored stats blob.
//
// Corrupt or empty blobs decode to a zero baseline with ok=false; callers
// repair in place rather than rejecting (stats must never take a run down).
// Negative counters are clamped for the same reason.
func DecodeRunStats(raw string) (RunStats, bool) {
	var s RunStats
	if raw == "" {
		return RunStats{}, false
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return RunStats{}, false
	}
	if s.TotalJobs < 0 {
		s.TotalJobs = 0
	}
	if s.CompletedJobs < 0 {
		s.CompletedJobs = 0
	}
	if s.SuccessCount < 0 {
		s.SuccessCount = 0
	}
	if s.ErrorCount < 0 {
		s.ErrorCount = 0
	}
	return s, true
}
