package types

import "time"

// DetectorReport records one detector's contribution to a run. A detector
// that failed has Error set and contributes zero findings; consumers need
// to know which analysis family is degraded, not just a pass/fail bit.
type DetectorReport struct {
	Detector   string        `json:"detector"`
	Candidates int           `json:"candidates"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Failed reports whether this detector failed during the run.
func (d DetectorReport) Failed() bool {
	return d.Error != ""
}

// RunReport aggregates the outcome of one orchestrator run.
type RunReport struct {
	RunID     string           `json:"run_id"`
	Scopes    []string         `json:"scopes"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Detectors []DetectorReport `json:"detectors"`
}

// FailedDetectors returns the names of detectors that failed.
func (r *RunReport) FailedDetectors() []string {
	var failed []string
	for _, d := range r.Detectors {
		if d.Failed() {
			failed = append(failed, d.Detector)
		}
	}
	return failed
}

// AllFailed reports whether every detector in the run failed. A run where
// some detectors succeed is degraded, not failed; a run where all fail is
// a hard failure.
func (r *RunReport) AllFailed() bool {
	if len(r.Detectors) == 0 {
		return false
	}
	for _, d := range r.Detectors {
		if !d.Failed() {
			return false
		}
	}
	return true
}
