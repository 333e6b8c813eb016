package journal

import (
	"time"
)

// DefaultLimit is the number of runs ListRuns returns when no limit is set.
const DefaultLimit = 20

// Run is a journaled deploy or destroy run.
type Run struct {
	ID           string     `json:"id"`
	Operation    string     `json:"operation"`
	DeploymentID string     `json:"deployment_id"`
	ServiceName  string     `json:"service_name"`
	Region       string     `json:"region"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	Steps        []Step     `json:"steps,omitempty"`
}

// Duration is the wall time of a finished run, or zero.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Step is one journaled step of a run.
type Step struct {
	Index    int           `json:"index"`
	Kind     string        `json:"kind"`
	Label    string        `json:"label"`
	Name     string        `json:"name"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Filter narrows ListRuns. Empty fields match everything.
type Filter struct {
	DeploymentID string
	ServiceName  string
	Limit        int
}
