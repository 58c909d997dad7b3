package model

import "time"

// SLA statuses, in escalation order. Status moves forward only: on_track may
// become at_risk or breached, at_risk may become breached, and the terminal
// met / breached outcomes are never revised.
const (
	SLAStatusOnTrack  = "on_track"
	SLAStatusAtRisk   = "at_risk"
	SLAStatusBreached = "breached"
	SLAStatusMet      = "met"
)

// SLA subject kinds.
const (
	SLAKindProcess = "process"
	SLAKindTask    = "task"
)

// SLAMetric tracks one deadline for a process or a task.
type SLAMetric struct {
	ID          string        `json:"id"`
	ProcessID   string        `json:"process_id"`
	TaskID      string        `json:"task_id,omitempty"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	Target      time.Duration `json:"target"`
	StartedAt   time.Time     `json:"started_at"`
	Deadline    time.Time     `json:"deadline"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
	Version     int           `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Finalized reports whether the metric has reached its terminal outcome.
func (m *SLAMetric) Finalized() bool {
	return m.FinalizedAt != nil
}

// slaRank orders SLA statuses for forward-only enforcement.
var slaRank = map[string]int{
	SLAStatusOnTrack:  0,
	SLAStatusAtRisk:   1,
	SLAStatusBreached: 2,
	SLAStatusMet:      2,
}

// SLAStatusAdvances reports whether moving from one SLA status to another is
// a forward move. Equal-rank moves are not advances.
func SLAStatusAdvances(from, to string) bool {
	return slaRank[to] > slaRank[from]
}
