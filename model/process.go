package model

import "time"

// Process statuses.
const (
	ProcessStatusPending   = "pending"
	ProcessStatusRunning   = "running"
	ProcessStatusSuspended = "suspended"
	ProcessStatusCompleted = "completed"
	ProcessStatusFailed    = "failed"
	ProcessStatusCancelled = "cancelled"
)

// ProcessInstance is a single run of a process definition.
type ProcessInstance struct {
	ID             string         `json:"id"`
	DefinitionID   string         `json:"definition_id"`
	DefinitionName string         `json:"definition_name"`
	Status         string         `json:"status"`
	BusinessKey    string         `json:"business_key,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Progress       float64        `json:"progress"`
	InitiatedBy    string         `json:"initiated_by"`
	Error          string         `json:"error,omitempty"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
}

// IsTerminal reports whether the process can accept no further mutations.
func (p *ProcessInstance) IsTerminal() bool {
	return ProcessStatusIsTerminal(p.Status)
}

// ProcessStatusIsTerminal reports whether status is one of the three
// terminal process statuses.
func ProcessStatusIsTerminal(status string) bool {
	switch status {
	case ProcessStatusCompleted, ProcessStatusFailed, ProcessStatusCancelled:
		return true
	}
	return false
}

// processTransitions enumerates the legal process status transitions.
var processTransitions = map[string][]string{
	ProcessStatusPending:   {ProcessStatusRunning, ProcessStatusCancelled},
	ProcessStatusRunning:   {ProcessStatusSuspended, ProcessStatusCompleted, ProcessStatusFailed, ProcessStatusCancelled},
	ProcessStatusSuspended: {ProcessStatusRunning, ProcessStatusCancelled},
}

// CanTransitionProcess reports whether a process may move from one status to
// another. Terminal statuses have no outgoing transitions.
func CanTransitionProcess(from, to string) bool {
	for _, s := range processTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
