package model

import "time"

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusAssigned   = "assigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusSkipped    = "skipped"
	TaskStatusCancelled  = "cancelled"
)

// Task priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Task is a unit of work inside a process instance. AdHoc tasks carry no
// StepID and never gate process completion evaluation of defined steps.
type Task struct {
	ID          string         `json:"id"`
	ProcessID   string         `json:"process_id"`
	StepID      string         `json:"step_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	Team        string         `json:"team,omitempty"`
	AdHoc       bool           `json:"ad_hoc,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Retries     int            `json:"retries"`
	MaxRetries  int            `json:"max_retries"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DueAt       *time.Time     `json:"due_at,omitempty"`
}

// IsTerminal reports whether the task can accept no further mutations.
func (t *Task) IsTerminal() bool {
	return TaskStatusIsTerminal(t.Status)
}

// TaskStatusIsTerminal reports whether status is one of the four terminal
// task statuses.
func TaskStatusIsTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	}
	return false
}

// taskTransitions enumerates the legal task status transitions. The
// failed -> assigned edge is the retry loop, taken only while the retry
// budget allows.
var taskTransitions = map[string][]string{
	TaskStatusPending:    {TaskStatusAssigned, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusAssigned:   {TaskStatusInProgress, TaskStatusAssigned, TaskStatusCancelled},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusFailed:     {TaskStatusAssigned},
}

// CanTransitionTask reports whether a task may move from one status to
// another. The assigned -> assigned self-edge covers reassignment.
func CanTransitionTask(from, to string) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
