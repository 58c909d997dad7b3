package model

import "time"

// Event types. Correlation across an event stream is by process ID.
const (
	EventProcessStarted   = "process.started"
	EventProcessCompleted = "process.completed"
	EventProcessFailed    = "process.failed"
	EventProcessSuspended = "process.suspended"
	EventProcessResumed   = "process.resumed"
	EventProcessCancelled = "process.cancelled"

	EventTaskCreated   = "task.created"
	EventTaskStarted   = "task.started"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskSkipped   = "task.skipped"

	EventAssignmentCreated    = "assignment.created"
	EventAssignmentReassigned = "assignment.reassigned"

	EventSLAAtRisk   = "sla.at_risk"
	EventSLABreached = "sla.breached"

	EventNotificationEscalated = "notification.escalated"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// ProcessEvent is an immutable lifecycle record. Events are appended, never
// updated or deleted.
type ProcessEvent struct {
	ID        string         `json:"id"`
	ProcessID string         `json:"process_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventSeverity returns the default severity for an event type.
func EventSeverity(eventType string) string {
	switch eventType {
	case EventProcessFailed, EventTaskFailed:
		return SeverityError
	case EventSLAAtRisk:
		return SeverityWarning
	case EventSLABreached, EventNotificationEscalated:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}
