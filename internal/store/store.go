// Package store defines the persistence port for the engine and its two
// implementations: an in-memory store and a PostgreSQL store. All updates
// use optimistic locking on the record version; a stale version yields
// CONFLICT and the caller decides whether to re-read and retry.
package store

import (
	"context"
	"time"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// ProcessStore persists process instances.
type ProcessStore interface {
	// CreateProcess persists a new process instance.
	CreateProcess(ctx context.Context, p model.ProcessInstance) error

	// GetProcess retrieves a process instance by ID. Returns NOT_FOUND if it
	// doesn't exist.
	GetProcess(ctx context.Context, processID string) (model.ProcessInstance, error)

	// UpdateProcess persists an updated process instance with optimistic
	// locking. The version must match the current stored version. Returns
	// CONFLICT if the version has changed.
	UpdateProcess(ctx context.Context, p model.ProcessInstance) error

	// FindProcesses returns process instances matching the filters, newest
	// first.
	FindProcesses(ctx context.Context, filters ProcessFilters) ([]model.ProcessInstance, error)

	// FindOpenProcesses returns running and suspended instances for the SLA
	// scan, oldest first.
	FindOpenProcesses(ctx context.Context, limit int) ([]model.ProcessInstance, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t model.Task) error

	// GetTask retrieves a task by ID. Returns NOT_FOUND if it doesn't exist.
	GetTask(ctx context.Context, taskID string) (model.Task, error)

	// UpdateTask persists an updated task with optimistic locking. Returns
	// CONFLICT if the version has changed.
	UpdateTask(ctx context.Context, t model.Task) error

	// FindTasks returns tasks matching the filters, newest first.
	FindTasks(ctx context.Context, filters TaskFilters) ([]model.Task, error)

	// Workload returns per-assignee open task counts with the time of each
	// assignee's most recent assignment. Assignees with no open tasks are
	// absent; routing fills those in from the candidate set.
	Workload(ctx context.Context) ([]model.AssigneeWorkload, error)
}

// EventStore persists the append-only process event log.
type EventStore interface {
	// AppendEvent adds an event to the process audit trail.
	AppendEvent(ctx context.Context, e model.ProcessEvent) error

	// GetEvents retrieves all events for a process, ordered by time.
	GetEvents(ctx context.Context, processID string) ([]model.ProcessEvent, error)
}

// SLAStore persists SLA metrics.
type SLAStore interface {
	// CreateSLAMetric persists a new SLA metric.
	CreateSLAMetric(ctx context.Context, m model.SLAMetric) error

	// UpdateSLAMetric persists an updated metric with optimistic locking.
	UpdateSLAMetric(ctx context.Context, m model.SLAMetric) error

	// FindSLAMetrics returns metrics for a process.
	FindSLAMetrics(ctx context.Context, processID string) ([]model.SLAMetric, error)

	// FindOpenSLAMetrics returns metrics that are not yet finalized, for the
	// SLA scan, oldest deadline first.
	FindOpenSLAMetrics(ctx context.Context, limit int) ([]model.SLAMetric, error)

	// FindBreachedSLAMetrics returns metrics breached at or after since.
	FindBreachedSLAMetrics(ctx context.Context, since time.Time) ([]model.SLAMetric, error)
}

// AssignmentStore persists task assignment history.
type AssignmentStore interface {
	// CreateAssignment persists a new assignment record.
	CreateAssignment(ctx context.Context, a model.TaskAssignment) error

	// GetActiveAssignment returns the task's active assignment. Returns
	// NOT_FOUND if the task has none.
	GetActiveAssignment(ctx context.Context, taskID string) (model.TaskAssignment, error)

	// SwapAssignment closes the task's active assignment and creates the new
	// one in the same commit, so a task never shows zero or two active
	// assignments.
	SwapAssignment(ctx context.Context, taskID string, next model.TaskAssignment) error

	// FindAssignments returns a task's full assignment history, oldest first.
	FindAssignments(ctx context.Context, taskID string) ([]model.TaskAssignment, error)
}

// Store is the combined persistence port the engine depends on.
type Store interface {
	ProcessStore
	TaskStore
	EventStore
	SLAStore
	AssignmentStore

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// ProcessFilters are optional filters for listing process instances.
type ProcessFilters struct {
	DefinitionID string
	Status       string
	InitiatedBy  string
	Limit        int
	Offset       int
}

// TaskFilters are optional filters for listing tasks.
type TaskFilters struct {
	ProcessID string
	Status    string
	Assignee  string
	Team      string
	Limit     int
	Offset    int
}
