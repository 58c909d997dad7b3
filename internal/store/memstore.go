package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// MemoryStore is an in-memory Store. It backs tests and single-node
// deployments that can tolerate losing state on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	processes   map[string]model.ProcessInstance
	tasks       map[string]model.Task
	events      map[string][]model.ProcessEvent  // key: process ID
	metrics     map[string]model.SLAMetric       // key: metric ID
	assignments map[string][]model.TaskAssignment // key: task ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processes:   make(map[string]model.ProcessInstance),
		tasks:       make(map[string]model.Task),
		events:      make(map[string][]model.ProcessEvent),
		metrics:     make(map[string]model.SLAMetric),
		assignments: make(map[string][]model.TaskAssignment),
	}
}

// CreateProcess persists a new process instance.
func (s *MemoryStore) CreateProcess(_ context.Context, p model.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processes[p.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("process %q already exists", p.ID))
	}
	s.processes[p.ID] = p
	return nil
}

// GetProcess retrieves a process instance by ID.
func (s *MemoryStore) GetProcess(_ context.Context, processID string) (model.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.processes[processID]
	if !exists {
		return model.ProcessInstance{}, model.NewNotFoundError(
			fmt.Sprintf("process %q not found", processID),
		)
	}
	return p, nil
}

// UpdateProcess persists an updated process instance with optimistic locking.
func (s *MemoryStore) UpdateProcess(_ context.Context, p model.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.processes[p.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("process %q not found", p.ID))
	}
	if existing.Version != p.Version {
		return model.NewConflictError(
			fmt.Sprintf("process %q version conflict (expected %d, got %d)", p.ID, p.Version, existing.Version),
		)
	}

	p.Version++
	p.UpdatedAt = time.Now().UTC()
	s.processes[p.ID] = p
	return nil
}

// FindProcesses returns process instances matching the filters, newest first.
func (s *MemoryStore) FindProcesses(_ context.Context, filters ProcessFilters) ([]model.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ProcessInstance
	for _, p := range s.processes {
		if filters.DefinitionID != "" && p.DefinitionID != filters.DefinitionID {
			continue
		}
		if filters.Status != "" && p.Status != filters.Status {
			continue
		}
		if filters.InitiatedBy != "" && p.InitiatedBy != filters.InitiatedBy {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return page(result, filters.Offset, filters.Limit), nil
}

// FindOpenProcesses returns running and suspended instances, oldest first.
func (s *MemoryStore) FindOpenProcesses(_ context.Context, limit int) ([]model.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ProcessInstance
	for _, p := range s.processes {
		if p.Status != model.ProcessStatusRunning && p.Status != model.ProcessStatusSuspended {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return page(result, 0, limit), nil
}

// CreateTask persists a new task.
func (s *MemoryStore) CreateTask(_ context.Context, t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("task %q already exists", t.ID))
	}
	s.tasks[t.ID] = t
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return model.Task{}, model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	return t, nil
}

// UpdateTask persists an updated task with optimistic locking.
func (s *MemoryStore) UpdateTask(_ context.Context, t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.tasks[t.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", t.ID))
	}
	if existing.Version != t.Version {
		return model.NewConflictError(
			fmt.Sprintf("task %q version conflict (expected %d, got %d)", t.ID, t.Version, existing.Version),
		)
	}

	t.Version++
	t.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = t
	return nil
}

// FindTasks returns tasks matching the filters, newest first.
func (s *MemoryStore) FindTasks(_ context.Context, filters TaskFilters) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Task
	for _, t := range s.tasks {
		if filters.ProcessID != "" && t.ProcessID != filters.ProcessID {
			continue
		}
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.Assignee != "" && t.Assignee != filters.Assignee {
			continue
		}
		if filters.Team != "" && t.Team != filters.Team {
			continue
		}
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return page(result, filters.Offset, filters.Limit), nil
}

// Workload returns per-assignee open task counts. Assignees with no open
// tasks still get a row when they have assignment history, so the
// load-balanced tie-break can see how long each candidate has been idle.
func (s *MemoryStore) Workload(_ context.Context) ([]model.AssigneeWorkload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAssignee := make(map[string]*model.AssigneeWorkload)
	entry := func(assignee string) *model.AssigneeWorkload {
		w, ok := byAssignee[assignee]
		if !ok {
			w = &model.AssigneeWorkload{Assignee: assignee}
			byAssignee[assignee] = w
		}
		return w
	}

	for _, t := range s.tasks {
		if t.Assignee == "" {
			continue
		}
		if t.Status != model.TaskStatusAssigned && t.Status != model.TaskStatusInProgress {
			continue
		}
		entry(t.Assignee).ActiveTasks++
	}

	for _, history := range s.assignments {
		for i := range history {
			a := history[i]
			if a.Assignee == "" {
				continue
			}
			w := entry(a.Assignee)
			if w.LastAssignedAt == nil || a.CreatedAt.After(*w.LastAssignedAt) {
				created := a.CreatedAt
				w.LastAssignedAt = &created
			}
		}
	}

	result := make([]model.AssigneeWorkload, 0, len(byAssignee))
	for _, w := range byAssignee {
		result = append(result, *w)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Assignee < result[j].Assignee
	})
	return result, nil
}

// AppendEvent adds an event to the process audit trail.
func (s *MemoryStore) AppendEvent(_ context.Context, e model.ProcessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[e.ProcessID] = append(s.events[e.ProcessID], e)
	return nil
}

// GetEvents retrieves all events for a process, ordered by time.
func (s *MemoryStore) GetEvents(_ context.Context, processID string) ([]model.ProcessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[processID]
	result := make([]model.ProcessEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateSLAMetric persists a new SLA metric.
func (s *MemoryStore) CreateSLAMetric(_ context.Context, m model.SLAMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.metrics[m.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("sla metric %q already exists", m.ID))
	}
	s.metrics[m.ID] = m
	return nil
}

// UpdateSLAMetric persists an updated metric with optimistic locking.
func (s *MemoryStore) UpdateSLAMetric(_ context.Context, m model.SLAMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.metrics[m.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("sla metric %q not found", m.ID))
	}
	if existing.Version != m.Version {
		return model.NewConflictError(
			fmt.Sprintf("sla metric %q version conflict (expected %d, got %d)", m.ID, m.Version, existing.Version),
		)
	}

	m.Version++
	m.UpdatedAt = time.Now().UTC()
	s.metrics[m.ID] = m
	return nil
}

// FindSLAMetrics returns metrics for a process.
func (s *MemoryStore) FindSLAMetrics(_ context.Context, processID string) ([]model.SLAMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SLAMetric
	for _, m := range s.metrics {
		if m.ProcessID == processID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// FindOpenSLAMetrics returns metrics not yet finalized, oldest deadline first.
func (s *MemoryStore) FindOpenSLAMetrics(_ context.Context, limit int) ([]model.SLAMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SLAMetric
	for _, m := range s.metrics {
		if m.Finalized() {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Deadline.Before(result[j].Deadline)
	})
	return page(result, 0, limit), nil
}

// FindBreachedSLAMetrics returns metrics breached at or after since.
func (s *MemoryStore) FindBreachedSLAMetrics(_ context.Context, since time.Time) ([]model.SLAMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SLAMetric
	for _, m := range s.metrics {
		if m.Status != model.SLAStatusBreached {
			continue
		}
		if m.UpdatedAt.Before(since) {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// CreateAssignment persists a new assignment record.
func (s *MemoryStore) CreateAssignment(_ context.Context, a model.TaskAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assignments[a.TaskID] {
		if existing.Active && a.Active {
			return model.NewConflictError(
				fmt.Sprintf("task %q already has an active assignment", a.TaskID),
			)
		}
	}
	s.assignments[a.TaskID] = append(s.assignments[a.TaskID], a)
	return nil
}

// GetActiveAssignment returns the task's active assignment.
func (s *MemoryStore) GetActiveAssignment(_ context.Context, taskID string) (model.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments[taskID] {
		if a.Active {
			return a, nil
		}
	}
	return model.TaskAssignment{}, model.NewNotFoundError(
		fmt.Sprintf("task %q has no active assignment", taskID),
	)
}

// SwapAssignment closes the active assignment and creates the new one in the
// same critical section.
func (s *MemoryStore) SwapAssignment(_ context.Context, taskID string, next model.TaskAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.assignments[taskID]
	closed := false
	now := time.Now().UTC()
	for i := range history {
		if history[i].Active {
			history[i].Active = false
			history[i].ClosedAt = &now
			closed = true
		}
	}
	if !closed {
		return model.NewNotFoundError(
			fmt.Sprintf("task %q has no active assignment", taskID),
		)
	}

	next.Active = true
	s.assignments[taskID] = append(history, next)
	return nil
}

// FindAssignments returns a task's assignment history, oldest first.
func (s *MemoryStore) FindAssignments(_ context.Context, taskID string) ([]model.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.assignments[taskID]
	result := make([]model.TaskAssignment, len(history))
	copy(result, history)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the total number of processes. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// page applies offset and limit to a sorted slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
