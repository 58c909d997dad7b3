// Package engine orchestrates process instances: instantiation, task
// creation and routing, state transitions, SLA metric lifecycle, and event
// emission. All writes go through optimistic locking in the store; the
// engine holds no lock across store I/O.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
	"github.com/Chunkys0up7/Atoms-sub002/internal/router"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// advanceMaxAttempts bounds the re-evaluation retry loop on version
// conflicts. After exhaustion the CONFLICT surfaces to the caller, which may
// simply retry the completed operation's read side.
const advanceMaxAttempts = 3

const defaultListLimit = 20

// Publisher emits lifecycle events to in-process subscribers.
type Publisher interface {
	Publish(e model.ProcessEvent) error
}

// Engine manages the lifecycle of process instances and their tasks.
type Engine struct {
	registry *definition.Registry
	store    store.Store
	router   *router.Router
	bus      Publisher
	logger   *zap.Logger
}

// New creates a new Engine.
func New(
	registry *definition.Registry,
	st store.Store,
	rt *router.Router,
	bus Publisher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		store:    st,
		router:   rt,
		bus:      bus,
		logger:   logger,
	}
}

// StartProcess instantiates a definition and creates tasks for its root
// steps. The process starts running immediately.
func (e *Engine) StartProcess(
	ctx context.Context,
	rctx *model.RequestContext,
	definitionID string,
	businessKey string,
	priority string,
	businessContext map[string]any,
) (model.ProcessInstance, error) {
	ctx, span := observability.StartSpan(ctx, "engine.start_process",
		observability.AttrDefinitionID.String(definitionID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer span.End()

	// 1. Look up the definition.
	def, ok := e.registry.Get(definitionID)
	if !ok {
		return model.ProcessInstance{}, model.NewNotFoundError(
			fmt.Sprintf("process definition %q not found", definitionID),
		)
	}

	// 2. Check declared context keys.
	var missing []model.FieldError
	for _, key := range def.RequiredContext {
		if _, present := businessContext[key]; !present {
			missing = append(missing, model.FieldError{
				Field:   "context." + key,
				Code:    "REQUIRED",
				Message: fmt.Sprintf("context key %q is required by definition %q", key, definitionID),
			})
		}
	}
	if len(missing) > 0 {
		return model.ProcessInstance{}, model.NewValidationError(missing)
	}

	// 3. Compute the process deadline from the definition SLA.
	now := time.Now().UTC()
	var dueAt *time.Time
	slaTarget, err := def.ProcessSLA()
	if err != nil {
		return model.ProcessInstance{}, fmt.Errorf("parse sla target: %w", err)
	}
	if slaTarget > 0 {
		due := now.Add(slaTarget)
		dueAt = &due
	}

	// 4. Create the instance.
	proc := model.ProcessInstance{
		ID:             uuid.New().String(),
		DefinitionID:   def.ID,
		DefinitionName: def.Name,
		Status:         model.ProcessStatusRunning,
		BusinessKey:    businessKey,
		Context:        businessContext,
		Priority:       priority,
		InitiatedBy:    rctx.SubjectID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		StartedAt:      &now,
		DueAt:          dueAt,
	}
	if err := e.store.CreateProcess(ctx, proc); err != nil {
		return model.ProcessInstance{}, err
	}

	// 5. Open the process SLA metric.
	if slaTarget > 0 {
		if err := e.openMetric(ctx, proc.ID, "", model.SLAKindProcess, slaTarget, now); err != nil {
			return model.ProcessInstance{}, err
		}
	}

	e.emit(ctx, model.ProcessEvent{
		ProcessID: proc.ID,
		Type:      model.EventProcessStarted,
		Actor:     rctx.SubjectID,
		Payload:   map[string]any{"definition_id": def.ID, "business_key": businessKey},
	})

	// 6. Create tasks for the steps that are eligible from the start.
	if err := e.advance(ctx, proc.ID); err != nil {
		return model.ProcessInstance{}, err
	}

	return e.store.GetProcess(ctx, proc.ID)
}

// GetProcess returns a process instance by ID.
func (e *Engine) GetProcess(ctx context.Context, processID string) (model.ProcessInstance, error) {
	return e.store.GetProcess(ctx, processID)
}

// ListProcesses returns process instances matching the filters.
func (e *Engine) ListProcesses(ctx context.Context, filters store.ProcessFilters) ([]model.ProcessInstance, error) {
	if filters.Limit <= 0 {
		filters.Limit = defaultListLimit
	}
	return e.store.FindProcesses(ctx, filters)
}

// GetProcessEvents returns the process audit trail, oldest first.
func (e *Engine) GetProcessEvents(ctx context.Context, processID string) ([]model.ProcessEvent, error) {
	if _, err := e.store.GetProcess(ctx, processID); err != nil {
		return nil, err
	}
	return e.store.GetEvents(ctx, processID)
}

// GetProcessMetrics returns the SLA metrics tracked for a process.
func (e *Engine) GetProcessMetrics(ctx context.Context, processID string) ([]model.SLAMetric, error) {
	if _, err := e.store.GetProcess(ctx, processID); err != nil {
		return nil, err
	}
	return e.store.FindSLAMetrics(ctx, processID)
}

// SuspendProcess pauses a running process. Open tasks stay workable; the
// engine stops creating and assigning new ones until resume.
func (e *Engine) SuspendProcess(ctx context.Context, rctx *model.RequestContext, processID, reason string) (model.ProcessInstance, error) {
	proc, err := e.transitionProcess(ctx, processID, model.ProcessStatusSuspended)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	e.emit(ctx, model.ProcessEvent{
		ProcessID: proc.ID,
		Type:      model.EventProcessSuspended,
		Actor:     rctx.SubjectID,
		Payload:   map[string]any{"reason": reason},
	})
	return proc, nil
}

// ResumeProcess moves a suspended process back to running and re-evaluates
// eligibility, creating any tasks that became due while suspended.
func (e *Engine) ResumeProcess(ctx context.Context, rctx *model.RequestContext, processID string) (model.ProcessInstance, error) {
	proc, err := e.transitionProcess(ctx, processID, model.ProcessStatusRunning)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	e.emit(ctx, model.ProcessEvent{
		ProcessID: proc.ID,
		Type:      model.EventProcessResumed,
		Actor:     rctx.SubjectID,
	})
	if err := e.advance(ctx, proc.ID); err != nil {
		return model.ProcessInstance{}, err
	}
	return e.store.GetProcess(ctx, proc.ID)
}

// CancelProcess cancels a process and all of its open tasks. Cancellation is
// cooperative: in-flight work is not interrupted, but completing a cancelled
// task is rejected as TERMINAL_STATE.
func (e *Engine) CancelProcess(ctx context.Context, rctx *model.RequestContext, processID, reason string) (model.ProcessInstance, error) {
	proc, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	if proc.IsTerminal() {
		return model.ProcessInstance{}, model.NewTerminalStateError(
			fmt.Sprintf("process %q is %s", processID, proc.Status),
		)
	}

	now := time.Now().UTC()
	proc.Status = model.ProcessStatusCancelled
	proc.Error = reason
	proc.CompletedAt = &now
	if err := e.store.UpdateProcess(ctx, proc); err != nil {
		return model.ProcessInstance{}, err
	}

	e.cancelOpenTasks(ctx, processID)
	e.finalizeMetrics(ctx, processID, now)

	e.emit(ctx, model.ProcessEvent{
		ProcessID: proc.ID,
		Type:      model.EventProcessCancelled,
		Actor:     rctx.SubjectID,
		Payload:   map[string]any{"reason": reason},
	})
	return e.store.GetProcess(ctx, processID)
}

// transitionProcess applies a validated status change under CAS.
func (e *Engine) transitionProcess(ctx context.Context, processID, to string) (model.ProcessInstance, error) {
	proc, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	if proc.IsTerminal() {
		return model.ProcessInstance{}, model.NewTerminalStateError(
			fmt.Sprintf("process %q is %s", processID, proc.Status),
		)
	}
	if !model.CanTransitionProcess(proc.Status, to) {
		return model.ProcessInstance{}, model.NewInvalidTransitionError(
			fmt.Sprintf("process %q cannot move from %s to %s", processID, proc.Status, to),
		)
	}

	proc.Status = to
	if err := e.store.UpdateProcess(ctx, proc); err != nil {
		return model.ProcessInstance{}, err
	}
	return e.store.GetProcess(ctx, processID)
}

// CreateTask creates an ad-hoc task on a running process. Ad-hoc tasks never
// gate completion of the defined steps.
func (e *Engine) CreateTask(
	ctx context.Context,
	rctx *model.RequestContext,
	processID, name, description, priority string,
	spec model.AssignmentSpec,
	input map[string]any,
) (model.Task, error) {
	proc, err := e.store.GetProcess(ctx, processID)
	if err != nil {
		return model.Task{}, err
	}
	if proc.Status != model.ProcessStatusRunning {
		if proc.IsTerminal() {
			return model.Task{}, model.NewTerminalStateError(
				fmt.Sprintf("process %q is %s", processID, proc.Status),
			)
		}
		return model.Task{}, model.NewInvalidTransitionError(
			fmt.Sprintf("process %q is %s; tasks can only be added while running", processID, proc.Status),
		)
	}
	if name == "" {
		return model.Task{}, model.NewValidationError([]model.FieldError{
			{Field: "name", Code: "REQUIRED", Message: "task name is required"},
		})
	}

	decision, err := e.router.Route(ctx, spec)
	if err != nil {
		return model.Task{}, err
	}

	now := time.Now().UTC()
	task := model.Task{
		ID:          uuid.New().String(),
		ProcessID:   processID,
		Name:        name,
		Description: description,
		Status:      model.TaskStatusAssigned,
		Priority:    priority,
		Assignee:    decision.Assignee,
		Team:        spec.Team,
		AdHoc:       true,
		Input:       input,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return model.Task{}, err
	}
	if err := e.recordAssignment(ctx, task, decision, rctx.SubjectID); err != nil {
		return model.Task{}, err
	}

	e.emit(ctx, model.ProcessEvent{
		ProcessID: processID,
		TaskID:    task.ID,
		Type:      model.EventTaskCreated,
		Actor:     rctx.SubjectID,
		Payload:   map[string]any{"name": name, "ad_hoc": true},
	})
	return task, nil
}

// GetTask returns a task by ID.
func (e *Engine) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// ListTasks returns tasks matching the filters.
func (e *Engine) ListTasks(ctx context.Context, filters store.TaskFilters) ([]model.Task, error) {
	if filters.Limit <= 0 {
		filters.Limit = defaultListLimit
	}
	return e.store.FindTasks(ctx, filters)
}

// AssignTask routes a pending task. Tasks normally arrive assigned; this
// covers tasks left pending by an earlier routing dead end.
func (e *Engine) AssignTask(ctx context.Context, rctx *model.RequestContext, taskID string, spec model.AssignmentSpec) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.IsTerminal() {
		return model.Task{}, model.NewTerminalStateError(fmt.Sprintf("task %q is %s", taskID, task.Status))
	}
	if task.Status != model.TaskStatusPending {
		return model.Task{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s, not pending", taskID, task.Status),
		)
	}

	decision, err := e.router.Route(ctx, spec)
	if err != nil {
		return model.Task{}, err
	}

	task.Status = model.TaskStatusAssigned
	task.Assignee = decision.Assignee
	if spec.Team != "" {
		task.Team = spec.Team
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}
	if err := e.recordAssignment(ctx, task, decision, rctx.SubjectID); err != nil {
		return model.Task{}, err
	}
	return e.store.GetTask(ctx, taskID)
}

// StartTask moves an assigned task to in_progress. Only the assignee or a
// supervisor may start it.
func (e *Engine) StartTask(ctx context.Context, rctx *model.RequestContext, taskID string) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.IsTerminal() {
		return model.Task{}, model.NewTerminalStateError(fmt.Sprintf("task %q is %s", taskID, task.Status))
	}
	if !model.CanTransitionTask(task.Status, model.TaskStatusInProgress) {
		return model.Task{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q cannot start from %s", taskID, task.Status),
		)
	}
	if err := e.authorizeActor(rctx, task); err != nil {
		return model.Task{}, err
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusInProgress
	task.StartedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.emit(ctx, model.ProcessEvent{
		ProcessID: task.ProcessID,
		TaskID:    task.ID,
		Type:      model.EventTaskStarted,
		Actor:     rctx.SubjectID,
	})
	return e.store.GetTask(ctx, taskID)
}

// CompleteTask finishes an in-progress task and re-evaluates the process.
// Completing an already completed task is idempotent: the stored terminal
// state comes back without new task events, though the process is still
// re-evaluated so a prior advance that lost all its optimistic retries gets
// another pass.
func (e *Engine) CompleteTask(ctx context.Context, rctx *model.RequestContext, taskID string, output map[string]any) (model.Task, error) {
	ctx, span := observability.StartSpan(ctx, "engine.complete_task",
		observability.AttrTaskID.String(taskID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer span.End()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status == model.TaskStatusCompleted {
		if err := e.advance(ctx, task.ProcessID); err != nil {
			return model.Task{}, err
		}
		return task, nil
	}
	if task.IsTerminal() {
		return model.Task{}, model.NewTerminalStateError(fmt.Sprintf("task %q is %s", taskID, task.Status))
	}
	if !model.CanTransitionTask(task.Status, model.TaskStatusCompleted) {
		return model.Task{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q cannot complete from %s", taskID, task.Status),
		)
	}
	if err := e.authorizeActor(rctx, task); err != nil {
		return model.Task{}, err
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusCompleted
	task.Output = output
	task.CompletedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.finalizeTaskMetric(ctx, task.ProcessID, task.ID, now)
	payload := map[string]any{}
	if task.StartedAt != nil {
		payload["duration"] = now.Sub(*task.StartedAt).String()
	}
	e.emit(ctx, model.ProcessEvent{
		ProcessID: task.ProcessID,
		TaskID:    task.ID,
		Type:      model.EventTaskCompleted,
		Actor:     rctx.SubjectID,
		Payload:   payload,
	})

	if err := e.advance(ctx, task.ProcessID); err != nil {
		return model.Task{}, err
	}
	return e.store.GetTask(ctx, taskID)
}

// FailTask records a task failure. While the retry budget lasts, the task
// goes back to its assignee; once exhausted it fails terminally and the
// definition's failure policy decides the process's fate.
func (e *Engine) FailTask(ctx context.Context, rctx *model.RequestContext, taskID, reason string) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.IsTerminal() {
		return model.Task{}, model.NewTerminalStateError(fmt.Sprintf("task %q is %s", taskID, task.Status))
	}
	if !model.CanTransitionTask(task.Status, model.TaskStatusFailed) {
		return model.Task{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q cannot fail from %s", taskID, task.Status),
		)
	}
	if err := e.authorizeActor(rctx, task); err != nil {
		return model.Task{}, err
	}

	task.Error = reason
	willRetry := task.Retries < task.MaxRetries
	now := time.Now().UTC()
	if willRetry {
		task.Retries++
		task.Status = model.TaskStatusAssigned
		task.StartedAt = nil
	} else {
		task.Status = model.TaskStatusFailed
		task.CompletedAt = &now
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.emit(ctx, model.ProcessEvent{
		ProcessID: task.ProcessID,
		TaskID:    task.ID,
		Type:      model.EventTaskFailed,
		Actor:     rctx.SubjectID,
		Payload: map[string]any{
			"reason":     reason,
			"will_retry": willRetry,
			"retries":    task.Retries,
		},
	})

	if !willRetry {
		e.finalizeTaskMetric(ctx, task.ProcessID, task.ID, now)
		if err := e.handleTerminalFailure(ctx, task, reason); err != nil {
			return model.Task{}, err
		}
	}
	return e.store.GetTask(ctx, taskID)
}

// ReassignTask atomically moves a task's active assignment to a new
// assignee.
func (e *Engine) ReassignTask(ctx context.Context, rctx *model.RequestContext, taskID, newAssignee, reason string) (model.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.IsTerminal() {
		return model.Task{}, model.NewTerminalStateError(fmt.Sprintf("task %q is %s", taskID, task.Status))
	}
	if task.Status != model.TaskStatusAssigned && task.Status != model.TaskStatusInProgress {
		return model.Task{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s; only assigned or in-progress tasks can be reassigned", taskID, task.Status),
		)
	}

	decision, err := e.router.Route(ctx, model.AssignmentSpec{Method: model.AssignManual, Assignee: newAssignee})
	if err != nil {
		return model.Task{}, err
	}

	previous := task.Assignee
	next := model.TaskAssignment{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		ProcessID:  task.ProcessID,
		Assignee:   decision.Assignee,
		AssignedBy: rctx.SubjectID,
		Method:     model.AssignManual,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.SwapAssignment(ctx, task.ID, next); err != nil {
		return model.Task{}, err
	}

	task.Status = model.TaskStatusAssigned
	task.Assignee = decision.Assignee
	task.StartedAt = nil
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	e.emit(ctx, model.ProcessEvent{
		ProcessID: task.ProcessID,
		TaskID:    task.ID,
		Type:      model.EventAssignmentReassigned,
		Actor:     rctx.SubjectID,
		Payload: map[string]any{
			"from":   previous,
			"to":     decision.Assignee,
			"reason": reason,
		},
	})
	return e.store.GetTask(ctx, taskID)
}

// Workload returns the open task count per assignee.
func (e *Engine) Workload(ctx context.Context) ([]model.AssigneeWorkload, error) {
	return e.store.Workload(ctx)
}

// Breaches returns SLA metrics breached at or after since.
func (e *Engine) Breaches(ctx context.Context, since time.Time) ([]model.SLAMetric, error) {
	return e.store.FindBreachedSLAMetrics(ctx, since)
}

// authorizeActor allows the task assignee and supervisors to act on a task.
func (e *Engine) authorizeActor(rctx *model.RequestContext, task model.Task) error {
	if rctx.SubjectID == task.Assignee || rctx.HasRole("supervisor") {
		return nil
	}
	return model.NewNotAuthorizedError(
		fmt.Sprintf("task %q is assigned to %q", task.ID, task.Assignee),
	)
}

// handleTerminalFailure applies the definition's retry-exhaustion policy.
func (e *Engine) handleTerminalFailure(ctx context.Context, task model.Task, reason string) error {
	proc, err := e.store.GetProcess(ctx, task.ProcessID)
	if err != nil {
		return err
	}
	if proc.IsTerminal() {
		return nil
	}

	def, ok := e.registry.Get(proc.DefinitionID)
	if ok && def.FailurePolicy() == model.OnTaskFailureContinue && !task.AdHoc {
		// Dependents of the failed step never become eligible; the rest of
		// the graph keeps going.
		return e.advance(ctx, task.ProcessID)
	}

	now := time.Now().UTC()
	proc.Status = model.ProcessStatusFailed
	proc.Error = fmt.Sprintf("task %q failed: %s", task.Name, reason)
	proc.CompletedAt = &now
	if err := e.store.UpdateProcess(ctx, proc); err != nil {
		return err
	}

	e.cancelOpenTasks(ctx, proc.ID)
	e.finalizeMetrics(ctx, proc.ID, now)

	e.emit(ctx, model.ProcessEvent{
		ProcessID: proc.ID,
		TaskID:    task.ID,
		Type:      model.EventProcessFailed,
		Actor:     "system",
		Payload:   map[string]any{"reason": proc.Error},
	})
	return nil
}

// cancelOpenTasks cancels every non-terminal task of a process. Failures are
// logged and skipped; the terminal process already rejects completions.
func (e *Engine) cancelOpenTasks(ctx context.Context, processID string) {
	tasks, err := e.store.FindTasks(ctx, store.TaskFilters{ProcessID: processID})
	if err != nil {
		e.logger.Warn("listing tasks for cancellation", zap.String("process_id", processID), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, t := range tasks {
		if t.IsTerminal() {
			continue
		}
		t.Status = model.TaskStatusCancelled
		t.CompletedAt = &now
		if err := e.store.UpdateTask(ctx, t); err != nil {
			e.logger.Warn("cancelling task", zap.String("task_id", t.ID), zap.Error(err))
		}
	}
}

// emit appends an event to the audit trail and publishes it on the bus.
func (e *Engine) emit(ctx context.Context, event model.ProcessEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Severity == "" {
		event.Severity = model.EventSeverity(event.Type)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.Error("appending event",
			zap.String("process_id", event.ProcessID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
	if e.bus != nil {
		if err := e.bus.Publish(event); err != nil {
			e.logger.Error("publishing event",
				zap.String("process_id", event.ProcessID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}
}
