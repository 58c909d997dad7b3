package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
	"github.com/Chunkys0up7/Atoms-sub002/internal/router"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// advance re-evaluates a process after a task reaches a terminal state (or
// at start/resume): it creates tasks for newly eligible steps, refreshes
// progress, and detects completion. The whole evaluation runs under a
// bounded retry loop keyed on the process version; a concurrent sibling
// update triggers a re-read rather than a lost update.
func (e *Engine) advance(ctx context.Context, processID string) (err error) {
	ctx, span := observability.StartSpan(ctx, "engine.advance",
		observability.AttrProcessID.String(processID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var lastErr error
	for attempt := 0; attempt < advanceMaxAttempts; attempt++ {
		proc, err := e.store.GetProcess(ctx, processID)
		if err != nil {
			return err
		}
		// Suspension blocks new task creation; terminal processes are done.
		if proc.Status != model.ProcessStatusRunning {
			return nil
		}

		def, ok := e.registry.Get(proc.DefinitionID)
		if !ok {
			return model.NewNotFoundError(
				fmt.Sprintf("process definition %q not found", proc.DefinitionID),
			)
		}

		err = e.evaluate(ctx, proc, def)
		if err == nil {
			return nil
		}
		if !model.IsCode(err, model.ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// evaluate performs one pass of eligibility, progress, and completion.
func (e *Engine) evaluate(ctx context.Context, proc model.ProcessInstance, def model.ProcessDefinition) error {
	tasks, err := e.store.FindTasks(ctx, store.TaskFilters{ProcessID: proc.ID})
	if err != nil {
		return err
	}

	byStep := make(map[string]model.Task)
	for _, t := range tasks {
		if t.StepID != "" {
			byStep[t.StepID] = t
		}
	}

	// A step is satisfied once its task ended in completed or skipped.
	satisfied := make(map[string]bool)
	for stepID, t := range byStep {
		if t.Status == model.TaskStatusCompleted || t.Status == model.TaskStatusSkipped {
			satisfied[stepID] = true
		}
	}

	// Lazy task creation: a step's task appears only once every dependency
	// is satisfied.
	for _, step := range def.Steps {
		if _, exists := byStep[step.ID]; exists {
			continue
		}
		if !depsSatisfied(step, satisfied) {
			continue
		}
		task, err := e.createStepTask(ctx, proc, step)
		if err != nil {
			return err
		}
		byStep[step.ID] = task
		if task.Status == model.TaskStatusSkipped {
			satisfied[step.ID] = true
		}
	}

	// Progress counts satisfied defined steps over the definition total.
	done := 0
	allTerminalOK := true
	for _, step := range def.Steps {
		if satisfied[step.ID] {
			done++
			continue
		}
		allTerminalOK = false
	}
	progress := float64(done) / float64(len(def.Steps))

	if allTerminalOK {
		now := time.Now().UTC()
		proc.Status = model.ProcessStatusCompleted
		proc.Progress = 1
		proc.CompletedAt = &now
		if err := e.store.UpdateProcess(ctx, proc); err != nil {
			return err
		}
		e.finalizeMetrics(ctx, proc.ID, now)
		e.emit(ctx, model.ProcessEvent{
			ProcessID: proc.ID,
			Type:      model.EventProcessCompleted,
			Actor:     "system",
		})
		return nil
	}

	if progress != proc.Progress {
		proc.Progress = progress
		if err := e.store.UpdateProcess(ctx, proc); err != nil {
			return err
		}
	}
	return nil
}

// createStepTask materializes a step into a task. A false condition yields a
// skipped task so dependents can proceed; a routing dead end leaves the task
// pending for an explicit assign. The task ID is derived from the process
// and step, so concurrent evaluators racing on the same step collide in the
// store (CONFLICT) instead of creating the task twice; the advance retry
// loop then re-reads and moves on.
func (e *Engine) createStepTask(ctx context.Context, proc model.ProcessInstance, step model.StepDefinition) (model.Task, error) {
	now := time.Now().UTC()
	task := model.Task{
		ID:          stepTaskID(proc.ID, step.ID),
		ProcessID:   proc.ID,
		StepID:      step.ID,
		Name:        step.Name,
		Description: step.Description,
		Priority:    step.Priority,
		Team:        step.Assignment.Team,
		Input:       step.Input,
		MaxRetries:  step.MaxRetries,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if step.Condition != "" && !evaluateCondition(step.Condition, proc.Context) {
		task.Status = model.TaskStatusSkipped
		task.CompletedAt = &now
		if err := e.store.CreateTask(ctx, task); err != nil {
			return model.Task{}, err
		}
		e.emit(ctx, model.ProcessEvent{
			ProcessID: proc.ID,
			TaskID:    task.ID,
			Type:      model.EventTaskSkipped,
			Actor:     "system",
			Payload:   map[string]any{"step_id": step.ID, "condition": step.Condition},
		})
		return task, nil
	}

	if target := step.SLATarget; target != "" {
		if dur, err := time.ParseDuration(target); err == nil && dur > 0 {
			due := now.Add(dur)
			task.DueAt = &due
		}
	}

	decision, routeErr := e.router.Route(ctx, step.Assignment)
	if routeErr != nil {
		if !model.IsCode(routeErr, model.ErrNoEligibleAssignee) {
			return model.Task{}, routeErr
		}
		// Surfaced on the event stream and left pending; assign_task
		// resolves it once the directory has candidates.
		task.Status = model.TaskStatusPending
		e.logger.Warn("no eligible assignee for step",
			zap.String("process_id", proc.ID),
			zap.String("step_id", step.ID),
			zap.Error(routeErr),
		)
	} else {
		task.Status = model.TaskStatusAssigned
		task.Assignee = decision.Assignee
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return model.Task{}, err
	}

	if task.DueAt != nil {
		dur, _ := time.ParseDuration(step.SLATarget)
		if err := e.openMetric(ctx, proc.ID, task.ID, model.SLAKindTask, dur, now); err != nil {
			return model.Task{}, err
		}
	}

	payload := map[string]any{"step_id": step.ID}
	if routeErr != nil {
		payload["routing_error"] = routeErr.Error()
	}
	e.emit(ctx, model.ProcessEvent{
		ProcessID: proc.ID,
		TaskID:    task.ID,
		Type:      model.EventTaskCreated,
		Actor:     "system",
		Payload:   payload,
	})

	if task.Status == model.TaskStatusAssigned {
		if err := e.recordAssignment(ctx, task, decision, "system"); err != nil {
			return model.Task{}, err
		}
	}
	return task, nil
}

// recordAssignment persists the assignment record and announces it.
func (e *Engine) recordAssignment(ctx context.Context, task model.Task, decision router.Decision, assignedBy string) error {
	assignment := model.TaskAssignment{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		ProcessID:  task.ProcessID,
		Assignee:   decision.Assignee,
		AssignedBy: assignedBy,
		Method:     decision.Method,
		Reason:     decision.Reason,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateAssignment(ctx, assignment); err != nil {
		return err
	}
	e.emit(ctx, model.ProcessEvent{
		ProcessID: task.ProcessID,
		TaskID:    task.ID,
		Type:      model.EventAssignmentCreated,
		Actor:     assignedBy,
		Payload:   map[string]any{"assignee": decision.Assignee, "method": decision.Method},
	})
	return nil
}

// openMetric creates an on-track SLA metric for a process or task.
func (e *Engine) openMetric(ctx context.Context, processID, taskID, kind string, target time.Duration, started time.Time) error {
	return e.store.CreateSLAMetric(ctx, model.SLAMetric{
		ID:        uuid.New().String(),
		ProcessID: processID,
		TaskID:    taskID,
		Kind:      kind,
		Status:    model.SLAStatusOnTrack,
		Target:    target,
		StartedAt: started,
		Deadline:  started.Add(target),
		Version:   1,
		CreatedAt: started,
		UpdatedAt: started,
	})
}

// finalizeTaskMetric settles the metric of one task.
func (e *Engine) finalizeTaskMetric(ctx context.Context, processID, taskID string, end time.Time) {
	metrics, err := e.store.FindSLAMetrics(ctx, processID)
	if err != nil {
		e.logger.Warn("loading sla metrics", zap.String("process_id", processID), zap.Error(err))
		return
	}
	for _, m := range metrics {
		if m.Kind == model.SLAKindTask && m.TaskID == taskID {
			e.finalizeMetric(ctx, m, end)
		}
	}
}

// finalizeMetrics settles every open metric of a process, the process-level
// one included. Called on process completion, failure, and cancellation.
func (e *Engine) finalizeMetrics(ctx context.Context, processID string, end time.Time) {
	metrics, err := e.store.FindSLAMetrics(ctx, processID)
	if err != nil {
		e.logger.Warn("loading sla metrics", zap.String("process_id", processID), zap.Error(err))
		return
	}
	for _, m := range metrics {
		e.finalizeMetric(ctx, m, end)
	}
}

// finalizeMetric computes the terminal met/breached outcome. A metric the
// monitor already marked breached stays breached; on-track and at-risk
// metrics settle by comparing elapsed to target.
func (e *Engine) finalizeMetric(ctx context.Context, m model.SLAMetric, end time.Time) {
	if m.Finalized() {
		return
	}
	m.Elapsed = end.Sub(m.StartedAt)
	if m.Status != model.SLAStatusBreached {
		if m.Elapsed <= m.Target {
			m.Status = model.SLAStatusMet
		} else {
			m.Status = model.SLAStatusBreached
		}
	}
	m.FinalizedAt = &end
	if err := e.store.UpdateSLAMetric(ctx, m); err != nil {
		e.logger.Warn("finalizing sla metric",
			zap.String("metric_id", m.ID),
			zap.Error(err),
		)
	}
}

// stepTaskID derives a stable task ID for a defined step of a process.
func stepTaskID(processID, stepID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(processID+"/"+stepID)).String()
}

// depsSatisfied reports whether every dependency of the step is satisfied.
func depsSatisfied(step model.StepDefinition, satisfied map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !satisfied[dep] {
			return false
		}
	}
	return true
}
