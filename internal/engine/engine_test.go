package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/router"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// capturePublisher records every published event.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.ProcessEvent
}

func (p *capturePublisher) Publish(e model.ProcessEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestEngine(t *testing.T, defs ...model.ProcessDefinition) (*Engine, *store.MemoryStore, *capturePublisher) {
	t.Helper()
	st := store.NewMemoryStore()
	dir, err := router.NewDirectory("testdata/assignees.yaml")
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	bus := &capturePublisher{}
	eng := New(definition.NewRegistry(defs, nil), st, router.New(dir, st), bus, zap.NewNop())
	return eng, st, bus
}

func asUser(id string, roles ...string) *model.RequestContext {
	return &model.RequestContext{SubjectID: id, Roles: roles}
}

func manual(assignee string) model.AssignmentSpec {
	return model.AssignmentSpec{Method: model.AssignManual, Assignee: assignee}
}

// diamondDef is a pick -> (pack, label) -> ship dependency diamond.
func diamondDef() model.ProcessDefinition {
	return model.ProcessDefinition{
		ID:      "order-fulfillment",
		Name:    "Order Fulfillment",
		Version: "1.0.0",
		Steps: []model.StepDefinition{
			{ID: "pick", Name: "Pick items", Assignment: manual("alice")},
			{ID: "pack", Name: "Pack order", DependsOn: []string{"pick"}, Assignment: manual("alice")},
			{ID: "label", Name: "Print label", DependsOn: []string{"pick"}, Assignment: manual("bob")},
			{ID: "ship", Name: "Ship order", DependsOn: []string{"pack", "label"}, Assignment: manual("carol")},
		},
	}
}

func startProcess(t *testing.T, eng *Engine, def model.ProcessDefinition, bctx map[string]any) model.ProcessInstance {
	t.Helper()
	proc, err := eng.StartProcess(context.Background(), asUser("initiator"), def.ID, "bk-1", model.PriorityMedium, bctx)
	if err != nil {
		t.Fatalf("StartProcess() error = %v", err)
	}
	return proc
}

func taskForStep(t *testing.T, st *store.MemoryStore, processID, stepID string) (model.Task, bool) {
	t.Helper()
	tasks, err := st.FindTasks(context.Background(), store.TaskFilters{ProcessID: processID})
	if err != nil {
		t.Fatalf("FindTasks() error = %v", err)
	}
	for _, task := range tasks {
		if task.StepID == stepID {
			return task, true
		}
	}
	return model.Task{}, false
}

func mustStep(t *testing.T, st *store.MemoryStore, processID, stepID string) model.Task {
	t.Helper()
	task, ok := taskForStep(t, st, processID, stepID)
	if !ok {
		t.Fatalf("no task for step %q", stepID)
	}
	return task
}

// work starts and completes a task as its assignee.
func work(t *testing.T, eng *Engine, task model.Task) {
	t.Helper()
	rctx := asUser(task.Assignee)
	if _, err := eng.StartTask(context.Background(), rctx, task.ID); err != nil {
		t.Fatalf("StartTask(%s) error = %v", task.StepID, err)
	}
	if _, err := eng.CompleteTask(context.Background(), rctx, task.ID, nil); err != nil {
		t.Fatalf("CompleteTask(%s) error = %v", task.StepID, err)
	}
}

func eventCount(t *testing.T, st *store.MemoryStore, processID, eventType string) int {
	t.Helper()
	events, err := st.GetEvents(context.Background(), processID)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestStartProcess_creates_root_task(t *testing.T) {
	eng, st, bus := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)

	if proc.Status != model.ProcessStatusRunning {
		t.Errorf("Status = %q, want running", proc.Status)
	}
	if proc.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	tasks, err := st.FindTasks(context.Background(), store.TaskFilters{ProcessID: proc.ID})
	if err != nil {
		t.Fatalf("FindTasks() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1 (only the root)", len(tasks))
	}
	if tasks[0].StepID != "pick" || tasks[0].Status != model.TaskStatusAssigned || tasks[0].Assignee != "alice" {
		t.Errorf("root task = %+v", tasks[0])
	}

	for _, typ := range []string{model.EventProcessStarted, model.EventTaskCreated, model.EventAssignmentCreated} {
		if n := eventCount(t, st, proc.ID, typ); n != 1 {
			t.Errorf("event %s count = %d, want 1", typ, n)
		}
	}
	if bus.count() != 3 {
		t.Errorf("published %d events, want 3", bus.count())
	}
}

func TestStartProcess_unknown_definition(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.StartProcess(context.Background(), asUser("initiator"), "nope", "", "", nil)
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestStartProcess_missing_required_context(t *testing.T) {
	def := diamondDef()
	def.RequiredContext = []string{"order_id"}
	eng, _, _ := newTestEngine(t, def)

	_, err := eng.StartProcess(context.Background(), asUser("initiator"), def.ID, "", "", map[string]any{"other": 1})
	if !model.IsCode(err, model.ErrValidation) {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestDiamond_full_run(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)

	work(t, eng, mustStep(t, st, proc.ID, "pick"))

	if _, ok := taskForStep(t, st, proc.ID, "ship"); ok {
		t.Fatal("ship created before pack and label finished")
	}
	pack := mustStep(t, st, proc.ID, "pack")
	label := mustStep(t, st, proc.ID, "label")

	work(t, eng, pack)
	if _, ok := taskForStep(t, st, proc.ID, "ship"); ok {
		t.Fatal("ship created with label still open")
	}

	work(t, eng, label)
	ship := mustStep(t, st, proc.ID, "ship")
	if ship.Assignee != "carol" {
		t.Errorf("ship assignee = %q, want carol", ship.Assignee)
	}

	work(t, eng, ship)
	got, err := eng.GetProcess(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("GetProcess() error = %v", err)
	}
	if got.Status != model.ProcessStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Progress != 1 {
		t.Errorf("Progress = %v, want 1", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if n := eventCount(t, st, proc.ID, model.EventProcessCompleted); n != 1 {
		t.Errorf("process.completed count = %d, want 1", n)
	}
}

func TestCompleteTask_idempotent(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)

	pick := mustStep(t, st, proc.ID, "pick")
	work(t, eng, pick)

	again, err := eng.CompleteTask(context.Background(), asUser("alice"), pick.ID, map[string]any{"ignored": true})
	if err != nil {
		t.Fatalf("second CompleteTask() error = %v", err)
	}
	if again.Status != model.TaskStatusCompleted {
		t.Errorf("Status = %q, want completed", again.Status)
	}
	if n := eventCount(t, st, proc.ID, model.EventTaskCompleted); n != 1 {
		t.Errorf("task.completed count = %d, want 1 (idempotent replay)", n)
	}
}

func TestCompleteTask_replay_reevaluates_process(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)

	// Mark pick completed directly in the store, as if the first completion
	// wrote the task but its advance never landed.
	pick := mustStep(t, st, proc.ID, "pick")
	now := time.Now().UTC()
	pick.Status = model.TaskStatusCompleted
	pick.CompletedAt = &now
	if err := st.UpdateTask(context.Background(), pick); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if _, ok := taskForStep(t, st, proc.ID, "pack"); ok {
		t.Fatal("pack task should not exist yet")
	}

	if _, err := eng.CompleteTask(context.Background(), asUser("alice"), pick.ID, nil); err != nil {
		t.Fatalf("replayed CompleteTask() error = %v", err)
	}
	if _, ok := taskForStep(t, st, proc.ID, "pack"); !ok {
		t.Error("replayed completion should create the pack task")
	}
	if _, ok := taskForStep(t, st, proc.ID, "label"); !ok {
		t.Error("replayed completion should create the label task")
	}
	if n := eventCount(t, st, proc.ID, model.EventTaskCompleted); n != 0 {
		t.Errorf("task.completed count = %d, want 0 (replay emits none)", n)
	}
}

func TestTask_actor_authorization(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)
	pick := mustStep(t, st, proc.ID, "pick")

	if _, err := eng.StartTask(context.Background(), asUser("mallory"), pick.ID); !model.IsCode(err, model.ErrNotAuthorized) {
		t.Errorf("stranger StartTask error = %v, want NOT_AUTHORIZED", err)
	}
	if _, err := eng.StartTask(context.Background(), asUser("sup-1", "supervisor"), pick.ID); err != nil {
		t.Errorf("supervisor StartTask error = %v", err)
	}
	if _, err := eng.CompleteTask(context.Background(), asUser("mallory"), pick.ID, nil); !model.IsCode(err, model.ErrNotAuthorized) {
		t.Errorf("stranger CompleteTask error = %v, want NOT_AUTHORIZED", err)
	}
}

func TestConditional_step_skipped(t *testing.T) {
	def := model.ProcessDefinition{
		ID:      "expense-approval",
		Name:    "Expense Approval",
		Version: "1.0.0",
		Steps: []model.StepDefinition{
			{ID: "review", Name: "Manager review", Condition: "context.amount_band == 'high'", Assignment: manual("alice")},
			{ID: "pay", Name: "Pay out", DependsOn: []string{"review"}, Assignment: manual("carol")},
		},
	}
	eng, st, _ := newTestEngine(t, def)
	proc := startProcess(t, eng, def, map[string]any{"amount_band": "low"})

	review := mustStep(t, st, proc.ID, "review")
	if review.Status != model.TaskStatusSkipped {
		t.Errorf("review status = %q, want skipped", review.Status)
	}
	pay := mustStep(t, st, proc.ID, "pay")
	if pay.Status != model.TaskStatusAssigned {
		t.Errorf("pay status = %q, want assigned (skip satisfies the dependency)", pay.Status)
	}
	if n := eventCount(t, st, proc.ID, model.EventTaskSkipped); n != 1 {
		t.Errorf("task.skipped count = %d, want 1", n)
	}

	work(t, eng, pay)
	got, _ := eng.GetProcess(context.Background(), proc.ID)
	if got.Status != model.ProcessStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestConditional_step_runs_when_true(t *testing.T) {
	def := model.ProcessDefinition{
		ID:      "expense-approval",
		Name:    "Expense Approval",
		Version: "1.0.0",
		Steps: []model.StepDefinition{
			{ID: "review", Name: "Manager review", Condition: "context.amount_band == 'high'", Assignment: manual("alice")},
		},
	}
	eng, st, _ := newTestEngine(t, def)
	proc := startProcess(t, eng, def, map[string]any{"amount_band": "high"})

	review := mustStep(t, st, proc.ID, "review")
	if review.Status != model.TaskStatusAssigned {
		t.Errorf("review status = %q, want assigned", review.Status)
	}
}

func TestFailTask_retries_then_fails_process(t *testing.T) {
	def := model.ProcessDefinition{
		ID:      "kyc-check",
		Name:    "KYC Check",
		Version: "1.0.0",
		Steps: []model.StepDefinition{
			{ID: "verify", Name: "Verify identity", MaxRetries: 1, Assignment: manual("alice")},
			{ID: "audit", Name: "Audit trail", Assignment: manual("bob")},
		},
	}
	eng, st, _ := newTestEngine(t, def)
	proc := startProcess(t, eng, def, nil)

	verify := mustStep(t, st, proc.ID, "verify")
	rctx := asUser("alice")

	// First failure consumes the retry budget and re-queues the task.
	if _, err := eng.StartTask(context.Background(), rctx, verify.ID); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	failed, err := eng.FailTask(context.Background(), rctx, verify.ID, "document unreadable")
	if err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}
	if failed.Status != model.TaskStatusAssigned || failed.Retries != 1 {
		t.Fatalf("after first failure: status=%q retries=%d, want assigned/1", failed.Status, failed.Retries)
	}
	if failed.StartedAt != nil {
		t.Error("StartedAt not cleared on retry")
	}
	if got, _ := eng.GetProcess(context.Background(), proc.ID); got.Status != model.ProcessStatusRunning {
		t.Fatalf("process status = %q, want running after retryable failure", got.Status)
	}

	// Second failure exhausts the budget; default policy fails the process.
	if _, err := eng.StartTask(context.Background(), rctx, verify.ID); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	failed, err = eng.FailTask(context.Background(), rctx, verify.ID, "document forged")
	if err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}
	if failed.Status != model.TaskStatusFailed {
		t.Errorf("status = %q, want failed", failed.Status)
	}

	got, _ := eng.GetProcess(context.Background(), proc.ID)
	if got.Status != model.ProcessStatusFailed {
		t.Errorf("process status = %q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("process Error not recorded")
	}
	audit := mustStep(t, st, proc.ID, "audit")
	if audit.Status != model.TaskStatusCancelled {
		t.Errorf("audit status = %q, want cancelled", audit.Status)
	}
	if n := eventCount(t, st, proc.ID, model.EventTaskFailed); n != 2 {
		t.Errorf("task.failed count = %d, want 2", n)
	}
	if n := eventCount(t, st, proc.ID, model.EventProcessFailed); n != 1 {
		t.Errorf("process.failed count = %d, want 1", n)
	}
}

func TestFailTask_continue_policy(t *testing.T) {
	def := model.ProcessDefinition{
		ID:            "bulk-import",
		Name:          "Bulk Import",
		Version:       "1.0.0",
		OnTaskFailure: model.OnTaskFailureContinue,
		Steps: []model.StepDefinition{
			{ID: "fetch", Name: "Fetch file", Assignment: manual("alice")},
			{ID: "notify", Name: "Notify owner", Assignment: manual("bob")},
			{ID: "parse", Name: "Parse rows", DependsOn: []string{"fetch"}, Assignment: manual("alice")},
		},
	}
	eng, st, _ := newTestEngine(t, def)
	proc := startProcess(t, eng, def, nil)

	fetch := mustStep(t, st, proc.ID, "fetch")
	rctx := asUser("alice")
	if _, err := eng.StartTask(context.Background(), rctx, fetch.ID); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	if _, err := eng.FailTask(context.Background(), rctx, fetch.ID, "404"); err != nil {
		t.Fatalf("FailTask() error = %v", err)
	}

	got, _ := eng.GetProcess(context.Background(), proc.ID)
	if got.Status != model.ProcessStatusRunning {
		t.Fatalf("process status = %q, want running under continue policy", got.Status)
	}
	if _, ok := taskForStep(t, st, proc.ID, "parse"); ok {
		t.Error("parse created although its dependency failed")
	}

	// Independent branches stay workable.
	work(t, eng, mustStep(t, st, proc.ID, "notify"))
	got, _ = eng.GetProcess(context.Background(), proc.ID)
	if got.Status != model.ProcessStatusRunning {
		t.Errorf("process status = %q, want running (failed branch never satisfies)", got.Status)
	}
}

func TestSuspend_blocks_new_tasks_resume_creates_them(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)

	if _, err := eng.SuspendProcess(context.Background(), asUser("ops"), proc.ID, "payment hold"); err != nil {
		t.Fatalf("SuspendProcess() error = %v", err)
	}
	if _, err := eng.SuspendProcess(context.Background(), asUser("ops"), proc.ID, "again"); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("double suspend error = %v, want INVALID_TRANSITION", err)
	}

	// Open tasks stay workable while suspended, but no new tasks appear.
	work(t, eng, mustStep(t, st, proc.ID, "pick"))
	if _, ok := taskForStep(t, st, proc.ID, "pack"); ok {
		t.Fatal("pack created while suspended")
	}

	if _, err := eng.ResumeProcess(context.Background(), asUser("ops"), proc.ID); err != nil {
		t.Fatalf("ResumeProcess() error = %v", err)
	}
	if _, ok := taskForStep(t, st, proc.ID, "pack"); !ok {
		t.Error("pack not created on resume")
	}
	if _, ok := taskForStep(t, st, proc.ID, "label"); !ok {
		t.Error("label not created on resume")
	}
}

func TestCancelProcess(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)
	pick := mustStep(t, st, proc.ID, "pick")

	got, err := eng.CancelProcess(context.Background(), asUser("ops"), proc.ID, "customer withdrew")
	if err != nil {
		t.Fatalf("CancelProcess() error = %v", err)
	}
	if got.Status != model.ProcessStatusCancelled || got.Error != "customer withdrew" {
		t.Errorf("process = %q/%q", got.Status, got.Error)
	}

	cancelled := mustStep(t, st, proc.ID, "pick")
	if cancelled.Status != model.TaskStatusCancelled {
		t.Errorf("pick status = %q, want cancelled", cancelled.Status)
	}
	if _, err := eng.CompleteTask(context.Background(), asUser("alice"), pick.ID, nil); !model.IsCode(err, model.ErrTerminalState) {
		t.Errorf("completing cancelled task error = %v, want TERMINAL_STATE", err)
	}
	if _, err := eng.CancelProcess(context.Background(), asUser("ops"), proc.ID, "again"); !model.IsCode(err, model.ErrTerminalState) {
		t.Errorf("double cancel error = %v, want TERMINAL_STATE", err)
	}
}

func TestCreateTask_ad_hoc(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)

	adhoc, err := eng.CreateTask(context.Background(), asUser("ops"), proc.ID,
		"Call customer", "confirm address", model.PriorityHigh, manual("carol"), nil)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if !adhoc.AdHoc || adhoc.Assignee != "carol" || adhoc.Status != model.TaskStatusAssigned {
		t.Errorf("ad-hoc task = %+v", adhoc)
	}

	if _, err := eng.CreateTask(context.Background(), asUser("ops"), proc.ID, "", "", "", manual("carol"), nil); !model.IsCode(err, model.ErrValidation) {
		t.Errorf("nameless task error = %v, want VALIDATION_ERROR", err)
	}

	// Ad-hoc tasks never gate completion of the defined steps.
	work(t, eng, mustStep(t, st, proc.ID, "pick"))
	work(t, eng, mustStep(t, st, proc.ID, "pack"))
	work(t, eng, mustStep(t, st, proc.ID, "label"))
	work(t, eng, mustStep(t, st, proc.ID, "ship"))
	got, _ := eng.GetProcess(context.Background(), proc.ID)
	if got.Status != model.ProcessStatusCompleted {
		t.Errorf("process status = %q, want completed with ad-hoc task still open", got.Status)
	}

	if _, err := eng.CreateTask(context.Background(), asUser("ops"), proc.ID, "Late", "", "", manual("carol"), nil); !model.IsCode(err, model.ErrTerminalState) {
		t.Errorf("task on completed process error = %v, want TERMINAL_STATE", err)
	}
}

func TestAssignTask_resolves_routing_dead_end(t *testing.T) {
	def := model.ProcessDefinition{
		ID:      "cert-inspection",
		Name:    "Certified Inspection",
		Version: "1.0.0",
		Steps: []model.StepDefinition{
			{ID: "inspect", Name: "Inspect welds", Assignment: model.AssignmentSpec{Method: model.AssignSkillBased, Skill: "welding"}},
		},
	}
	eng, st, _ := newTestEngine(t, def)
	proc := startProcess(t, eng, def, nil)

	// Nobody in the directory has the skill: the task is created pending.
	inspect := mustStep(t, st, proc.ID, "inspect")
	if inspect.Status != model.TaskStatusPending || inspect.Assignee != "" {
		t.Fatalf("task = %q/%q, want pending and unassigned", inspect.Status, inspect.Assignee)
	}
	events, _ := st.GetEvents(context.Background(), proc.ID)
	found := false
	for _, e := range events {
		if e.Type == model.EventTaskCreated {
			_, found = e.Payload["routing_error"]
		}
	}
	if !found {
		t.Error("task.created payload missing routing_error")
	}

	assigned, err := eng.AssignTask(context.Background(), asUser("ops"), inspect.ID, manual("bob"))
	if err != nil {
		t.Fatalf("AssignTask() error = %v", err)
	}
	if assigned.Status != model.TaskStatusAssigned || assigned.Assignee != "bob" {
		t.Errorf("task = %q/%q, want assigned/bob", assigned.Status, assigned.Assignee)
	}

	if _, err := eng.AssignTask(context.Background(), asUser("ops"), inspect.ID, manual("alice")); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("assigning a non-pending task error = %v, want INVALID_TRANSITION", err)
	}
}

func TestReassignTask(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)
	pick := mustStep(t, st, proc.ID, "pick")

	got, err := eng.ReassignTask(context.Background(), asUser("sup-1", "supervisor"), pick.ID, "bob", "alice on leave")
	if err != nil {
		t.Fatalf("ReassignTask() error = %v", err)
	}
	if got.Assignee != "bob" || got.Status != model.TaskStatusAssigned {
		t.Errorf("task = %q/%q, want assigned/bob", got.Status, got.Assignee)
	}

	history, err := st.FindAssignments(context.Background(), pick.ID)
	if err != nil {
		t.Fatalf("FindAssignments() error = %v", err)
	}
	active := 0
	for _, a := range history {
		if a.Active {
			active++
			if a.Assignee != "bob" {
				t.Errorf("active assignment holder = %q, want bob", a.Assignee)
			}
		}
	}
	if len(history) != 2 || active != 1 {
		t.Errorf("history len=%d active=%d, want 2/1", len(history), active)
	}
	if n := eventCount(t, st, proc.ID, model.EventAssignmentReassigned); n != 1 {
		t.Errorf("assignment.reassigned count = %d, want 1", n)
	}

	if _, err := eng.ReassignTask(context.Background(), asUser("sup-1", "supervisor"), pick.ID, "dave", ""); !model.IsCode(err, model.ErrNoEligibleAssignee) {
		t.Errorf("unknown assignee error = %v, want NO_ELIGIBLE_ASSIGNEE", err)
	}
}

func TestSLA_metrics_lifecycle(t *testing.T) {
	def := model.ProcessDefinition{
		ID:        "priority-support",
		Name:      "Priority Support",
		Version:   "1.0.0",
		SLATarget: "1h",
		Steps: []model.StepDefinition{
			{ID: "respond", Name: "First response", SLATarget: "30m", Assignment: manual("alice")},
		},
	}
	eng, st, _ := newTestEngine(t, def)
	proc := startProcess(t, eng, def, nil)

	metrics, err := st.FindSLAMetrics(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("FindSLAMetrics() error = %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("got %d metrics, want process + task", len(metrics))
	}
	for _, m := range metrics {
		if m.Status != model.SLAStatusOnTrack {
			t.Errorf("metric %s status = %q, want on_track", m.Kind, m.Status)
		}
		if m.Deadline.IsZero() {
			t.Errorf("metric %s has no deadline", m.Kind)
		}
	}

	respond := mustStep(t, st, proc.ID, "respond")
	if respond.DueAt == nil {
		t.Error("task DueAt not set from step sla_target")
	}
	work(t, eng, respond)

	metrics, _ = st.FindSLAMetrics(context.Background(), proc.ID)
	for _, m := range metrics {
		if m.Status != model.SLAStatusMet {
			t.Errorf("metric %s status = %q, want met", m.Kind, m.Status)
		}
		if m.FinalizedAt == nil {
			t.Errorf("metric %s not finalized", m.Kind)
		}
	}
}

func TestConcurrent_sibling_completion(t *testing.T) {
	eng, st, _ := newTestEngine(t, diamondDef())
	proc := startProcess(t, eng, diamondDef(), nil)
	work(t, eng, mustStep(t, st, proc.ID, "pick"))

	pack := mustStep(t, st, proc.ID, "pack")
	label := mustStep(t, st, proc.ID, "label")
	for _, task := range []model.Task{pack, label} {
		if _, err := eng.StartTask(context.Background(), asUser(task.Assignee), task.ID); err != nil {
			t.Fatalf("StartTask(%s) error = %v", task.StepID, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, task := range []model.Task{pack, label} {
		wg.Add(1)
		go func(task model.Task) {
			defer wg.Done()
			_, err := eng.CompleteTask(context.Background(), asUser(task.Assignee), task.ID, nil)
			errs <- err
		}(task)
	}
	wg.Wait()
	close(errs)

	// A racer may surface CONFLICT after exhausting its retries; any other
	// error is a real failure.
	for err := range errs {
		if err != nil && !model.IsCode(err, model.ErrConflict) {
			t.Fatalf("CompleteTask() error = %v", err)
		}
	}

	// Both completions stick regardless of who won the advance race.
	for _, stepID := range []string{"pack", "label"} {
		if task := mustStep(t, st, proc.ID, stepID); task.Status != model.TaskStatusCompleted {
			t.Errorf("%s status = %q, want completed", stepID, task.Status)
		}
	}

	// The deterministic step task ID makes duplicate creation impossible.
	tasks, _ := st.FindTasks(context.Background(), store.TaskFilters{ProcessID: proc.ID, Status: ""})
	ships := 0
	for _, task := range tasks {
		if task.StepID == "ship" {
			ships++
		}
	}
	if ships > 1 {
		t.Fatalf("ship task created %d times", ships)
	}
}

func TestStepTaskID_stable(t *testing.T) {
	a := stepTaskID("p1", "s1")
	if a != stepTaskID("p1", "s1") {
		t.Error("same inputs produced different IDs")
	}
	if a == stepTaskID("p1", "s2") || a == stepTaskID("p2", "s1") {
		t.Error("different inputs produced the same ID")
	}
}

func TestEvaluateCondition(t *testing.T) {
	bctx := map[string]any{"region": "eu", "amount": 250}
	tests := []struct {
		condition string
		want      bool
	}{
		{"context.region == 'eu'", true},
		{"context.region == 'us'", false},
		{"context.region != 'us'", true},
		{"region == eu", true},
		{"context.amount == '250'", true},
		{"context.missing == 'x'", false},
		{"context.missing != 'x'", true},
		{"not a condition", true},
		{"", true},
	}
	for _, tt := range tests {
		if got := evaluateCondition(tt.condition, bctx); got != tt.want {
			t.Errorf("evaluateCondition(%q) = %v, want %v", tt.condition, got, tt.want)
		}
	}
}
