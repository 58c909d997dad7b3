package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/config"
	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/engine"
	"github.com/Chunkys0up7/Atoms-sub002/internal/eventbus"
	"github.com/Chunkys0up7/Atoms-sub002/internal/idempotency"
	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
	"github.com/Chunkys0up7/Atoms-sub002/internal/router"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// fakeAuth injects claims from test headers instead of verifying a JWT.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := map[string]any{
			"sub": r.Header.Get("X-Test-Sub"),
		}
		if roles := r.Header.Get("X-Test-Roles"); roles != "" {
			var rs []any
			for _, role := range strings.Split(roles, ",") {
				rs = append(rs, role)
			}
			claims["roles"] = rs
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// twoStepDef is a review -> ship pipeline with manual assignment.
func twoStepDef() model.ProcessDefinition {
	return model.ProcessDefinition{
		ID:      "claim-handling",
		Name:    "Claim Handling",
		Version: "1.0.0",
		Steps: []model.StepDefinition{
			{ID: "review", Name: "Review claim", Assignment: model.AssignmentSpec{
				Method: model.AssignManual, Assignee: "alice",
			}},
			{ID: "ship", Name: "Ship decision", DependsOn: []string{"review"}, Assignment: model.AssignmentSpec{
				Method: model.AssignManual, Assignee: "bob",
			}},
		},
	}
}

func newTestServer(t *testing.T, idem idempotency.Store) (*httptest.Server, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	dir, err := router.NewDirectory("testdata/assignees.yaml")
	if err != nil {
		t.Fatalf("NewDirectory() error = %v", err)
	}
	reg := definition.NewRegistry([]model.ProcessDefinition{twoStepDef()}, nil)
	bus := eventbus.New(zap.NewNop(), 16, 100)
	t.Cleanup(func() { bus.Close() })

	eng := engine.New(reg, st, router.New(dir, st), bus, zap.NewNop())

	cfg := config.Defaults()
	cfg.Idempotency.Store.DefaultTTL = time.Hour

	r := NewRouter(Dependencies{
		Config:       cfg,
		Logger:       zap.NewNop(),
		Engine:       eng,
		Registry:     reg,
		Bus:          bus,
		Idempotency:  idem,
		Authenticate: fakeAuth,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return true },
			EngineStore:       st,
		},
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

// do issues a request as the given subject and decodes the JSON response.
func do(t *testing.T, srv *httptest.Server, method, path, sub string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	} else if method == http.MethodPost {
		buf.WriteString("{}")
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Sub", sub)

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error == nil {
		t.Fatal("expected an error envelope")
	}
	return body.Error.Code
}

func TestRouter_healthAndReadiness(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", resp.StatusCode)
	}
}

func TestRouter_metricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestRouter_processLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Start a process.
	var proc model.ProcessInstance
	resp := do(t, srv, http.MethodPost, "/api/v1/processes", "initiator", map[string]any{
		"definition_id": "claim-handling",
		"business_key":  "claim-77",
		"priority":      model.PriorityHigh,
	}, &proc)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	if proc.Status != model.ProcessStatusRunning {
		t.Fatalf("process status = %q, want running", proc.Status)
	}

	// The root task should be visible and assigned to alice.
	var list struct {
		Data []model.Task `json:"data"`
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/tasks?process_id="+proc.ID, "initiator", nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status = %d", resp.StatusCode)
	}
	if len(list.Data) != 1 {
		t.Fatalf("got %d tasks, want 1", len(list.Data))
	}
	review := list.Data[0]
	if review.StepID != "review" || review.Assignee != "alice" {
		t.Fatalf("root task = %+v", review)
	}

	// Work the review task as alice.
	var task model.Task
	resp = do(t, srv, http.MethodPost, "/api/v1/tasks/"+review.ID+"/start", "alice", nil, &task)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start task status = %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/api/v1/tasks/"+review.ID+"/complete", "alice", map[string]any{
		"output": map[string]any{"approved": true},
	}, &task)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete task status = %d", resp.StatusCode)
	}
	if task.Status != model.TaskStatusCompleted {
		t.Errorf("task status = %q, want completed", task.Status)
	}

	// Completion should have unlocked the dependent ship task.
	resp = do(t, srv, http.MethodGet, "/api/v1/tasks?process_id="+proc.ID+"&status="+model.TaskStatusAssigned, "initiator", nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status = %d", resp.StatusCode)
	}
	if len(list.Data) != 1 || list.Data[0].StepID != "ship" {
		t.Fatalf("assigned tasks = %+v, want just ship", list.Data)
	}
	ship := list.Data[0]

	// Work ship as bob; the process completes.
	do(t, srv, http.MethodPost, "/api/v1/tasks/"+ship.ID+"/start", "bob", nil, nil)
	resp = do(t, srv, http.MethodPost, "/api/v1/tasks/"+ship.ID+"/complete", "bob", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete ship status = %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/processes/"+proc.ID, "initiator", nil, &proc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get process status = %d", resp.StatusCode)
	}
	if proc.Status != model.ProcessStatusCompleted {
		t.Errorf("process status = %q, want completed", proc.Status)
	}

	// The audit trail is served under the process.
	var events struct {
		Data []model.ProcessEvent `json:"data"`
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/processes/"+proc.ID+"/events", "initiator", nil, &events)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}
	if len(events.Data) == 0 {
		t.Error("expected audit events")
	}
}

func TestRouter_startProcess_validation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := do(t, srv, http.MethodPost, "/api/v1/processes", "initiator", map[string]any{
		"business_key": "no-definition",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestRouter_startProcess_unknownDefinition(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := do(t, srv, http.MethodPost, "/api/v1/processes", "initiator", map[string]any{
		"definition_id": "nope",
	}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

func TestRouter_completeTask_wrongActor(t *testing.T) {
	srv, st := newTestServer(t, nil)

	var proc model.ProcessInstance
	do(t, srv, http.MethodPost, "/api/v1/processes", "initiator", map[string]any{
		"definition_id": "claim-handling",
	}, &proc)

	tasks, err := st.FindTasks(context.Background(), store.TaskFilters{ProcessID: proc.ID})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("FindTasks: %v (%d tasks)", err, len(tasks))
	}

	do(t, srv, http.MethodPost, "/api/v1/tasks/"+tasks[0].ID+"/start", "alice", nil, nil)

	// A stranger may not complete alice's task.
	resp := do(t, srv, http.MethodPost, "/api/v1/tasks/"+tasks[0].ID+"/complete", "mallory", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRouter_idempotentStartProcess(t *testing.T) {
	srv, _ := newTestServer(t, idempotency.NewMemoryStore())

	body, _ := json.Marshal(map[string]any{"definition_id": "claim-handling", "business_key": "bk-9"})

	send := func() (*http.Response, model.ProcessInstance) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/processes", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Sub", "initiator")
		req.Header.Set("X-Idempotency-Key", "start-claim-9")

		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("POST /processes: %v", err)
		}
		defer resp.Body.Close()
		var proc model.ProcessInstance
		if err := json.NewDecoder(resp.Body).Decode(&proc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp, proc
	}

	first, proc1 := send()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.StatusCode)
	}
	if first.Header.Get("X-Idempotent-Replay") != "" {
		t.Error("first request should not be a replay")
	}

	second, proc2 := send()
	if second.StatusCode != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.StatusCode)
	}
	if second.Header.Get("X-Idempotent-Replay") != "true" {
		t.Error("replay should set X-Idempotent-Replay")
	}
	if proc1.ID != proc2.ID {
		t.Errorf("replay returned a different process: %q vs %q", proc1.ID, proc2.ID)
	}
}

func TestRouter_idempotencyKeyReuse_differentBody(t *testing.T) {
	srv, _ := newTestServer(t, idempotency.NewMemoryStore())

	send := func(businessKey string) *http.Response {
		body, _ := json.Marshal(map[string]any{"definition_id": "claim-handling", "business_key": businessKey})
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/processes", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Sub", "initiator")
		req.Header.Set("X-Idempotency-Key", "shared-key")

		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("POST /processes: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := send("bk-1"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", resp.StatusCode)
	}
	resp := send("bk-2")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("reused key with new body: status = %d, want 409", resp.StatusCode)
	}
}

func TestRouter_definitions(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var list struct {
		Data []map[string]any `json:"data"`
	}
	resp := do(t, srv, http.MethodGet, "/api/v1/definitions", "viewer", nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list definitions status = %d", resp.StatusCode)
	}
	if len(list.Data) != 1 {
		t.Fatalf("got %d definitions, want 1", len(list.Data))
	}
	if list.Data[0]["id"] != "claim-handling" {
		t.Errorf("definition id = %v", list.Data[0]["id"])
	}

	var def model.ProcessDefinition
	resp = do(t, srv, http.MethodGet, "/api/v1/definitions/claim-handling", "viewer", nil, &def)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get definition status = %d", resp.StatusCode)
	}
	if len(def.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(def.Steps))
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/definitions/unknown", "viewer", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown definition status = %d, want 404", resp.StatusCode)
	}
}

func TestRouter_workloadAndRecentEvents(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	do(t, srv, http.MethodPost, "/api/v1/processes", "initiator", map[string]any{
		"definition_id": "claim-handling",
	}, nil)

	var workload struct {
		Data []model.AssigneeWorkload `json:"data"`
	}
	resp := do(t, srv, http.MethodGet, "/api/v1/workload", "supervisor", nil, &workload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("workload status = %d", resp.StatusCode)
	}

	var alice *model.AssigneeWorkload
	for i := range workload.Data {
		if workload.Data[i].Assignee == "alice" {
			alice = &workload.Data[i]
		}
	}
	if alice == nil || alice.ActiveTasks != 1 {
		t.Errorf("alice workload = %+v, want 1 active task", alice)
	}

	// The in-memory event tail is eventually populated by the bus.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var recent struct {
			Data []model.ProcessEvent `json:"data"`
		}
		resp = do(t, srv, http.MethodGet, "/api/v1/events/recent", "supervisor", nil, &recent)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("recent events status = %d", resp.StatusCode)
		}
		if len(recent.Data) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no recent events observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRouter_slaBreaches_invalidSince(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := do(t, srv, http.MethodGet, "/api/v1/sla/breaches?since=yesterday", "supervisor", nil, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestRouter_correlationIDPropagated(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/definitions", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-Test-Sub", "viewer")
	req.Header.Set("X-Correlation-Id", "corr-42")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /definitions: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("X-Correlation-Id = %q, want corr-42", got)
	}
}

func TestRouter_suspendResumeCancelOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var proc model.ProcessInstance
	do(t, srv, http.MethodPost, "/api/v1/processes", "initiator", map[string]any{
		"definition_id": "claim-handling",
	}, &proc)

	resp := do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/processes/%s/suspend", proc.ID), "supervisor", map[string]any{
		"reason": "pending documents",
	}, &proc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suspend status = %d", resp.StatusCode)
	}
	if proc.Status != model.ProcessStatusSuspended {
		t.Errorf("status = %q, want suspended", proc.Status)
	}

	// Suspending twice is an invalid transition.
	resp = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/processes/%s/suspend", proc.ID), "supervisor", map[string]any{
		"reason": "again",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("double suspend status = %d, want 422", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/processes/%s/resume", proc.ID), "supervisor", nil, &proc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}
	if proc.Status != model.ProcessStatusRunning {
		t.Errorf("status = %q, want running", proc.Status)
	}

	resp = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/processes/%s/cancel", proc.ID), "supervisor", map[string]any{
		"reason": "customer withdrew",
	}, &proc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if proc.Status != model.ProcessStatusCancelled {
		t.Errorf("status = %q, want cancelled", proc.Status)
	}

	// Cancelling a terminal process is a terminal-state conflict.
	resp = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/processes/%s/cancel", proc.ID), "supervisor", map[string]any{
		"reason": "again",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double cancel status = %d, want 409", resp.StatusCode)
	}
}
