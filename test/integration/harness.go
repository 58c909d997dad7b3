// Package integration provides a reusable test harness for end-to-end
// testing of the workflow engine server. It starts a full HTTP server with
// an in-memory store, a live event bus, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
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
	"github.com/Chunkys0up7/Atoms-sub002/internal/transport"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// TestHarness encapsulates a fully wired engine instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry         *definition.Registry
	Store            *store.MemoryStore
	Bus              *eventbus.Bus
	Engine           *engine.Engine
	IdempotencyStore *idempotency.MemoryStore

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs     []string
	rulesFile          string
	directoryFile      string
	idempotencyEnabled bool
	handlerTimeout     time.Duration
}

// WithDefinitions sets the definition directories to load. Relative paths are
// resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithRulesFile sets the escalation rules YAML file.
func WithRulesFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.rulesFile = path
	}
}

// WithDirectoryFile sets the assignee directory YAML file.
func WithDirectoryFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.directoryFile = path
	}
}

// WithIdempotency enables idempotency checking with an in-memory store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotencyEnabled = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full engine test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	td := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(td, "definitions")}
	}
	if hc.directoryFile == "" {
		hc.directoryFile = filepath.Join(td, "assignees.yaml")
	}

	h := &TestHarness{t: t}
	logger := zap.NewNop()

	// Step 1: Load and validate definitions.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}
	rules, err := loader.LoadRules(hc.rulesFile)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	h.Registry = definition.NewRegistry(defs, rules)

	// Step 2: In-memory store and event bus.
	h.Store = store.NewMemoryStore()
	h.Bus = eventbus.New(logger, 16, 100)
	t.Cleanup(func() { h.Bus.Close() })

	// Step 3: Routing over the assignee directory.
	dir, err := router.NewDirectory(hc.directoryFile)
	if err != nil {
		t.Fatalf("load assignee directory: %v", err)
	}
	taskRouter := router.New(dir, h.Store)

	// Step 4: Engine.
	h.Engine = engine.New(h.Registry, h.Store, taskRouter, h.Bus, logger)

	// Step 5: JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 6: Config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		JWKSURL:    h.issuer.JWKSURL(),
		Algorithms: []string{"RS256"},
		ClaimPaths: map[string]string{
			"subject_id": "sub",
			"email":      "email",
			"roles":      "roles",
			"teams":      "teams",
		},
	}
	h.cfg.Idempotency.Store.DefaultTTL = time.Hour
	h.cfg.Observability.Metrics.Enabled = false

	var idemStore idempotency.Store
	if hc.idempotencyEnabled {
		h.IdempotencyStore = idempotency.NewMemoryStore()
		idemStore = h.IdempotencyStore
	}

	// Step 7: HTTP router with the full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, logger)

	handler := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Engine:       h.Engine,
		Registry:     h.Registry,
		Bus:          h.Bus,
		Idempotency:  idemStore,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return h.Registry.Count() > 0 },
			EngineStore:       h.Store,
		},
	})

	// Step 8: Start the test server.
	h.server = httptest.NewServer(handler)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// TokenFor creates a token for a plain assignee with no roles.
func (h *TestHarness) TokenFor(subjectID string) string {
	return h.issuer.GenerateToken(TestClaims{
		SubjectID: subjectID,
		Email:     subjectID + "@acme.example.com",
	})
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// ErrorCode extracts the error envelope code from a non-2xx response.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.ParseJSON(resp, &body)
	if body.Error == nil {
		h.t.Fatal("response has no error envelope")
	}
	return body.Error.Code
}

// Tasks lists the stored tasks for a process, ordered as the store returns
// them. Bypasses HTTP for test setup and assertions.
func (h *TestHarness) Tasks(processID string) []model.Task {
	h.t.Helper()
	tasks, err := h.Store.FindTasks(context.Background(), store.TaskFilters{ProcessID: processID})
	if err != nil {
		h.t.Fatalf("find tasks: %v", err)
	}
	return tasks
}

// OpenTask returns the single open task on a step, failing if it is absent.
func (h *TestHarness) OpenTask(processID, stepID string) model.Task {
	h.t.Helper()
	for _, task := range h.Tasks(processID) {
		if task.StepID == stepID && !task.IsTerminal() {
			return task
		}
	}
	h.t.Fatalf("no open task for step %q in process %q", stepID, processID)
	return model.Task{}
}

// WorkTask starts and completes a task as its current assignee.
func (h *TestHarness) WorkTask(t *testing.T, task model.Task, output map[string]any) {
	t.Helper()
	token := h.TokenFor(task.Assignee)

	resp := h.POST(fmt.Sprintf("/api/v1/tasks/%s/start", task.ID), nil, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.POST(fmt.Sprintf("/api/v1/tasks/%s/complete", task.ID), map[string]any{"output": output}, token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// --- Default test claims ---

// SupervisorClaims returns TestClaims for a supervisor user.
func SupervisorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-supervisor",
		Email:     "supervisor@acme.example.com",
		Roles:     []string{"supervisor"},
		Teams:     []string{"fulfillment"},
	}
}

// InitiatorClaims returns TestClaims for a process initiator with no
// special roles.
func InitiatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-initiator",
		Email:     "initiator@acme.example.com",
		Teams:     []string{"fulfillment"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
