package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/config"
	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/engine"
	"github.com/Chunkys0up7/Atoms-sub002/internal/eventbus"
	"github.com/Chunkys0up7/Atoms-sub002/internal/idempotency"
	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Engine       *engine.Engine
	Registry     *definition.Registry
	Bus          *eventbus.Bus
	Metrics      *observability.Metrics
	Idempotency  idempotency.Store
	Authenticate func(http.Handler) http.Handler
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	idemTTL := deps.Config.Idempotency.Store.DefaultTTL
	idem := func(operation string, h http.HandlerFunc) http.HandlerFunc {
		return withIdempotency(deps.Idempotency, idemTTL, deps.Logger, deps.Metrics, operation, h)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/processes", idem("processes.start", handleStartProcess(deps.Engine)))
		r.Get("/processes", handleListProcesses(deps.Engine))
		r.Get("/processes/{processID}", handleGetProcess(deps.Engine))
		r.Post("/processes/{processID}/suspend", handleSuspendProcess(deps.Engine))
		r.Post("/processes/{processID}/resume", handleResumeProcess(deps.Engine))
		r.Post("/processes/{processID}/cancel", handleCancelProcess(deps.Engine))
		r.Get("/processes/{processID}/events", handleProcessEvents(deps.Engine))
		r.Get("/processes/{processID}/sla", handleProcessSLA(deps.Engine))
		r.Post("/processes/{processID}/tasks", idem("tasks.create", handleCreateTask(deps.Engine)))

		r.Get("/tasks", handleListTasks(deps.Engine))
		r.Get("/tasks/{taskID}", handleGetTask(deps.Engine))
		r.Post("/tasks/{taskID}/assign", handleAssignTask(deps.Engine))
		r.Post("/tasks/{taskID}/start", handleStartTask(deps.Engine))
		r.Post("/tasks/{taskID}/complete", idem("tasks.complete", handleCompleteTask(deps.Engine, deps.Logger)))
		r.Post("/tasks/{taskID}/fail", handleFailTask(deps.Engine))
		r.Post("/tasks/{taskID}/reassign", handleReassignTask(deps.Engine))

		r.Get("/workload", handleWorkload(deps.Engine))
		r.Get("/sla/breaches", handleSLABreaches(deps.Engine))
		r.Get("/definitions", handleListDefinitions(deps.Registry))
		r.Get("/definitions/{definitionID}", handleGetDefinition(deps.Registry))
		if deps.Bus != nil {
			r.Get("/events/recent", handleRecentEvents(deps.Bus))
		}
	})

	return r
}
