package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/bus"
	"github.com/docuflow/waypoint/internal/config"
	"github.com/docuflow/waypoint/internal/engine"
	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/internal/rewrite"
	"github.com/docuflow/waypoint/internal/router"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Engine       *engine.Engine
	TaskRouter   *router.TaskRouter
	Rewrite      *rewrite.Engine
	Rules        *rewrite.RuleStore
	Bus          *bus.EventBus
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health and metrics endpoints bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady)
	if deps.Metrics != nil && deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, deps.Metrics.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	processes := NewProcessHandler(deps.Engine)
	tasks := NewTaskHandler(deps.Engine, deps.TaskRouter)
	journeys := NewJourneyHandler(deps.Rewrite, deps.Rules)
	events := NewEventHandler(deps.Bus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.HTTPMiddleware)
		}

		r.Route("/processes", func(r chi.Router) {
			r.Post("/", processes.Start)
			r.Get("/{processID}", processes.Get)
			r.Post("/{processID}/status", processes.UpdateStatus)
			r.Post("/{processID}/suspend", processes.Suspend)
			r.Post("/{processID}/resume", processes.Resume)
			r.Post("/{processID}/cancel", processes.Cancel)
			r.Get("/{processID}/events", processes.Events)
			r.Get("/{processID}/tasks", processes.Tasks)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", tasks.Create)
			r.Get("/{taskID}", tasks.Get)
			r.Post("/{taskID}/assign", tasks.Assign)
			r.Post("/{taskID}/route", tasks.Route)
			r.Post("/{taskID}/reassign", tasks.Reassign)
			r.Get("/{taskID}/assignments", tasks.Assignments)
			r.Post("/{taskID}/start", tasks.Start)
			r.Post("/{taskID}/complete", tasks.Complete)
			r.Post("/{taskID}/fail", tasks.Fail)
		})

		r.Post("/journeys/evaluate", journeys.Evaluate)
		r.Get("/rules", journeys.Rules)
		r.Post("/rules/reload", journeys.ReloadRules)
		r.Get("/events", events.History)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
