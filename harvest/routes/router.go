// harvest/routes/router.go
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"harvest/harvest/agents/protocols"
	"harvest/harvest/controllers"
	"harvest/harvest/middlewares"
)

// shortTimeout bounds the routes that never run an agent.
const shortTimeout = 60 * time.Second

type RouterConfig struct {
	Token    string
	Registry *protocols.Registry
	Extract  *controllers.ExtractController
	// Metrics defaults to the Prometheus default registry.
	Metrics http.Handler
}

// NewRouter builds the service router. Every route requires the API token.
// Extraction routes carry no request timeout; their runs are bounded by the
// orchestrator.
func NewRouter(cfg RouterConfig) chi.Router {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogging)
	r.Use(middleware.Recoverer)

	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.TokenAuth(cfg.Token))

		gr.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(shortTimeout))
			HealthRoutes(short, controllers.NewHealthController())
			ProtocolRoutes(short, controllers.NewProtocolsController(cfg.Registry))
			short.Method(http.MethodGet, "/metrics", metrics)
		})

		ExtractRoutes(gr, cfg.Extract, cfg.Registry)
	})
	return r
}
