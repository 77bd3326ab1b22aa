package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelrelay/pixelrelay-backend/api/controllers"
	"github.com/pixelrelay/pixelrelay-backend/api/middleware"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
)

// Params collects everything the HTTP router needs.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	Events   *controllers.EventsController
	Health   *controllers.HealthController
	Registry *prometheus.Registry
}

func New(params Params) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID(params.Logger))
	r.Use(middleware.Logging(params.Logger))
	r.Use(middleware.Recoverer(params.Logger))
	r.Use(middleware.CORS(params.Config.Intake))

	r.Get("/health/live", params.Health.Live)
	r.Get("/health/ready", params.Health.Ready)

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(params.Config.Intake, params.Logger))

		r.Route("/events", func(r chi.Router) {
			r.Post("/", params.Events.Track)
			r.Get("/{eventID}", params.Events.Get)
			r.Post("/{eventID}/retry", params.Events.Retry)
		})
	})

	return r
}
