package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
)

// CORS applies the intake origin policy. Tracking snippets run in browsers,
// so an empty allow list falls back to permitting any origin; per-surface
// domain checks still apply at admission time.
func CORS(cfg config.IntakeConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Api-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
