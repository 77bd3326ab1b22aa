package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/pixelrelay/pixelrelay-backend/api/responses"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
)

const apiKeyHeader = "X-Api-Key"

// APIKey gates the intake endpoints with a constant-time key comparison.
func APIKey(cfg config.IntakeConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(apiKeyHeader)
			if provided == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.APIKey)) != 1 {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "missing or invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
