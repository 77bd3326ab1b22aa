package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/pixelrelay/pixelrelay-backend/api/responses"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	db    pinger
	redis pinger
	log   *logger.Logger
}

func NewHealthController(db, redis pinger, logg *logger.Logger) *HealthController {
	return &HealthController{db: db, redis: redis, log: logg}
}

func (c *HealthController) Live(w http.ResponseWriter, r *http.Request) {
	responses.WriteSuccess(w, map[string]string{"status": "ok"})
}

func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"db": "ok", "redis": "ok"}
	healthy := true

	if c.db == nil {
		checks["db"] = "not configured"
		healthy = false
	} else if err := c.db.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	}

	if c.redis == nil {
		checks["redis"] = "not configured"
		healthy = false
	} else if err := c.redis.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		if c.log != nil {
			c.log.Warn(r.Context(), "health.not_ready")
		}
		responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, checks)
		return
	}
	responses.WriteSuccess(w, checks)
}
