package controllers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelrelay/pixelrelay-backend/api/responses"
	"github.com/pixelrelay/pixelrelay-backend/api/validators"
	"github.com/pixelrelay/pixelrelay-backend/internal/events"
	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
)

type EventsController struct {
	service events.Service
	log     *logger.Logger
}

func NewEventsController(service events.Service, logg *logger.Logger) *EventsController {
	return &EventsController{service: service, log: logg}
}

type trackRequest struct {
	SurfaceID       string          `json:"surface_id" validate:"required"`
	EventName       string          `json:"event_name" validate:"required,max=120"`
	ActionSource    string          `json:"action_source"`
	SourceURL       string          `json:"source_url" validate:"required,url"`
	ExternalEventID string          `json:"external_event_id"`
	EventTime       int64           `json:"event_time"`
	VisitorID       string          `json:"visitor_id"`
	UserData        map[string]any  `json:"user_data"`
	CustomData      json.RawMessage `json:"custom_data"`
	ClickID         string          `json:"fbc"`
	BrowserID       string          `json:"fbp"`
}

type trackResponse struct {
	EventID           string   `json:"event_id"`
	Status            string   `json:"status"`
	MatchQualityScore int      `json:"match_quality_score"`
	MatchQualityScale int      `json:"match_quality_scale"`
	QualityTier       string   `json:"quality_tier"`
	MeetsTarget       bool     `json:"meets_target"`
	Enriched          bool     `json:"enriched"`
	Recommendations   []string `json:"recommendations,omitempty"`
}

type eventResponse struct {
	EventID           string  `json:"event_id"`
	Status            string  `json:"status"`
	EventName         string  `json:"event_name"`
	MatchQualityScore int     `json:"match_quality_score"`
	AttemptCount      int     `json:"attempt_count"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	SentAt            *int64  `json:"sent_at,omitempty"`
	NextAttemptAt     *int64  `json:"next_attempt_at,omitempty"`
}

func (c *EventsController) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.log, w, err)
		return
	}

	var eventTime time.Time
	if req.EventTime > 0 {
		eventTime = time.Unix(req.EventTime, 0).UTC()
	}

	result, err := c.service.Track(r.Context(), events.Submission{
		SurfacePublicID: req.SurfaceID,
		Origin:          r.Header.Get("Origin"),
		EventName:       req.EventName,
		ActionSource:    req.ActionSource,
		SourceURL:       req.SourceURL,
		ExternalEventID: req.ExternalEventID,
		EventTime:       eventTime,
		VisitorID:       req.VisitorID,
		UserData:        req.UserData,
		CustomData:      req.CustomData,
		Request: identity.RequestContext{
			ClientIP:        clientIP(r),
			ClientUserAgent: r.UserAgent(),
			ClickID:         req.ClickID,
			BrowserID:       req.BrowserID,
		},
	})
	if err != nil {
		responses.WriteError(r.Context(), c.log, w, err)
		return
	}

	responses.WriteSuccessStatus(w, http.StatusAccepted, trackResponse{
		EventID:           result.Event.ID.String(),
		Status:            string(result.Event.Status),
		MatchQualityScore: result.Report.Score,
		MatchQualityScale: result.Report.ExternalScale,
		QualityTier:       string(result.Report.Tier),
		MeetsTarget:       result.Report.MeetsTarget,
		Enriched:          result.Enriched,
		Recommendations:   result.Report.Recommendations,
	})
}

func (c *EventsController) Get(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseEventID(r)
	if err != nil {
		responses.WriteError(r.Context(), c.log, w, err)
		return
	}

	event, err := c.service.Get(r.Context(), eventID)
	if err != nil {
		responses.WriteError(r.Context(), c.log, w, err)
		return
	}

	responses.WriteSuccess(w, buildEventResponse(event))
}

func (c *EventsController) Retry(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseEventID(r)
	if err != nil {
		responses.WriteError(r.Context(), c.log, w, err)
		return
	}

	event, err := c.service.Retry(r.Context(), eventID)
	if err != nil {
		responses.WriteError(r.Context(), c.log, w, err)
		return
	}

	responses.WriteSuccess(w, buildEventResponse(event))
}

func parseEventID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "eventID")
	eventID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid event id")
	}
	return eventID, nil
}

func buildEventResponse(event *models.TrackedEvent) eventResponse {
	resp := eventResponse{
		EventID:           event.ID.String(),
		Status:            string(event.Status),
		EventName:         string(event.EventName),
		MatchQualityScore: event.MatchQualityScore,
		AttemptCount:      event.AttemptCount,
		ErrorMessage:      event.ErrorMessage,
	}
	if event.SentAt != nil {
		sent := event.SentAt.Unix()
		resp.SentAt = &sent
	}
	if event.NextAttemptAt != nil {
		next := event.NextAttemptAt.Unix()
		resp.NextAttemptAt = &next
	}
	return resp
}

// clientIP prefers the first X-Forwarded-For hop so deployments behind a
// proxy still attribute the browser's address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
