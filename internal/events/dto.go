package events

import (
	"encoding/json"
	"time"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/internal/quality"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
)

// Submission is a validated raw event handed to the admission pipeline.
type Submission struct {
	SurfacePublicID string
	Origin          string
	EventName       string
	ActionSource    string
	SourceURL       string
	ExternalEventID string
	EventTime       time.Time
	VisitorID       string
	UserData        map[string]any
	CustomData      json.RawMessage
	Request         identity.RequestContext
}

// AdmissionResult is the outcome of admitting one event. The event's status
// is already resolved to pending, duplicate, or skipped.
type AdmissionResult struct {
	Event              *models.TrackedEvent
	Report             quality.Report
	PreEnrichmentScore int
	Enriched           bool
	EnrichmentSources  []enums.EnrichmentSource
}
