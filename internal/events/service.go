package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/internal/profiles"
	"github.com/pixelrelay/pixelrelay-backend/internal/quality"
	"github.com/pixelrelay/pixelrelay-backend/internal/surfaces"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
	"github.com/pixelrelay/pixelrelay-backend/pkg/metrics"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
	"github.com/pixelrelay/pixelrelay-backend/pkg/types"
)

// Submitted event times may trail real time by at most this much; the
// attribution platform discards anything older.
const maxEventAge = 7 * 24 * time.Hour

type eventRepository interface {
	Create(ctx context.Context, event *models.TrackedEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.TrackedEvent, error)
	CreateQualityLog(ctx context.Context, log *models.MatchQualityLog) error
	TryClaimDedup(ctx context.Context, claim *models.EventDedupClaim) (bool, error)
	ReleaseDedupClaim(ctx context.Context, surfaceID uuid.UUID, externalEventID string, eventID uuid.UUID) error
	ResetForRetry(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type surfaceResolver interface {
	Resolve(ctx context.Context, publicID string) (*models.Surface, error)
}

// Service admits raw events into the pipeline and handles operator retries.
type Service interface {
	Track(ctx context.Context, submission Submission) (*AdmissionResult, error)
	Retry(ctx context.Context, eventID uuid.UUID) (*models.TrackedEvent, error)
	Get(ctx context.Context, eventID uuid.UUID) (*models.TrackedEvent, error)
}

// ServiceParams collects the admission pipeline's dependencies.
type ServiceParams struct {
	Repo     eventRepository
	Surfaces surfaceResolver
	Profiles profiles.Store
	Scorer   *quality.Scorer
	Codec    *security.Codec
	Config   config.PipelineConfig
	Logger   *logger.Logger
	Metrics  *metrics.PipelineMetrics
}

type service struct {
	repo     eventRepository
	surfaces surfaceResolver
	profiles profiles.Store
	scorer   *quality.Scorer
	codec    *security.Codec
	cfg      config.PipelineConfig
	log      *logger.Logger
	metrics  *metrics.PipelineMetrics
	now      func() time.Time
}

// NewService builds the admission pipeline service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("event repository required")
	}
	if params.Surfaces == nil {
		return nil, fmt.Errorf("surface resolver required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profile store required")
	}
	if params.Scorer == nil {
		return nil, fmt.Errorf("quality scorer required")
	}
	if params.Codec == nil {
		return nil, fmt.Errorf("security codec required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		surfaces: params.Surfaces,
		profiles: params.Profiles,
		scorer:   params.Scorer,
		codec:    params.Codec,
		cfg:      params.Config,
		log:      params.Logger,
		metrics:  params.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Track runs the admission pipeline. Every submission that passes validation
// produces a tracked event row and an audit log row, whatever the outcome.
func (s *service) Track(ctx context.Context, submission Submission) (*AdmissionResult, error) {
	surface, err := s.surfaces.Resolve(ctx, submission.SurfacePublicID)
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithSurfaceID(ctx, surface.PublicID)

	if submission.Origin != "" && !surfaces.AllowsOrigin(surface, submission.Origin) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "origin not allowed for this surface")
	}

	if err := validateSubmission(&submission, s.now()); err != nil {
		return nil, err
	}
	customData, err := normalizeCustomData(submission.CustomData)
	if err != nil {
		return nil, err
	}

	record := identity.Normalize(submission.UserData, submission.Request)
	preScore := s.scorer.Evaluate(record).Score

	var sources []enums.EnrichmentSource
	if s.cfg.EnrichmentEnabled {
		enriched, enrichSources, enrichErr := s.profiles.Enrich(ctx, surface.ID, submission.VisitorID, record)
		if enrichErr != nil {
			// Enrichment is best effort; the event still flows.
			s.log.Error(ctx, "profile enrichment failed", enrichErr)
		} else {
			record = enriched
			sources = enrichSources
		}
	}
	report := s.scorer.Evaluate(record)

	eventName, customName := enums.ResolveEventName(submission.EventName)
	actionSource, err := enums.ParseActionSource(submission.ActionSource)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, err.Error())
	}

	ciphertext, err := s.codec.EncryptJSON(record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt identity payload")
	}

	event := &models.TrackedEvent{
		ID:                 uuid.New(),
		SurfaceID:          surface.ID,
		EventName:          eventName,
		ActionSource:       actionSource,
		SourceURL:          submission.SourceURL,
		EventTime:          submission.EventTime,
		IdentityCiphertext: ciphertext,
		CustomData:         customData,
		MatchQualityScore:  report.Score,
	}
	if customName != "" {
		event.CustomEventName = &customName
	}
	if submission.ExternalEventID != "" {
		externalID := submission.ExternalEventID
		event.ExternalEventID = &externalID
	}
	ctx = s.log.WithEventID(ctx, event.ID.String())

	status, claimed := s.resolveStatus(ctx, event, report.Score)
	event.Status = status
	if event.Status == enums.EventStatusPending {
		next := s.now()
		event.NextAttemptAt = &next
	}

	if err := s.repo.Create(ctx, event); err != nil {
		// A claim without its event row would shadow the external id for the
		// whole dedup window; give it back so a resubmission can win.
		if claimed {
			if releaseErr := s.repo.ReleaseDedupClaim(ctx, event.SurfaceID, *event.ExternalEventID, event.ID); releaseErr != nil {
				s.log.Error(ctx, "release dedup claim failed", releaseErr)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist event")
	}
	if err := s.repo.CreateQualityLog(ctx, buildQualityLog(event.ID, report, preScore, sources)); err != nil {
		// The event is already admitted; losing the audit row is logged, not fatal.
		s.log.Error(ctx, "persist quality log failed", err)
	}

	s.absorbProfile(ctx, surface.ID, submission, record)
	s.metrics.IncAdmitted(string(event.Status))
	s.log.Info(ctx, fmt.Sprintf("event admitted as %s with score %d", event.Status, report.Score))

	return &AdmissionResult{
		Event:              event,
		Report:             report,
		PreEnrichmentScore: preScore,
		Enriched:           len(sources) > 0,
		EnrichmentSources:  sources,
	}, nil
}

// Retry resets a failed event for a fresh delivery cycle. Terminal statuses
// other than failed are conflicts, not retries.
func (s *service) Retry(ctx context.Context, eventID uuid.UUID) (*models.TrackedEvent, error) {
	event, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != enums.EventStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("event is %s; only failed events can be retried", event.Status))
	}

	reset, err := s.repo.ResetForRetry(ctx, eventID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reset event")
	}
	if !reset {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "event changed state during retry")
	}
	return s.Get(ctx, eventID)
}

// Get loads one tracked event.
func (s *service) Get(ctx context.Context, eventID uuid.UUID) (*models.TrackedEvent, error) {
	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load event")
	}
	return event, nil
}

// resolveStatus applies dedup then the quality gate. Dedup wins: a duplicate
// stays a duplicate even when it would also fail the gate. The second return
// reports whether this event now owns a dedup claim, so a failed insert can
// give the claim back.
func (s *service) resolveStatus(ctx context.Context, event *models.TrackedEvent, score int) (enums.EventStatus, bool) {
	claimed := false
	if event.ExternalEventID != nil {
		claim := &models.EventDedupClaim{
			SurfaceID:       event.SurfaceID,
			ExternalEventID: *event.ExternalEventID,
			EventID:         event.ID,
			ExpiresAt:       s.now().Add(s.cfg.DedupWindow),
		}
		winner, err := s.repo.TryClaimDedup(ctx, claim)
		if err != nil {
			// Failing open would double-send; treat an undecidable claim as a
			// duplicate and keep the row for inspection.
			s.log.Error(ctx, "dedup claim failed", err)
			return enums.EventStatusDuplicate, false
		}
		if !winner {
			return enums.EventStatusDuplicate, false
		}
		claimed = true
	}
	if score < s.cfg.MinQualityScore {
		return enums.EventStatusSkipped, claimed
	}
	return enums.EventStatusPending, claimed
}

func (s *service) absorbProfile(ctx context.Context, surfaceID uuid.UUID, submission Submission, record identity.Record) {
	if strings.TrimSpace(submission.VisitorID) == "" {
		return
	}
	_, err := s.profiles.Absorb(ctx, profiles.AbsorbInput{
		SurfaceID: surfaceID,
		VisitorID: submission.VisitorID,
		Record:    record,
		EventTime: submission.EventTime,
	})
	if err != nil {
		s.log.Error(ctx, "profile absorb failed", err)
	}
}

func validateSubmission(submission *Submission, now time.Time) error {
	if strings.TrimSpace(submission.EventName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event name is required")
	}
	if strings.TrimSpace(submission.SourceURL) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "source url is required")
	}
	if submission.EventTime.IsZero() {
		submission.EventTime = now
	}
	if submission.EventTime.Before(now.Add(-maxEventAge)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "event time is older than seven days")
	}
	if submission.EventTime.After(now.Add(10 * time.Minute)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "event time is in the future")
	}
	return nil
}

func buildQualityLog(eventID uuid.UUID, report quality.Report, preScore int, sources []enums.EnrichmentSource) *models.MatchQualityLog {
	sourceNames := make([]string, 0, len(sources))
	for _, source := range sources {
		sourceNames = append(sourceNames, string(source))
	}
	signals := report.Signals
	return &models.MatchQualityLog{
		EventID:            eventID,
		HasEmail:           signals.HasEmail,
		HasPhone:           signals.HasPhone,
		HasFirstName:       signals.HasFirstName,
		HasLastName:        signals.HasLastName,
		HasGender:          signals.HasGender,
		HasBirthDate:       signals.HasBirthDate,
		HasCity:            signals.HasCity,
		HasState:           signals.HasState,
		HasZip:             signals.HasZip,
		HasCountry:         signals.HasCountry,
		HasExternalID:      signals.HasExternalID,
		HasClientIP:        signals.HasClientIP,
		HasClientUserAgent: signals.HasClientUserAgent,
		HasClickID:         signals.HasClickID,
		HasBrowserID:       signals.HasBrowserID,
		HasSubscriptionID:  signals.HasSubscriptionID,
		HasLoginID:         signals.HasLoginID,
		HasLeadID:          signals.HasLeadID,
		Score:              report.Score,
		PreEnrichmentScore: preScore,
		Enriched:           len(sources) > 0,
		EnrichmentSources:  types.StringArray(sourceNames),
	}
}
