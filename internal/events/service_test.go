package events

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/internal/profiles"
	"github.com/pixelrelay/pixelrelay-backend/internal/quality"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
	"github.com/pixelrelay/pixelrelay-backend/pkg/logger"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
	"github.com/pixelrelay/pixelrelay-backend/pkg/types"
)

type fakeEventRepo struct {
	events    map[uuid.UUID]*models.TrackedEvent
	logs      []*models.MatchQualityLog
	claims    map[string]*models.EventDedupClaim
	createErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		events: map[uuid.UUID]*models.TrackedEvent{},
		claims: map[string]*models.EventDedupClaim{},
	}
}

func (f *fakeEventRepo) Create(_ context.Context, event *models.TrackedEvent) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.events[event.ID] = event
	return nil
}

func (f *fakeEventRepo) FindByID(_ context.Context, id uuid.UUID) (*models.TrackedEvent, error) {
	if event, ok := f.events[id]; ok {
		return event, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeEventRepo) CreateQualityLog(_ context.Context, log *models.MatchQualityLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeEventRepo) TryClaimDedup(_ context.Context, claim *models.EventDedupClaim) (bool, error) {
	key := claim.SurfaceID.String() + "/" + claim.ExternalEventID
	if existing, ok := f.claims[key]; ok {
		if existing.ExpiresAt.After(time.Now()) {
			return false, nil
		}
	}
	f.claims[key] = claim
	return true, nil
}

func (f *fakeEventRepo) ReleaseDedupClaim(_ context.Context, surfaceID uuid.UUID, externalEventID string, eventID uuid.UUID) error {
	key := surfaceID.String() + "/" + externalEventID
	if existing, ok := f.claims[key]; ok && existing.EventID == eventID {
		delete(f.claims, key)
	}
	return nil
}

func (f *fakeEventRepo) ResetForRetry(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	event, ok := f.events[id]
	if !ok || event.Status != enums.EventStatusFailed {
		return false, nil
	}
	event.Status = enums.EventStatusPending
	event.AttemptCount = 0
	event.ErrorMessage = nil
	event.NextAttemptAt = &now
	return true, nil
}

type fakeResolver struct {
	surface *models.Surface
}

func (f *fakeResolver) Resolve(_ context.Context, publicID string) (*models.Surface, error) {
	if f.surface != nil && f.surface.PublicID == publicID {
		return f.surface, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeSurfaceNotFound, "unknown or inactive surface")
}

type fakeProfileStore struct {
	enrichWith identity.Record
	absorbed   []profiles.AbsorbInput
}

func (f *fakeProfileStore) Enrich(_ context.Context, _ uuid.UUID, _ string, record identity.Record) (identity.Record, []enums.EnrichmentSource, error) {
	if f.enrichWith.Phone != "" && record.Phone == "" {
		record.Phone = f.enrichWith.Phone
		return record, []enums.EnrichmentSource{enums.EnrichmentSourceProfile}, nil
	}
	return record, nil, nil
}

func (f *fakeProfileStore) Absorb(_ context.Context, input profiles.AbsorbInput) (*models.Profile, error) {
	f.absorbed = append(f.absorbed, input)
	return &models.Profile{}, nil
}

type fixture struct {
	service  Service
	repo     *fakeEventRepo
	profiles *fakeProfileStore
	surface  *models.Surface
}

func newFixture(t *testing.T, cfg config.PipelineConfig) *fixture {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	codec, err := security.NewCodec(config.SecurityConfig{EncryptionKey: base64.StdEncoding.EncodeToString(key)})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	surface := &models.Surface{ID: uuid.New(), PublicID: "px_main", Active: true}
	repo := newFakeEventRepo()
	store := &fakeProfileStore{}
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Surfaces: &fakeResolver{surface: surface},
		Profiles: store,
		Scorer:   quality.NewScorer(cfg.TargetScale),
		Codec:    codec,
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{service: svc, repo: repo, profiles: store, surface: surface}
}

func defaultPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		DedupWindow:       time.Hour,
		MinQualityScore:   20,
		TargetScale:       8,
		EnrichmentEnabled: true,
	}
}

func validSubmission() Submission {
	return Submission{
		SurfacePublicID: "px_main",
		EventName:       "Purchase",
		SourceURL:       "https://shop.example.com/checkout",
		VisitorID:       "v1",
		UserData:        map[string]any{"email": "a@example.com", "phone": "+1 555 123 4567"},
	}
}

func TestTrackAdmitsPendingEvent(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())

	result, err := fix.service.Track(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	event := result.Event
	if event.Status != enums.EventStatusPending {
		t.Errorf("status = %s, want pending", event.Status)
	}
	if event.NextAttemptAt == nil {
		t.Error("pending event should be scheduled immediately")
	}
	if event.MatchQualityScore != 55 {
		t.Errorf("score = %d, want 55", event.MatchQualityScore)
	}
	if len(event.IdentityCiphertext) == 0 {
		t.Error("identity should be stored encrypted")
	}
	if len(fix.repo.logs) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(fix.repo.logs))
	}
	if len(fix.profiles.absorbed) != 1 {
		t.Errorf("profile absorbed %d times, want 1", len(fix.profiles.absorbed))
	}
}

func TestTrackDedupPair(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	submission := validSubmission()
	submission.ExternalEventID = "order-42"

	first, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("first track: %v", err)
	}
	second, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("second track: %v", err)
	}

	if first.Event.Status != enums.EventStatusPending {
		t.Errorf("first status = %s, want pending", first.Event.Status)
	}
	if second.Event.Status != enums.EventStatusDuplicate {
		t.Errorf("second status = %s, want duplicate", second.Event.Status)
	}
	if second.Event.NextAttemptAt != nil {
		t.Error("duplicate must not be scheduled for delivery")
	}
	// Both submissions persist rows and audit logs.
	if len(fix.repo.events) != 2 || len(fix.repo.logs) != 2 {
		t.Errorf("rows=%d logs=%d, want 2/2", len(fix.repo.events), len(fix.repo.logs))
	}
}

func TestTrackFailedInsertReleasesDedupClaim(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	submission := validSubmission()
	submission.ExternalEventID = "order-42"

	fix.repo.createErr = gorm.ErrInvalidTransaction
	if _, err := fix.service.Track(context.Background(), submission); err == nil {
		t.Fatal("track should surface the insert failure")
	}
	if len(fix.repo.claims) != 0 {
		t.Fatal("claim must be released when the event row never lands")
	}

	// The resubmission is not a duplicate of an event that was never stored.
	fix.repo.createErr = nil
	result, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if result.Event.Status != enums.EventStatusPending {
		t.Errorf("resubmission status = %s, want pending", result.Event.Status)
	}
}

func TestTrackQualityGateSkips(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	submission := validSubmission()
	submission.UserData = map[string]any{"gender": "f"}

	result, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if result.Event.Status != enums.EventStatusSkipped {
		t.Errorf("status = %s, want skipped", result.Event.Status)
	}
	if result.Event.NextAttemptAt != nil {
		t.Error("skipped event must not be scheduled")
	}
	if len(fix.repo.logs) != 1 {
		t.Error("skipped event still gets an audit row")
	}
	if len(fix.profiles.absorbed) != 1 {
		t.Error("skipped event still updates the profile")
	}
}

func TestTrackEnrichmentRaisesScoreAboveGate(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	fix.profiles.enrichWith = identity.Record{Phone: "stored-phone"}
	submission := validSubmission()
	// Client IP alone scores 4, below the gate of 20.
	submission.UserData = map[string]any{}
	submission.Request = identity.RequestContext{ClientIP: "203.0.113.9"}

	result, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if result.Event.Status != enums.EventStatusPending {
		t.Errorf("status = %s, want pending after enrichment", result.Event.Status)
	}
	if !result.Enriched {
		t.Error("result should be marked enriched")
	}
	if result.PreEnrichmentScore >= result.Report.Score {
		t.Errorf("pre %d should be below post %d", result.PreEnrichmentScore, result.Report.Score)
	}
}

func TestTrackUnknownSurface(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	submission := validSubmission()
	submission.SurfacePublicID = "px_other"

	_, err := fix.service.Track(context.Background(), submission)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeSurfaceNotFound {
		t.Fatalf("expected surface-not-found, got %v", err)
	}
	if len(fix.repo.events) != 0 || len(fix.repo.logs) != 0 {
		t.Error("nothing should persist for an unknown surface")
	}
}

func TestTrackValidation(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())

	noName := validSubmission()
	noName.EventName = ""
	if _, err := fix.service.Track(context.Background(), noName); pkgerrors.As(err) == nil {
		t.Error("missing event name should fail validation")
	}

	stale := validSubmission()
	stale.EventTime = time.Now().Add(-8 * 24 * time.Hour)
	if _, err := fix.service.Track(context.Background(), stale); pkgerrors.As(err) == nil {
		t.Error("stale event time should fail validation")
	}

	badSource := validSubmission()
	badSource.ActionSource = "carrier_pigeon"
	if _, err := fix.service.Track(context.Background(), badSource); pkgerrors.As(err) == nil {
		t.Error("unknown action source should fail validation")
	}
}

func TestTrackCustomEventName(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	submission := validSubmission()
	submission.EventName = "newsletter_signup"

	result, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if result.Event.EventName != enums.EventNameCustom {
		t.Errorf("event name = %s, want Custom", result.Event.EventName)
	}
	if result.Event.CustomEventName == nil || *result.Event.CustomEventName != "newsletter_signup" {
		t.Error("raw custom name should be preserved")
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	result, err := fix.service.Track(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	eventID := result.Event.ID

	_, err = fix.service.Retry(context.Background(), eventID)
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("retry of pending event should conflict, got %v", err)
	}

	attempts := 3
	msg := "transport: connection refused"
	fix.repo.events[eventID].Status = enums.EventStatusFailed
	fix.repo.events[eventID].AttemptCount = attempts
	fix.repo.events[eventID].ErrorMessage = &msg

	retried, err := fix.service.Retry(context.Background(), eventID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != enums.EventStatusPending {
		t.Errorf("status = %s, want pending", retried.Status)
	}
	if retried.AttemptCount != 0 {
		t.Errorf("attempt count = %d, want 0", retried.AttemptCount)
	}
	if retried.ErrorMessage != nil {
		t.Error("error message should be cleared")
	}
	if retried.NextAttemptAt == nil {
		t.Error("retried event should be scheduled immediately")
	}
}

func TestRetryUnknownEvent(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	_, err := fix.service.Retry(context.Background(), uuid.New())
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestTrackOriginAllowList(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())
	fix.surface.AllowedDomains = types.StringArray{"shop.example.com"}

	submission := validSubmission()
	submission.Origin = "https://shop.example.com"
	if _, err := fix.service.Track(context.Background(), submission); err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}

	submission = validSubmission()
	submission.Origin = "https://evil.example.net"
	_, err := fix.service.Track(context.Background(), submission)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for disallowed origin, got %v", err)
	}

	submission = validSubmission()
	if _, err := fix.service.Track(context.Background(), submission); err != nil {
		t.Fatalf("server-side submission without origin rejected: %v", err)
	}
}

func TestTrackCustomDataValueNormalized(t *testing.T) {
	fix := newFixture(t, defaultPipelineConfig())

	submission := validSubmission()
	submission.CustomData = json.RawMessage(`{"value": 19.90, "currency": "USD"}`)
	result, err := fix.service.Track(context.Background(), submission)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(result.Event.CustomData, &data); err != nil {
		t.Fatalf("decode custom data: %v", err)
	}
	if data["value"] != "19.9" || data["currency"] != "usd" {
		t.Fatalf("custom data not canonicalized: %v", data)
	}

	submission = validSubmission()
	submission.CustomData = json.RawMessage(`{"value": -1}`)
	_, err = fix.service.Track(context.Background(), submission)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for negative value, got %v", err)
	}
}
