package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/internal/quality"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
)

type fakeProfileRepo struct {
	profiles []*models.Profile
}

func (f *fakeProfileRepo) match(surfaceID *uuid.UUID, pred func(*models.Profile) bool) (*models.Profile, error) {
	for _, p := range f.profiles {
		if surfaceID != nil && (p.SurfaceID == nil || *p.SurfaceID != *surfaceID) {
			continue
		}
		if pred(p) {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProfileRepo) FindByVisitor(_ context.Context, surfaceID *uuid.UUID, visitorID string) (*models.Profile, error) {
	return f.match(surfaceID, func(p *models.Profile) bool { return p.VisitorID == visitorID })
}

func (f *fakeProfileRepo) FindByExternalID(_ context.Context, surfaceID *uuid.UUID, externalID string) (*models.Profile, error) {
	return f.match(surfaceID, func(p *models.Profile) bool {
		return p.ExternalID != nil && *p.ExternalID == externalID
	})
}

func (f *fakeProfileRepo) FindByEmailHash(_ context.Context, surfaceID *uuid.UUID, emailHash string) (*models.Profile, error) {
	return f.match(surfaceID, func(p *models.Profile) bool {
		return p.EmailHash != nil && *p.EmailHash == emailHash
	})
}

func (f *fakeProfileRepo) FindByPhoneHash(_ context.Context, surfaceID *uuid.UUID, phoneHash string) (*models.Profile, error) {
	return f.match(surfaceID, func(p *models.Profile) bool {
		return p.PhoneHash != nil && *p.PhoneHash == phoneHash
	})
}

func (f *fakeProfileRepo) Create(_ context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	f.profiles = append(f.profiles, profile)
	return nil
}

func (f *fakeProfileRepo) Save(_ context.Context, _ *models.Profile) error {
	return nil
}

func newTestStore(t *testing.T, repo profileRepository, crossSurface bool) Store {
	t.Helper()
	store, err := NewStore(repo, quality.NewScorer(8), config.PipelineConfig{CrossSurfaceMatching: crossSurface})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func strPtr(s string) *string { return &s }

func TestEnrichFillsOnlyMissingFields(t *testing.T) {
	surfaceID := uuid.New()
	repo := &fakeProfileRepo{profiles: []*models.Profile{{
		SurfaceID: &surfaceID,
		VisitorID: "v1",
		EmailHash: strPtr("stored-email"),
		PhoneHash: strPtr("stored-phone"),
		CityHash:  strPtr("stored-city"),
	}}}
	store := newTestStore(t, repo, false)

	record, sources, err := store.Enrich(context.Background(), surfaceID, "v1", identity.Record{
		Email: "request-email",
	})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if record.Email != "request-email" {
		t.Errorf("explicit email overwritten: %s", record.Email)
	}
	if record.Phone != "stored-phone" || record.City != "stored-city" {
		t.Errorf("missing fields not filled: %+v", record)
	}
	if len(sources) != 1 || sources[0] != enums.EnrichmentSourceProfile {
		t.Errorf("sources = %v, want [profile]", sources)
	}
}

func TestEnrichRaisesScoreWithStoredPhone(t *testing.T) {
	surfaceID := uuid.New()
	repo := &fakeProfileRepo{profiles: []*models.Profile{{
		SurfaceID: &surfaceID,
		VisitorID: "v1",
		PhoneHash: strPtr("stored-phone"),
	}}}
	store := newTestStore(t, repo, false)
	scorer := quality.NewScorer(8)

	incoming := identity.Record{Email: "email-hash"}
	if score := scorer.Evaluate(incoming).Score; score != 30 {
		t.Fatalf("pre-enrichment score = %d, want 30", score)
	}

	enriched, _, err := store.Enrich(context.Background(), surfaceID, "v1", incoming)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if score := scorer.Evaluate(enriched).Score; score != 55 {
		t.Errorf("post-enrichment score = %d, want 55", score)
	}
}

func TestEnrichNoMatchLeavesRecordUntouched(t *testing.T) {
	store := newTestStore(t, &fakeProfileRepo{}, false)

	incoming := identity.Record{Email: "email-hash"}
	record, sources, err := store.Enrich(context.Background(), uuid.New(), "v-unknown", incoming)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if record.Email != incoming.Email || record.Phone != "" {
		t.Errorf("record changed without a match: %+v", record)
	}
	if len(sources) != 0 {
		t.Errorf("sources = %v, want none", sources)
	}
}

func TestEnrichPhonePrefixCountry(t *testing.T) {
	store := newTestStore(t, &fakeProfileRepo{}, false)

	record, sources, err := store.Enrich(context.Background(), uuid.New(), "v1", identity.Record{
		Phone:       "phone-hash",
		PhoneDigits: "447911123456",
	})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if record.Country != identity.Hash("gb") {
		t.Errorf("country = %s, want hash of gb", record.Country)
	}
	if len(sources) != 1 || sources[0] != enums.EnrichmentSourcePhonePrefix {
		t.Errorf("sources = %v, want [phone_prefix]", sources)
	}

	// Explicit country wins over inference.
	record, sources, err = store.Enrich(context.Background(), uuid.New(), "v1", identity.Record{
		Country:     "explicit",
		PhoneDigits: "447911123456",
	})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if record.Country != "explicit" || len(sources) != 0 {
		t.Errorf("explicit country overwritten: %+v %v", record.Country, sources)
	}
}

func TestEnrichCrossSurfaceFallback(t *testing.T) {
	otherSurface := uuid.New()
	repo := &fakeProfileRepo{profiles: []*models.Profile{{
		SurfaceID: &otherSurface,
		VisitorID: "v1",
		PhoneHash: strPtr("stored-phone"),
	}}}

	scoped := newTestStore(t, repo, false)
	record, _, err := scoped.Enrich(context.Background(), uuid.New(), "v1", identity.Record{})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if record.Phone != "" {
		t.Error("surface-scoped store should not match another surface's profile")
	}

	global := newTestStore(t, repo, true)
	record, _, err = global.Enrich(context.Background(), uuid.New(), "v1", identity.Record{})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if record.Phone != "stored-phone" {
		t.Error("cross-surface store should fall back to the global match")
	}
}

func TestAbsorbAccumulatesAcrossEvents(t *testing.T) {
	surfaceID := uuid.New()
	repo := &fakeProfileRepo{}
	store := newTestStore(t, repo, false)
	now := time.Now().UTC()

	first, err := store.Absorb(context.Background(), AbsorbInput{
		SurfaceID: surfaceID,
		VisitorID: "v1",
		Record:    identity.Record{Email: "email-hash", EmailAll: []string{"email-hash"}},
		EventTime: now,
	})
	if err != nil {
		t.Fatalf("absorb first: %v", err)
	}
	if first.EventCount != 1 || first.MatchQualityScore != 30 {
		t.Fatalf("first event: count=%d score=%d, want 1/30", first.EventCount, first.MatchQualityScore)
	}

	second, err := store.Absorb(context.Background(), AbsorbInput{
		SurfaceID: surfaceID,
		VisitorID: "v1",
		Record:    identity.Record{Phone: "phone-hash", PhoneAll: []string{"phone-hash"}},
		EventTime: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("absorb second: %v", err)
	}
	if second.EventCount != 2 {
		t.Errorf("event count = %d, want 2", second.EventCount)
	}
	if second.MatchQualityScore != 55 {
		t.Errorf("merged score = %d, want 55", second.MatchQualityScore)
	}
	if second.EmailHash == nil || *second.EmailHash != "email-hash" {
		t.Error("earlier email lost during merge")
	}
	if !second.LastSeenAt.After(first.FirstSeenAt) {
		t.Error("last seen should advance")
	}
}
