package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/internal/quality"
	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
)

type profileRepository interface {
	FindByVisitor(ctx context.Context, surfaceID *uuid.UUID, visitorID string) (*models.Profile, error)
	FindByExternalID(ctx context.Context, surfaceID *uuid.UUID, externalID string) (*models.Profile, error)
	FindByEmailHash(ctx context.Context, surfaceID *uuid.UUID, emailHash string) (*models.Profile, error)
	FindByPhoneHash(ctx context.Context, surfaceID *uuid.UUID, phoneHash string) (*models.Profile, error)
	Create(ctx context.Context, profile *models.Profile) error
	Save(ctx context.Context, profile *models.Profile) error
}

// Store exposes profile enrichment and accumulation.
type Store interface {
	Enrich(ctx context.Context, surfaceID uuid.UUID, visitorID string, record identity.Record) (identity.Record, []enums.EnrichmentSource, error)
	Absorb(ctx context.Context, input AbsorbInput) (*models.Profile, error)
}

// AbsorbInput carries one admitted event's identity into the profile store.
type AbsorbInput struct {
	SurfaceID uuid.UUID
	VisitorID string
	Record    identity.Record
	EventTime time.Time
}

type store struct {
	repo         profileRepository
	scorer       *quality.Scorer
	crossSurface bool
}

// NewStore builds the profile store.
func NewStore(repo profileRepository, scorer *quality.Scorer, cfg config.PipelineConfig) (Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("profile repository required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("quality scorer required")
	}
	return &store{repo: repo, scorer: scorer, crossSurface: cfg.CrossSurfaceMatching}, nil
}

// Country calling prefixes recognized for inference, longest first so "44"
// wins over "1" never being reached for non-NANP numbers.
var phonePrefixCountries = []struct {
	prefix  string
	country string
}{
	{"44", "gb"}, {"49", "de"}, {"33", "fr"}, {"34", "es"}, {"39", "it"},
	{"52", "mx"}, {"55", "br"}, {"61", "au"}, {"81", "jp"}, {"86", "cn"},
	{"91", "in"}, {"1", "us"},
}

// Enrich fills the record's missing fields from the best-matching stored
// profile and infers country from the phone prefix. Explicit values are never
// overwritten. Returns the enriched record with the sources that contributed.
func (s *store) Enrich(ctx context.Context, surfaceID uuid.UUID, visitorID string, record identity.Record) (identity.Record, []enums.EnrichmentSource, error) {
	var sources []enums.EnrichmentSource

	profile, err := s.bestMatch(ctx, surfaceID, visitorID, record)
	if err != nil {
		return record, nil, err
	}
	if profile != nil && mergeFromProfile(&record, profile) {
		sources = append(sources, enums.EnrichmentSourceProfile)
	}

	if record.Country == "" {
		if country := countryFromPhone(record.PhoneDigits); country != "" {
			record.Country = identity.Hash(country)
			sources = append(sources, enums.EnrichmentSourcePhonePrefix)
		}
	}

	return record, sources, nil
}

// Absorb folds an admitted event's identity into the visitor's profile,
// creating it on first contact. Scalars are last-writer-wins, the email and
// phone sets grow by union, and the stored score is recomputed over the
// merged identity. Concurrent first contacts are resolved through the unique
// (surface, visitor) index.
func (s *store) Absorb(ctx context.Context, input AbsorbInput) (*models.Profile, error) {
	if strings.TrimSpace(input.VisitorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "visitor id is required")
	}
	eventTime := input.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	profile, err := s.repo.FindByVisitor(ctx, &input.SurfaceID, input.VisitorID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load profile")
		}
		created := newProfile(input.SurfaceID, input.VisitorID, eventTime)
		applyRecord(created, input.Record)
		created.EventCount = 1
		created.MatchQualityScore = s.scorer.Evaluate(recordFromProfile(created)).Score
		if createErr := s.repo.Create(ctx, created); createErr == nil {
			return created, nil
		} else if !db.IsUniqueViolation(createErr, "idx_profiles_surface_visitor") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, createErr, "create profile")
		}
		// Lost the create race; reload and merge into the winner's row.
		profile, err = s.repo.FindByVisitor(ctx, &input.SurfaceID, input.VisitorID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload profile")
		}
	}

	applyRecord(profile, input.Record)
	profile.EventCount++
	if eventTime.After(profile.LastSeenAt) {
		profile.LastSeenAt = eventTime
	}
	if eventTime.Before(profile.FirstSeenAt) {
		profile.FirstSeenAt = eventTime
	}
	profile.MatchQualityScore = s.scorer.Evaluate(recordFromProfile(profile)).Score

	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save profile")
	}
	return profile, nil
}

// bestMatch walks the lookup ladder visitor, external ID, email, phone. Each
// rung tries the surface scope first and falls back to a cross-surface search
// when that is enabled.
func (s *store) bestMatch(ctx context.Context, surfaceID uuid.UUID, visitorID string, record identity.Record) (*models.Profile, error) {
	lookups := []func(scope *uuid.UUID) (*models.Profile, error){}
	if strings.TrimSpace(visitorID) != "" {
		lookups = append(lookups, func(scope *uuid.UUID) (*models.Profile, error) {
			return s.repo.FindByVisitor(ctx, scope, visitorID)
		})
	}
	if record.ExternalID != "" {
		lookups = append(lookups, func(scope *uuid.UUID) (*models.Profile, error) {
			return s.repo.FindByExternalID(ctx, scope, record.ExternalID)
		})
	}
	if record.Email != "" {
		lookups = append(lookups, func(scope *uuid.UUID) (*models.Profile, error) {
			return s.repo.FindByEmailHash(ctx, scope, record.Email)
		})
	}
	if record.Phone != "" {
		lookups = append(lookups, func(scope *uuid.UUID) (*models.Profile, error) {
			return s.repo.FindByPhoneHash(ctx, scope, record.Phone)
		})
	}

	for _, lookup := range lookups {
		profile, err := lookup(&surfaceID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "profile lookup")
		}
		if !s.crossSurface {
			continue
		}
		profile, err = lookup(nil)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "profile lookup")
		}
	}
	return nil, nil
}

func countryFromPhone(digits string) string {
	if digits == "" {
		return ""
	}
	for _, pc := range phonePrefixCountries {
		if strings.HasPrefix(digits, pc.prefix) && len(digits) >= len(pc.prefix)+9 {
			return pc.country
		}
	}
	return ""
}

func newProfile(surfaceID uuid.UUID, visitorID string, seenAt time.Time) *models.Profile {
	scope := surfaceID
	return &models.Profile{
		SurfaceID:   &scope,
		VisitorID:   visitorID,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
}

// mergeFromProfile fills only the record's empty fields. Reports whether
// anything was filled.
func mergeFromProfile(record *identity.Record, profile *models.Profile) bool {
	filled := false
	fill := func(dst *string, src *string) {
		if *dst == "" && src != nil && *src != "" {
			*dst = *src
			filled = true
		}
	}

	fill(&record.Email, profile.EmailHash)
	fill(&record.Phone, profile.PhoneHash)
	fill(&record.FirstName, profile.FirstNameHash)
	fill(&record.LastName, profile.LastNameHash)
	fill(&record.Gender, profile.GenderHash)
	fill(&record.BirthDate, profile.BirthDateHash)
	fill(&record.City, profile.CityHash)
	fill(&record.State, profile.StateHash)
	fill(&record.Zip, profile.ZipHash)
	fill(&record.Country, profile.CountryHash)
	fill(&record.ExternalID, profile.ExternalID)
	fill(&record.ClientIP, profile.ClientIP)
	fill(&record.ClientUserAgent, profile.ClientUserAgent)
	fill(&record.ClickID, profile.ClickID)
	fill(&record.BrowserID, profile.BrowserID)
	fill(&record.SubscriptionID, profile.SubscriptionID)
	fill(&record.LoginID, profile.LoginID)
	fill(&record.LeadID, profile.LeadID)

	if len(record.EmailAll) == 0 && len(profile.EmailAll) > 0 {
		record.EmailAll = append([]string{}, profile.EmailAll...)
		filled = true
	}
	if len(record.PhoneAll) == 0 && len(profile.PhoneAll) > 0 {
		record.PhoneAll = append([]string{}, profile.PhoneAll...)
		filled = true
	}
	return filled
}

// applyRecord writes the record's present fields over the profile and unions
// the multi-value sets.
func applyRecord(profile *models.Profile, record identity.Record) {
	set := func(dst **string, src string) {
		if src != "" {
			value := src
			*dst = &value
		}
	}

	set(&profile.EmailHash, record.Email)
	set(&profile.PhoneHash, record.Phone)
	set(&profile.FirstNameHash, record.FirstName)
	set(&profile.LastNameHash, record.LastName)
	set(&profile.GenderHash, record.Gender)
	set(&profile.BirthDateHash, record.BirthDate)
	set(&profile.CityHash, record.City)
	set(&profile.StateHash, record.State)
	set(&profile.ZipHash, record.Zip)
	set(&profile.CountryHash, record.Country)
	set(&profile.ExternalID, record.ExternalID)
	set(&profile.ClientIP, record.ClientIP)
	set(&profile.ClientUserAgent, record.ClientUserAgent)
	set(&profile.ClickID, record.ClickID)
	set(&profile.BrowserID, record.BrowserID)
	set(&profile.SubscriptionID, record.SubscriptionID)
	set(&profile.LoginID, record.LoginID)
	set(&profile.LeadID, record.LeadID)

	profile.EmailAll = profile.EmailAll.Union(record.EmailAll...)
	profile.PhoneAll = profile.PhoneAll.Union(record.PhoneAll...)
}

// recordFromProfile rebuilds an identity record from stored hashes so the
// profile score reflects the merged identity.
func recordFromProfile(profile *models.Profile) identity.Record {
	value := func(src *string) string {
		if src == nil {
			return ""
		}
		return *src
	}
	return identity.Record{
		Email:           value(profile.EmailHash),
		Phone:           value(profile.PhoneHash),
		FirstName:       value(profile.FirstNameHash),
		LastName:        value(profile.LastNameHash),
		Gender:          value(profile.GenderHash),
		BirthDate:       value(profile.BirthDateHash),
		City:            value(profile.CityHash),
		State:           value(profile.StateHash),
		Zip:             value(profile.ZipHash),
		Country:         value(profile.CountryHash),
		ExternalID:      value(profile.ExternalID),
		EmailAll:        profile.EmailAll,
		PhoneAll:        profile.PhoneAll,
		ClientIP:        value(profile.ClientIP),
		ClientUserAgent: value(profile.ClientUserAgent),
		ClickID:         value(profile.ClickID),
		BrowserID:       value(profile.BrowserID),
		SubscriptionID:  value(profile.SubscriptionID),
		LoginID:         value(profile.LoginID),
		LeadID:          value(profile.LeadID),
	}
}
