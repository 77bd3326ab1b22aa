package profiles

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/repo"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
)

// Repository handles profile persistence. Lookup methods take an optional
// surface scope; a nil surface searches across every surface ordered by
// recency, which backs cross-surface matching.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to profile operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) scoped(ctx context.Context, surfaceID *uuid.UUID) *gorm.DB {
	query := r.DB(ctx)
	if surfaceID != nil {
		return query.Where("surface_id = ?", *surfaceID)
	}
	return query.Order("last_seen_at DESC")
}

// FindByVisitor loads a profile by visitor ID.
func (r *Repository) FindByVisitor(ctx context.Context, surfaceID *uuid.UUID, visitorID string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.scoped(ctx, surfaceID).
		Where("visitor_id = ?", visitorID).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByExternalID loads a profile by hashed external ID.
func (r *Repository) FindByExternalID(ctx context.Context, surfaceID *uuid.UUID, externalID string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.scoped(ctx, surfaceID).
		Where("external_id = ?", externalID).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByEmailHash loads a profile by primary email hash.
func (r *Repository) FindByEmailHash(ctx context.Context, surfaceID *uuid.UUID, emailHash string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.scoped(ctx, surfaceID).
		Where("email_hash = ?", emailHash).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByPhoneHash loads a profile by primary phone hash.
func (r *Repository) FindByPhoneHash(ctx context.Context, surfaceID *uuid.UUID, phoneHash string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.scoped(ctx, surfaceID).
		Where("phone_hash = ?", phoneHash).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// Create persists a new profile row.
func (r *Repository) Create(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	return r.DB(ctx).Create(profile).Error
}

// Save writes back an updated profile.
func (r *Repository) Save(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	return r.DB(ctx).Save(profile).Error
}
