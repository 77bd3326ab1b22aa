package surfaces

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/repo"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
)

// Repository handles surface persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to surface operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create persists a new surface row.
func (r *Repository) Create(ctx context.Context, surface *models.Surface) error {
	if surface == nil {
		return fmt.Errorf("surface is required")
	}
	return r.DB(ctx).Create(surface).Error
}

// FindByID loads a surface by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Surface, error) {
	var surface models.Surface
	if err := r.DB(ctx).Where("id = ?", id).First(&surface).Error; err != nil {
		return nil, err
	}
	return &surface, nil
}

// FindActiveByPublicID loads an active surface by the public identifier
// clients embed in tracking snippets.
func (r *Repository) FindActiveByPublicID(ctx context.Context, publicID string) (*models.Surface, error) {
	var surface models.Surface
	if err := r.DB(ctx).
		Where("public_id = ? AND active = ?", publicID, true).
		First(&surface).Error; err != nil {
		return nil, err
	}
	return &surface, nil
}

// Update saves the provided surface.
func (r *Repository) Update(ctx context.Context, surface *models.Surface) error {
	if surface == nil {
		return fmt.Errorf("surface is required")
	}
	return r.DB(ctx).Save(surface).Error
}
