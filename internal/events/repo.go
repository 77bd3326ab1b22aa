package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/repo"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
)

// Repository handles tracked event, dedup claim, and quality log persistence.
// Status mutations are guarded by the current status so a lost race becomes a
// zero-row update instead of a double transition.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to event operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create persists a new tracked event row.
func (r *Repository) Create(ctx context.Context, event *models.TrackedEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	return r.DB(ctx).Create(event).Error
}

// FindByID loads a tracked event by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TrackedEvent, error) {
	var event models.TrackedEvent
	if err := r.DB(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateQualityLog appends one audit row. Audit rows are never updated.
func (r *Repository) CreateQualityLog(ctx context.Context, log *models.MatchQualityLog) error {
	if log == nil {
		return fmt.Errorf("quality log is required")
	}
	return r.DB(ctx).Create(log).Error
}

// TryClaimDedup atomically claims the (surface, external event id) pair for
// the trailing dedup window. The primary key makes concurrent claims race
// through the database; a losing insert falls back to stealing an expired
// claim. Returns true when this event owns the pair.
func (r *Repository) TryClaimDedup(ctx context.Context, claim *models.EventDedupClaim) (bool, error) {
	if claim == nil {
		return false, fmt.Errorf("claim is required")
	}
	err := r.DB(ctx).Create(claim).Error
	if err == nil {
		return true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return false, err
	}

	res := r.DB(ctx).Model(&models.EventDedupClaim{}).
		Where("surface_id = ? AND external_event_id = ? AND expires_at < ?",
			claim.SurfaceID, claim.ExternalEventID, time.Now().UTC()).
		Updates(map[string]any{"event_id": claim.EventID, "expires_at": claim.ExpiresAt})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseDedupClaim removes a claim, but only while the given event still
// owns it. Used when the claimed event's insert fails, so a resubmission of
// the same external id is not shadowed for the rest of the window.
func (r *Repository) ReleaseDedupClaim(ctx context.Context, surfaceID uuid.UUID, externalEventID string, eventID uuid.UUID) error {
	return r.DB(ctx).
		Where("surface_id = ? AND external_event_id = ? AND event_id = ?", surfaceID, externalEventID, eventID).
		Delete(&models.EventDedupClaim{}).Error
}

// DueForDelivery returns pending events whose next attempt is due, oldest
// first.
func (r *Repository) DueForDelivery(ctx context.Context, now time.Time, limit int) ([]models.TrackedEvent, error) {
	var events []models.TrackedEvent
	if err := r.DB(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", enums.EventStatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// MarkSent finalizes a successful delivery. The status predicate keeps a
// concurrent transition from being overwritten.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, response json.RawMessage, traceID string, sentAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":          enums.EventStatusSent,
		"sent_at":         sentAt,
		"error_message":   nil,
		"next_attempt_at": nil,
	}
	if len(response) > 0 {
		updates["delivery_response"] = response
	}
	if traceID != "" {
		updates["trace_id"] = traceID
	}
	res := r.DB(ctx).Model(&models.TrackedEvent{}).
		Where("id = ? AND status = ?", id, enums.EventStatusPending).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ScheduleRetry records a failed attempt that still has budget left.
func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, attemptCount int, errMsg string, nextAttemptAt time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.TrackedEvent{}).
		Where("id = ? AND status = ?", id, enums.EventStatusPending).
		Updates(map[string]any{
			"attempt_count":   attemptCount,
			"error_message":   errMsg,
			"next_attempt_at": nextAttemptAt,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkFailed finalizes an event whose attempts are exhausted or whose error
// is terminal.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, attemptCount int, errMsg string) (bool, error) {
	res := r.DB(ctx).Model(&models.TrackedEvent{}).
		Where("id = ? AND status = ?", id, enums.EventStatusPending).
		Updates(map[string]any{
			"status":          enums.EventStatusFailed,
			"attempt_count":   attemptCount,
			"error_message":   errMsg,
			"next_attempt_at": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// ResetForRetry moves a failed event back to pending with a fresh attempt
// budget. Only failed events qualify.
func (r *Repository) ResetForRetry(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.TrackedEvent{}).
		Where("id = ? AND status = ?", id, enums.EventStatusFailed).
		Updates(map[string]any{
			"status":          enums.EventStatusPending,
			"attempt_count":   0,
			"error_message":   nil,
			"next_attempt_at": now,
		})
	return res.RowsAffected == 1, res.Error
}
