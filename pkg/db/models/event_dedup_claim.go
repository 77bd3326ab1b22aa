package models

import (
	"time"

	"github.com/google/uuid"
)

// EventDedupClaim enforces at-most-one eligible event per
// (surface, external event id) within the trailing dedup window. The composite
// primary key makes the check-and-insert atomic: a conflicting insert against
// an unexpired claim marks the incoming event as a duplicate.
type EventDedupClaim struct {
	SurfaceID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalEventID string    `gorm:"type:text;primaryKey"`
	EventID         uuid.UUID `gorm:"type:uuid;not null"`
	ExpiresAt       time.Time `gorm:"type:timestamptz;not null"`
}
