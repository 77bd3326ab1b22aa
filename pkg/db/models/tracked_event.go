package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
)

// TrackedEvent is one admission/delivery unit. The admission pipeline fixes
// every field at creation time; afterwards only Status, AttemptCount,
// NextAttemptAt, SentAt, DeliveryResponse, TraceID and ErrorMessage are
// touched, and only by the delivery worker (or an operator retry reset).
type TrackedEvent struct {
	ID                 uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SurfaceID          uuid.UUID          `gorm:"type:uuid;not null;index"`
	ExternalEventID    *string            `gorm:"type:text"`
	EventName          enums.EventName    `gorm:"type:text;not null"`
	CustomEventName    *string            `gorm:"type:text"`
	ActionSource       enums.ActionSource `gorm:"type:action_source;not null"`
	SourceURL          string             `gorm:"type:text;not null"`
	EventTime          time.Time          `gorm:"type:timestamptz;not null"`
	IdentityCiphertext []byte             `gorm:"type:bytea;not null"`
	CustomData         json.RawMessage    `gorm:"type:jsonb"`
	MatchQualityScore  int                `gorm:"not null;default:0"`
	Status             enums.EventStatus  `gorm:"type:event_status;not null;default:'pending';index"`
	DeliveryResponse   json.RawMessage    `gorm:"type:jsonb"`
	TraceID            *string            `gorm:"type:text"`
	ErrorMessage       *string            `gorm:"type:text"`
	AttemptCount       int                `gorm:"not null;default:0"`
	NextAttemptAt      *time.Time         `gorm:"type:timestamptz;index"`
	SentAt             *time.Time         `gorm:"type:timestamptz"`
	CreatedAt          time.Time          `gorm:"type:timestamptz;default:now()"`
}
