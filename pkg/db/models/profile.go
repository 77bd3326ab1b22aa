package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelrelay/pixelrelay-backend/pkg/types"
)

// Profile is the cumulative identity record for a visitor on a tracking
// surface (or globally when SurfaceID is null). Singular hashed columns hold
// the most recently observed value; EmailAll/PhoneAll accumulate the
// historical set via union. Never deleted by the core.
type Profile struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SurfaceID *uuid.UUID `gorm:"type:uuid;index:idx_profiles_surface_visitor,unique"`
	VisitorID string     `gorm:"type:text;not null;index:idx_profiles_surface_visitor,unique"`

	EmailHash     *string `gorm:"type:text;index"`
	PhoneHash     *string `gorm:"type:text;index"`
	FirstNameHash *string `gorm:"type:text"`
	LastNameHash  *string `gorm:"type:text"`
	GenderHash    *string `gorm:"type:text"`
	BirthDateHash *string `gorm:"type:text"`
	CityHash      *string `gorm:"type:text"`
	StateHash     *string `gorm:"type:text"`
	ZipHash       *string `gorm:"type:text"`
	CountryHash   *string `gorm:"type:text"`
	ExternalID    *string `gorm:"type:text;index"`

	EmailAll types.StringArray `gorm:"type:jsonb"`
	PhoneAll types.StringArray `gorm:"type:jsonb"`

	ClientIP        *string `gorm:"type:text"`
	ClientUserAgent *string `gorm:"type:text"`
	ClickID         *string `gorm:"type:text"`
	BrowserID       *string `gorm:"type:text"`
	SubscriptionID  *string `gorm:"type:text"`
	LoginID         *string `gorm:"type:text"`
	LeadID          *string `gorm:"type:text"`

	EventCount        int       `gorm:"not null;default:0"`
	MatchQualityScore int       `gorm:"not null;default:0"`
	FirstSeenAt       time.Time `gorm:"type:timestamptz;not null"`
	LastSeenAt        time.Time `gorm:"type:timestamptz;not null"`
}
