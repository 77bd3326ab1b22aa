package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelrelay/pixelrelay-backend/pkg/types"
)

// MatchQualityLog is the append-only audit row written once per scored event,
// regardless of the admission outcome. Never mutated.
type MatchQualityLog struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index"`

	HasEmail           bool `gorm:"not null;default:false"`
	HasPhone           bool `gorm:"not null;default:false"`
	HasFirstName       bool `gorm:"not null;default:false"`
	HasLastName        bool `gorm:"not null;default:false"`
	HasGender          bool `gorm:"not null;default:false"`
	HasBirthDate       bool `gorm:"not null;default:false"`
	HasCity            bool `gorm:"not null;default:false"`
	HasState           bool `gorm:"not null;default:false"`
	HasZip             bool `gorm:"not null;default:false"`
	HasCountry         bool `gorm:"not null;default:false"`
	HasExternalID      bool `gorm:"not null;default:false"`
	HasClientIP        bool `gorm:"not null;default:false"`
	HasClientUserAgent bool `gorm:"not null;default:false"`
	HasClickID         bool `gorm:"not null;default:false"`
	HasBrowserID       bool `gorm:"not null;default:false"`
	HasSubscriptionID  bool `gorm:"not null;default:false"`
	HasLoginID         bool `gorm:"not null;default:false"`
	HasLeadID          bool `gorm:"not null;default:false"`

	Score              int               `gorm:"not null"`
	PreEnrichmentScore int               `gorm:"not null"`
	Enriched           bool              `gorm:"not null;default:false"`
	EnrichmentSources  types.StringArray `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;default:now()"`
}
