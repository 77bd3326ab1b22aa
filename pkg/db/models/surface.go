package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelrelay/pixelrelay-backend/pkg/types"
)

// Surface is a configured tracking destination (external pixel + credential).
// Rows are managed by the admin surface; the core only ever reads them. The
// delivery credential is stored encrypted and decrypted at delivery time only.
type Surface struct {
	ID                   uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PublicID             string            `gorm:"type:text;not null;uniqueIndex"`
	Name                 string            `gorm:"type:text;not null"`
	CredentialCiphertext []byte            `gorm:"type:bytea;not null"`
	TestToken            *string           `gorm:"type:text"`
	AllowedDomains       types.StringArray `gorm:"type:jsonb"`
	Active               bool              `gorm:"not null;default:true"`
	CreatedAt            time.Time         `gorm:"type:timestamptz;default:now()"`
	UpdatedAt            time.Time         `gorm:"type:timestamptz;default:now()"`
}
