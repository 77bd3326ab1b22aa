package surfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/pixelrelay-backend/internal/delivery"
	"github.com/pixelrelay/pixelrelay-backend/pkg/db/models"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
	"github.com/pixelrelay/pixelrelay-backend/pkg/security"
	"github.com/pixelrelay/pixelrelay-backend/pkg/types"
)

type surfaceRepository interface {
	Create(ctx context.Context, surface *models.Surface) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Surface, error)
	FindActiveByPublicID(ctx context.Context, publicID string) (*models.Surface, error)
	Update(ctx context.Context, surface *models.Surface) error
}

// Service resolves surfaces and their destination credentials.
type Service interface {
	Resolve(ctx context.Context, publicID string) (*models.Surface, error)
	Credential(ctx context.Context, surfaceID uuid.UUID) (delivery.Credential, error)
	Provision(ctx context.Context, input ProvisionInput) (*models.Surface, error)
	Deactivate(ctx context.Context, publicID string) (*models.Surface, error)
}

// ProvisionInput holds the data needed to register a new surface.
type ProvisionInput struct {
	Name           string
	PublicID       string
	Credential     delivery.Credential
	AllowedDomains []string
}

type service struct {
	repo  surfaceRepository
	codec *security.Codec
}

// NewService builds a surface service with the provided repository and codec.
func NewService(repo surfaceRepository, codec *security.Codec) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("surface repository required")
	}
	if codec == nil {
		return nil, fmt.Errorf("security codec required")
	}
	return &service{repo: repo, codec: codec}, nil
}

// Resolve loads the active surface behind a public identifier.
func (s *service) Resolve(ctx context.Context, publicID string) (*models.Surface, error) {
	cleaned := strings.TrimSpace(publicID)
	if cleaned == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "surface id is required")
	}
	surface, err := s.repo.FindActiveByPublicID(ctx, cleaned)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeSurfaceNotFound, "unknown or inactive surface")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve surface")
	}
	return surface, nil
}

// Credential decrypts the destination credential for a surface.
func (s *service) Credential(ctx context.Context, surfaceID uuid.UUID) (delivery.Credential, error) {
	surface, err := s.repo.FindByID(ctx, surfaceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return delivery.Credential{}, pkgerrors.New(pkgerrors.CodeSurfaceNotFound, "unknown surface")
		}
		return delivery.Credential{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load surface")
	}

	var cred delivery.Credential
	if err := s.codec.DecryptJSON(surface.CredentialCiphertext, &cred); err != nil {
		return delivery.Credential{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrypt surface credential")
	}
	if surface.TestToken != nil {
		cred.TestToken = *surface.TestToken
	}
	return cred, nil
}

// Provision registers a new surface with its credential encrypted at rest.
func (s *service) Provision(ctx context.Context, input ProvisionInput) (*models.Surface, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "surface name is required")
	}
	if strings.TrimSpace(input.PublicID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "surface public id is required")
	}
	if input.Credential.DatasetID == "" || input.Credential.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "surface credential is incomplete")
	}

	ciphertext, err := s.codec.EncryptJSON(input.Credential)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encrypt surface credential")
	}

	surface := &models.Surface{
		PublicID:             strings.TrimSpace(input.PublicID),
		Name:                 strings.TrimSpace(input.Name),
		CredentialCiphertext: ciphertext,
		AllowedDomains:       types.StringArray(input.AllowedDomains),
		Active:               true,
	}
	if err := s.repo.Create(ctx, surface); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create surface")
	}
	return surface, nil
}

// Deactivate turns a surface off. Events for it stop resolving immediately;
// the row stays for audit.
func (s *service) Deactivate(ctx context.Context, publicID string) (*models.Surface, error) {
	surface, err := s.Resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}
	surface.Active = false
	if err := s.repo.Update(ctx, surface); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate surface")
	}
	return surface, nil
}

// AllowsOrigin reports whether an Origin header is acceptable for a surface.
// An empty allow list admits every origin.
func AllowsOrigin(surface *models.Surface, origin string) bool {
	if surface == nil {
		return false
	}
	if len(surface.AllowedDomains) == 0 {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range surface.AllowedDomains {
		cleaned := strings.ToLower(strings.TrimSpace(domain))
		if cleaned == "" {
			continue
		}
		if host == cleaned || strings.HasSuffix(host, "."+cleaned) {
			return true
		}
	}
	return false
}
