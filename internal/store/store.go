// ABOUTME: Store interface and data types for strand-gateway persistence
// ABOUTME: Defines ModelMapping, Credential structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ModelMapping binds a logical model key to a concrete upstream target.
// The logical key is what clients send; it survives vendor model renames.
type ModelMapping struct {
	LogicalKey    string
	Dialect       string // wire protocol family, e.g. "openai-chat"
	VendorModelID string
	CredentialRef string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Credential holds upstream access material referenced by mappings.
// ExpiresAt nil means no expiry. Offline marks the endpoint administratively
// unavailable without deactivating its mappings.
type Credential struct {
	Ref       string
	APIKey    string
	BaseURL   string
	ExpiresAt *time.Time
	Offline   bool
	UpdatedAt time.Time
}

// Expired reports whether the credential has an expiry in the past.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Store is the persistence interface for the model-mapping table — the only
// state the gateway reads from durable storage.
type Store interface {
	ListMappings(ctx context.Context) ([]*ModelMapping, error)
	GetMapping(ctx context.Context, logicalKey string) (*ModelMapping, error)
	UpsertMapping(ctx context.Context, m *ModelMapping) error
	DeleteMapping(ctx context.Context, logicalKey string) error

	ListCredentials(ctx context.Context) ([]*Credential, error)
	GetCredential(ctx context.Context, ref string) (*Credential, error)
	UpsertCredential(ctx context.Context, c *Credential) error

	Ping(ctx context.Context) error
	Close() error
}
