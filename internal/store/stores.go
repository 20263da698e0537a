// Package store defines the persistence contracts and record types for the
// leadline core. Implementations: pg (system of record) and memory (tests,
// dev runs).
package store

import (
	"context"

	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/wire"
)

// Stores is the top-level container for all storage backends, constructed at
// startup and passed to components.
type Stores struct {
	Tenants       TenantStore
	Conversations ConversationStore
	Credentials   CredentialStore
	EventLog      EventLogStore
}

// StoreConfig selects and parameterizes the backend.
type StoreConfig struct {
	PostgresDSN string
}

// TenantStore reads tenant records. Reads are optimistic; no isolation is
// assumed beyond per-row atomicity.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// ConversationStore persists conversation aggregates. Get returns (nil, nil)
// when no aggregate exists. Save replaces the whole aggregate atomically.
type ConversationStore interface {
	Get(ctx context.Context, tenantID string, id identity.Canonical) (*Conversation, error)
	Save(ctx context.Context, tenantID string, c *Conversation) error
	SaveBatch(ctx context.Context, tenantID string, cs []*Conversation) error
	List(ctx context.Context, tenantID string) ([]*Conversation, error)
}

// CredentialStore persists transport pairing state per tenant. Load returns
// (nil, nil) when no credentials are stored.
type CredentialStore interface {
	Load(ctx context.Context, tenantID string) (*wire.Credentials, error)
	Save(ctx context.Context, tenantID string, creds *wire.Credentials) error
	Purge(ctx context.Context, tenantID string) error
}

// EventLogStore appends operational log entries (connect cycles, desync
// purges, AI verdicts) for tenant-facing audit views.
type EventLogStore interface {
	AppendLog(ctx context.Context, tenantID, kind, detail string) error
}
