package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-io/leadline/internal/wire"
)

// PGCredentialStore persists transport pairing state, one row per tenant.
type PGCredentialStore struct {
	db *sql.DB
}

func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

func (s *PGCredentialStore) Load(ctx context.Context, tenantID string) (*wire.Credentials, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT credentials FROM transport_credentials WHERE tenant_id = $1`, tenantID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	var creds wire.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if !creds.IsValid() {
		return nil, nil
	}
	return &creds, nil
}

func (s *PGCredentialStore) Save(ctx context.Context, tenantID string, creds *wire.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transport_credentials (id, tenant_id, credentials, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   credentials = EXCLUDED.credentials, updated_at = EXCLUDED.updated_at`,
		uuid.Must(uuid.NewV7()), tenantID, data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *PGCredentialStore) Purge(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transport_credentials WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("purge credentials: %w", err)
	}
	return nil
}
