package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leadline-io/leadline/internal/store"
)

// PGTenantStore implements store.TenantStore on Postgres.
type PGTenantStore struct {
	db *sql.DB
}

func NewPGTenantStore(db *sql.DB) *PGTenantStore {
	return &PGTenantStore{db: db}
}

func (s *PGTenantStore) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, active, pairing_phone, auto_close, ignore_list, profile
		 FROM tenants WHERE id = $1`, id)

	t := &store.Tenant{ID: id}
	var ignoreJSON []byte
	err := row.Scan(&t.Name, &t.Active, &t.PairingPhone, &t.AutoClose, &ignoreJSON, &t.Profile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if len(ignoreJSON) > 0 {
		if err := json.Unmarshal(ignoreJSON, &t.IgnoreList); err != nil {
			return nil, fmt.Errorf("decode ignore list: %w", err)
		}
	}
	return t, nil
}

func (s *PGTenantStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	return nil
}
