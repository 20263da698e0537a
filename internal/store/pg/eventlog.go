package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGEventLogStore appends operational log entries.
type PGEventLogStore struct {
	db *sql.DB
}

func NewPGEventLogStore(db *sql.DB) *PGEventLogStore {
	return &PGEventLogStore{db: db}
}

func (s *PGEventLogStore) AppendLog(ctx context.Context, tenantID, kind, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (id, tenant_id, kind, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.Must(uuid.NewV7()), tenantID, kind, detail, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}
