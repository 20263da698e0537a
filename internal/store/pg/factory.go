// Package pg implements the store contracts on Postgres via the pgx stdlib
// driver. Schema is managed by golang-migrate (see migrations/).
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/leadline-io/leadline/internal/store"
)

// OpenDB opens a pooled Postgres handle.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPGStores creates all stores backed by Postgres.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Tenants:       NewPGTenantStore(db),
		Conversations: NewPGConversationStore(db),
		Credentials:   NewPGCredentialStore(db),
		EventLog:      NewPGEventLogStore(db),
	}, nil
}
