package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/store"
)

// PGConversationStore implements store.ConversationStore on Postgres.
// Aggregates are written whole: one row per conversation with the message
// list as JSONB, so a Save is atomic per aggregate.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

func (s *PGConversationStore) Get(ctx context.Context, tenantID string, id identity.Canonical) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT display_name, status, messages, is_bot_active, is_muted, is_test,
		        tags, suggested_replies, last_activity, first_message_at
		 FROM conversations WHERE tenant_id = $1 AND identity = $2`,
		tenantID, string(id),
	)

	c := &store.Conversation{ID: id}
	var messagesJSON, tagsJSON, repliesJSON []byte
	var status string
	err := row.Scan(&c.DisplayName, &status, &messagesJSON, &c.IsBotActive, &c.IsMuted,
		&c.IsTest, &tagsJSON, &repliesJSON, &c.LastActivity, &c.FirstMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	c.Status = store.Status(status)
	if err := json.Unmarshal(messagesJSON, &c.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &c.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(repliesJSON) > 0 {
		if err := json.Unmarshal(repliesJSON, &c.SuggestedReplies); err != nil {
			return nil, fmt.Errorf("decode suggested replies: %w", err)
		}
	}
	return c, nil
}

func (s *PGConversationStore) Save(ctx context.Context, tenantID string, c *store.Conversation) error {
	return s.save(ctx, s.db, tenantID, c)
}

func (s *PGConversationStore) SaveBatch(ctx context.Context, tenantID string, cs []*store.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save batch: %w", err)
	}
	defer tx.Rollback()

	for _, c := range cs {
		if err := s.save(ctx, tx, tenantID, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PGConversationStore) save(ctx context.Context, ex execer, tenantID string, c *store.Conversation) error {
	messagesJSON, err := json.Marshal(orEmptyMessages(c.Messages))
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	tagsJSON, _ := json.Marshal(orEmpty(c.Tags))
	repliesJSON, _ := json.Marshal(orEmpty(c.SuggestedReplies))

	_, err = ex.ExecContext(ctx,
		`INSERT INTO conversations
		   (id, tenant_id, identity, display_name, status, messages, is_bot_active,
		    is_muted, is_test, tags, suggested_replies, last_activity, first_message_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (tenant_id, identity) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   status = EXCLUDED.status,
		   messages = EXCLUDED.messages,
		   is_bot_active = EXCLUDED.is_bot_active,
		   is_muted = EXCLUDED.is_muted,
		   is_test = EXCLUDED.is_test,
		   tags = EXCLUDED.tags,
		   suggested_replies = EXCLUDED.suggested_replies,
		   last_activity = EXCLUDED.last_activity,
		   first_message_at = EXCLUDED.first_message_at,
		   updated_at = EXCLUDED.updated_at`,
		uuid.Must(uuid.NewV7()), tenantID, string(c.ID), c.DisplayName, string(c.Status),
		messagesJSON, c.IsBotActive, c.IsMuted, c.IsTest, tagsJSON, repliesJSON,
		c.LastActivity, c.FirstMessageAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *PGConversationStore) List(ctx context.Context, tenantID string) ([]*store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, display_name, status, messages, is_bot_active, is_muted, is_test,
		        tags, suggested_replies, last_activity, first_message_at
		 FROM conversations WHERE tenant_id = $1 ORDER BY last_activity DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		c := &store.Conversation{}
		var id, status string
		var messagesJSON, tagsJSON, repliesJSON []byte
		if err := rows.Scan(&id, &c.DisplayName, &status, &messagesJSON, &c.IsBotActive,
			&c.IsMuted, &c.IsTest, &tagsJSON, &repliesJSON, &c.LastActivity, &c.FirstMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.ID = identity.Canonical(id)
		c.Status = store.Status(status)
		if err := json.Unmarshal(messagesJSON, &c.Messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		_ = json.Unmarshal(tagsJSON, &c.Tags)
		_ = json.Unmarshal(repliesJSON, &c.SuggestedReplies)
		out = append(out, c)
	}
	return out, rows.Err()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMessages(m []store.Message) []store.Message {
	if m == nil {
		return []store.Message{}
	}
	return m
}
