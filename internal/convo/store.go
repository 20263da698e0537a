// Package convo owns conversation aggregates: idempotent message append,
// status transitions and the shadow-mode merge of AI verdicts. All writes go
// through here so the aggregate invariants hold no matter who calls.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/store"
)

// TagHumanTouch marks conversations a human operator has stepped into.
const TagHumanTouch = "human-touch"

// messageIDNamespace seeds deterministic message id derivation for transports
// that deliver without an id. Retried deliveries derive the same id and get
// deduplicated on append.
var messageIDNamespace = uuid.MustParse("7f1c3af2-9b5e-4d71-a2c8-5f0e6b9d4a11")

// DeriveMessageID computes a stable id from the message content when the
// transport did not provide one.
func DeriveMessageID(id identity.Canonical, msg store.Message) string {
	seed := fmt.Sprintf("%s|%s|%s|%d", id, msg.Text, msg.Sender, msg.Timestamp.UnixMilli())
	return uuid.NewSHA1(messageIDNamespace, []byte(seed)).String()
}

// RosterItem is a bare contact from roster sync.
type RosterItem struct {
	ID          identity.Canonical
	DisplayName string
}

// Store applies aggregate rules on top of a persistence backend. Reads are
// optimistic: no isolation beyond per-aggregate atomic writes is assumed.
type Store struct {
	conversations store.ConversationStore
	now           func() time.Time
}

func NewStore(conversations store.ConversationStore) *Store {
	return &Store{conversations: conversations, now: time.Now}
}

// Get returns the aggregate or nil when none exists.
func (s *Store) Get(ctx context.Context, tenantID string, id identity.Canonical) (*store.Conversation, error) {
	return s.conversations.Get(ctx, tenantID, id)
}

// List returns all aggregates for a tenant, most recently active first.
func (s *Store) List(ctx context.Context, tenantID string) ([]*store.Conversation, error) {
	return s.conversations.List(ctx, tenantID)
}

// Append adds one message to a conversation, creating the aggregate on first
// contact. Idempotent by message id: a duplicate leaves count and order
// untouched. The message list is re-sorted by timestamp after every
// successful append.
func (s *Store) Append(ctx context.Context, tenantID string, id identity.Canonical, msg store.Message, displayName string, historical bool) (*store.Conversation, error) {
	if msg.ID == "" {
		msg.ID = DeriveMessageID(id, msg)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	c, err := s.conversations.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &store.Conversation{
			ID:             id,
			DisplayName:    displayName,
			Status:         store.StatusCold,
			FirstMessageAt: msg.Timestamp,
			LastActivity:   msg.Timestamp,
		}
	}

	for _, existing := range c.Messages {
		if existing.ID == msg.ID {
			return c, nil
		}
	}

	c.Messages = append(c.Messages, msg)
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Timestamp.Before(c.Messages[j].Timestamp)
	})

	if msg.Timestamp.After(c.LastActivity) {
		c.LastActivity = msg.Timestamp
	}
	if displayName != "" && identity.IsNumericPlaceholder(c.DisplayName) && !identity.IsNumericPlaceholder(displayName) {
		c.DisplayName = displayName
	}

	s.applyAppendEffects(c, msg, historical)

	if err := s.conversations.Save(ctx, tenantID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// applyAppendEffects runs the status side effects of one appended message.
func (s *Store) applyAppendEffects(c *store.Conversation, msg store.Message, historical bool) {
	switch msg.Sender {
	case store.SenderUser:
		if !historical && c.Status == store.StatusCold && !c.IsTest {
			c.Status = store.StatusWarm
		}
		// A returning lead reactivates the bot even if a human paused it
		// earlier; PERSONAL chats and explicitly muted ones stay quiet.
		if !historical && !c.IsMuted && c.Status != store.StatusPersonal {
			c.IsBotActive = true
		}

	case store.SenderOwner:
		// A human stepping in means the AI should re-evaluate, not assume
		// the deal is closing.
		c.IsMuted = false
		if !c.HasTag(TagHumanTouch) {
			c.Tags = append(c.Tags, TagHumanTouch)
		}
		if c.Status == store.StatusHot {
			c.Status = store.StatusWarm
		}
		c.SuggestedReplies = nil
	}
}

// EnsureExists bulk-upserts bare aggregates from a roster sync. A stored
// display name is only replaced when it is a bare numeric placeholder and
// the incoming one is not; a richer name is never downgraded.
func (s *Store) EnsureExists(ctx context.Context, tenantID string, items []RosterItem) error {
	var dirty []*store.Conversation
	for _, item := range items {
		c, err := s.conversations.Get(ctx, tenantID, item.ID)
		if err != nil {
			return err
		}
		if c == nil {
			now := s.now()
			dirty = append(dirty, &store.Conversation{
				ID:             item.ID,
				DisplayName:    item.DisplayName,
				Status:         store.StatusCold,
				LastActivity:   now,
				FirstMessageAt: now,
			})
			continue
		}
		if item.DisplayName != "" &&
			identity.IsNumericPlaceholder(c.DisplayName) &&
			!identity.IsNumericPlaceholder(item.DisplayName) {
			c.DisplayName = item.DisplayName
			dirty = append(dirty, c)
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	return s.conversations.SaveBatch(ctx, tenantID, dirty)
}

// Verdict is the reasoning collaborator's output for one conversation.
type Verdict struct {
	ReplyText        string
	NewStatus        store.Status
	Tags             []string
	SuggestedReplies []string
}

// ApplyVerdict merges an AI verdict into the freshest aggregate state. Tags
// are union-merged (never removed); status is updated when valid; shadow
// mode is arbitrated: a HOT verdict with autonomous closing disabled mutes
// the bot and attaches reply drafts for a human, with it enabled the bot
// keeps the floor and drafts are cleared. Suggested replies not re-proposed
// by this cycle are dropped.
func (s *Store) ApplyVerdict(ctx context.Context, tenantID string, id identity.Canonical, v Verdict, autoClose bool) (*store.Conversation, error) {
	// Re-fetch right before merging to shrink the window against concurrent
	// writers. This reduces, not eliminates, lost updates.
	c, err := s.conversations.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("conversation %s vanished during AI run", id)
	}

	for _, tag := range v.Tags {
		if tag != "" && !c.HasTag(tag) {
			c.Tags = append(c.Tags, tag)
		}
	}

	if v.NewStatus.Valid() {
		c.Status = v.NewStatus
	}

	if c.Status == store.StatusHot && !autoClose {
		c.IsMuted = true
		c.SuggestedReplies = v.SuggestedReplies
		slog.Debug("shadow mode engaged", "tenant", tenantID, "conversation", string(id), "drafts", len(v.SuggestedReplies))
	} else {
		c.IsMuted = false
		c.SuggestedReplies = nil
	}

	if err := s.conversations.Save(ctx, tenantID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetBotActive flips the automation flag from an admin command.
func (s *Store) SetBotActive(ctx context.Context, tenantID string, id identity.Canonical, active bool) error {
	c, err := s.conversations.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("conversation %s not found", id)
	}
	c.IsBotActive = active
	return s.conversations.Save(ctx, tenantID, c)
}
