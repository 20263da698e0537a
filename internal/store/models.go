package store

import (
	"time"

	"github.com/leadline-io/leadline/internal/identity"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser  Sender = "user"  // the lead
	SenderBot   Sender = "bot"   // the AI collaborator
	SenderOwner Sender = "owner" // a human operator on the tenant side
)

// Status is the lead-temperature lifecycle of a conversation.
type Status string

const (
	StatusCold     Status = "COLD"
	StatusWarm     Status = "WARM"
	StatusHot      Status = "HOT"
	StatusPersonal Status = "PERSONAL"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCold, StatusWarm, StatusHot, StatusPersonal:
		return true
	}
	return false
}

// Message is one entry in a conversation aggregate.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the stored aggregate for one counterpart. Messages are
// kept strictly ordered by timestamp; message ids are unique within the
// aggregate.
type Conversation struct {
	ID          identity.Canonical `json:"id"`
	DisplayName string             `json:"display_name"`
	Status      Status             `json:"status"`
	Messages    []Message          `json:"messages"`
	IsBotActive bool               `json:"is_bot_active"`
	IsMuted     bool               `json:"is_muted"`
	IsTest      bool               `json:"is_test,omitempty"` // synthetic playground conversation, no transport behind it
	Tags        []string           `json:"tags,omitempty"`

	LastActivity   time.Time `json:"last_activity"`
	FirstMessageAt time.Time `json:"first_message_at"`

	// SuggestedReplies is ephemeral: populated when the AI defers to a human
	// (shadow mode) and cleared on the next owner message or AI cycle that
	// does not re-propose.
	SuggestedReplies []string `json:"suggested_replies,omitempty"`
}

// HasTag reports whether tag is present.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tenant is one account operating a messaging channel.
type Tenant struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Active       bool     `json:"active"`
	PairingPhone string   `json:"pairing_phone,omitempty"`
	AutoClose    bool     `json:"auto_close"` // autonomous closing: AI may keep sending on HOT
	IgnoreList   []string `json:"ignore_list,omitempty"`
	Profile      string   `json:"profile,omitempty"` // business context handed to the reasoner
}
