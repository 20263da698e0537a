// Package agent wraps the external reasoning collaborator that classifies
// lead intent and drafts replies. The core only sees the Reasoner contract;
// a failed cycle is "no update", never fatal.
package agent

import (
	"context"

	"github.com/leadline-io/leadline/internal/convo"
	"github.com/leadline-io/leadline/internal/store"
)

// Request is the conversation context handed to the reasoner.
type Request struct {
	TenantProfile string // business context: what is being sold, tone, constraints
	DisplayName   string
	Status        store.Status
	Tags          []string
	Messages      []store.Message // non-empty; callers skip empty conversations
}

// Reasoner classifies one conversation and proposes the next reply.
type Reasoner interface {
	Qualify(ctx context.Context, req Request) (*convo.Verdict, error)
}
