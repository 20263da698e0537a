package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-io/leadline/internal/agent"
	"github.com/leadline-io/leadline/internal/bus"
	"github.com/leadline-io/leadline/internal/convo"
	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/wire"
	"github.com/leadline-io/leadline/pkg/protocol"
)

// SessionManager is the slice of the session registry the applier needs.
type SessionManager interface {
	HasLiveSession(tenantID string) bool
	Send(ctx context.Context, tenantID string, to identity.Canonical, text, imageB64 string) (*wire.SendReceipt, error)
	SendComposing(ctx context.Context, tenantID string, to identity.Canonical)
}

// Applier runs one AI pass over one conversation and applies the verdict.
type Applier struct {
	convos   *convo.Store
	tenants  store.TenantStore
	log      store.EventLogStore
	sessions SessionManager
	reasoner agent.Reasoner
	events   bus.EventPublisher

	// composing controls the typing indicator before a reasoner call.
	// Atomic because the config watcher flips it while ticks are running.
	composing atomic.Bool
}

func NewApplier(convos *convo.Store, tenants store.TenantStore, log store.EventLogStore, sessions SessionManager, reasoner agent.Reasoner, events bus.EventPublisher) *Applier {
	return &Applier{
		convos:   convos,
		tenants:  tenants,
		log:      log,
		sessions: sessions,
		reasoner: reasoner,
		events:   events,
	}
}

// SetComposing toggles the typing indicator. Safe to call at runtime.
func (a *Applier) SetComposing(on bool) {
	a.composing.Store(on)
}

// Apply fetches the freshest aggregate, invokes the reasoner and merges the
// verdict back. Reasoner failure is "no update this cycle".
func (a *Applier) Apply(ctx context.Context, tenantID string, id identity.Canonical) error {
	c, err := a.convos.Get(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	if !c.IsBotActive || c.IsMuted {
		return nil
	}
	if !c.IsTest && !a.sessions.HasLiveSession(tenantID) {
		slog.Debug("skipping ai pass, no live session", "tenant", tenantID, "conversation", string(id))
		return nil
	}

	tenant, err := a.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return fmt.Errorf("tenant %s not found", tenantID)
	}

	if a.composing.Load() && !c.IsTest {
		a.sessions.SendComposing(ctx, tenantID, id)
	}

	verdict, err := a.reasoner.Qualify(ctx, agent.Request{
		TenantProfile: tenant.Profile,
		DisplayName:   c.DisplayName,
		Status:        c.Status,
		Tags:          c.Tags,
		Messages:      c.Messages,
	})
	if err != nil {
		slog.Warn("reasoner failed, skipping cycle", "tenant", tenantID, "conversation", string(id), "error", err)
		return nil
	}

	// HOT without autonomous closing defers to a human: the drafted reply is
	// withheld and surfaced as a suggestion instead.
	withhold := verdict.NewStatus == store.StatusHot && !tenant.AutoClose
	if withhold && verdict.ReplyText != "" && !contains(verdict.SuggestedReplies, verdict.ReplyText) {
		verdict.SuggestedReplies = append([]string{verdict.ReplyText}, verdict.SuggestedReplies...)
	}

	if verdict.ReplyText != "" && !withhold {
		if err := a.deliverReply(ctx, tenantID, id, c.IsTest, verdict.ReplyText); err != nil {
			slog.Error("deliver ai reply", "tenant", tenantID, "conversation", string(id), "error", err)
		}
	}

	updated, err := a.convos.ApplyVerdict(ctx, tenantID, id, *verdict, tenant.AutoClose)
	if err != nil {
		return fmt.Errorf("apply verdict: %w", err)
	}
	_ = a.log.AppendLog(ctx, tenantID, "ai.verdict",
		fmt.Sprintf("conversation=%s status=%s replied=%v", id, updated.Status, verdict.ReplyText != "" && !withhold))

	if a.events != nil {
		a.events.Broadcast(bus.Event{
			Name:    protocol.EventConversationUpdated,
			Payload: map[string]any{"tenant_id": tenantID, "conversation": updated},
		})
	}
	return nil
}

// deliverReply sends through the live session for real conversations, or
// records a synthetic bot message for test ones. Both converge on Append.
func (a *Applier) deliverReply(ctx context.Context, tenantID string, id identity.Canonical, isTest bool, text string) error {
	msg := store.Message{
		Text:      text,
		Sender:    store.SenderBot,
		Timestamp: time.Now(),
	}

	if isTest {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	} else {
		receipt, err := a.sessions.Send(ctx, tenantID, id, text, "")
		if err != nil {
			return err
		}
		msg.ID = receipt.MessageID
		if !receipt.Timestamp.IsZero() {
			msg.Timestamp = receipt.Timestamp
		}
	}

	_, err := a.convos.Append(ctx, tenantID, id, msg, "", false)
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
