// Package ingest turns raw transport batches into conversation state changes
// and AI dispatch work.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leadline-io/leadline/internal/bus"
	"github.com/leadline-io/leadline/internal/convo"
	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/wire"
)

// Media placeholders for envelopes that carry no caption.
const (
	placeholderImage    = "[Image]"
	placeholderVideo    = "[Video]"
	placeholderAudio    = "[Audio]"
	placeholderSticker  = "[Sticker]"
	placeholderDocument = "[Document]"
)

// Enqueuer receives conversations that need an AI pass.
type Enqueuer interface {
	Enqueue(tenantID string, id identity.Canonical)
}

// Relinker rebuilds a tenant session after a protocol desync.
type Relinker interface {
	ForceRelink(ctx context.Context, tenantID string)
}

// GroupSignalFunc observes group traffic. Group chats never become private
// aggregates; the hook exists for engagement heuristics.
type GroupSignalFunc func(ctx context.Context, tenantID string, env wire.Envelope)

// Pipeline consumes inbound batches off the bus and applies them to the
// conversation store.
type Pipeline struct {
	convos   *convo.Store
	tenants  store.TenantStore
	queue    Enqueuer
	sessions Relinker

	// GroupSignal is optional; nil means group traffic is dropped silently.
	GroupSignal GroupSignalFunc
}

func NewPipeline(convos *convo.Store, tenants store.TenantStore, queue Enqueuer, sessions Relinker) *Pipeline {
	return &Pipeline{
		convos:   convos,
		tenants:  tenants,
		queue:    queue,
		sessions: sessions,
	}
}

// Run consumes inbound batches and roster syncs until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, mb *bus.MessageBus) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			batch, ok := mb.ConsumeInbound(ctx)
			if !ok {
				return
			}
			if err := p.HandleBatch(ctx, batch.TenantID, batch.Envelopes, batch.Historical); err != nil {
				slog.Error("handle inbound batch", "tenant", batch.TenantID, "error", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			sync, ok := mb.ConsumeRoster(ctx)
			if !ok {
				return
			}
			if err := p.HandleRoster(ctx, sync.TenantID, sync.Entries); err != nil {
				slog.Error("handle roster sync", "tenant", sync.TenantID, "error", err)
			}
		}
	}()

	wg.Wait()
}

// HandleRoster pre-creates conversation shells from a contact sync.
func (p *Pipeline) HandleRoster(ctx context.Context, tenantID string, entries []wire.RosterEntry) error {
	items := make([]convo.RosterItem, 0, len(entries))
	for _, e := range entries {
		id, ok := identity.Normalize(e.JID)
		if !ok || id.IsGroup() {
			continue
		}
		items = append(items, convo.RosterItem{ID: id, DisplayName: e.Name})
	}
	return p.convos.EnsureExists(ctx, tenantID, items)
}

// accepted is one envelope reduced to storable form.
type accepted struct {
	msg      store.Message
	nameHint string
	fromMe   bool
}

// HandleBatch applies one transport delivery. Envelopes for distinct
// identities are processed concurrently; within one identity, in order.
func (p *Pipeline) HandleBatch(ctx context.Context, tenantID string, envelopes []wire.Envelope, historical bool) error {
	// A desync flag anywhere means local pairing state is stale and nothing
	// in this batch decrypted reliably.
	for _, env := range envelopes {
		if env.Desync {
			slog.Warn("desync flagged in batch", "tenant", tenantID, "envelope", env.ID)
			p.sessions.ForceRelink(ctx, tenantID)
			return nil
		}
	}

	tenant, err := p.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	ignored := ignoreSet(tenant)

	byIdentity := make(map[identity.Canonical][]accepted)
	var order []identity.Canonical

	for _, env := range envelopes {
		text, ok := flatten(env)
		if !ok {
			continue
		}
		id, ok := identity.Normalize(env.ChatJID)
		if !ok {
			continue
		}
		if id.IsGroup() {
			if p.GroupSignal != nil {
				p.GroupSignal(ctx, tenantID, env)
			}
			continue
		}
		if ignored[id] {
			continue
		}

		sender := store.SenderUser
		if env.FromMe {
			sender = store.SenderOwner
		}
		a := accepted{
			msg: store.Message{
				ID:        env.ID,
				Text:      text,
				Sender:    sender,
				Timestamp: time.UnixMilli(env.Timestamp),
			},
			fromMe: env.FromMe,
		}
		if !env.FromMe {
			a.nameHint = env.PushName
		}
		if _, seen := byIdentity[id]; !seen {
			order = append(order, id)
		}
		byIdentity[id] = append(byIdentity[id], a)
	}

	var wg sync.WaitGroup
	for _, id := range order {
		wg.Add(1)
		go func(id identity.Canonical, items []accepted) {
			defer wg.Done()
			if err := p.applyIdentity(ctx, tenantID, id, items, historical); err != nil {
				slog.Error("apply envelopes", "tenant", tenantID, "identity", id, "error", err)
			}
		}(id, byIdentity[id])
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) applyIdentity(ctx context.Context, tenantID string, id identity.Canonical, items []accepted, historical bool) error {
	// First contact must come from the lead. An outbound message to an
	// identity with no aggregate is the owner reaching out privately.
	if items[0].fromMe {
		existing, err := p.convos.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			for len(items) > 0 && items[0].fromMe {
				items = items[1:]
			}
			if len(items) == 0 {
				return nil
			}
		}
	}

	displayName := ""
	for _, a := range items {
		if a.nameHint != "" {
			displayName = a.nameHint
			break
		}
	}

	sawLiveInbound := false
	for _, a := range items {
		if _, err := p.convos.Append(ctx, tenantID, id, a.msg, displayName, historical); err != nil {
			return err
		}
		if !a.fromMe && !historical {
			sawLiveInbound = true
		}
	}

	if sawLiveInbound && p.queue != nil {
		p.queue.Enqueue(tenantID, id)
	}
	return nil
}

func ignoreSet(tenant *store.Tenant) map[identity.Canonical]bool {
	if tenant == nil || len(tenant.IgnoreList) == 0 {
		return nil
	}
	set := make(map[identity.Canonical]bool, len(tenant.IgnoreList))
	for _, raw := range tenant.IgnoreList {
		if id, ok := identity.Normalize(raw); ok {
			set[id] = true
		}
	}
	return set
}

// flatten reduces an envelope to display text. The second return is false for
// envelope kinds that never become conversation content.
func flatten(env wire.Envelope) (string, bool) {
	switch env.Kind {
	case wire.KindText:
		return env.Text, env.Text != ""
	case wire.KindImage:
		return captionOr(env, placeholderImage), true
	case wire.KindVideo:
		return captionOr(env, placeholderVideo), true
	case wire.KindAudio:
		return captionOr(env, placeholderAudio), true
	case wire.KindSticker:
		return captionOr(env, placeholderSticker), true
	case wire.KindDocument:
		return captionOr(env, placeholderDocument), true
	case wire.KindEphemeral, wire.KindViewOnce, wire.KindEdited:
		if env.Inner == nil {
			return "", false
		}
		return flatten(*env.Inner)
	default:
		// protocol, reaction, key distribution, unknown
		return "", false
	}
}

func captionOr(env wire.Envelope, placeholder string) string {
	if env.Caption != "" {
		return env.Caption
	}
	return placeholder
}
