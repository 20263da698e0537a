package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadline-io/leadline/internal/bus"
	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/wire"
)

// reconnectCooldown separates a teardown from the next dial when Connect is
// called on an already-running tenant.
const reconnectCooldown = 2 * time.Second

// Registry owns all tenant supervisors. One instance per process.
type Registry struct {
	dialer Dialer
	stores *store.Stores
	msgBus *bus.MessageBus
	events bus.EventPublisher

	mu          sync.RWMutex
	supervisors map[string]*Supervisor

	cooldown time.Duration // overridable in tests
}

func NewRegistry(dialer Dialer, stores *store.Stores, msgBus *bus.MessageBus, events bus.EventPublisher) *Registry {
	return &Registry{
		dialer:      dialer,
		stores:      stores,
		msgBus:      msgBus,
		events:      events,
		supervisors: make(map[string]*Supervisor),
		cooldown:    reconnectCooldown,
	}
}

// Connect starts (or restarts) the session for a tenant. Safe to call while a
// session is already running; the old supervisor is torn down first.
func (r *Registry) Connect(ctx context.Context, tenantID string) error {
	tenant, err := r.stores.Tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if tenant == nil {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrUnknownTenant)
	}

	r.mu.Lock()
	prev := r.supervisors[tenantID]
	delete(r.supervisors, tenantID)
	r.mu.Unlock()

	if prev != nil {
		slog.Info("restarting session", "tenant", tenantID)
		prev.stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cooldown):
		}
	}

	sup := newSupervisor(tenantID, tenant.PairingPhone, r.dialer, r.stores, r.msgBus, r.events)

	r.mu.Lock()
	r.supervisors[tenantID] = sup
	r.mu.Unlock()

	if err := r.stores.Tenants.SetActive(ctx, tenantID, true); err != nil {
		slog.Warn("mark tenant active", "tenant", tenantID, "error", err)
	}

	sup.start(ctx)
	return nil
}

// Disconnect tears the tenant session down, clears verification artifacts,
// purges stored credentials and marks the tenant inactive.
func (r *Registry) Disconnect(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	sup := r.supervisors[tenantID]
	delete(r.supervisors, tenantID)
	r.mu.Unlock()

	if sup == nil {
		// No live handle, but credentials from an earlier run may still be
		// stored. Disconnect always leaves the tenant unlinked.
		tenant, err := r.stores.Tenants.GetTenant(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("load tenant %s: %w", tenantID, err)
		}
		if tenant == nil {
			return fmt.Errorf("tenant %s: %w", tenantID, ErrUnknownTenant)
		}
	} else {
		sup.stop()
	}

	if err := r.stores.Credentials.Purge(ctx, tenantID); err != nil {
		return fmt.Errorf("purge credentials: %w", err)
	}
	if err := r.stores.Tenants.SetActive(ctx, tenantID, false); err != nil {
		return fmt.Errorf("mark tenant inactive: %w", err)
	}
	_ = r.stores.EventLog.AppendLog(ctx, tenantID, "session.disconnected", "operator disconnect")
	return nil
}

// Status reports the current phase and any pending verification artifact.
func (r *Registry) Status(tenantID string) (Status, error) {
	r.mu.RLock()
	sup := r.supervisors[tenantID]
	r.mu.RUnlock()

	if sup == nil {
		return Status{TenantID: tenantID, Phase: PhaseDisconnected}, nil
	}
	return sup.status(), nil
}

// HasLiveSession reports whether the tenant currently holds an authenticated
// transport connection.
func (r *Registry) HasLiveSession(tenantID string) bool {
	r.mu.RLock()
	sup := r.supervisors[tenantID]
	r.mu.RUnlock()
	if sup == nil {
		return false
	}
	_, ok := sup.live()
	return ok
}

// Send delivers a text or image message to one identity over the tenant's
// live session. Sends are rate-limited per tenant.
func (r *Registry) Send(ctx context.Context, tenantID string, to identity.Canonical, text, imageB64 string) (*wire.SendReceipt, error) {
	r.mu.RLock()
	sup := r.supervisors[tenantID]
	r.mu.RUnlock()
	if sup == nil {
		return nil, ErrNotConnected
	}
	conn, ok := sup.live()
	if !ok {
		return nil, ErrNotConnected
	}

	if err := sup.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send rate limit: %w", err)
	}

	if imageB64 != "" {
		if _, err := base64.StdEncoding.DecodeString(imageB64); err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		receipt, err := conn.SendImage(ctx, string(to), imageB64, text)
		if err != nil {
			return nil, err
		}
		return &receipt, nil
	}

	receipt, err := conn.SendText(ctx, string(to), text)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SendComposing shows a typing indicator to the peer. Best effort.
func (r *Registry) SendComposing(ctx context.Context, tenantID string, to identity.Canonical) {
	r.mu.RLock()
	sup := r.supervisors[tenantID]
	r.mu.RUnlock()
	if sup == nil {
		return
	}
	conn, ok := sup.live()
	if !ok {
		return
	}
	if err := conn.SendComposing(ctx, string(to)); err != nil {
		slog.Debug("composing indicator failed", "tenant", tenantID, "error", err)
	}
}

// ForceRelink recovers from a protocol desync: purge pairing state and rebuild
// the session immediately. Called by the ingestion pipeline when an envelope
// carries the desync flag.
func (r *Registry) ForceRelink(ctx context.Context, tenantID string) {
	r.mu.RLock()
	sup := r.supervisors[tenantID]
	r.mu.RUnlock()
	if sup == nil {
		return
	}
	sup.forceRelink(ctx)
}

// StopAll tears down every supervisor. Used during shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.supervisors))
	for _, s := range r.supervisors {
		sups = append(sups, s)
	}
	r.supervisors = make(map[string]*Supervisor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sups {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.stop()
		}(s)
	}
	wg.Wait()
}
