package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leadline-io/leadline/internal/bus"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/wire"
	"github.com/leadline-io/leadline/pkg/protocol"
)

const (
	maxConnectAttempts = 5
	baseRetryDelay     = 2 * time.Second
	maxRetryDelay      = 60 * time.Second
	logoutRetryDelay   = 5 * time.Second
	duplicateDelay     = 60 * time.Second
	pairingCodeDelay   = 3 * time.Second

	// Outbound throttle per tenant. The transport bans accounts that send
	// bursts, so this errs on the slow side.
	sendRatePerMinute = 20
	sendBurst         = 5
)

// Supervisor drives one tenant's transport connection: dialing, verification,
// credential persistence, reconnects and outbound sends.
type Supervisor struct {
	tenantID     string
	pairingPhone string

	dialer Dialer
	creds  store.CredentialStore
	log    store.EventLogStore
	msgBus *bus.MessageBus
	events bus.EventPublisher

	limiter *rate.Limiter

	// retryDelay computes the backoff for a failed attempt. Tests shrink it.
	retryDelay func(attempt int) time.Duration

	mu           sync.RWMutex
	phase        Phase
	selfJID      string
	attempt      int
	verification *wire.Verification
	conn         Conn
	relink       bool // next reconnect skips the backoff delay

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newSupervisor(tenantID, pairingPhone string, dialer Dialer, stores *store.Stores, msgBus *bus.MessageBus, events bus.EventPublisher) *Supervisor {
	return &Supervisor{
		tenantID:     tenantID,
		pairingPhone: pairingPhone,
		dialer:       dialer,
		creds:        stores.Credentials,
		log:          stores.EventLog,
		msgBus:       msgBus,
		events:       events,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/sendRatePerMinute), sendBurst),
		retryDelay:   RetryDelay,
		phase:        PhaseDisconnected,
		stopCh:       make(chan struct{}),
	}
}

func (s *Supervisor) start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// stop tears the supervisor down and waits for its loop to exit.
func (s *Supervisor) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close(1000, "supervisor stopped")
	}
	s.wg.Wait()
}

func (s *Supervisor) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		TenantID:     s.tenantID,
		Phase:        s.phase,
		SelfJID:      s.selfJID,
		Attempt:      s.attempt,
		Verification: s.verification,
	}
}

func (s *Supervisor) live() (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase != PhaseConnected || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	changed := s.phase != p
	s.phase = p
	if p != PhaseAwaitingVerification {
		s.verification = nil
	}
	s.mu.Unlock()
	if changed && s.events != nil {
		s.events.Broadcast(bus.Event{
			Name:    protocol.EventSessionPhase,
			Payload: map[string]any{"tenant_id": s.tenantID, "phase": p},
		})
	}
}

// forceRelink is the recovery path for a transport desync: stored pairing
// state no longer matches the server, so it is purged and the session is
// re-established from scratch without waiting out the backoff.
func (s *Supervisor) forceRelink(ctx context.Context) {
	slog.Warn("session desync, forcing relink", "tenant", s.tenantID)
	if err := s.creds.Purge(ctx, s.tenantID); err != nil {
		slog.Error("purge credentials", "tenant", s.tenantID, "error", err)
	}
	_ = s.log.AppendLog(ctx, s.tenantID, "session.desync", "credentials purged, relinking")

	s.mu.Lock()
	s.attempt = 0
	s.relink = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close(wire.CloseCodeRestart, "desync relink")
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.setPhase(PhaseDisconnected)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if !s.connectOnce(ctx) {
			return
		}
	}
}

// connectOnce dials, pumps events until the connection closes, and decides
// whether the outer loop should try again.
func (s *Supervisor) connectOnce(ctx context.Context) bool {
	s.setPhase(PhaseConnecting)

	creds, err := s.creds.Load(ctx, s.tenantID)
	if err != nil {
		slog.Error("load credentials", "tenant", s.tenantID, "error", err)
		return s.scheduleRetry(ctx)
	}

	conn, err := s.dialer.Dial(ctx, creds)
	if err != nil {
		slog.Warn("session dial failed", "tenant", s.tenantID, "error", err)
		return s.scheduleRetry(ctx)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if !creds.IsValid() {
		s.setPhase(PhaseAwaitingVerification)
		if s.pairingPhone != "" {
			s.wg.Add(1)
			go s.requestPairingCode(ctx, conn)
		}
	}

	return s.pumpEvents(ctx, conn)
}

// requestPairingCode asks for a phone-linkable code shortly after the
// transport is live. QR frames arrive unsolicited either way.
func (s *Supervisor) requestPairingCode(ctx context.Context, conn Conn) {
	defer s.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-time.After(pairingCodeDelay):
	}

	code, err := conn.RequestPairingCode(ctx, s.pairingPhone)
	if err != nil {
		slog.Warn("pairing code request failed", "tenant", s.tenantID, "error", err)
		return
	}
	s.handleVerification(wire.Verification{Kind: wire.VerificationPairingCode, Code: code})
}

func (s *Supervisor) pumpEvents(ctx context.Context, conn Conn) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.stopCh:
			return false

		case selfJID := <-conn.Authenticated():
			s.mu.Lock()
			s.selfJID = selfJID
			s.attempt = 0
			s.mu.Unlock()
			s.setPhase(PhaseConnected)
			slog.Info("session authenticated", "tenant", s.tenantID, "self", selfJID)
			_ = s.log.AppendLog(ctx, s.tenantID, "session.connected", selfJID)

		case creds := <-conn.Credentials():
			if err := s.creds.Save(ctx, s.tenantID, &creds); err != nil {
				slog.Error("persist credentials", "tenant", s.tenantID, "error", err)
			}

		case v := <-conn.Verifications():
			s.handleVerification(v)

		case batch := <-conn.Batches():
			if err := s.msgBus.PublishInbound(ctx, bus.InboundBatch{
				TenantID:   s.tenantID,
				Envelopes:  batch.Envelopes,
				Historical: batch.Historical,
			}); err != nil {
				slog.Warn("publish inbound batch", "tenant", s.tenantID, "error", err)
			}

		case roster := <-conn.Roster():
			if err := s.msgBus.PublishRoster(ctx, bus.RosterSync{TenantID: s.tenantID, Entries: roster}); err != nil {
				slog.Warn("publish roster sync", "tenant", s.tenantID, "error", err)
			}

		case ci := <-conn.Closed():
			return s.handleClosed(ctx, ci)

		case err := <-conn.Errors():
			slog.Warn("session transport error", "tenant", s.tenantID, "error", err)
		}
	}
}

func (s *Supervisor) handleVerification(v wire.Verification) {
	s.mu.Lock()
	s.verification = &v
	s.phase = PhaseAwaitingVerification
	s.mu.Unlock()
	if s.events != nil {
		s.events.Broadcast(bus.Event{
			Name:    protocol.EventSessionVerification,
			Payload: map[string]any{"tenant_id": s.tenantID, "verification": v},
		})
	}
}

// handleClosed classifies a transport close and returns whether the run loop
// should reconnect.
func (s *Supervisor) handleClosed(ctx context.Context, ci wire.CloseInfo) bool {
	slog.Warn("session closed", "tenant", s.tenantID, "code", ci.Code, "reason", ci.Reason)

	s.mu.Lock()
	s.conn = nil
	relink := s.relink
	s.relink = false
	s.mu.Unlock()

	// A forced relink already purged credentials and reset the counter;
	// reconnect without delay.
	if relink {
		return true
	}

	switch {
	case ci.IsLoggedOut():
		// The account was unlinked remotely. Stored pairing state is dead
		// weight; drop it and come back in pairing mode.
		if err := s.creds.Purge(ctx, s.tenantID); err != nil {
			slog.Error("purge credentials", "tenant", s.tenantID, "error", err)
		}
		_ = s.log.AppendLog(ctx, s.tenantID, "session.logged_out", ci.Reason)
		s.mu.Lock()
		s.attempt = 0
		s.mu.Unlock()
		return s.sleep(ctx, logoutRetryDelay)

	case ci.Code == wire.CloseCodeDuplicate:
		// Another device claimed the session; it may release it shortly.
		return s.sleep(ctx, duplicateDelay)

	default:
		return s.scheduleRetry(ctx)
	}
}

// scheduleRetry counts a failed attempt and waits out its backoff. The
// counter never passes maxConnectAttempts: the cap-hitting failure gives up
// instead of scheduling another dial. Returns false when giving up or when
// the supervisor is stopping.
func (s *Supervisor) scheduleRetry(ctx context.Context) bool {
	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	if attempt >= maxConnectAttempts {
		slog.Error("session gave up after max connect attempts", "tenant", s.tenantID, "attempts", attempt)
		_ = s.log.AppendLog(ctx, s.tenantID, "session.gave_up", "max connect attempts reached")
		return false
	}

	delay := s.retryDelay(attempt)
	slog.Info("session reconnecting", "tenant", s.tenantID, "attempt", attempt, "delay", delay)
	return s.sleep(ctx, delay)
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// RetryDelay is the transient-failure backoff for the given 1-based attempt,
// growing by 1.5x per attempt up to a 60s ceiling.
func RetryDelay(attempt int) time.Duration {
	d := baseRetryDelay
	for i := 1; i < attempt; i++ {
		d = d * 3 / 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(d, maxRetryDelay)
}
