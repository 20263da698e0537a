package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leadline-io/leadline/internal/bus"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/wire"
)

type sentMessage struct {
	To       string
	Text     string
	ImageB64 string
}

type fakeConn struct {
	batchCh        chan wire.Batch
	credsCh        chan wire.Credentials
	verificationCh chan wire.Verification
	rosterCh       chan []wire.RosterEntry
	authCh         chan string
	closedCh       chan wire.CloseInfo
	errorCh        chan error

	mu        sync.Mutex
	sent      []sentMessage
	closed    bool
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		batchCh:        make(chan wire.Batch, 8),
		credsCh:        make(chan wire.Credentials, 8),
		verificationCh: make(chan wire.Verification, 8),
		rosterCh:       make(chan []wire.RosterEntry, 8),
		authCh:         make(chan string, 1),
		closedCh:       make(chan wire.CloseInfo, 1),
		errorCh:        make(chan error, 8),
	}
}

func (f *fakeConn) Batches() <-chan wire.Batch { return f.batchCh }
func (f *fakeConn) Credentials() <-chan wire.Credentials { return f.credsCh }
func (f *fakeConn) Verifications() <-chan wire.Verification { return f.verificationCh }
func (f *fakeConn) Roster() <-chan []wire.RosterEntry { return f.rosterCh }
func (f *fakeConn) Authenticated() <-chan string { return f.authCh }
func (f *fakeConn) Closed() <-chan wire.CloseInfo { return f.closedCh }
func (f *fakeConn) Errors() <-chan error { return f.errorCh }

func (f *fakeConn) SendText(_ context.Context, to, text string) (wire.SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Text: text})
	return wire.SendReceipt{MessageID: "m1", Timestamp: time.Now()}, nil
}

func (f *fakeConn) SendImage(_ context.Context, to, imageB64, caption string) (wire.SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Text: caption, ImageB64: imageB64})
	return wire.SendReceipt{MessageID: "m2", Timestamp: time.Now()}, nil
}

func (f *fakeConn) SendComposing(context.Context, string) error { return nil }

func (f *fakeConn) RequestPairingCode(context.Context, string) (string, error) {
	return "ABCD-1234", nil
}

func (f *fakeConn) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.closeCode = code
	f.closedCh <- wire.CloseInfo{Code: code, Reason: "closed by peer"}
}

func (f *fakeConn) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeDialer hands out conns in order and records the credentials used.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials []*wire.Credentials
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, creds *wire.Credentials) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, creds)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		c := newFakeConn()
		d.conns = append(d.conns, c)
		return c, nil
	}
	c := d.conns[0]
	if len(d.conns) > 1 {
		d.conns = d.conns[1:]
	}
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func newTestRegistry(t *testing.T, dialer Dialer) (*Registry, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	stores.SeedTenant(&store.Tenant{ID: "t1", Name: "Test Tenant", Active: true})
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	r := NewRegistry(dialer, stores, mb, mb)
	r.cooldown = 10 * time.Millisecond
	return r, stores
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 3 * time.Second},
		{3, 4500 * time.Millisecond},
		{4, 6750 * time.Millisecond},
		{20, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempt); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryDelayMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 30; attempt++ {
		d := RetryDelay(attempt)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > 60*time.Second {
			t.Fatalf("delay exceeded ceiling at attempt %d: %v", attempt, d)
		}
		prev = d
	}
}

func TestSendWithoutSession(t *testing.T) {
	r, _ := newTestRegistry(t, &fakeDialer{})
	_, err := r.Send(context.Background(), "t1", "5551234@s.whatsapp.net", "hi", "")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnectAuthenticateSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	r, _ := newTestRegistry(t, dialer)
	defer r.StopAll()

	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.authCh <- "self@s.whatsapp.net"
	waitFor(t, time.Second, func() bool { return r.HasLiveSession("t1") })

	st, err := r.Status("t1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Phase != PhaseConnected {
		t.Fatalf("phase = %s, want CONNECTED", st.Phase)
	}
	if st.SelfJID != "self@s.whatsapp.net" {
		t.Fatalf("self jid = %q", st.SelfJID)
	}

	receipt, err := r.Send(ctx, "t1", "5551234@s.whatsapp.net", "hello", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID == "" {
		t.Fatal("empty receipt msg id")
	}
	sent := conn.sentMessages()
	if len(sent) != 1 || sent[0].Text != "hello" || sent[0].To != "5551234@s.whatsapp.net" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSendRejectsBadImagePayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn()
	r, _ := newTestRegistry(t, &fakeDialer{conns: []*fakeConn{conn}})
	defer r.StopAll()

	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.authCh <- "self@s.whatsapp.net"
	waitFor(t, time.Second, func() bool { return r.HasLiveSession("t1") })

	if _, err := r.Send(ctx, "t1", "5551234@s.whatsapp.net", "", "not-base64!!!"); err == nil {
		t.Fatal("want decode error for invalid image payload")
	}
	if got := conn.sentMessages(); len(got) != 0 {
		t.Fatalf("nothing should have been dispatched, got %+v", got)
	}
}

func TestCredentialsPersistedOnUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn()
	r, stores := newTestRegistry(t, &fakeDialer{conns: []*fakeConn{conn}})
	defer r.StopAll()

	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.credsCh <- wire.Credentials{DeviceID: "d1", AuthToken: "tok"}

	waitFor(t, time.Second, func() bool {
		c, _ := stores.Credentials.Load(ctx, "t1")
		return c.IsValid()
	})
}

func TestLoggedOutPurgesCredentialsAndRelinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	r, stores := newTestRegistry(t, dialer)
	defer r.StopAll()

	if err := stores.Credentials.Save(ctx, "t1", &wire.Credentials{DeviceID: "d1", AuthToken: "tok"}); err != nil {
		t.Fatalf("seed creds: %v", err)
	}
	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first.authCh <- "self@s.whatsapp.net"
	waitFor(t, time.Second, func() bool { return r.HasLiveSession("t1") })

	first.closedCh <- wire.CloseInfo{Code: wire.CloseCodeLoggedOut, Reason: "logged out"}

	// The supervisor purges stored credentials and dials again in pairing
	// mode after a short fixed delay.
	waitFor(t, 10*time.Second, func() bool { return dialer.dialCount() >= 2 })
	c, err := stores.Credentials.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.IsValid() {
		t.Fatal("credentials should have been purged after hard logout")
	}
}

func TestForceRelinkReconnectsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	r, stores := newTestRegistry(t, dialer)
	defer r.StopAll()

	if err := stores.Credentials.Save(ctx, "t1", &wire.Credentials{DeviceID: "d1", AuthToken: "tok"}); err != nil {
		t.Fatalf("seed creds: %v", err)
	}
	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first.authCh <- "self@s.whatsapp.net"
	waitFor(t, time.Second, func() bool { return r.HasLiveSession("t1") })

	r.ForceRelink(ctx, "t1")

	// No backoff on the relink path.
	waitFor(t, time.Second, func() bool { return dialer.dialCount() >= 2 })
	c, _ := stores.Credentials.Load(ctx, "t1")
	if c.IsValid() {
		t.Fatal("credentials should have been purged on relink")
	}
}

func TestDisconnectMarksTenantInactive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn()
	r, stores := newTestRegistry(t, &fakeDialer{conns: []*fakeConn{conn}})

	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.authCh <- "self@s.whatsapp.net"
	waitFor(t, time.Second, func() bool { return r.HasLiveSession("t1") })

	if err := r.Disconnect(ctx, "t1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	tenant, err := stores.Tenants.GetTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.Active {
		t.Fatal("tenant should be inactive after disconnect")
	}
	st, _ := r.Status("t1")
	if st.Phase != PhaseDisconnected {
		t.Fatalf("phase = %s, want DISCONNECTED", st.Phase)
	}
}

func TestVerificationArtifactExposedInStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn()
	r, _ := newTestRegistry(t, &fakeDialer{conns: []*fakeConn{conn}})
	defer r.StopAll()

	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.verificationCh <- wire.Verification{Kind: wire.VerificationQR, QRPNG: "iVBOR"}

	waitFor(t, time.Second, func() bool {
		st, _ := r.Status("t1")
		return st.Phase == PhaseAwaitingVerification && st.Verification != nil
	})
	st, _ := r.Status("t1")
	if st.Verification.Kind != wire.VerificationQR {
		t.Fatalf("verification kind = %q", st.Verification.Kind)
	}
}

func TestInboundBatchReachesBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn()
	stores := store.NewMemoryStores()
	stores.SeedTenant(&store.Tenant{ID: "t1", Name: "Test Tenant", Active: true})
	mb := bus.NewMessageBus()
	defer mb.Close()
	r := NewRegistry(&fakeDialer{conns: []*fakeConn{conn}}, stores, mb, mb)
	r.cooldown = 10 * time.Millisecond
	defer r.StopAll()

	if err := r.Connect(ctx, "t1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.authCh <- "self@s.whatsapp.net"
	conn.batchCh <- wire.Batch{Envelopes: []wire.Envelope{{Kind: wire.KindText, ID: "e1", Text: "hola"}}}

	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no batch on bus")
	}
	if got.TenantID != "t1" || len(got.Envelopes) != 1 || got.Envelopes[0].Text != "hola" {
		t.Fatalf("batch = %+v", got)
	}
}

func TestReconnectGivesUpAtAttemptCap(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("edge unreachable")}
	stores := store.NewMemoryStores()
	stores.SeedTenant(&store.Tenant{ID: "t1", Active: true})
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	sup := newSupervisor("t1", "", dialer, stores, mb, mb)
	sup.retryDelay = func(int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Watch the counter while the supervisor burns through its attempts.
	var mu sync.Mutex
	maxSeen := 0
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			mu.Lock()
			if a := sup.status().Attempt; a > maxSeen {
				maxSeen = a
			}
			mu.Unlock()
		}
	}()

	sup.start(ctx)

	waitFor(t, 5*time.Second, func() bool {
		return dialer.dialCount() >= maxConnectAttempts && sup.status().Phase == PhaseDisconnected
	})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-watchDone

	if n := dialer.dialCount(); n != maxConnectAttempts {
		t.Errorf("dial count = %d, want %d", n, maxConnectAttempts)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxSeen > maxConnectAttempts {
		t.Errorf("attempt counter reached %d, cap is %d", maxSeen, maxConnectAttempts)
	}
	if got := sup.status().Attempt; got != maxConnectAttempts {
		t.Errorf("final attempt = %d, want %d", got, maxConnectAttempts)
	}
}

func TestDisconnectWithoutSessionStillPurgesCredentials(t *testing.T) {
	ctx := context.Background()
	r, stores := newTestRegistry(t, &fakeDialer{})

	creds := &wire.Credentials{DeviceID: "d1", AuthToken: "tok"}
	if err := stores.Credentials.Save(ctx, "t1", creds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := r.Disconnect(ctx, "t1"); err != nil {
		t.Fatalf("Disconnect without session: %v", err)
	}

	loaded, err := stores.Credentials.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.IsValid() {
		t.Fatal("credentials should be purged after disconnect")
	}
	tenant, _ := stores.Tenants.GetTenant(ctx, "t1")
	if tenant.Active {
		t.Fatal("tenant should be inactive after disconnect")
	}

	if err := r.Disconnect(ctx, "nobody"); !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("Disconnect(unknown) error = %v, want ErrUnknownTenant", err)
	}
}
