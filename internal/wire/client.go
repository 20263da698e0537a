// Package wire implements the client side of the leadline messaging edge
// protocol: a JSON frame stream over WebSocket for inbound traffic plus a
// small HTTP surface for sends.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	msgBufferSize       = 64
	defaultPingInterval = 30 * time.Second
	defaultReadDeadline = 3 * time.Minute
)

// Config identifies the edge endpoint and this client build.
type Config struct {
	WSURL     string // wss://... edge socket
	UserAgent string
}

// Dialer opens authenticated connections to the messaging edge.
type Dialer struct {
	Config Config
}

// Dial connects and authenticates. With valid credentials the edge answers
// auth.ok directly; without them it streams auth.qr frames until the user
// links the device (the final auth.ok carries fresh credentials via a
// creds.update frame).
func (d *Dialer) Dial(ctx context.Context, creds *Credentials) (*Conn, error) {
	h := http.Header{}
	h.Set("User-Agent", d.Config.UserAgent)
	if creds.IsValid() {
		h.Set("Authorization", "Bearer "+creds.AuthToken)
		h.Set("X-Device-ID", creds.DeviceID)
	}

	client, err := DialWS(ctx, d.Config.WSURL, h)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		client:         client,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		userAgent:      d.Config.UserAgent,
		pingInterval:   defaultPingInterval,
		batchCh:        make(chan Batch, msgBufferSize),
		credsCh:        make(chan Credentials, 4),
		verificationCh: make(chan Verification, 4),
		rosterCh:       make(chan []RosterEntry, 4),
		authCh:         make(chan string, 1),
		closedCh:       make(chan CloseInfo, 1),
		errorCh:        make(chan error, 16),
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)

	slog.Debug("wire: connected", "url", d.Config.WSURL)
	return c, nil
}

// Conn is one live connection to the messaging edge. Inbound traffic is
// surfaced through buffered channels; a full channel drops the oldest entry
// rather than blocking the read loop.
type Conn struct {
	mu         sync.RWMutex
	client     *WSClient
	httpClient *http.Client
	userAgent  string

	selfJID    string
	services   serviceMap
	authedOnce bool

	pingInterval time.Duration
	pingCancel   context.CancelFunc

	batchCh        chan Batch
	credsCh        chan Credentials
	verificationCh chan Verification
	rosterCh       chan []RosterEntry
	authCh         chan string
	closedCh       chan CloseInfo
	errorCh        chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Channel accessors.
func (c *Conn) Batches() <-chan Batch { return c.batchCh }
func (c *Conn) Credentials() <-chan Credentials { return c.credsCh }
func (c *Conn) Verifications() <-chan Verification { return c.verificationCh }
func (c *Conn) Roster() <-chan []RosterEntry { return c.rosterCh }
func (c *Conn) Authenticated() <-chan string { return c.authCh }
func (c *Conn) Closed() <-chan CloseInfo { return c.closedCh }
func (c *Conn) Errors() <-chan error { return c.errorCh }

// SelfJID returns the authenticated account address ("" before auth.ok).
func (c *Conn) SelfJID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfJID
}

// Close sends a close frame, stops the read loop and waits for it.
func (c *Conn) Close(code int, reason string) {
	c.cancel()
	c.client.Close(code, reason)
	c.wg.Wait()
}

func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		// The read deadline catches silent disconnects where the edge stops
		// sending without a close frame. Only armed once authenticated,
		// since QR linking can legitimately idle for minutes.
		var data []byte
		var err error
		c.mu.RLock()
		authed := c.authedOnce
		c.mu.RUnlock()
		if authed {
			readCtx, rcancel := context.WithTimeout(ctx, c.readDeadline())
			data, err = c.client.ReadMessage(readCtx)
			rcancel()
		} else {
			data, err = c.client.ReadMessage(ctx)
		}

		if err != nil {
			ci := ParseCloseInfo(err)
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				ci = CloseInfo{Code: 1006, Reason: "read timeout (silent disconnect)"}
				slog.Warn("wire: silent disconnect detected")
			}
			c.shutdown(ci)
			return
		}
		c.handleFrame(ctx, data)
	}
}

// readDeadline is 2.5x the ping interval.
func (c *Conn) readDeadline() time.Duration {
	if c.pingInterval > 0 {
		return c.pingInterval * 5 / 2
	}
	return defaultReadDeadline
}

func (c *Conn) handleFrame(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		emit(ctx, c.errorCh, fmt.Errorf("wire: parse frame: %w", err))
		return
	}

	switch f.Type {
	case frameAuthOK:
		var d authOKData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			emit(ctx, c.errorCh, fmt.Errorf("wire: parse auth.ok: %w", err))
			return
		}
		c.mu.Lock()
		c.selfJID = d.SelfJID
		c.services = d.ServiceMap
		c.authedOnce = true
		if d.PingMS > 0 {
			c.pingInterval = time.Duration(d.PingMS) * time.Millisecond
		}
		c.mu.Unlock()
		c.startPing(ctx)
		emit(ctx, c.authCh, d.SelfJID)

	case frameAuthQR:
		var v Verification
		if err := json.Unmarshal(f.Data, &v); err != nil {
			emit(ctx, c.errorCh, fmt.Errorf("wire: parse auth.qr: %w", err))
			return
		}
		if v.Kind == "" {
			v.Kind = VerificationQR
		}
		emit(ctx, c.verificationCh, v)

	case frameCredsUpdate:
		var cred Credentials
		if err := json.Unmarshal(f.Data, &cred); err != nil {
			emit(ctx, c.errorCh, fmt.Errorf("wire: parse creds.update: %w", err))
			return
		}
		emit(ctx, c.credsCh, cred)

	case frameBatch:
		var d batchData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			emit(ctx, c.errorCh, fmt.Errorf("wire: parse batch: %w", err))
			return
		}
		emit(ctx, c.batchCh, Batch{Envelopes: d.Envelopes, Historical: d.Historical})

	case frameRoster:
		var d rosterData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			emit(ctx, c.errorCh, fmt.Errorf("wire: parse roster: %w", err))
			return
		}
		emit(ctx, c.rosterCh, d.Contacts)

	case framePong:
		// keepalive answer, nothing to do
	}
}

func (c *Conn) startPing(ctx context.Context) {
	c.mu.Lock()
	if c.pingCancel != nil {
		c.mu.Unlock()
		return
	}
	pctx, pcancel := context.WithCancel(ctx)
	c.pingCancel = pcancel
	interval := c.pingInterval
	c.mu.Unlock()

	go c.pingLoop(pctx, interval)
}

func (c *Conn) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sendPing(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendPing(ctx)
		}
	}
}

func (c *Conn) sendPing(ctx context.Context) {
	body, _ := json.Marshal(frame{Type: framePing})
	_ = c.client.WriteMessage(ctx, body)
}

func (c *Conn) shutdown(ci CloseInfo) {
	c.mu.Lock()
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	c.mu.Unlock()

	select {
	case c.closedCh <- ci:
	default:
	}
}

// emit sends to a buffered channel; drops oldest if full.
func emit[T any](ctx context.Context, ch chan T, val T) {
	select {
	case <-ctx.Done():
		return
	case ch <- val:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- val:
		default:
		}
	}
}
