// Package session owns the per-tenant transport lifecycle: connecting,
// verification, reconnect policy and outbound sends.
package session

import (
	"context"
	"errors"

	"github.com/leadline-io/leadline/internal/wire"
)

// Phase is the externally visible connection state of a tenant session.
type Phase string

const (
	PhaseDisconnected         Phase = "DISCONNECTED"
	PhaseConnecting           Phase = "CONNECTING"
	PhaseAwaitingVerification Phase = "AWAITING_VERIFICATION"
	PhaseConnected            Phase = "CONNECTED"
)

var (
	// ErrNotConnected is returned by Send when the tenant has no live session.
	ErrNotConnected = errors.New("session: not connected")
	// ErrUnknownTenant is returned for tenant IDs with no supervisor.
	ErrUnknownTenant = errors.New("session: unknown tenant")
)

// Conn is the live transport handle a supervisor drives. *wire.Conn satisfies
// it; tests substitute a fake.
type Conn interface {
	Batches() <-chan wire.Batch
	Credentials() <-chan wire.Credentials
	Verifications() <-chan wire.Verification
	Roster() <-chan []wire.RosterEntry
	Authenticated() <-chan string
	Closed() <-chan wire.CloseInfo
	Errors() <-chan error

	SendText(ctx context.Context, toJID, text string) (wire.SendReceipt, error)
	SendImage(ctx context.Context, toJID, imageB64, caption string) (wire.SendReceipt, error)
	SendComposing(ctx context.Context, toJID string) error
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Close(code int, reason string)
}

// Dialer opens transport connections. *wire.Dialer is adapted via WireDialer.
type Dialer interface {
	Dial(ctx context.Context, creds *wire.Credentials) (Conn, error)
}

// WireDialer adapts the concrete wire dialer to the Dialer seam.
type WireDialer struct {
	Dialer *wire.Dialer
}

func (w WireDialer) Dial(ctx context.Context, creds *wire.Credentials) (Conn, error) {
	c, err := w.Dialer.Dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Status is a snapshot of a tenant session for the admin surface.
type Status struct {
	TenantID     string             `json:"tenant_id"`
	Phase        Phase              `json:"phase"`
	SelfJID      string             `json:"self_jid,omitempty"`
	Attempt      int                `json:"attempt,omitempty"`
	Verification *wire.Verification `json:"verification,omitempty"`
}
