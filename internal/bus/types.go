package bus

import (
	"github.com/leadline-io/leadline/internal/wire"
)

// InboundBatch is one transport delivery for one tenant: a group of raw
// envelopes plus whether they come from history sync or live traffic.
type InboundBatch struct {
	TenantID   string          `json:"tenant_id"`
	Envelopes  []wire.Envelope `json:"envelopes"`
	Historical bool            `json:"historical"`
}

// RosterSync is a contact-roster snapshot for one tenant, used to pre-create
// conversation shells with display names.
type RosterSync struct {
	TenantID string             `json:"tenant_id"`
	Entries  []wire.RosterEntry `json:"entries"`
}

// Event is a server-side event broadcast to admin gateway clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription. Used by the
// session registry and the gateway server to decouple from the concrete bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
