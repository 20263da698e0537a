package wire

import (
	"encoding/json"
	"time"
)

// WebSocket close codes used by the messaging edge.
const (
	CloseCodeDuplicate = 3000 // another session for the same account came online
	CloseCodeLoggedOut = 4001 // account unlinked this device; credentials are dead
	CloseCodeRestart   = 4002 // edge asks for a plain reconnect
)

// CloseInfo carries the WebSocket close code and reason.
type CloseInfo struct {
	Code   int
	Reason string
}

// IsLoggedOut reports whether the close means the stored credentials can
// never authenticate again.
func (ci CloseInfo) IsLoggedOut() bool { return ci.Code == CloseCodeLoggedOut }

// Credentials is the persisted pairing state for one linked device.
type Credentials struct {
	DeviceID    string `json:"device_id"`
	AuthToken   string `json:"auth_token"`
	NoiseKey    string `json:"noise_key"`    // base64
	SignedKeyID int    `json:"signed_key_id"`
	SelfJID     string `json:"self_jid"`
}

// IsValid reports whether the credentials are complete enough to attempt a
// token login.
func (c *Credentials) IsValid() bool {
	return c != nil && c.DeviceID != "" && c.AuthToken != ""
}

// Envelope kinds. A closed set: everything the edge can deliver is one of
// these, and unrecognized input decodes to KindUnknown.
const (
	KindText            = "text"
	KindImage           = "image"
	KindVideo           = "video"
	KindAudio           = "audio"
	KindSticker         = "sticker"
	KindDocument        = "document"
	KindEphemeral       = "ephemeral"  // wrapper
	KindViewOnce        = "view_once"  // wrapper
	KindEdited          = "edited"     // wrapper
	KindProtocol        = "protocol"
	KindReaction        = "reaction"
	KindKeyDistribution = "key_distribution"
	KindUnknown         = "unknown"
)

// Envelope is one raw inbound item as delivered by the edge. Wrapper kinds
// carry their payload in Inner; media kinds may carry a Caption.
type Envelope struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id,omitempty"`
	ChatJID   string    `json:"chat_jid"`            // counterpart (or group) address, raw form
	SenderJID string    `json:"sender_jid,omitempty"` // individual sender inside a group
	FromMe    bool      `json:"from_me"`
	PushName  string    `json:"push_name,omitempty"` // best-effort display name hint
	Timestamp int64     `json:"ts"`                  // unix millis
	Text      string    `json:"text,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Inner     *Envelope `json:"inner,omitempty"`

	// Desync is set by the edge when its decryption counter for this chat no
	// longer matches the sender's ratchet. Once this shows up, everything
	// after it on this session is garbage.
	Desync bool `json:"desync,omitempty"`
}

// Time returns the envelope timestamp as time.Time.
func (e Envelope) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// UnmarshalJSON defaults the kind to KindUnknown so that new server-side
// envelope kinds degrade to "no content" instead of failing the batch.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Kind == "" {
		a.Kind = KindUnknown
	}
	*e = Envelope(a)
	return nil
}

// Batch is one inbound delivery: envelopes plus the history flag.
type Batch struct {
	Envelopes  []Envelope `json:"envelopes"`
	Historical bool       `json:"historical"`
}

// RosterEntry is one contact from a roster sync.
type RosterEntry struct {
	JID  string `json:"jid"`
	Name string `json:"name,omitempty"`
}

// Verification artifact kinds.
const (
	VerificationQR          = "qr"
	VerificationPairingCode = "pairing_code"
)

// Verification is a QR image or pairing code the user must act on to link
// the device.
type Verification struct {
	Kind string `json:"kind"`
	// QRPNG is the base64-encoded PNG for VerificationQR.
	QRPNG string `json:"qr_png,omitempty"`
	// Code is the 8-character pairing code for VerificationPairingCode.
	Code string `json:"code,omitempty"`
}

// SendReceipt is the edge acknowledgement for one outbound message.
type SendReceipt struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// --- Wire frames ---

// Frame type tags on the websocket.
const (
	frameAuthOK       = "auth.ok"
	frameAuthQR       = "auth.qr"
	frameCredsUpdate  = "creds.update"
	frameBatch        = "batch"
	frameRoster       = "roster"
	framePing         = "ping"
	framePong         = "pong"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authOKData struct {
	SelfJID    string     `json:"self_jid"`
	ServiceMap serviceMap `json:"service_map"`
	PingMS     int        `json:"ping_ms,omitempty"`
}

type serviceMap struct {
	Chat     []string `json:"chat"`
	Media    []string `json:"media"`
	Presence []string `json:"presence"`
	Pairing  []string `json:"pairing"`
}

type batchData struct {
	Envelopes  []Envelope `json:"envelopes"`
	Historical bool       `json:"historical"`
}

type rosterData struct {
	Contacts []RosterEntry `json:"contacts"`
}
