package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/leadline-io/leadline/internal/convo"
	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/session"
	"github.com/leadline-io/leadline/internal/store"
	"github.com/leadline-io/leadline/internal/wire"
	"github.com/leadline-io/leadline/pkg/protocol"
)

// SessionControl is the slice of the session registry the gateway drives.
type SessionControl interface {
	Connect(ctx context.Context, tenantID string) error
	Disconnect(ctx context.Context, tenantID string) error
	Status(tenantID string) (session.Status, error)
	Send(ctx context.Context, tenantID string, to identity.Canonical, text, imageB64 string) (*wire.SendReceipt, error)
}

// Enqueuer schedules an AI pass.
type Enqueuer interface {
	Enqueue(tenantID string, id identity.Canonical)
}

// Responder receives frames for one admin client.
type Responder interface {
	SendResponse(protocol.ResponseFrame)
	SendEvent(protocol.EventFrame)
}

// Handlers routes RPC methods onto the core components.
type Handlers struct {
	sessions SessionControl
	convos   *convo.Store
	queue    Enqueuer
}

func NewHandlers(sessions SessionControl, convos *convo.Store, queue Enqueuer) *Handlers {
	return &Handlers{sessions: sessions, convos: convos, queue: queue}
}

// Handle dispatches one request frame.
func (h *Handlers) Handle(ctx context.Context, client Responder, req *protocol.RequestFrame) {
	switch req.Method {
	case protocol.MethodSessionConnect:
		h.handleSessionConnect(ctx, client, req)
	case protocol.MethodSessionDisconnect:
		h.handleSessionDisconnect(ctx, client, req)
	case protocol.MethodSessionStatus:
		h.handleSessionStatus(client, req)
	case protocol.MethodChatSend:
		h.handleChatSend(ctx, client, req)
	case protocol.MethodChatToggleBot:
		h.handleChatToggleBot(ctx, client, req)
	case protocol.MethodAIForceRun:
		h.handleForceRun(client, req)
	case protocol.MethodConversationsList:
		h.handleConversationsList(ctx, client, req)
	case protocol.MethodHealth:
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
			"status":   "ok",
			"protocol": protocol.ProtocolVersion,
		}))
	default:
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown method: "+req.Method))
	}
}

type tenantParams struct {
	TenantID string `json:"tenant_id"`
}

func decodeParams(req *protocol.RequestFrame, dst any) bool {
	if req.Params == nil {
		return false
	}
	return json.Unmarshal(req.Params, dst) == nil
}

func (h *Handlers) handleSessionConnect(ctx context.Context, client Responder, req *protocol.RequestFrame) {
	var p tenantParams
	if !decodeParams(req, &p) || p.TenantID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id required"))
		return
	}
	if err := h.sessions.Connect(ctx, p.TenantID); err != nil {
		if errors.Is(err, session.ErrUnknownTenant) {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"status": "connecting"}))
}

func (h *Handlers) handleSessionDisconnect(ctx context.Context, client Responder, req *protocol.RequestFrame) {
	var p tenantParams
	if !decodeParams(req, &p) || p.TenantID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id required"))
		return
	}
	if err := h.sessions.Disconnect(ctx, p.TenantID); err != nil {
		if errors.Is(err, session.ErrUnknownTenant) {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no session for tenant"))
			return
		}
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"status": "disconnected"}))
}

func (h *Handlers) handleSessionStatus(client Responder, req *protocol.RequestFrame) {
	var p tenantParams
	if !decodeParams(req, &p) || p.TenantID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id required"))
		return
	}
	st, err := h.sessions.Status(p.TenantID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, st))
}

func (h *Handlers) handleChatSend(ctx context.Context, client Responder, req *protocol.RequestFrame) {
	var p struct {
		TenantID string `json:"tenant_id"`
		To       string `json:"to"`
		Text     string `json:"text"`
		ImageB64 string `json:"image_b64,omitempty"`
	}
	if !decodeParams(req, &p) || p.TenantID == "" || p.To == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id and to required"))
		return
	}
	id, ok := identity.Normalize(p.To)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unusable address"))
		return
	}

	receipt, err := h.sessions.Send(ctx, p.TenantID, id, p.Text, p.ImageB64)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotConnected, "no live session for tenant"))
			return
		}
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	// Record the manual reply as an owner message right away instead of
	// waiting for the transport echo. The echo dedups on the receipt id.
	msg := store.Message{
		ID:        receipt.MessageID,
		Text:      p.Text,
		Sender:    store.SenderOwner,
		Timestamp: receipt.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if _, err := h.convos.Append(ctx, p.TenantID, id, msg, "", false); err != nil {
		slog.Warn("record manual reply", "tenant", p.TenantID, "error", err)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, receipt))
}

func (h *Handlers) handleChatToggleBot(ctx context.Context, client Responder, req *protocol.RequestFrame) {
	var p struct {
		TenantID     string `json:"tenant_id"`
		Conversation string `json:"conversation"`
		Active       bool   `json:"active"`
	}
	if !decodeParams(req, &p) || p.TenantID == "" || p.Conversation == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id and conversation required"))
		return
	}
	id, ok := identity.Normalize(p.Conversation)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unusable address"))
		return
	}
	if err := h.convos.SetBotActive(ctx, p.TenantID, id, p.Active); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"active": p.Active}))
}

func (h *Handlers) handleForceRun(client Responder, req *protocol.RequestFrame) {
	var p struct {
		TenantID     string `json:"tenant_id"`
		Conversation string `json:"conversation"`
	}
	if !decodeParams(req, &p) || p.TenantID == "" || p.Conversation == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id and conversation required"))
		return
	}
	id, ok := identity.Normalize(p.Conversation)
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unusable address"))
		return
	}
	h.queue.Enqueue(p.TenantID, id)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"status": "queued"}))
}

func (h *Handlers) handleConversationsList(ctx context.Context, client Responder, req *protocol.RequestFrame) {
	var p tenantParams
	if !decodeParams(req, &p) || p.TenantID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "tenant_id required"))
		return
	}
	list, err := h.convos.List(ctx, p.TenantID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"conversations": list}))
}
