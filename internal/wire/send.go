package wire

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendText delivers a text message through the edge chat service.
func (c *Conn) SendText(ctx context.Context, to, text string) (SendReceipt, error) {
	if text == "" {
		return SendReceipt{}, fmt.Errorf("wire: message text cannot be empty")
	}
	payload := map[string]any{
		"to":        to,
		"text":      text,
		"client_ts": time.Now().UnixMilli(),
	}
	return c.postMessage(ctx, "chat", "/v1/messages", payload)
}

// SendImage delivers an image with an optional caption. The image arrives
// base64-encoded from callers and is decoded here before dispatch.
func (c *Conn) SendImage(ctx context.Context, to, imageB64, caption string) (SendReceipt, error) {
	raw, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return SendReceipt{}, fmt.Errorf("wire: decode image payload: %w", err)
	}
	if len(raw) == 0 {
		return SendReceipt{}, fmt.Errorf("wire: empty image payload")
	}
	payload := map[string]any{
		"to":        to,
		"caption":   caption,
		"image":     base64.StdEncoding.EncodeToString(raw),
		"client_ts": time.Now().UnixMilli(),
	}
	return c.postMessage(ctx, "media", "/v1/media/image", payload)
}

// SendComposing signals a typing indicator to the counterpart. Best-effort;
// the edge expires it after a few seconds on its own.
func (c *Conn) SendComposing(ctx context.Context, to string) error {
	baseURL := c.serviceURL("presence")
	if baseURL == "" {
		return fmt.Errorf("wire: no presence service URL")
	}
	body, _ := json.Marshal(map[string]any{"to": to, "state": "composing"})
	resp, err := c.post(ctx, baseURL+"/v1/presence", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// RequestPairingCode asks the edge for a phone-number pairing code as an
// alternative to QR scanning. Only valid while unauthenticated.
func (c *Conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	baseURL := c.serviceURL("pairing")
	if baseURL == "" {
		return "", fmt.Errorf("wire: no pairing service URL")
	}
	body, _ := json.Marshal(map[string]any{"phone": phone})
	resp, err := c.post(ctx, baseURL+"/v1/pairing/code", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ErrorCode int `json:"error_code"`
		Data      struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	if err := decodeBody(resp, &result); err != nil {
		return "", fmt.Errorf("wire: parse pairing response: %w", err)
	}
	if result.ErrorCode != 0 {
		return "", fmt.Errorf("wire: pairing error code %d", result.ErrorCode)
	}
	return result.Data.Code, nil
}

func (c *Conn) postMessage(ctx context.Context, service, apiPath string, payload map[string]any) (SendReceipt, error) {
	baseURL := c.serviceURL(service)
	if baseURL == "" {
		return SendReceipt{}, fmt.Errorf("wire: no service URL for %s", service)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendReceipt{}, err
	}
	resp, err := c.post(ctx, baseURL+apiPath, body)
	if err != nil {
		return SendReceipt{}, fmt.Errorf("wire: send message: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrorCode int `json:"error_code"`
		Data      struct {
			MsgID json.Number `json:"msg_id"` // can be string or number
			TS    int64       `json:"ts"`
		} `json:"data"`
	}
	if err := decodeBody(resp, &result); err != nil {
		return SendReceipt{}, fmt.Errorf("wire: parse send response: %w", err)
	}
	if result.ErrorCode != 0 {
		return SendReceipt{}, fmt.Errorf("wire: send error code %d", result.ErrorCode)
	}

	ts := time.UnixMilli(result.Data.TS)
	if result.Data.TS == 0 {
		ts = time.Now()
	}
	return SendReceipt{MessageID: result.Data.MsgID.String(), Timestamp: ts}, nil
}

func (c *Conn) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}

// serviceURL picks the first endpoint for a service from the auth.ok map.
func (c *Conn) serviceURL(service string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var urls []string
	switch service {
	case "chat":
		urls = c.services.Chat
	case "media":
		urls = c.services.Media
	case "presence":
		urls = c.services.Presence
	case "pairing":
		urls = c.services.Pairing
	}
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

func decodeBody(resp *http.Response, v any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
