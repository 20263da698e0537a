package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Frames larger than this are a protocol violation; the edge never sends
// media payloads inline.
const wsReadLimit = 1 << 20

// WSClient is the raw socket under the wire client. Reads are single-reader
// (the pump goroutine owns them); writes are serialized here because sends
// and pings come from different goroutines.
type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWS opens the socket. Compression stays off: the edge closes any
// connection that negotiates RSV1.
func DialWS(ctx context.Context, wsURL string, headers http.Header) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("wire: ws dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &WSClient{conn: conn}, nil
}

// ReadMessage blocks for the next frame, a cancelled context, or a close.
func (c *WSClient) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// WriteMessage sends one text frame.
func (c *WSClient) WriteMessage(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a close frame with the given code and tears the socket down.
func (c *WSClient) Close(code int, reason string) {
	c.conn.Close(websocket.StatusCode(code), reason)
}

// ParseCloseInfo recovers the peer's close code from a read error. Anything
// that is not a proper close frame maps to 1006 (abnormal closure) so the
// supervisor treats it as transient.
func ParseCloseInfo(err error) CloseInfo {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: int(ce.Code), Reason: ce.Reason}
	}
	return CloseInfo{Code: 1006, Reason: err.Error()}
}
