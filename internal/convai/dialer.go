// ABOUTME: WebSocket dialer for the conversational agent service.
// ABOUTME: Wraps coder/websocket behind the FrameConn interface.

package convai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// maxFrameSize bounds inbound frames; audio events can be large.
const maxFrameSize = 1 << 20

// AgentEndpoint describes the remote conversational agent service.
type AgentEndpoint struct {
	URL     string // base conversation URL, e.g. wss://api.example.com/v1/convai/conversation
	AgentID string
	APIKey  string
}

// NewDialFunc returns a DialFunc that opens one WebSocket per identity against
// the configured endpoint.
func NewDialFunc(ep AgentEndpoint) DialFunc {
	return func(ctx context.Context, identity string) (FrameConn, error) {
		u, err := url.Parse(ep.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing agent URL: %w", err)
		}
		q := u.Query()
		q.Set("agent_id", ep.AgentID)
		u.RawQuery = q.Encode()

		opts := &websocket.DialOptions{}
		if ep.APIKey != "" {
			opts.HTTPHeader = http.Header{"xi-api-key": []string{ep.APIKey}}
		}

		conn, _, err := websocket.Dial(ctx, u.String(), opts)
		if err != nil {
			return nil, fmt.Errorf("dialing agent websocket: %w", err)
		}
		conn.SetReadLimit(maxFrameSize)
		return &wsFrameConn{conn: conn}, nil
	}
}

// wsFrameConn adapts a WebSocket to FrameConn. Writes are serialized since
// frames come from the send path, the read loop (pongs), and tool dispatch.
type wsFrameConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsFrameConn) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsFrameConn) WriteFrame(ctx context.Context, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsFrameConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "context reset")
}
