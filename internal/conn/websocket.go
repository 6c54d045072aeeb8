package conn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport is the production Transport backed by gorilla/websocket.
type wsTransport struct{}

// NewWebSocketTransport returns the gorilla/websocket transport.
func NewWebSocketTransport() Transport {
	return wsTransport{}
}

func (wsTransport) Dial(ctx context.Context, rawURL string) (Socket, error) {
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return &wsSocket{conn: c}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
