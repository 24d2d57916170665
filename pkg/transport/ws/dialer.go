package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Dial opens a binary websocket to url (ws://host:port/ws) and returns it as
// a net.Conn. It is the client side of NewHandler.
func Dial(ctx context.Context, url string, client *http.Client) (net.Conn, error) {
	opts := &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPClient:   client,
	}

	c, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial(%s): %w", url, err)
	}
	return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
}
