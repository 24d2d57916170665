// Package ws upgrades HTTP requests to websockets and hands them to a
// transport.Handler as binary net.Conns.
package ws

import (
	"context"
	"net/http"

	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/semaphore"
	"dominicbreuker/gamenet/pkg/transport"

	"github.com/coder/websocket"
)

// Subprotocol is the websocket subprotocol clients must offer.
const Subprotocol = "bin"

// NewHandler returns an http.Handler for a websocket route. At most limit
// connections are handled at once; extra upgrades get HTTP 503. ctx bounds
// the lifetime of every upgraded connection.
func NewHandler(ctx context.Context, handler transport.Handler, limit int, logger *log.Logger) http.Handler {
	sem := semaphore.New(limit)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		defer sem.Release()

		handleUpgrade(ctx, w, r, handler, logger)
	})
}

// handleUpgrade upgrades the HTTP connection to WebSocket and handles it.
func handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, handler transport.Handler, logger *log.Logger) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		InsecureSkipVerify: true, // game clients are not browsers bound to an origin
	})
	if err != nil {
		logger.ErrorMsg("websocket.Accept(): %s", err)
		return
	}

	conn := websocket.NetConn(ctx, c, websocket.MessageBinary)
	logger.VerboseMsg("New WS connection from %s", r.RemoteAddr)

	defer func() { _ = conn.Close() }()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorMsg("websocket handler panic: %v", r)
		}
	}()

	if err := handler(conn); err != nil {
		logger.ErrorMsg("handle websocket.NetConn: %s", err)
	}
}
