// Package transport defines the handler shape shared by every reliable
// transport of the server:
//
//   - kcp: reliable sessions over the UDP endpoints (pkg/listen)
//   - yamux: streams of a yamux session sniffed on a TCP endpoint (pkg/mux)
//   - ws: websocket upgrades on the /ws HTTP route (pkg/transport/ws)
//
// Each transport produces net.Conn values and hands them to a Handler.
package transport

import "net"

// Handler processes one connection and returns when done.
// The connection is closed after the handler returns.
type Handler func(net.Conn) error
