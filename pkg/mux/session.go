package mux

import (
	"fmt"
	"net"

	"github.com/hashicorp/yamux"
)

// Session is the client side of a multiplexed connection.
type Session struct {
	mux *yamux.Session
}

// Dial starts a yamux client on conn. The first bytes it writes are a yamux
// header, which is what the multiplex server sniffs for.
func Dial(conn net.Conn) (*Session, error) {
	sess, err := yamux.Client(conn, config())
	if err != nil {
		return nil, fmt.Errorf("yamux.Client(conn): %w", err)
	}
	return &Session{mux: sess}, nil
}

// Open opens a new stream, i.e. a new game session on the server.
func (s *Session) Open() (net.Conn, error) {
	stream, err := s.mux.Open()
	if err != nil {
		return nil, fmt.Errorf("session.Open(): %w", err)
	}
	return stream, nil
}

// Close closes all streams and the underlying connection.
func (s *Session) Close() error {
	return s.mux.Close()
}
