// Package multiplex implements a TCP server that routes each accepted
// connection to one of several protocol handlers by sniffing its first bytes.
//
// A connection goes Accepted -> Sniffing -> Routed or Rejected. While
// sniffing, up to PeekSize bytes are buffered and the registered predicates
// are evaluated in registration order. Once routed, the handler owns the
// connection and receives the buffered bytes again on its first reads.
package multiplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"dominicbreuker/gamenet/pkg/bind"
	"dominicbreuker/gamenet/pkg/config"
	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/metrics"
	"dominicbreuker/gamenet/pkg/peer"
	"dominicbreuker/gamenet/pkg/semaphore"
)

// ErrSniffTimeout is wrapped by every sniffing failure: no predicate matched
// within the peek buffer, the peer went away, or the sniff deadline passed.
var ErrSniffTimeout = errors.New("protocol sniff failed")

// Protocol names used by the built-in registrations.
const (
	ProtoHTTP  = "http"
	ProtoYamux = "yamux"
)

// Handler takes ownership of a routed connection and must close it.
type Handler func(conn net.Conn)

// Options configures a Server.
type Options struct {
	PeekSize     int
	SniffTimeout time.Duration
	MaxPending   int
	Logger       *log.Logger
	Metrics      *metrics.Metrics
	Deps         *config.Dependencies
}

type protocol struct {
	name   string
	match  Predicate
	handle Handler
}

// Server is one multiplexing TCP listener bound to one address.
type Server struct {
	addr    peer.Address
	opts    Options
	pending *semaphore.Semaphore
	http    *HTTPRouter

	mu        sync.Mutex
	protocols []protocol
	listener  net.Listener
	serving   bool
	closed    bool
}

// New creates an unbound server for addr.
func New(addr peer.Address, opts Options) *Server {
	if opts.PeekSize <= 0 {
		opts.PeekSize = config.DefaultPeekSize
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = config.DefaultMaxPending
	}

	return &Server{
		addr:    addr,
		opts:    opts,
		pending: semaphore.New(opts.MaxPending),
		http:    newHTTPRouter(addr.TCPAddr(), opts.Logger),
	}
}

// Address returns the configured bind address.
func (s *Server) Address() peer.Address {
	return s.addr
}

// Addr returns the bound listener address, which differs from Address when
// binding to port 0. It is nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTP returns the server's HTTP route table.
func (s *Server) HTTP() *HTTPRouter {
	return s.http
}

// Register appends a protocol. Earlier registrations take priority. It fails
// once the server is serving.
func (s *Server) Register(name string, match Predicate, handle Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving {
		return fmt.Errorf("register %s on %s: server already serving", name, s.addr)
	}
	for _, p := range s.protocols {
		if p.name == name {
			return fmt.Errorf("register %s on %s: protocol already registered", name, s.addr)
		}
	}

	s.protocols = append(s.protocols, protocol{name: name, match: match, handle: handle})
	return nil
}

// Protocols returns the registered protocol names in priority order.
func (s *Server) Protocols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.protocols))
	for i, p := range s.protocols {
		names[i] = p.name
	}
	return names
}

// Listen binds the listening socket. A bind conflict wraps
// bind.ErrAddressInUse. There is no retry.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("listen(tcp, %s): %w", s.addr, net.ErrClosed)
	}
	if s.listener != nil {
		return nil
	}

	listenFn := config.GetTCPListenerFunc(s.opts.Deps)
	l, err := listenFn(s.addr.Network("tcp"), s.addr.TCPAddr())
	if err != nil {
		return fmt.Errorf("listen(tcp, %s): %w", s.addr, bind.Classify(err))
	}

	s.listener = l
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Listen must have succeeded before.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	if l == nil {
		s.mu.Unlock()
		return fmt.Errorf("serve %s: not listening", s.addr)
	}
	s.serving = true
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.opts.Logger.VerboseMsg("Multiplex server on %s serving protocols %v", l.Addr(), s.Protocols())

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("Accept(): %w", err)
		}

		if s.opts.Metrics != nil {
			s.opts.Metrics.ConnectionsAccepted.Inc()
		}

		go s.handle(conn)
	}
}

// Close stops accepting and shuts the HTTP router down. Routed non-HTTP
// connections belong to their handlers and stay open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	_ = s.http.Close()
	return err
}

// Pending returns the number of connections still being sniffed.
func (s *Server) Pending() int {
	return s.pending.InUse()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handle(conn net.Conn) {
	if !s.pending.TryAcquire() {
		s.reject(conn, "overloaded", fmt.Errorf("too many pending connections"))
		return
	}

	p, buffered, err := s.sniff(conn)
	s.pending.Release()

	if err != nil {
		s.reject(conn, rejectReason(err), err)
		return
	}

	s.opts.Logger.VerboseMsg("Routing connection from %s to %s", conn.RemoteAddr(), p.name)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ConnectionsRouted.WithLabelValues(p.name).Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.ErrorMsg("%s handler panic for %s: %v", p.name, conn.RemoteAddr(), r)
			_ = conn.Close()
		}
	}()
	p.handle(&prefixConn{Conn: conn, buf: buffered})
}

func (s *Server) reject(conn net.Conn, reason string, err error) {
	s.opts.Logger.VerboseMsg("Rejecting connection from %s: %s", conn.RemoteAddr(), err)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
	_ = conn.Close()
}

type sniffError struct {
	reason string
	err    error
}

func (e *sniffError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", ErrSniffTimeout, e.reason, e.err)
	}
	return fmt.Sprintf("%s: %s", ErrSniffTimeout, e.reason)
}

func (e *sniffError) Is(target error) bool {
	return target == ErrSniffTimeout
}

func (e *sniffError) Unwrap() error {
	return e.err
}

func rejectReason(err error) string {
	var se *sniffError
	if errors.As(err, &se) {
		return se.reason
	}
	return "error"
}

// sniff reads until a predicate decides. The protocol snapshot is taken
// per connection so classifications never share state.
func (s *Server) sniff(conn net.Conn) (protocol, []byte, error) {
	s.mu.Lock()
	protocols := s.protocols
	s.mu.Unlock()

	if len(protocols) == 0 {
		return protocol{}, nil, &sniffError{reason: "no_protocols"}
	}

	// Set sniff deadline, clear it before handing the conn over; a lingering
	// deadline would kill the routed connection later.
	if s.opts.SniffTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.SniffTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	buf := make([]byte, 0, s.opts.PeekSize)
	for {
		n, readErr := conn.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]

		if n > 0 {
			p, v := classify(protocols, buf)
			switch v {
			case Match:
				return p, buf, nil
			case NoMatch:
				return protocol{}, nil, &sniffError{reason: "no_match"}
			}
			if len(buf) == cap(buf) {
				return protocol{}, nil, &sniffError{reason: "peek_full"}
			}
		}

		if readErr != nil {
			var ne net.Error
			switch {
			case errors.As(readErr, &ne) && ne.Timeout():
				return protocol{}, nil, &sniffError{reason: "timeout", err: readErr}
			case errors.Is(readErr, io.EOF):
				return protocol{}, nil, &sniffError{reason: "eof"}
			default:
				return protocol{}, nil, &sniffError{reason: "read", err: readErr}
			}
		}
	}
}

// classify returns the verdict of the first predicate that does not answer
// NoMatch, or NoMatch if all do.
func classify(protocols []protocol, prefix []byte) (protocol, Verdict) {
	for _, p := range protocols {
		switch p.match(prefix) {
		case Match:
			return p, Match
		case NeedMore:
			return protocol{}, NeedMore
		}
	}
	return protocol{}, NoMatch
}
