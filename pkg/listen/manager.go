// Package listen owns the bound endpoints of a server instance: one
// multiplex TCP server and/or one UDP host per bind address.
package listen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"dominicbreuker/gamenet/pkg/bind"
	"dominicbreuker/gamenet/pkg/config"
	"dominicbreuker/gamenet/pkg/intercept"
	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/metrics"
	"dominicbreuker/gamenet/pkg/multiplex"
	"dominicbreuker/gamenet/pkg/peer"
	"dominicbreuker/gamenet/pkg/transport"
)

var (
	// ErrNotListening is wrapped by Initialize when no endpoint could be bound.
	ErrNotListening = errors.New("not listening on any endpoint")
	// ErrUnknownEndpoint is returned when removing an endpoint that is not bound.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrNoUDPHost is returned by SendUDP when no UDP host of the
	// destination's address family exists.
	ErrNoUDPHost = errors.New("no UDP host for address family")
)

// Kind selects the transports of an endpoint.
type Kind uint8

const (
	TCP Kind = 1 << iota
	UDP

	Both = TCP | UDP
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case Both:
		return "tcp+udp"
	default:
		return "none"
	}
}

// MarshalText renders the kind as in String.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the output of MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "tcp":
		*k = TCP
	case "udp":
		*k = UDP
	case "tcp+udp":
		*k = Both
	case "none":
		*k = 0
	default:
		return fmt.Errorf("unknown endpoint kind %q", b)
	}
	return nil
}

// Initializer is notified once per new multiplex server after it is bound
// and before it accepts. It may register protocols and HTTP routes. An error
// aborts the endpoint. Initializers run with the manager locked and must not
// call back into it.
type Initializer func(srv *multiplex.Server) error

// Handle identifies a registered Initializer.
type Handle uint64

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger      *log.Logger
	Metrics     *metrics.Metrics
	Deps        *config.Dependencies
	Interceptor *intercept.Interceptor

	// Resolver looks up hostnames in endpoint specs. Nil uses the system
	// resolver.
	Resolver peer.Resolver

	// SessionHandler receives every reliable session accepted by a UDP host.
	SessionHandler transport.Handler

	PeekSize     int
	SniffTimeout time.Duration
	MaxPending   int
}

type endpoint struct {
	addr peer.Address
	tcp  *multiplex.Server
	udp  *UDPHost
}

func (e *endpoint) kind() Kind {
	var k Kind
	if e.tcp != nil {
		k |= TCP
	}
	if e.udp != nil {
		k |= UDP
	}
	return k
}

type initializer struct {
	h  Handle
	fn Initializer
}

// Manager owns the multiplex servers and UDP hosts of one instance.
type Manager struct {
	opts ManagerOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	endpoints    map[string]*endpoint
	order        []string
	initializers []initializer
	nextHandle   Handle
	closed       bool
}

// NewManager creates a manager without endpoints.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		endpoints: make(map[string]*endpoint),
	}
}

// OnInitializeMultiplexServer registers fn for every multiplex server created
// from now on. Initializers run in registration order.
func (m *Manager) OnInitializeMultiplexServer(fn Initializer) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextHandle++
	m.initializers = append(m.initializers, initializer{h: m.nextHandle, fn: fn})
	return m.nextHandle
}

// RemoveInitializer unregisters an initializer. It reports whether h was
// registered.
func (m *Manager) RemoveInitializer(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, in := range m.initializers {
		if in.h == h {
			m.initializers = append(m.initializers[:i:i], m.initializers[i+1:]...)
			return true
		}
	}
	return false
}

// EndpointError is the failure of a single endpoint during Initialize.
type EndpointError struct {
	Spec string
	Kind Kind
	Err  error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s endpoint %s: %s", e.Kind, e.Spec, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// InitError lists the endpoints Initialize could not bind.
type InitError struct {
	Failures     []*EndpointError
	NotListening bool
}

func (e *InitError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	s := fmt.Sprintf("initialize: %d endpoint(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
	if e.NotListening {
		s += ": " + ErrNotListening.Error()
	}
	return s
}

func (e *InitError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	if e.NotListening {
		errs = append(errs, ErrNotListening)
	}
	return errs
}

// Initialize binds every configured endpoint. A failing endpoint does not
// stop the others; all failures are returned together as an *InitError.
func (m *Manager) Initialize(ctx context.Context, cfg config.Listen) error {
	m.mu.Lock()
	if cfg.PeekSize > 0 {
		m.opts.PeekSize = cfg.PeekSize
	}
	if cfg.SniffTimeout > 0 {
		m.opts.SniffTimeout = cfg.SniffTimeout
	}
	if cfg.MaxPending > 0 {
		m.opts.MaxPending = cfg.MaxPending
	}
	m.mu.Unlock()

	var failures []*EndpointError
	add := func(spec string, kind Kind) {
		if err := m.AddEndpoint(ctx, spec, kind); err != nil {
			m.opts.Logger.ErrorMsg("%s endpoint %s: %s", kind, spec, err)
			failures = append(failures, &EndpointError{Spec: spec, Kind: kind, Err: err})
		}
	}
	for _, spec := range cfg.TCPEndpoints {
		add(spec, TCP)
	}
	for _, spec := range cfg.UDPEndpoints {
		add(spec, UDP)
	}

	listening := m.Listening()
	if len(failures) == 0 {
		if !listening {
			return fmt.Errorf("initialize: no endpoints configured: %w", ErrNotListening)
		}
		return nil
	}
	return &InitError{Failures: failures, NotListening: !listening}
}

// AddEndpoint parses spec and binds the requested transports on it. Binding
// a transport that is already bound for the same spec, or an address the OS
// reports in use, wraps bind.ErrAddressInUse. If one transport of a Both
// request fails, the other is rolled back.
func (m *Manager) AddEndpoint(ctx context.Context, spec string, kind Kind) error {
	if kind&Both == 0 {
		return fmt.Errorf("add endpoint %s: no transport selected", spec)
	}

	addr, err := peer.ParseContext(ctx, spec, m.opts.Resolver)
	if err != nil {
		return err
	}
	key := addr.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("add endpoint %s: %w", key, ErrNotListening)
	}

	ep := m.endpoints[key]
	if ep != nil && ep.kind()&kind != 0 {
		return fmt.Errorf("add %s endpoint %s: already bound: %w", ep.kind()&kind, key, bind.ErrAddressInUse)
	}

	var (
		srv  *multiplex.Server
		host *UDPHost
	)

	if kind&TCP != 0 {
		srv, err = m.bindTCP(addr)
		if err != nil {
			return err
		}
	}
	if kind&UDP != 0 {
		host, err = newUDPHost(addr, udpHostOptions{
			Interceptor: m.opts.Interceptor,
			Handler:     m.opts.SessionHandler,
			Logger:      m.opts.Logger,
			Metrics:     m.opts.Metrics,
			Deps:        m.opts.Deps,
		})
		if err != nil {
			if srv != nil {
				_ = srv.Close()
			}
			return err
		}
	}

	if ep == nil {
		ep = &endpoint{addr: addr}
		m.endpoints[key] = ep
		m.order = append(m.order, key)
	}

	if srv != nil {
		ep.tcp = srv
		go func() {
			if err := srv.Serve(m.ctx); err != nil {
				m.opts.Logger.ErrorMsg("multiplex server %s: %s", srv.Addr(), err)
			}
		}()
		m.opts.Logger.InfoMsg("Listening on tcp %s", srv.Addr())
	}
	if host != nil {
		ep.udp = host
		go host.serve()
		m.opts.Logger.InfoMsg("Listening on udp %s", host.LocalAddr())
	}

	return nil
}

// bindTCP creates, binds and initializes a multiplex server. HTTP is always
// registered first so initializers can add routes to it.
func (m *Manager) bindTCP(addr peer.Address) (*multiplex.Server, error) {
	srv := multiplex.New(addr, multiplex.Options{
		PeekSize:     m.opts.PeekSize,
		SniffTimeout: m.opts.SniffTimeout,
		MaxPending:   m.opts.MaxPending,
		Logger:       m.opts.Logger,
		Metrics:      m.opts.Metrics,
		Deps:         m.opts.Deps,
	})

	if err := srv.Register(multiplex.ProtoHTTP, multiplex.IsHTTP, srv.HTTP().ServeConn); err != nil {
		return nil, err
	}
	if err := srv.Listen(); err != nil {
		return nil, err
	}

	for _, in := range m.initializers {
		if err := runInitializer(in.fn, srv); err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("initialize multiplex server %s: %w", addr, err)
		}
	}

	return srv, nil
}

func runInitializer(fn Initializer, srv *multiplex.Server) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initializer panic: %v", r)
		}
	}()
	return fn(srv)
}

// RemoveEndpoint closes and forgets the given transports of spec.
func (m *Manager) RemoveEndpoint(spec string, kind Kind) error {
	addr, err := peer.ParseContext(context.Background(), spec, m.opts.Resolver)
	if err != nil {
		return err
	}
	key := addr.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	ep := m.endpoints[key]
	if ep == nil || ep.kind()&kind == 0 {
		return fmt.Errorf("remove %s endpoint %s: %w", kind, key, ErrUnknownEndpoint)
	}

	if kind&TCP != 0 && ep.tcp != nil {
		_ = ep.tcp.Close()
		ep.tcp = nil
	}
	if kind&UDP != 0 && ep.udp != nil {
		_ = ep.udp.Close()
		ep.udp = nil
	}

	if ep.kind() == 0 {
		delete(m.endpoints, key)
		for i, k := range m.order {
			if k == key {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	}

	m.opts.Logger.InfoMsg("Removed %s endpoint %s", kind, key)
	return nil
}

// EndpointInfo describes one bound endpoint.
type EndpointInfo struct {
	Address   string   `json:"address"`
	Kind      Kind     `json:"kind"`
	TCP       string   `json:"tcp,omitempty"`
	UDP       string   `json:"udp,omitempty"`
	Protocols []string `json:"protocols,omitempty"`
	// Pending counts TCP connections whose protocol is not known yet.
	Pending int `json:"pending"`
}

// Endpoints lists the bound endpoints in the order they were added.
func (m *Manager) Endpoints() []EndpointInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]EndpointInfo, 0, len(m.order))
	for _, key := range m.order {
		ep := m.endpoints[key]
		info := EndpointInfo{Address: key, Kind: ep.kind()}
		if ep.tcp != nil {
			info.TCP = ep.tcp.Addr().String()
			info.Protocols = ep.tcp.Protocols()
			sort.Strings(info.Protocols)
			info.Pending = ep.tcp.Pending()
		}
		if ep.udp != nil {
			info.UDP = ep.udp.LocalAddr().String()
		}
		infos = append(infos, info)
	}
	return infos
}

// Listening reports whether at least one endpoint is bound.
func (m *Manager) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints) > 0
}

// SendUDP sends a raw datagram through the first UDP host whose address
// family matches to.
func (m *Manager) SendUDP(to peer.Address, data []byte) error {
	return m.SendUDPVia(peer.Address{}, to, data)
}

// SendUDPVia sends a raw datagram from the UDP host bound to via, so replies
// leave through the socket the request arrived on. A zero or unknown via
// falls back to SendUDP's choice.
func (m *Manager) SendUDPVia(via, to peer.Address, data []byte) error {
	m.mu.Lock()
	var host *UDPHost
	if !via.IsZero() {
		for _, key := range m.order {
			if ep := m.endpoints[key]; ep.udp != nil && ep.udp.local.Equal(via) {
				host = ep.udp
				break
			}
		}
	}
	if host == nil {
		for _, key := range m.order {
			ep := m.endpoints[key]
			if ep.udp != nil && ep.addr.Family() == to.Family() {
				host = ep.udp
				break
			}
		}
	}
	m.mu.Unlock()

	if host == nil {
		return fmt.Errorf("send to %s: %w", to, ErrNoUDPHost)
	}
	return host.WriteTo(to, data)
}

// Close closes every endpoint. The manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()

	var errs []error
	for _, key := range m.order {
		ep := m.endpoints[key]
		if ep.tcp != nil {
			if err := ep.tcp.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if ep.udp != nil {
			if err := ep.udp.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.endpoints = make(map[string]*endpoint)
	m.order = nil

	return errors.Join(errs...)
}
