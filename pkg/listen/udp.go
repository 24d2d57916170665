package listen

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"dominicbreuker/gamenet/pkg/bind"
	"dominicbreuker/gamenet/pkg/config"
	"dominicbreuker/gamenet/pkg/intercept"
	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/metrics"
	"dominicbreuker/gamenet/pkg/peer"
	"dominicbreuker/gamenet/pkg/transport"

	kcp "github.com/xtaci/kcp-go/v5"
)

// UDPHost is one bound UDP socket. Every datagram goes through the
// interceptor first; whatever is not intercepted feeds a KCP listener whose
// sessions are handed to the session handler.
type UDPHost struct {
	addr   peer.Address
	local  peer.Address // bound socket, zero if unknown
	conn   net.PacketConn
	kcp    *kcp.Listener
	handle transport.Handler
	logger *log.Logger

	closeOnce sync.Once
}

// udpHostOptions is the subset of the manager options a host needs.
type udpHostOptions struct {
	Interceptor *intercept.Interceptor
	Handler     transport.Handler
	Logger      *log.Logger
	Metrics     *metrics.Metrics
	Deps        *config.Dependencies
}

// newUDPHost binds addr. A bind conflict wraps bind.ErrAddressInUse.
func newUDPHost(addr peer.Address, opts udpHostOptions) (*UDPHost, error) {
	network := addr.Network("udp")
	conn, err := config.GetPacketListenerFunc(opts.Deps)(network, addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen(%s, %s): %w", network, addr, bind.Classify(err))
	}

	local, _ := peer.FromNetAddr(conn.LocalAddr())
	pc := &interceptConn{
		PacketConn:  conn,
		local:       local,
		interceptor: opts.Interceptor,
		metrics:     opts.Metrics,
	}

	// block cipher nil, no FEC shards
	l, err := kcp.ServeConn(nil, 0, 0, pc)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kcp.ServeConn(): %w", err)
	}

	return &UDPHost{
		addr:   addr,
		local:  local,
		conn:   conn,
		kcp:    l,
		handle: opts.Handler,
		logger: opts.Logger,
	}, nil
}

// Address returns the configured bind address.
func (h *UDPHost) Address() peer.Address {
	return h.addr
}

// LocalAddr returns the bound socket address.
func (h *UDPHost) LocalAddr() net.Addr {
	return h.conn.LocalAddr()
}

// WriteTo sends a raw datagram, bypassing KCP. It is the transport behind
// intercept.Interceptor.Send.
func (h *UDPHost) WriteTo(to peer.Address, data []byte) error {
	if _, err := h.conn.WriteTo(data, to.UDPAddr()); err != nil {
		return fmt.Errorf("WriteTo(%s): %w", to, err)
	}
	return nil
}

// serve accepts KCP sessions until the host is closed.
func (h *UDPHost) serve() {
	for {
		sess, err := h.kcp.AcceptKCP()
		if err != nil {
			if isClosed(err) {
				return
			}
			h.logger.ErrorMsg("AcceptKCP() on %s: %s", h.addr, err)
			return
		}

		sess.SetNoDelay(1, 10, 2, 1)
		sess.SetStreamMode(true)
		sess.SetWindowSize(1024, 1024)

		if h.handle == nil {
			_ = sess.Close()
			continue
		}

		go func(c *kcp.UDPSession) {
			defer func() { _ = c.Close() }()
			defer func() {
				if r := recover(); r != nil {
					h.logger.ErrorMsg("KCP session handler panic: %v", r)
				}
			}()

			if err := h.handle(c); err != nil {
				h.logger.ErrorMsg("handle KCP session from %s: %s", c.RemoteAddr(), err)
			}
		}(sess)
	}
}

// Close stops accepting and closes the socket. KCP does not close a conn it
// did not create, so the socket is closed here.
func (h *UDPHost) Close() error {
	var err error
	h.closeOnce.Do(func() {
		_ = h.kcp.Close()
		err = h.conn.Close()
	})
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		strings.Contains(err.Error(), "use of closed network connection")
}

// interceptConn runs received datagrams through the interceptor and hides
// the intercepted ones from its reader.
type interceptConn struct {
	net.PacketConn
	local       peer.Address
	interceptor *intercept.Interceptor
	metrics     *metrics.Metrics
}

func (c *interceptConn) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		n, addr, err := c.PacketConn.ReadFrom(b)
		if err != nil {
			return n, addr, err
		}
		if c.metrics != nil {
			c.metrics.DatagramsReceived.Inc()
		}

		if c.interceptor == nil {
			return n, addr, nil
		}
		from, ok := peer.FromNetAddr(addr)
		if !ok || !c.interceptor.InterceptAt(c.local, from, b[:n]) {
			return n, addr, nil
		}

		if c.metrics != nil {
			c.metrics.DatagramsIntercepted.Inc()
		}
	}
}
