// Package tcp provides an in-memory TCP network for tests. Listeners are
// injected through config.Dependencies.TCPListener and dialed with Dial.
package tcp

import (
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// MockTCPNetwork simulates a TCP network without real sockets.
type MockTCPNetwork struct {
	listeners    map[string]*MockTCPListener
	nextPort     int
	mu           sync.Mutex
	listenerCond *sync.Cond // signalled when listeners change
}

// NewMockTCPNetwork creates a new mock TCP network.
func NewMockTCPNetwork() *MockTCPNetwork {
	m := &MockTCPNetwork{
		listeners: make(map[string]*MockTCPListener),
		nextPort:  40000,
	}
	m.listenerCond = sync.NewCond(&m.mu)
	return m
}

// ListenTCP creates a mock listener. Port 0 picks a free port. Binding an
// address that is taken fails with EADDRINUSE, like the kernel.
func (m *MockTCPNetwork) ListenTCP(network string, laddr *net.TCPAddr) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr := *laddr
	if addr.Port == 0 {
		m.nextPort++
		addr.Port = m.nextPort
	}

	key := addr.String()
	if _, exists := m.listeners[key]; exists {
		return nil, &net.OpError{Op: "listen", Net: network, Addr: &addr, Err: os.NewSyscallError("bind", syscall.EADDRINUSE)}
	}

	listener := &MockTCPListener{
		addr:       &addr,
		connCh:     make(chan *MockTCPConn, 10),
		acceptedCh: make(chan *MockTCPConn, 16),
		closeCh:    make(chan struct{}),
		network:    m,
	}
	m.listeners[key] = listener
	m.listenerCond.Broadcast()

	return listener, nil
}

// Dial connects to a mock listener at addr ("host:port").
func (m *MockTCPNetwork) Dial(addr string) (net.Conn, error) {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	listener, exists := m.listeners[raddr.String()]
	m.nextPort++
	laddr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: m.nextPort}
	m.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("connection refused: no listener on %s", raddr)
	}

	clientConn, serverConn := net.Pipe()
	mockClient, mockServer := newConnPair(clientConn, serverConn, laddr, raddr)

	select {
	case listener.connCh <- mockServer:
	case <-listener.closeCh:
		clientConn.Close()
		serverConn.Close()
		return nil, fmt.Errorf("connection refused: listener closed")
	case <-time.After(1 * time.Second):
		clientConn.Close()
		serverConn.Close()
		return nil, fmt.Errorf("connection timeout")
	}

	return mockClient, nil
}

// WaitForListener blocks until a listener exists on addr or the timeout (in
// milliseconds) elapses.
func (m *MockTCPNetwork) WaitForListener(addr string, timeoutMs int) (*MockTCPListener, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if l, ok := m.listeners[addr]; ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for listener on %s", addr)
		}

		// wake up periodically so the deadline is honoured
		timer := time.AfterFunc(10*time.Millisecond, m.listenerCond.Broadcast)
		m.listenerCond.Wait()
		timer.Stop()
	}
}
