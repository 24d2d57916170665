package tcp

import "net"

// MockTCPConn is one side of an in-memory connection. It reports the TCP
// addresses the mock network assigned instead of the pipe's.
type MockTCPConn struct {
	net.Conn
	localAddr  *net.TCPAddr
	remoteAddr *net.TCPAddr
}

func newConnPair(client, server net.Conn, clientAddr, serverAddr *net.TCPAddr) (*MockTCPConn, *MockTCPConn) {
	return &MockTCPConn{Conn: client, localAddr: clientAddr, remoteAddr: serverAddr},
		&MockTCPConn{Conn: server, localAddr: serverAddr, remoteAddr: clientAddr}
}

func (c *MockTCPConn) LocalAddr() net.Addr {
	if c.localAddr == nil {
		return c.Conn.LocalAddr()
	}
	return c.localAddr
}

func (c *MockTCPConn) RemoteAddr() net.Addr {
	if c.remoteAddr == nil {
		return c.Conn.RemoteAddr()
	}
	return c.remoteAddr
}

var _ net.Conn = (*MockTCPConn)(nil)
