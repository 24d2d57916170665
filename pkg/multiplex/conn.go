package multiplex

import (
	"net"
)

// prefixConn replays the bytes consumed while sniffing before reading from
// the underlying connection.
type prefixConn struct {
	net.Conn
	buf []byte
}

func (c *prefixConn) Read(b []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(b, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

// Unwrap returns the underlying connection.
func (c *prefixConn) Unwrap() net.Conn {
	return c.Conn
}
