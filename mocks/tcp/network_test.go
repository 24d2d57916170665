package tcp

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestMockNetwork_ListenDial(t *testing.T) {
	t.Parallel()

	mockNet := NewMockTCPNetwork()
	l, err := mockNet.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001})
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	client, err := mockNet.Dial("127.0.0.1:9001")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(client, buf); err != nil || string(buf) != "ping" {
		t.Errorf("echo = %q, %v", buf, err)
	}
}

func TestMockNetwork_AddressInUse(t *testing.T) {
	t.Parallel()

	mockNet := NewMockTCPNetwork()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9002}

	l, err := mockNet.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}

	if _, err := mockNet.ListenTCP("tcp", addr); !errors.Is(err, syscall.EADDRINUSE) {
		t.Errorf("second ListenTCP() error = %v, want EADDRINUSE", err)
	}

	l.Close()
	if _, err := mockNet.ListenTCP("tcp", addr); err != nil {
		t.Errorf("ListenTCP() after Close error = %v", err)
	}
}

func TestMockNetwork_EphemeralPort(t *testing.T) {
	t.Parallel()

	mockNet := NewMockTCPNetwork()
	l, err := mockNet.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer l.Close()

	if l.Addr().(*net.TCPAddr).Port == 0 {
		t.Error("listener kept port 0")
	}
	if _, err := mockNet.WaitForListener(l.Addr().String(), 100); err != nil {
		t.Errorf("WaitForListener() error = %v", err)
	}
}
