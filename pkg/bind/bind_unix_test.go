//go:build unix

package bind

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassify_SyscallError(t *testing.T) {
	t.Parallel()

	err := &net.OpError{Op: "listen", Net: "udp", Err: os.NewSyscallError("bind", syscall.EADDRINUSE)}
	if got := Classify(err); !errors.Is(got, ErrAddressInUse) {
		t.Errorf("Classify(%v) = %v, want ErrAddressInUse", err, got)
	}
}
