package peer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"testing"
)

type fakeResolver struct {
	addrs map[string][]netip.Addr
}

func (r *fakeResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	if ips, ok := r.addrs[host]; ok {
		return ips, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func TestParse_Numeric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		want   string
		family Family
	}{
		{"ipv4", "192.168.1.1:30120", "192.168.1.1:30120", FamilyIPv4},
		{"ipv4 port zero", "127.0.0.1:0", "127.0.0.1:0", FamilyIPv4},
		{"ipv6 loopback", "[::1]:30120", "[::1]:30120", FamilyIPv6},
		{"ipv6 expanded", "[2001:0db8:0000:0000:0000:0000:0000:0001]:80", "[2001:db8::1]:80", FamilyIPv6},
		{"ipv4 mapped stays ipv6", "[::ffff:10.0.0.1]:1", "[::ffff:10.0.0.1]:1", FamilyIPv6},
		{"empty host", ":30120", "0.0.0.0:30120", FamilyIPv4},
		{"wildcard host", "*:30120", "0.0.0.0:30120", FamilyIPv4},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.in, err)
			}
			if got := a.String(); got != tc.want {
				t.Errorf("Parse(%q).String() = %q, want %q", tc.in, got, tc.want)
			}
			if got := a.Family(); got != tc.family {
				t.Errorf("Parse(%q).Family() = %v, want %v", tc.in, got, tc.family)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"no port", "127.0.0.1"},
		{"port out of range", "127.0.0.1:65536"},
		{"negative port", "127.0.0.1:-1"},
		{"non numeric port", "127.0.0.1:abc"},
		{"unbracketed ipv6", "::1:80:90"},
		{"empty", ""},
		{"unknown host", "no-such-host.invalid:80"},
	}

	r := &fakeResolver{}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseContext(context.Background(), tc.in, r)
			if !errors.Is(err, ErrAddressParse) {
				t.Errorf("ParseContext(%q) error = %v, want ErrAddressParse", tc.in, err)
			}
		})
	}
}

func TestParse_Resolve(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{addrs: map[string][]netip.Addr{
		"dual.example":  {netip.MustParseAddr("2001:db8::5"), netip.MustParseAddr("10.1.2.3")},
		"only6.example": {netip.MustParseAddr("2001:db8::6")},
	}}

	tests := []struct {
		in   string
		want string
	}{
		{"dual.example:30120", "10.1.2.3:30120"},
		{"only6.example:443", "[2001:db8::6]:443"},
	}

	for _, tc := range tests {
		a, err := ParseContext(context.Background(), tc.in, r)
		if err != nil {
			t.Fatalf("ParseContext(%q) error = %v", tc.in, err)
		}
		if got := a.String(); got != tc.want {
			t.Errorf("ParseContext(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"1.2.3.4:1", "255.255.255.255:65535", "0.0.0.0:0", "10.0.0.1:30120", "[fe80::1]:9", "[::]:30120"} {
		first, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", s, err)
		}
		second, err := Parse(first.String())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", first.String(), err)
		}
		if !second.Equal(first) {
			t.Errorf("Parse(Parse(%q).String()) = %v, want %v", s, second, first)
		}
	}
}

func TestAddress_Equal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same ipv4", "10.0.0.1:80", "10.0.0.1:80", true},
		{"different port", "10.0.0.1:80", "10.0.0.1:81", false},
		{"different ip", "10.0.0.1:80", "10.0.0.2:80", false},
		{"same ipv6", "[::1]:80", "[0:0:0:0:0:0:0:1]:80", true},
		{"ipv4 vs mapped ipv6", "10.0.0.1:80", "[::ffff:10.0.0.1]:80", false},
		{"ipv4 any vs ipv6 any", "0.0.0.0:80", "[::]:80", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, b := MustParse(tc.a), MustParse(tc.b)
			if got := a.Equal(b); got != tc.want {
				t.Errorf("%s.Equal(%s) = %v, want %v", a, b, got, tc.want)
			}
			if got := b.Equal(a); got != tc.want {
				t.Errorf("%s.Equal(%s) = %v, want %v", b, a, got, tc.want)
			}
		})
	}
}

func TestAddress_SockAddr(t *testing.T) {
	t.Parallel()

	sa, n := MustParse("10.1.2.3:30120").SockAddr()
	in4, ok := sa.(*syscall.SockaddrInet4)
	if !ok {
		t.Fatalf("SockAddr() = %T, want *syscall.SockaddrInet4", sa)
	}
	if n != 16 || in4.Port != 30120 || in4.Addr != [4]byte{10, 1, 2, 3} {
		t.Errorf("SockAddr() = %+v, %d", in4, n)
	}

	sa, n = MustParse("[2001:db8::1]:53").SockAddr()
	in6, ok := sa.(*syscall.SockaddrInet6)
	if !ok {
		t.Fatalf("SockAddr() = %T, want *syscall.SockaddrInet6", sa)
	}
	want := netip.MustParseAddr("2001:db8::1").As16()
	if n != 28 || in6.Port != 53 || in6.Addr != want {
		t.Errorf("SockAddr() = %+v, %d", in6, n)
	}

	if sa, n := (Address{}).SockAddr(); sa != nil || n != 0 {
		t.Errorf("zero Address SockAddr() = %v, %d", sa, n)
	}
}

func TestAddress_SockAddrZone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want uint32
	}{
		{"[fe80::1%7]:27960", 7},
		{"[fe80::1]:27960", 0},
		{"[fe80::1%no-such-interface0]:27960", 0},
	}
	for _, tc := range tests {
		sa, _ := MustParse(tc.in).SockAddr()
		in6, ok := sa.(*syscall.SockaddrInet6)
		if !ok {
			t.Fatalf("SockAddr(%s) = %T, want *syscall.SockaddrInet6", tc.in, sa)
		}
		if in6.ZoneId != tc.want {
			t.Errorf("SockAddr(%s).ZoneId = %d, want %d", tc.in, in6.ZoneId, tc.want)
		}
	}

	lo, err := net.InterfaceByIndex(1)
	if err != nil {
		t.Skipf("no interface with index 1: %v", err)
	}
	sa, _ := MustParse("[fe80::1%" + lo.Name + "]:27960").SockAddr()
	if got := sa.(*syscall.SockaddrInet6).ZoneId; got != 1 {
		t.Errorf("ZoneId for %s = %d, want 1", lo.Name, got)
	}
}

func TestFromNetAddr(t *testing.T) {
	t.Parallel()

	udp := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	a, ok := FromNetAddr(udp)
	if !ok {
		t.Fatal("FromNetAddr(udp) not ok")
	}
	if !a.Equal(MustParse("127.0.0.1:4000")) {
		t.Errorf("FromNetAddr(%v) = %v", udp, a)
	}

	tcp := &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}
	a, ok = FromNetAddr(tcp)
	if !ok || !a.Equal(MustParse("[::1]:80")) {
		t.Errorf("FromNetAddr(%v) = %v, %v", tcp, a, ok)
	}

	if _, ok := FromNetAddr(&net.UnixAddr{Name: "/tmp/x"}); ok {
		t.Error("FromNetAddr(unix) ok, want false")
	}

	if back, _ := FromNetAddr(a.TCPAddr()); !back.Equal(a) {
		t.Errorf("TCPAddr round trip = %v, want %v", back, a)
	}
}
