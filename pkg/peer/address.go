// Package peer provides Address, the canonical representation of a remote
// (or local bind) endpoint: an IPv4 or IPv6 address plus a port.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"syscall"
)

// ErrAddressParse is wrapped by every error returned from Parse.
var ErrAddressParse = errors.New("address parse error")

// Family is the address family of an Address.
type Family uint8

const (
	// FamilyNone is the family of the zero Address.
	FamilyNone Family = iota
	// FamilyIPv4 ...
	FamilyIPv4
	// FamilyIPv6 ...
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "none"
	}
}

// sockaddr lengths as the kernel reports them
const (
	sockaddrInet4Len = 16
	sockaddrInet6Len = 28
)

// Address is an immutable IPv4 or IPv6 endpoint. The zero value is not a
// valid endpoint (see IsZero).
type Address struct {
	ap netip.AddrPort
}

// Resolver looks up the addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Parse parses "host:port" or "[ipv6]:port". Numeric hosts are parsed
// directly, anything else is resolved through DNS. An empty host or "*"
// selects all IPv4 interfaces.
func Parse(s string) (Address, error) {
	return ParseContext(context.Background(), s, net.DefaultResolver)
}

// ParseContext is Parse with an explicit context and resolver.
func ParseContext(ctx context.Context, s string, r Resolver) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %s", ErrAddressParse, s, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: invalid port %q", ErrAddressParse, s, portStr)
	}

	if host == "" || host == "*" {
		return Address{ap: netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))}, nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return Address{ap: netip.AddrPortFrom(ip, uint16(port))}, nil
	}

	if r == nil {
		return Address{}, fmt.Errorf("%w: %q: no resolver for hostname %q", ErrAddressParse, s, host)
	}

	ips, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return Address{}, fmt.Errorf("%w: resolving %q: %s", ErrAddressParse, host, err)
	}
	if len(ips) == 0 {
		return Address{}, fmt.Errorf("%w: resolving %q: no addresses", ErrAddressParse, host)
	}

	// prefer IPv4, the same way the net package orders dual-stack results
	ip := ips[0]
	for _, cand := range ips {
		if cand.Unmap().Is4() {
			ip = cand.Unmap()
			break
		}
	}

	return Address{ap: netip.AddrPortFrom(ip, uint16(port))}, nil
}

// MustParse is Parse for constants in tests and defaults. It panics on error.
func MustParse(s string) Address {
	a, err := ParseContext(context.Background(), s, nil)
	if err != nil {
		panic(err)
	}
	return a
}

// FromNetAddr converts a *net.UDPAddr or *net.TCPAddr. IPv4 addresses that
// the net package stores in 16-byte form are normalised to IPv4.
func FromNetAddr(a net.Addr) (Address, bool) {
	var (
		ip   net.IP
		port int
		zone string
	)

	switch v := a.(type) {
	case *net.UDPAddr:
		ip, port, zone = v.IP, v.Port, v.Zone
	case *net.TCPAddr:
		ip, port, zone = v.IP, v.Port, v.Zone
	default:
		return Address{}, false
	}

	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Address{}, false
	}
	if zone != "" && addr.Is6() {
		addr = addr.WithZone(zone)
	}

	return Address{ap: netip.AddrPortFrom(addr, uint16(port))}, true
}

// Family returns the address family.
func (a Address) Family() Family {
	switch {
	case !a.ap.Addr().IsValid():
		return FamilyNone
	case a.ap.Addr().Is4():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return !a.ap.Addr().IsValid()
}

// Port ...
func (a Address) Port() uint16 {
	return a.ap.Port()
}

// AddrPort returns the underlying netip value.
func (a Address) AddrPort() netip.AddrPort {
	return a.ap
}

// Equal compares family, raw address bytes and port. Addresses of different
// families are never equal, so 1.2.3.4 and ::ffff:1.2.3.4 differ.
func (a Address) Equal(b Address) bool {
	if a.Family() != b.Family() || a.Port() != b.Port() {
		return false
	}
	return a.ap.Addr().As16() == b.ap.Addr().As16() && a.ap.Addr().Zone() == b.ap.Addr().Zone()
}

// String renders "ip:port" or "[ip]:port". Numeric output parses back to an
// equal Address.
func (a Address) String() string {
	if a.IsZero() {
		return "<nil>"
	}
	return a.ap.String()
}

// Network returns "udp4"/"tcp4" style network names for the given base.
func (a Address) Network(base string) string {
	switch a.Family() {
	case FamilyIPv4:
		return base + "4"
	case FamilyIPv6:
		return base + "6"
	default:
		return base
	}
}

// UDPAddr ...
func (a Address) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.ap)
}

// TCPAddr ...
func (a Address) TCPAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(a.ap)
}

// SockAddr returns the socket-level representation of a and its length in
// bytes. It is meant for raw socket calls only.
func (a Address) SockAddr() (syscall.Sockaddr, int) {
	switch a.Family() {
	case FamilyIPv4:
		return &syscall.SockaddrInet4{Port: int(a.Port()), Addr: a.ap.Addr().As4()}, sockaddrInet4Len
	case FamilyIPv6:
		return &syscall.SockaddrInet6{
			Port:   int(a.Port()),
			ZoneId: zoneIndex(a.ap.Addr().Zone()),
			Addr:   a.ap.Addr().As16(),
		}, sockaddrInet6Len
	default:
		return nil, 0
	}
}

// zoneIndex maps an IPv6 zone, numeric or an interface name, to the
// interface index the kernel expects. Unknown zones map to 0.
func zoneIndex(zone string) uint32 {
	if zone == "" {
		return 0
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n)
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index)
	}
	return 0
}
