package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrPrivateAddress is returned for destinations inside private or reserved ranges
var ErrPrivateAddress = errors.New("destination resolves to private/reserved address")

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsPrivateIP returns true if the IP is in a private, loopback, link-local or reserved range
func IsPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckHost refuses hosts that are, or resolve to, private or reserved
// addresses. Loopback stays reachable so local test servers work. Lookup
// failures are left for the dialer to report.
func CheckHost(ctx context.Context, host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrPrivateAddress)
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkIP(host, ip)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if err := checkIP(host, a.IP); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(host string, ip net.IP) error {
	if IsPrivateIP(ip) && !ip.IsLoopback() {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}
