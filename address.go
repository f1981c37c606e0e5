package httpman

import (
	"fmt"
	"net"
	"strconv"
)

// SocketAddress is a host and port pair identifying one listen address.
// It is a comparable value type and is used as the registry key: two
// subsystems asking for the same SocketAddress share one server instance.
type SocketAddress struct {
	Host string
	Port uint16
}

// NewSocketAddress creates a SocketAddress from a host and port.
func NewSocketAddress(host string, port uint16) SocketAddress {
	return SocketAddress{Host: host, Port: port}
}

// String renders the address in host:port form, bracketing IPv6 hosts.
func (a SocketAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// ResolveSocketAddresses expands a host specification and a port into zero
// or more concrete listen addresses. The empty string and "*" expand to the
// IPv4 and IPv6 wildcard addresses; IP literals pass through unchanged;
// anything else is resolved as a hostname and may yield multiple addresses
// on dual-stack hosts.
func ResolveSocketAddresses(host string, port uint16) ([]SocketAddress, error) {
	switch host {
	case "", "*":
		return []SocketAddress{
			{Host: "0.0.0.0", Port: port},
			{Host: "::", Port: port},
		}, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return []SocketAddress{{Host: ip.String(), Port: port}}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrAddressResolution, host, err)
	}

	addresses := make([]SocketAddress, 0, len(ips))
	for _, ip := range ips {
		addresses = append(addresses, SocketAddress{Host: ip.String(), Port: port})
	}
	return addresses, nil
}
