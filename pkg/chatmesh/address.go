package chatmesh

import (
	"fmt"
	"net"

	sockaddr "github.com/hashicorp/go-sockaddr"
)

// CanonicalAddress resolves raw (a "host:port" string, possibly a DNS
// name such as the well-known "startup_server" bootstrap host) into the
// canonical "ip:port" form used as the Peer identity key throughout the
// membership layer. go-sockaddr's address parsing only understands IP
// literals and interface descriptions, not arbitrary DNS names, so the
// actual resolution goes through net.ResolveTCPAddr; go-sockaddr is used
// instead for the one address-discovery problem it is built for, below.
func CanonicalAddress(raw string) (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", raw)
	if err != nil {
		return "", fmt.Errorf("resolving address %q: %w", raw, err)
	}
	return addr.String(), nil
}

// LocalAdvertiseAddress picks the address this node should advertise to
// peers for the given listening port: the first private IPv4 address
// go-sockaddr finds among the host's interfaces, falling back to the
// loopback address when none is found (a single-host test cluster).
func LocalAdvertiseAddress(port int) (string, error) {
	ip, err := sockaddr.GetPrivateIP()
	if err != nil {
		return "", fmt.Errorf("discovering local address: %w", err)
	}
	if ip == "" {
		ip = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", ip, port), nil
}
