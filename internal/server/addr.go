package server

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// resolveAddr turns a "host:port" (or ":port") listen address into a
// unix.Sockaddr for Bind. Only IPv4 is supported; the raw-socket accept
// loop needs direct fd control, so this replaces the usual
// net.ResolveTCPAddr + net.ListenTCP path.
func resolveAddr(addr string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("resolveAddr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("resolveAddr: invalid port %q", portStr)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			ips, err := net.LookupIP(host)
			if err != nil || len(ips) == 0 {
				return nil, fmt.Errorf("resolveAddr: cannot resolve host %q", host)
			}
			ip = ips[0]
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("resolveAddr: %q is not an IPv4 address", host)
		}
		copy(sa.Addr[:], ip4)
	}

	return sa, nil
}
