//go:build linux

package port

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen creates a listening socket with an explicit accept backlog; net.Listen always uses the system maximum.
func listen(network, address string, backlog int) (net.Listener, error) {
	domain, sockaddr, err := resolveSockaddr(network, address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0 /*proto*/)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s socket: %w", network, err)
	}
	file := os.NewFile(uintptr(fd), address) // Owns fd from here on.
	defer func() { _ = file.Close() }()      // net.FileListener works on a duplicate.

	if domain != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return nil, fmt.Errorf("failed to set SO_REUSEADDR on %s: %w", address, err)
		}
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap listener of %s: %w", address, err)
	}
	return listener, nil
}

func resolveSockaddr(network, address string) (int, unix.Sockaddr, error) {
	switch network {
	case "unix":
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: address}, nil
	case "tcp":
		tcpAddr, err := net.ResolveTCPAddr(network, address)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to resolve %s: %w", address, err)
		}
		if ip4 := tcpAddr.IP.To4(); tcpAddr.IP == nil || ip4 != nil {
			sockaddr := &unix.SockaddrInet4{Port: tcpAddr.Port}
			copy(sockaddr.Addr[:], ip4) // Nil copies nothing: the any address.
			return unix.AF_INET, sockaddr, nil
		}
		sockaddr := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sockaddr.Addr[:], tcpAddr.IP.To16())
		return unix.AF_INET6, sockaddr, nil
	default:
		return 0, nil, fmt.Errorf("unsupported network %q", network)
	}
}
