// File: transport/tcp/sockaddr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tcp

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

func resolve(addr string) (*net.TCPAddr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "tcp: resolve").
			WithContext("addr", addr).
			WithCause(err)
	}
	return ta, nil
}

// toSockaddr picks the address family for ta. An empty host binds IPv4.
func toSockaddr(ta *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := ta.IP.To4(); ip4 != nil || len(ta.IP) == 0 {
		sa := &unix.SockaddrInet4{Port: ta.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: ta.Port}
	copy(sa.Addr[:], ta.IP.To16())
	if ta.Zone != "" {
		if ifi, err := net.InterfaceByName(ta.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), Port: v.Port}
	case *unix.SockaddrInet6:
		ta := &net.TCPAddr{IP: append(net.IP(nil), v.Addr[:]...), Port: v.Port}
		if v.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(v.ZoneId)); err == nil {
				ta.Zone = ifi.Name
			}
		}
		return ta
	default:
		return nil
	}
}

// newSocket opens a non-blocking, close-on-exec stream socket.
func newSocket(family int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, api.NewIOError("socket", -1, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, api.NewIOError("setnonblock", fd, err)
	}
	return fd, nil
}
