// File: transport/tcp/accept_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package tcp

import "golang.org/x/sys/unix"

func accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
