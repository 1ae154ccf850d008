// +build darwin dragonfly freebsd netbsd openbsd

package ospage

import "golang.org/x/sys/unix"

func mapNoReserve() int {
	return 0
}

func madviseFree() int {
	return unix.MADV_DONTNEED
}
