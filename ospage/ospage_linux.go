// +build linux

package ospage

import "golang.org/x/sys/unix"

func mapNoReserve() int {
	return unix.MAP_NORESERVE
}

func madviseFree() int {
	return unix.MADV_FREE
}
