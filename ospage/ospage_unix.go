// +build darwin dragonfly freebsd linux netbsd openbsd

package ospage

import "fmt"
import "unsafe"

import "golang.org/x/sys/unix"

func init() {
	systemPageSize = uintptr(unix.Getpagesize())
	allocationGranularity = systemPageSize
}

// ReserveAddressSpace reserves a `size` byte region of virtual address space
// aligned to `alignment`, with no physical backing and no access (PROT_NONE).
// The returned base is never moved or recycled until ReleaseAddressSpace.
//
// MmapPtr/MunmapPtr are used instead of Mmap/Munmap: the slice-based pair
// tracks whole mappings and refuses the partial unmaps the slack-then-trim
// alignment scheme performs.
func ReserveAddressSpace(size, alignment uintptr) (uintptr, error) {
	validate(size, alignment)
	size = RoundUpToGranularity(size)

	// Over-reserve so we can trim to an aligned sub-region.
	slack := alignment
	raw, err := unix.MmapPtr(-1, 0, nil, size+slack,
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|mapNoReserve())
	if err != nil {
		return 0, fmt.Errorf("ospage: reserve %d bytes: %w", size+slack, err)
	}
	base := uintptr(raw)
	aligned := ((base + alignment - 1) / alignment) * alignment

	if head := aligned - base; head > 0 {
		unix.MunmapPtr(raw, head)
	}
	if tail := (base + size + slack) - (aligned + size); tail > 0 {
		unix.MunmapPtr(unsafe.Pointer(aligned+size), tail)
	}
	return aligned, nil
}

// ReleaseAddressSpace returns a previously reserved region to the OS. Once
// released the address range may be reused by unrelated mappings.
func ReleaseAddressSpace(base, size uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(base), RoundUpToGranularity(size))
}

// CommitSystemPages makes [base, base+length) readable and writable,
// backing it with physical memory on first touch.
func CommitSystemPages(base, length uintptr) error {
	if err := unix.Mprotect(rawslice(base, length), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("ospage: commit %d bytes at %#x: %w", length, base, err)
	}
	return nil
}

// DecommitSystemPages returns the physical pages backing [base, base+length)
// to the OS and makes the range inaccessible until recommitted.
func DecommitSystemPages(base, length uintptr) error {
	sl := rawslice(base, length)
	if err := unix.Madvise(sl, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("ospage: decommit madvise %d bytes at %#x: %w", length, base, err)
	}
	if err := unix.Mprotect(sl, unix.PROT_NONE); err != nil {
		return fmt.Errorf("ospage: decommit mprotect %d bytes at %#x: %w", length, base, err)
	}
	return nil
}

// DiscardSystemPages tells the OS the contents of [base, base+length) may be
// dropped; the range stays mapped and readable/writable, but a subsequent
// read may observe zeros.
func DiscardSystemPages(base, length uintptr) error {
	sl := rawslice(base, length)
	if err := unix.Madvise(sl, madviseFree()); err != nil {
		return fmt.Errorf("ospage: discard %d bytes at %#x: %w", length, base, err)
	}
	return nil
}

func rawslice(base, length uintptr) []byte {
	var sl []byte
	hdr := (*sliceHeader)(unsafe.Pointer(&sl))
	hdr.Data = base
	hdr.Len = int(length)
	hdr.Cap = int(length)
	return sl
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}
