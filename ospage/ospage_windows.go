// +build windows

package ospage

import "fmt"

import "golang.org/x/sys/windows"

func init() {
	systemPageSize = uintptr(windows.Getpagesize())
	// Windows reserves address space at 64 KiB granularity regardless
	// of the page size.
	allocationGranularity = 64 * 1024
}

// ReserveAddressSpace reserves a `size` byte region of virtual address space
// aligned to `alignment` via MEM_RESERVE, with no physical backing.
func ReserveAddressSpace(size, alignment uintptr) (uintptr, error) {
	validate(size, alignment)
	size = RoundUpToGranularity(size)

	slack := alignment
	raw, err := windows.VirtualAlloc(0, size+slack, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, fmt.Errorf("ospage: reserve %d bytes: %w", size+slack, err)
	}
	if err := windows.VirtualFree(raw, 0, windows.MEM_RELEASE); err != nil {
		return 0, fmt.Errorf("ospage: release over-reservation: %w", err)
	}
	aligned := ((raw + alignment - 1) / alignment) * alignment
	base, err := windows.VirtualAlloc(aligned, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, fmt.Errorf("ospage: reserve aligned %d bytes at %#x: %w", size, aligned, err)
	}
	return base, nil
}

// ReleaseAddressSpace returns a previously reserved region to the OS.
func ReleaseAddressSpace(base, size uintptr) error {
	return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}

// CommitSystemPages makes [base, base+length) readable and writable.
func CommitSystemPages(base, length uintptr) error {
	_, err := windows.VirtualAlloc(base, length, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return fmt.Errorf("ospage: commit %d bytes at %#x: %w", length, base, err)
	}
	return nil
}

// DecommitSystemPages returns the physical pages backing [base, base+length)
// to the OS via MEM_DECOMMIT, leaving the reservation intact.
func DecommitSystemPages(base, length uintptr) error {
	if err := windows.VirtualFree(base, length, windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("ospage: decommit %d bytes at %#x: %w", length, base, err)
	}
	return nil
}

// DiscardSystemPages hints the OS that the contents of [base, base+length)
// may be reclaimed without decommitting the range.
func DiscardSystemPages(base, length uintptr) error {
	_, err := windows.VirtualAlloc(base, length, windows.MEM_RESET, windows.PAGE_READWRITE)
	if err != nil {
		return fmt.Errorf("ospage: discard %d bytes at %#x: %w", length, base, err)
	}
	return nil
}
