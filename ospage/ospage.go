package ospage

import "fmt"

// Granularity constants consumed by the partitioned allocator. SystemPageSize
// is the unit commit/decommit operate on; AllocationGranularity is the unit
// address-space reservations are rounded up to.
var (
	systemPageSize        uintptr
	allocationGranularity uintptr
)

// SystemPageSize returns the OS page size, always a power of two.
func SystemPageSize() uintptr {
	return systemPageSize
}

// AllocationGranularity returns the granularity at which address-space
// reservations are made. On most unices this equals the system page size;
// on Windows it is the (larger) 64KB allocation granularity.
func AllocationGranularity() uintptr {
	return allocationGranularity
}

// RoundUpToSystemPage rounds n up to the next multiple of SystemPageSize.
func RoundUpToSystemPage(n uintptr) uintptr {
	return roundUp(n, systemPageSize)
}

// RoundUpToGranularity rounds n up to the next multiple of
// AllocationGranularity.
func RoundUpToGranularity(n uintptr) uintptr {
	return roundUp(n, allocationGranularity)
}

func roundUp(n, unit uintptr) uintptr {
	if unit == 0 {
		panic("ospage: zero granularity")
	}
	if r := n % unit; r != 0 {
		return n + (unit - r)
	}
	return n
}

func validate(size, alignment uintptr) {
	if size == 0 {
		panic("ospage: zero size")
	}
	if alignment == 0 || (alignment&(alignment-1)) != 0 {
		panic(fmt.Errorf("ospage: alignment %v is not a power of two", alignment))
	}
}
