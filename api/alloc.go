package api

import "unsafe"

// AllocFlags modify the behavior of a single allocation call.
type AllocFlags uint32

const (
	// FlagReturnNull makes Alloc return nil on OOM instead of aborting
	// the process.
	FlagReturnNull AllocFlags = 1 << iota
	// FlagZeroFill requests that the returned memory be zeroed, whether
	// it came from a fresh OS page or a reused slot.
	FlagZeroFill
	// FlagNoHooks bypasses the registered AllocationObserverHook and
	// AllocationOverrideHook for this call.
	FlagNoHooks
)

// PurgeFlags select which reclamation passes PurgeMemory performs.
type PurgeFlags uint32

const (
	// PurgeDecommitEmptySlotSpans releases the physical pages backing
	// slot spans that are entirely free but still cached for reuse.
	PurgeDecommitEmptySlotSpans PurgeFlags = 1 << iota
	// PurgeDiscardUnusedSystemPages hints the OS to reclaim the whole
	// system pages past the last provisioned slot of partially-used slot
	// spans, without decommitting them.
	PurgeDiscardUnusedSystemPages
	// PurgeForceAllFreed materializes deferred frees first: thread-cache
	// bins are flushed back to their spans so that slots parked in a
	// cache count as free for the decommit/discard passes that follow.
	PurgeForceAllFreed
)

// Allocator is the contract a partition root exposes to callers. It
// mirrors the public surface of the allocator core so that higher level
// code (the thread cache, direct-map path, test harnesses) can depend on
// the interface instead of a concrete struct.
type Allocator interface {
	// Alloc allocates a chunk of usable size at least `n` bytes.
	// Allocated memory is always aligned to the partition's minimum
	// slot alignment.
	Alloc(n uintptr, flags AllocFlags) unsafe.Pointer

	// AllocTyped is Alloc with a caller-supplied type tag forwarded to
	// the registered hooks for heap-profiling use.
	AllocTyped(n uintptr, flags AllocFlags, tag TypeTag) unsafe.Pointer

	// AlignedAlloc allocates `n` bytes aligned to `alignment`, which
	// must be a power of two.
	AlignedAlloc(n, alignment uintptr) unsafe.Pointer

	// Realloc resizes a previously allocated chunk, copying contents
	// as needed. A nil ptr behaves like Alloc; a zero size behaves
	// like Free and returns nil.
	Realloc(ptr unsafe.Pointer, newSize uintptr, flags AllocFlags) unsafe.Pointer

	// TryRealloc resizes `ptr` in place when possible, returning false
	// without copying or freeing anything if it cannot.
	TryRealloc(ptr unsafe.Pointer, newSize uintptr) bool

	// Free releases a chunk back to its owning slot span.
	Free(ptr unsafe.Pointer)

	// GetUsableSize returns the number of bytes the caller may use at
	// ptr, which can exceed the originally requested size.
	GetUsableSize(ptr unsafe.Pointer) uintptr

	// PurgeMemory reclaims memory that is not actively in use.
	PurgeMemory(flags PurgeFlags)

	// Stats reports aggregate accounting for this partition.
	Stats() Stats
}

// Stats is a snapshot of partition-wide memory accounting.
type Stats struct {
	TotalReservedBytes  int64
	TotalCommittedBytes int64
	TotalActiveBytes    int64
	TotalWasteBytes     int64
	MaxCommittedBytes   int64
}
