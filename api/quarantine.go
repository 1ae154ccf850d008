package api

import "unsafe"

// SlotSpan identifies the slot span a quarantined pointer belongs to,
// opaque to the quarantine implementation. The allocator core passes one
// to MoveToQuarantine; the quarantine never dereferences or interprets
// it.
type SlotSpan unsafe.Pointer

// Quarantine is the contract consumed from an optional pointer-scanning
// quarantine. When a root's resolved quarantine mode is ForcedEnabled,
// Free hands a non-direct-mapped pointer to MoveToQuarantine instead of
// freeing it directly;
// the quarantine retains ownership until it scans for dangling
// references and calls back into FreeForRefCounting.
//
// A nil Quarantine disables the feature entirely; the allocator must not
// call through a nil value.
type Quarantine interface {
	// MoveToQuarantine takes ownership of ptr, which belongs to span.
	// The allocator must not touch the slot again until the quarantine
	// calls FreeForRefCounting(ptr) on the same root.
	MoveToQuarantine(ptr unsafe.Pointer, span SlotSpan)
}

// QuarantineCallback is implemented by the allocator root and invoked by
// the quarantine once it has determined a previously quarantined pointer
// has no surviving references. It finalizes the free via the partition's
// normal path, bypassing the quarantine a second time.
type QuarantineCallback interface {
	// FreeForRefCounting finalizes the free of a pointer the quarantine
	// previously took via MoveToQuarantine.
	FreeForRefCounting(ptr unsafe.Pointer)
}
