package api

import "unsafe"

// TypeTag is an opaque, caller-supplied identifier for the type being
// allocated, forwarded to hooks for diagnostic or heap-profiling use.
// The allocator core never interprets it.
type TypeTag uint32

// AllocationObserverHook is notified after a successful allocation. It
// must not allocate or free through the same root it was invoked from.
type AllocationObserverHook func(ptr unsafe.Pointer, size uintptr, tag TypeTag)

// AllocationOverrideHook runs before the allocator satisfies a request.
// If it returns true, *out has already been filled in by the hook and
// the allocator returns it verbatim, skipping its own bucket/direct-map
// path entirely.
type AllocationOverrideHook func(out *unsafe.Pointer, flags AllocFlags, size uintptr, tag TypeTag) bool

// FreeObserverHook is notified before a pointer is actually released.
type FreeObserverHook func(ptr unsafe.Pointer)

// FreeOverrideHook runs before the allocator frees a pointer. If it
// returns true, the allocator considers the pointer handled and takes no
// further action.
type FreeOverrideHook func(ptr unsafe.Pointer) bool

// Hooks bundles the optional, process-wide hook set. Any field left nil
// is simply not invoked. FlagNoHooks bypasses the two allocation hooks
// for a single Alloc call; Free takes no flags, so the free hooks run on
// every Free.
type Hooks struct {
	AllocObserver AllocationObserverHook
	AllocOverride AllocationOverrideHook
	FreeObserver  FreeObserverHook
	FreeOverride  FreeOverrideHook
}

// OutOfMemoryFunc is invoked once, process-wide, when an allocation
// cannot be satisfied and FlagReturnNull was not set. Implementations
// are expected not to return; if one does, the allocator aborts.
type OutOfMemoryFunc func(requestedSize uintptr)

// Features selects process-wide compile/construction-time behavior, read
// once when a partition root is built.
type Features struct {
	// GigaCageEnabled is recorded and returned by CurrentFeatures, but
	// partition roots do not read it: every root reserves its own
	// normal-bucket pool up front whatever its value, and direct-map
	// allocations are always reserved one at a time.
	GigaCageEnabled bool
	// RefCountingEnabled turns on the per-slot reference count used by
	// BackupRefPtr-style callers.
	RefCountingEnabled bool
	// QuarantineMode selects whether freed pointers are ever routed to
	// a Quarantine implementation.
	QuarantineMode QuarantineMode
}

// QuarantineMode mirrors the three process-wide quarantine policies.
type QuarantineMode int

const (
	// QuarantineAlwaysDisabled never routes frees through a Quarantine,
	// even if one is registered.
	QuarantineAlwaysDisabled QuarantineMode = iota
	// QuarantineDisabledByDefault routes frees through the Quarantine
	// only for partitions that opt in explicitly.
	QuarantineDisabledByDefault
	// QuarantineForcedEnabled routes every eligible free through the
	// Quarantine whenever one is registered.
	QuarantineForcedEnabled
)

// GlobalInit performs the one-time, process-wide configuration consumed
// by every partition root constructed afterward. It is not safe to call
// more than once.
func GlobalInit(onOOM OutOfMemoryFunc) {
	globalOOMHandler = onOOM
}

// EnablePartitionAllocFeatures records the process-wide feature set read
// by partition roots at construction time.
func EnablePartitionAllocFeatures(f Features) {
	globalFeatures = f
}

// CurrentFeatures returns the process-wide feature set most recently
// passed to EnablePartitionAllocFeatures.
func CurrentFeatures() Features {
	return globalFeatures
}

// CurrentOOMHandler returns the handler registered via GlobalInit, or
// nil if none has been set.
func CurrentOOMHandler() OutOfMemoryFunc {
	return globalOOMHandler
}

var (
	globalOOMHandler OutOfMemoryFunc
	globalFeatures   Features
)
