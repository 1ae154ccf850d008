package malloc

import "sync"
import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/partalloc/api"
import "github.com/bnclabs/partalloc/lib"
import "github.com/bnclabs/partalloc/ospage"
import "github.com/prataprc/golog"

// extrasSize is the leading extras area reserved per slot when an
// options.RefCount partition is built: one reference-count word,
// padded to Alignment so the pointer handed back keeps the slot's
// alignment. Debug cookies are
// omitted from these extras: the debug/production build tags already
// gate slot poisoning via poisonSlot, and cookie verification would
// duplicate that same split without adding a new component.
const extrasSize = Alignment

// PartitionRoot is a single heap partition: its own super-page
// extents, bucket array, lock, and aggregate counters. It implements
// api.Allocator and api.QuarantineCallback.
type PartitionRoot struct {
	mu sync.Mutex

	opts    Options
	sizes   []uintptr
	buckets []bucket

	normalCage *gigaCage
	directMap  *directMapList
	current    *superPageExtent
	cursors    map[*superPageExtent]uintptr

	threadCache *threadCache

	quarantine api.Quarantine
	hooks      api.Hooks

	invertedSelf uintptr

	committedBytes int64
	superPageBytes int64
	directMapBytes int64
	maxCommitted   int64

	spanHistogram *lib.HistogramInt64
}

var _ api.Allocator = (*PartitionRoot)(nil)
var _ api.QuarantineCallback = (*PartitionRoot)(nil)

// NewPartitionRoot constructs a partition with the given options,
// reserving its normal-bucket GigaCage pool up front: validate
// configuration, build the size-class table, then return a
// ready-to-use allocator.
func NewPartitionRoot(opts Options) *PartitionRoot {
	initLayout()
	opts = applyProcessFeatures(opts)
	if opts.MallocReplacement && opts.ThreadCache {
		panicerr("%w: partition %q: thread cache not allowed on a malloc-replacement partition", ErrIntegrity, opts.Tag)
	}
	sizes := InitBucketSizes()
	root := &PartitionRoot{
		opts:          opts,
		sizes:         sizes,
		buckets:       make([]bucket, len(sizes)),
		spanHistogram: lib.NewhistorgramInt64(0, 64, 1),
	}
	for i, size := range sizes {
		root.buckets[i] = bucket{
			slotSize:     size,
			slotsPerSpan: slotsPerSpanFor(size),
		}
	}
	root.invertedSelf = ^unsafePointerOf(root)
	const normalCageSize = uintptr(1) << 34
	logSystemMemory(opts.Tag, normalCageSize)
	root.normalCage = newGigaCage(opts.Tag+".normal", normalCageSize)
	root.directMap = newDirectMapList(opts.Tag + ".direct")
	if opts.ThreadCache {
		root.threadCache = newThreadCache(root)
	}
	log.Infof("malloc: partition %q ready, %d buckets", opts.Tag, len(sizes))
	return root
}

func unsafePointerOf(root *PartitionRoot) uintptr {
	return uintptr(unsafe.Pointer(root))
}

// applyProcessFeatures folds the process-wide feature set registered via
// api.EnablePartitionAllocFeatures into a partition's own Options:
// RefCountingEnabled forces per-slot ref-counting on even for a caller
// that didn't ask for it, and QuarantineMode overrides a weaker
// per-partition setting — process-wide feature flags win over a
// partition's own construction arguments. GigaCageEnabled is not
// consulted: every partition in this implementation always reserves
// its normal-bucket pool from a GigaCage — there is no on-demand-mapping
// fallback path for the flag to disable.
func applyProcessFeatures(opts Options) Options {
	f := api.CurrentFeatures()
	if f.RefCountingEnabled {
		opts.RefCount = true
	}
	if fq := fromAPIQuarantineMode(f.QuarantineMode); fq > opts.Quarantine {
		opts.Quarantine = fq
	}
	return opts
}

func fromAPIQuarantineMode(m api.QuarantineMode) QuarantineMode {
	switch m {
	case api.QuarantineForcedEnabled:
		return QuarantineForcedEnabled
	case api.QuarantineDisabledByDefault:
		return QuarantineDisabledByDefault
	default:
		return QuarantineAlwaysDisabled
	}
}

// SetQuarantine wires an optional quarantine into this root. Nil
// disables the feature.
func (root *PartitionRoot) SetQuarantine(q api.Quarantine) {
	root.quarantine = q
}

// SetHooks installs the process-wide allocation/free hook set this
// partition invokes around its fast paths.
func (root *PartitionRoot) SetHooks(h api.Hooks) {
	root.hooks = h
}

// checkSelf validates the integrity self-token on every slow-path entry.
func (root *PartitionRoot) checkSelf() {
	if root.invertedSelf != ^unsafePointerOf(root) {
		panicerr("%w: partition %q self-token mismatch", ErrIntegrity, root.opts.Tag)
	}
}

// Alloc implements api.Allocator.
func (root *PartitionRoot) Alloc(n uintptr, flags api.AllocFlags) unsafe.Pointer {
	return root.AllocTyped(n, flags, 0)
}

// AllocTyped implements api.Allocator: Alloc with a caller-supplied
// type tag forwarded to the registered hooks.
func (root *PartitionRoot) AllocTyped(n uintptr, flags api.AllocFlags, tag api.TypeTag) unsafe.Pointer {
	if flags&api.FlagNoHooks == 0 && root.hooks.AllocOverride != nil {
		var out unsafe.Pointer
		if root.hooks.AllocOverride(&out, flags, n, tag) {
			return out
		}
	}
	rawSize := n
	if root.opts.RefCount {
		rawSize += extrasSize
	}
	if rawSize < n {
		return root.fail(ErrOOM, flags, n)
	}
	if rawSize < SmallestBucket {
		rawSize = SmallestBucket
	}

	if rawSize > MaxBucketed {
		ptr, err := root.allocDirect(rawSize)
		if err != nil {
			return root.fail(err, flags, n)
		}
		return root.finishAlloc(ptr, n, flags, tag)
	}

	if root.threadCache != nil {
		if ptr := root.threadCache.pop(root.sizes, rawSize); ptr != 0 {
			return root.finishAlloc(unsafe.Pointer(ptr), n, flags, tag)
		}
	}

	root.mu.Lock()
	idx := SizeToBucketIndex(root.sizes, rawSize)
	addr, err := root.allocFromBucket(idx)
	root.mu.Unlock()
	if err != nil {
		return root.fail(err, flags, n)
	}
	return root.finishAlloc(unsafe.Pointer(addr), n, flags, tag)
}

func (root *PartitionRoot) fail(err error, flags api.AllocFlags, n uintptr) unsafe.Pointer {
	if flags&api.FlagReturnNull != 0 {
		log.Errorf("malloc: partition %q alloc failed: %v (returning nil)", root.opts.Tag, err)
		return nil
	}
	if fn := api.CurrentOOMHandler(); fn != nil {
		fn(n)
	}
	panic(err)
}

func (root *PartitionRoot) finishAlloc(raw unsafe.Pointer, n uintptr, flags api.AllocFlags, tag api.TypeTag) unsafe.Pointer {
	ptr := raw
	if root.opts.RefCount {
		ptr = unsafe.Pointer(uintptr(raw) + extrasSize)
		*(*uintptr)(raw) = 1
	}
	if flags&api.FlagZeroFill != 0 {
		memzero(ptr, n)
	}
	if flags&api.FlagNoHooks == 0 && root.hooks.AllocObserver != nil {
		root.hooks.AllocObserver(ptr, n, tag)
	}
	return ptr
}

// AddRef takes an additional reference on a ref-counted slot. The slot
// is only finally released once Free has been called and every
// AddRef'ed reference has been dropped by a further Free.
func (root *PartitionRoot) AddRef(ptr unsafe.Pointer) {
	if !root.opts.RefCount {
		panicerr("%w: partition %q: AddRef on a partition without ref-counting", ErrIntegrity, root.opts.Tag)
	}
	slotAddr := uintptr(ptr) - extrasSize
	atomic.AddUintptr((*uintptr)(unsafe.Pointer(slotAddr)), 1)
}

// allocFromBucket implements the slow path under root.mu: empty-ring
// span, else decommitted span, else carve a fresh span, else grow the
// GigaCage.
func (root *PartitionRoot) allocFromBucket(idx int) (uintptr, error) {
	root.checkSelf()
	b := &root.buckets[idx]
	span := b.activeSpans
	if span == nil || span.isFull() {
		var ok bool
		span, ok = root.adoptSpan(b)
		if !ok {
			return 0, ErrOOM
		}
	}
	addr := span.allocate()
	if addr == 0 {
		panicerr("%w: span reported active but allocate() failed", ErrIntegrity)
	}
	if span.isFull() {
		root.promoteActive(b)
	}
	return addr, nil
}

// adoptSpan finds or creates a span to serve bucket b: prefer an Empty
// span (no recommit cost), else a Decommitted span (recommit), else
// carve a fresh one from the current super page or a new one.
func (root *PartitionRoot) adoptSpan(b *bucket) (*slotSpan, bool) {
	if empty := b.popEmptyRing(); empty != nil {
		empty.state = stateActive
		empty.next = b.activeSpans
		b.activeSpans = empty
		return empty, true
	}
	if b.decommitted != nil {
		span := b.decommitted
		b.decommitted = span.next
		if err := ospage.CommitSystemPages(span.base, span.footprint()); err != nil {
			return nil, false
		}
		atomic.AddInt64(&root.committedBytes, int64(span.footprint()))
		span.state = stateActive
		span.numProvisioned, span.freelistHead, span.numAllocated = 0, 0, 0
		span.next = b.activeSpans
		b.activeSpans = span
		return span, true
	}
	span := root.carveSpan(b)
	if span == nil {
		return nil, false
	}
	span.next = b.activeSpans
	b.activeSpans = span
	return span, true
}

// carveSpan allocates a fresh span from the current super page,
// reserving a new super page from the GigaCage if the current one has
// no room left.
func (root *PartitionRoot) carveSpan(b *bucket) *slotSpan {
	spanPages := (b.slotsPerSpan*b.slotSize + PartitionPageSize - 1) / PartitionPageSize
	if root.current == nil || root.spanCursor(root.current)+spanPages > root.current.payloadPartitionPages() {
		ext := root.normalCage.nextSuperPage(root)
		if ext == nil {
			return nil
		}
		ext.next = nil
		if root.current != nil {
			ext.next = root.current
		}
		root.current = ext
		atomic.AddInt64(&root.superPageBytes, int64(SuperPageSize))
	}
	pageIndex := root.spanCursor(root.current)
	payloadBytes := spanPages * PartitionPageSize
	if err := ospage.CommitSystemPages(root.current.payloadBase()+pageIndex*PartitionPageSize, payloadBytes); err != nil {
		return nil
	}
	committed := atomic.AddInt64(&root.committedBytes, int64(payloadBytes))
	for {
		cur := atomic.LoadInt64(&root.maxCommitted)
		if committed <= cur || atomic.CompareAndSwapInt64(&root.maxCommitted, cur, committed) {
			break
		}
	}
	root.advanceCursor(root.current, spanPages)
	root.spanHistogram.Add(int64(spanPages))
	b.stats.requests.Add(int64(b.slotSize))
	return newSlotSpan(root.current, pageIndex, b)
}

// spanCursor and advanceCursor track how many partition pages of the
// current super page have already been handed to spans. Stored on the
// extent itself via a reserved field would be more literal to the
// original, but a per-root map keeps superPageExtent focused on
// metadata lookup, which is its hot-path job.
func (root *PartitionRoot) spanCursor(ext *superPageExtent) uintptr {
	return root.cursors[ext]
}

func (root *PartitionRoot) advanceCursor(ext *superPageExtent, pages uintptr) {
	if root.cursors == nil {
		root.cursors = make(map[*superPageExtent]uintptr)
	}
	root.cursors[ext] += pages
}

// promoteActive moves the current active-list head out of rotation once
// it becomes Full, exposing the next active span.
func (root *PartitionRoot) promoteActive(b *bucket) {
	full := b.activeSpans
	full.state = stateFull
	b.activeSpans = full.next
	full.next = nil
	b.numFullSpans++
}

// Free implements api.Allocator.
func (root *PartitionRoot) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if root.hooks.FreeOverride != nil && root.hooks.FreeOverride(ptr) {
		return
	}
	if root.hooks.FreeObserver != nil {
		root.hooks.FreeObserver(ptr)
	}
	addr := uintptr(ptr)
	if root.directMap.owns(addr) {
		freed := root.directMap.free(addr)
		atomic.AddInt64(&root.directMapBytes, -int64(freed))
		return
	}

	ext := root.extentFor(addr)
	if ext == nil {
		panicerr("%w: free of pointer %#x not owned by partition %q", ErrIntegrity, addr, root.opts.Tag)
	}

	slotAddr := addr
	if root.opts.RefCount {
		slotAddr -= extrasSize
		refs := atomic.AddUintptr((*uintptr)(unsafe.Pointer(slotAddr)), ^uintptr(0))
		if refs != 0 {
			// not the last reference: poison the user-visible region
			// and leave the slot allocated until the ref hits zero.
			usable := root.GetUsableSize(ptr)
			sl := rawslice(uintptr(ptr), usable)
			for i := range sl {
				sl[i] = 0xcd
			}
			return
		}
	}

	if root.quarantine != nil && root.opts.Quarantine == QuarantineForcedEnabled {
		span := spanForPointer(ext, slotAddr)
		root.quarantine.MoveToQuarantine(ptr, api.SlotSpan(unsafe.Pointer(span)))
		return
	}

	root.freeSlot(slotAddr, ext)
}

// FreeForRefCounting implements api.QuarantineCallback: the one-way
// finalize entry point the quarantine calls back into once it has
// determined a pointer has no surviving references.
func (root *PartitionRoot) FreeForRefCounting(ptr unsafe.Pointer) {
	addr := uintptr(ptr)
	if root.opts.RefCount {
		addr -= extrasSize
	}
	ext := root.extentFor(addr)
	if ext == nil {
		panicerr("%w: FreeForRefCounting of unowned pointer %#x", ErrIntegrity, addr)
	}
	root.freeSlot(addr, ext)
}

// freeSlot validates the slot and attempts the lock-free thread-cache
// put before falling back to the locked central path.
func (root *PartitionRoot) freeSlot(slotAddr uintptr, ext *superPageExtent) {
	span := spanForPointer(ext, slotAddr)
	if (slotAddr-span.base)%span.slotSize != 0 {
		panicerr("%w: free of pointer %#x at misaligned offset in span %#x", ErrIntegrity, slotAddr, span.base)
	}

	if root.threadCache != nil {
		b := span.owner
		idx := SizeToBucketIndex(root.sizes, b.slotSize)
		if root.threadCache.push(idx, b.slotSize, slotAddr) {
			return
		}
	}

	root.mu.Lock()
	defer root.mu.Unlock()
	root.checkSelf()
	root.freeSlotLocked(span, slotAddr)
}

// freeSlotLocked pushes a slot back onto its span's freelist and runs
// the Full->Active and Active->Empty transitions. Must be called under
// root.mu.
func (root *PartitionRoot) freeSlotLocked(span *slotSpan, slotAddr uintptr) {
	wasFull := span.state == stateFull
	span.free(slotAddr)
	if wasFull {
		span.state = stateActive
		span.next = span.owner.activeSpans
		span.owner.activeSpans = span
		span.owner.numFullSpans--
	}
	if span.isEmpty() {
		root.removeFromActive(span)
		span.owner.pushEmptyRing(span, root)
	}
}

func (root *PartitionRoot) removeFromActive(target *slotSpan) {
	b := target.owner
	if b.activeSpans == target {
		b.activeSpans = target.next
		target.next = nil
		return
	}
	for s := b.activeSpans; s != nil; s = s.next {
		if s.next == target {
			s.next = target.next
			target.next = nil
			return
		}
	}
}

// extentFor recovers the super-page extent containing addr by masking
// down to the super-page base and consulting the process-wide extent
// index: O(1) and lock-free, so the Free fast path never scans. Returns
// nil if the super page is unknown or belongs to a different partition.
func (root *PartitionRoot) extentFor(addr uintptr) *superPageExtent {
	ext := lookupExtent(superPageBase(addr))
	if ext == nil || ext.root != root {
		return nil
	}
	return ext
}

// AlignedAlloc implements api.Allocator. Aligned allocations disable
// per-slot extras and are routed through the direct-map path so
// pointer-origin checks can distinguish them.
func (root *PartitionRoot) AlignedAlloc(n, alignment uintptr) unsafe.Pointer {
	if !root.opts.AlignedAllocs {
		panicerr("%w: partition %q is not AlignedAlloc-capable", ErrIntegrity, root.opts.Tag)
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		panicerr("%w: alignment %d is not a power of two", ErrIntegrity, alignment)
	}
	ptr, err := root.directMap.allocAligned(n, alignment)
	if err != nil {
		panic(err)
	}
	atomic.AddInt64(&root.directMapBytes, int64(ospage.RoundUpToGranularity(n)))
	return unsafe.Pointer(ptr)
}

// GetUsableSize implements api.Allocator.
func (root *PartitionRoot) GetUsableSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}
	addr := uintptr(ptr)
	if root.directMap.owns(addr) {
		return root.directMap.usableSize(addr)
	}
	ext := root.extentFor(addr)
	if ext == nil {
		panicerr("%w: GetUsableSize of unowned pointer %#x", ErrIntegrity, addr)
	}
	slotAddr := addr
	if root.opts.RefCount {
		slotAddr -= extrasSize
	}
	span := spanForPointer(ext, slotAddr)
	usable := span.slotSize
	if root.opts.RefCount {
		usable -= extrasSize
	}
	return usable
}

// Realloc implements api.Allocator.
func (root *PartitionRoot) Realloc(ptr unsafe.Pointer, newSize uintptr, flags api.AllocFlags) unsafe.Pointer {
	if ptr == nil {
		return root.Alloc(newSize, flags)
	}
	if newSize == 0 {
		root.Free(ptr)
		return nil
	}
	if root.TryRealloc(ptr, newSize) {
		return ptr
	}
	oldSize := root.GetUsableSize(ptr)
	newPtr := root.Alloc(newSize, flags)
	if newPtr == nil {
		return nil
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	lib.Memcpy(newPtr, ptr, int(n))
	root.Free(ptr)
	return newPtr
}

// TryRealloc implements api.Allocator: succeeds only when the new size
// still maps to the same bucket, or (for direct-map regions) still
// fits the already-reserved tail.
func (root *PartitionRoot) TryRealloc(ptr unsafe.Pointer, newSize uintptr) bool {
	addr := uintptr(ptr)
	if root.directMap.owns(addr) {
		return root.directMap.tryResize(addr, newSize)
	}
	if newSize > MaxBucketed {
		return false
	}
	usable := root.GetUsableSize(ptr)
	rawNew, slotSize := newSize, usable
	if root.opts.RefCount {
		rawNew += extrasSize
		slotSize += extrasSize
	}
	return SizeToBucketIndex(root.sizes, rawNew) == SizeToBucketIndex(root.sizes, slotSize)
}

// PurgeMemory implements api.Allocator: decommits empty spans and/or
// discards clean pages in partially-used spans. Never touches
// quarantined pointers.
func (root *PartitionRoot) PurgeMemory(flags api.PurgeFlags) {
	if flags&api.PurgeForceAllFreed != 0 && root.threadCache != nil {
		root.threadCache.flushAll()
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	root.checkSelf()
	if flags&api.PurgeDecommitEmptySlotSpans != 0 {
		for i := range root.buckets {
			b := &root.buckets[i]
			for {
				span := b.popEmptyRing()
				if span == nil {
					break
				}
				root.decommitSpan(span)
			}
		}
	}
	if flags&api.PurgeDiscardUnusedSystemPages != 0 {
		for i := range root.buckets {
			b := &root.buckets[i]
			if b.slotSize < ospage.SystemPageSize() {
				continue
			}
			for span := b.activeSpans; span != nil; span = span.next {
				// Discard the whole-page tail past the provisioned
				// slots; discard operates on system pages, so the
				// start rounds up and partial pages stay untouched.
				start := ospage.RoundUpToSystemPage(span.base + span.numProvisioned*span.slotSize)
				end := span.base + span.footprint()
				if end > start {
					ospage.DiscardSystemPages(start, end-start)
				}
			}
		}
	}
}

// decommitSpan returns a span's physical pages to the OS and links it
// into its bucket's decommitted list (Empty -> Decommitted transition).
// Must be called under root.mu.
func (root *PartitionRoot) decommitSpan(span *slotSpan) {
	length := span.footprint()
	if err := ospage.DecommitSystemPages(span.base, length); err != nil {
		log.Errorf("malloc: partition %q decommit span at %#x: %v", root.opts.Tag, span.base, err)
		return
	}
	atomic.AddInt64(&root.committedBytes, -int64(length))
	span.state = stateDecommitted
	span.next = span.owner.decommitted
	span.owner.decommitted = span
}

// Stats implements api.Allocator. Committed/reserved totals come from
// the relaxed atomic counters; active/waste require walking the bucket
// lists under the lock.
func (root *PartitionRoot) Stats() api.Stats {
	st := api.Stats{
		TotalCommittedBytes: atomic.LoadInt64(&root.committedBytes) + atomic.LoadInt64(&root.directMapBytes),
		TotalReservedBytes:  atomic.LoadInt64(&root.superPageBytes) + atomic.LoadInt64(&root.directMapBytes),
		MaxCommittedBytes:   atomic.LoadInt64(&root.maxCommitted),
	}
	root.mu.Lock()
	for i := range root.buckets {
		b := &root.buckets[i]
		active := b.numFullSpans * int64(b.slotsPerSpan)
		for span := b.activeSpans; span != nil; span = span.next {
			active += int64(span.numAllocated)
		}
		st.TotalActiveBytes += active * int64(b.slotSize)
	}
	root.mu.Unlock()
	st.TotalActiveBytes += atomic.LoadInt64(&root.directMapBytes)
	if waste := st.TotalCommittedBytes - st.TotalActiveBytes; waste > 0 {
		st.TotalWasteBytes = waste
	}
	return st
}

// ActualSize returns the usable size Alloc(n) would hand back, letting
// callers grow containers in place without reallocating.
func (root *PartitionRoot) ActualSize(n uintptr) uintptr {
	rawSize := n
	if root.opts.RefCount {
		rawSize += extrasSize
	}
	if rawSize < SmallestBucket {
		rawSize = SmallestBucket
	}
	var actual uintptr
	if rawSize > MaxBucketed {
		actual = ospage.RoundUpToGranularity(rawSize)
	} else {
		actual = ActualSize(root.sizes, rawSize)
	}
	if root.opts.RefCount {
		actual -= extrasSize
	}
	return actual
}
