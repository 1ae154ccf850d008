package malloc

import "crypto/rand"
import "encoding/binary"
import "unsafe"

import "github.com/bnclabs/partalloc/ospage"

// freelistSecret is a per-process random value XORed into every
// encoded freelist next-pointer, so that an attacker able to write a
// raw pointer value into a freed slot cannot forge a usable next
// pointer without also knowing this secret.
var freelistSecret = randomSecret()

func randomSecret() uintptr {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panicerr("malloc: cannot seed freelist secret: %v", err)
	}
	return uintptr(binary.LittleEndian.Uint64(b[:]))
}

// spanState is one of the four states a slot span moves through.
type spanState uint8

const (
	stateActive spanState = iota
	stateFull
	stateEmpty
	stateDecommitted
)

// slotSpan is k consecutive partition pages holding slots of one
// bucket. freelistHead holds the plain address of the first free slot;
// the next-pointers stored inside free slots are the encoded ones.
// Slots beyond numProvisioned have never been touched; provisionBatch
// threads a fresh freelist through them a batch at a time, amortizing
// the cost of writing a freelist through untouched pages.
type slotSpan struct {
	owner          *bucket
	extent         *superPageExtent
	base           uintptr
	slotSize       uintptr
	slotsPerSpan   uintptr
	numAllocated   uintptr
	numProvisioned uintptr
	freelistHead   uintptr // address of first free slot, or 0
	state          spanState
	next           *slotSpan // intrusive link in owner's active list
}

// encodeNext obfuscates a free slot's next-pointer: the stored value is
// XORed with the slot's own address and the process-wide secret, so a
// corrupted freelist entry decodes to a wild pointer rather than a
// predictable one.
func encodeNext(slotAddr, next uintptr) uintptr {
	return next ^ slotAddr ^ freelistSecret
}

func decodeNext(slotAddr, encoded uintptr) uintptr {
	return encoded ^ slotAddr ^ freelistSecret
}

// writeNext stores an encoded next-pointer into the first word of the
// slot at slotAddr.
func writeNext(slotAddr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(slotAddr)) = encodeNext(slotAddr, next)
}

func readNext(slotAddr uintptr) uintptr {
	encoded := *(*uintptr)(unsafe.Pointer(slotAddr))
	return decodeNext(slotAddr, encoded)
}

// validateFreelistPointer aborts if a decoded next-pointer does not
// land on a slot boundary inside this span.
func (span *slotSpan) validateFreelistPointer(ptr uintptr) {
	if ptr == 0 {
		return
	}
	if ptr < span.base {
		panicerr("%w: freelist pointer %#x before span base %#x", ErrIntegrity, ptr, span.base)
	}
	off := ptr - span.base
	limit := span.slotsPerSpan * span.slotSize
	if off >= limit || off%span.slotSize != 0 {
		panicerr("%w: freelist pointer %#x misaligned in span at %#x", ErrIntegrity, ptr, span.base)
	}
}

// newSlotSpan carves a span out of an extent's payload at
// partition-page index `pageIndex`, for the given bucket. It does not
// provision any slots yet; the first Allocate call provisions lazily.
func newSlotSpan(ext *superPageExtent, pageIndex uintptr, b *bucket) *slotSpan {
	base := ext.payloadBase() + pageIndex*PartitionPageSize
	span := &slotSpan{
		owner:        b,
		extent:       ext,
		base:         base,
		slotSize:     b.slotSize,
		slotsPerSpan: b.slotsPerSpan,
		state:        stateActive,
	}
	head := ext.descriptorFor(base)
	head.kind = kindSpanHead
	head.bucket = b
	head.span = span
	headIdx := (base - ext.base) / PartitionPageSize
	spanPages := (b.slotsPerSpan*b.slotSize + PartitionPageSize - 1) / PartitionPageSize
	for i := uintptr(1); i < spanPages; i++ {
		tail := &ext.descriptors[headIdx+i]
		tail.kind = kindSpanTail
		tail.head = uint32(headIdx)
	}
	return span
}

// provisionBatch exposes the next system page's worth of untouched
// slots by building a fresh freelist through them, amortizing physical
// page touches across many slots instead of one per Free.
func (span *slotSpan) provisionBatch() {
	if span.numProvisioned >= span.slotsPerSpan {
		return
	}
	start := span.numProvisioned
	// Every slot that starts inside the system page holding the first
	// unprovisioned slot.
	startAddr := span.base + start*span.slotSize
	pageEnd := ospage.RoundUpToSystemPage(startAddr + 1)
	n := (pageEnd - startAddr + span.slotSize - 1) / span.slotSize
	if rem := span.slotsPerSpan - start; n > rem {
		n = rem
	}
	for i := uintptr(0); i < n; i++ {
		idx := start + i
		addr := span.base + idx*span.slotSize
		var next uintptr
		if i+1 < n {
			next = span.base + (idx+1)*span.slotSize
		}
		writeNext(addr, next)
	}
	span.freelistHead = span.base + start*span.slotSize
	span.numProvisioned += n
}

// allocate pops the freelist head, provisioning a fresh batch first if
// the freelist is empty but unprovisioned slots remain. Returns 0 if
// the span has nothing left (caller must promote it out of Active).
func (span *slotSpan) allocate() uintptr {
	if span.freelistHead == 0 {
		if span.numProvisioned >= span.slotsPerSpan {
			return 0
		}
		span.provisionBatch()
	}
	addr := span.freelistHead
	span.validateFreelistPointer(addr)
	span.freelistHead = readNext(addr)
	span.numAllocated++
	poisonSlot(addr, span.slotSize)
	return addr
}

// free pushes a slot back onto the span's freelist.
func (span *slotSpan) free(addr uintptr) {
	writeNext(addr, span.freelistHead)
	span.freelistHead = addr
	span.numAllocated--
}

// footprint returns the span's committed size: its slots rounded up to
// whole partition pages, the unit carveSpan commits in.
func (span *slotSpan) footprint() uintptr {
	bytes := span.slotsPerSpan * span.slotSize
	return ((bytes + PartitionPageSize - 1) / PartitionPageSize) * PartitionPageSize
}

// isFull reports the Active->Full transition condition: no freelist
// head and nothing left to provision.
func (span *slotSpan) isFull() bool {
	return span.freelistHead == 0 && span.numProvisioned >= span.slotsPerSpan
}

// isEmpty reports the transition condition into the empty-span ring:
// every provisioned slot has been freed.
func (span *slotSpan) isEmpty() bool {
	return span.numAllocated == 0
}

// pushEmptyRing inserts span into its bucket's bounded FIFO ring of
// empty spans, evicting and decommitting the oldest entry when full.
// Eviction order is strict FIFO: oldest empty span goes first.
func (b *bucket) pushEmptyRing(span *slotSpan, root *PartitionRoot) {
	if b.emptyCount == MaxFreeableSpans {
		evictIdx := b.emptyHead
		evicted := b.emptyRing[evictIdx]
		root.decommitSpan(evicted)
		b.emptyRing[evictIdx] = span
		b.emptyHead = (b.emptyHead + 1) % MaxFreeableSpans
		span.state = stateEmpty
		return
	}
	slot := (b.emptyHead + b.emptyCount) % MaxFreeableSpans
	b.emptyRing[slot] = span
	b.emptyCount++
	span.state = stateEmpty
}

// popEmptyRing removes and returns the oldest entry in the ring, or nil
// if it is empty.
func (b *bucket) popEmptyRing() *slotSpan {
	if b.emptyCount == 0 {
		return nil
	}
	span := b.emptyRing[b.emptyHead]
	b.emptyRing[b.emptyHead] = nil
	b.emptyHead = (b.emptyHead + 1) % MaxFreeableSpans
	b.emptyCount--
	return span
}
