package malloc

import "sync"
import "sync/atomic"
import "unsafe"

import "github.com/bnclabs/partalloc/ospage"

// directMapExtent is one allocation larger than MaxBucketed: one slot
// per reservation, linked into its list doubly so a free can unlink in
// O(1) without a backward scan.
type directMapExtent struct {
	base      uintptr
	reserved  uintptr
	committed uintptr
	alignment uintptr
	next      *directMapExtent
	prev      *directMapExtent
}

// directMapList owns every direct-map extent for one partition.
type directMapList struct {
	mu    sync.Mutex
	name  string
	head  *directMapExtent
	bytes int64
}

func newDirectMapList(name string) *directMapList {
	return &directMapList{name: name}
}

// alloc reserves and commits a region of at least `size` bytes, aligned
// to the OS allocation granularity.
func (dl *directMapList) alloc(size uintptr) (uintptr, error) {
	return dl.allocAligned(size, ospage.AllocationGranularity())
}

func (dl *directMapList) allocAligned(size, alignment uintptr) (uintptr, error) {
	reserveSize := ospage.RoundUpToGranularity(size)
	base, err := ospage.ReserveAddressSpace(reserveSize, alignment)
	if err != nil {
		return 0, err
	}
	if err := ospage.CommitSystemPages(base, reserveSize); err != nil {
		ospage.ReleaseAddressSpace(base, reserveSize)
		return 0, err
	}
	ext := &directMapExtent{base: base, reserved: reserveSize, committed: reserveSize, alignment: alignment}

	dl.mu.Lock()
	ext.next = dl.head
	if dl.head != nil {
		dl.head.prev = ext
	}
	dl.head = ext
	dl.bytes += int64(reserveSize)
	dl.mu.Unlock()

	return base, nil
}

// owns reports whether addr falls inside any extent this list tracks.
func (dl *directMapList) owns(addr uintptr) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.find(addr) != nil
}

func (dl *directMapList) find(addr uintptr) *directMapExtent {
	for ext := dl.head; ext != nil; ext = ext.next {
		if addr >= ext.base && addr < ext.base+ext.committed {
			return ext
		}
	}
	return nil
}

func (dl *directMapList) usableSize(addr uintptr) uintptr {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	ext := dl.find(addr)
	if ext == nil {
		return 0
	}
	return ext.committed - (addr - ext.base)
}

// free releases an extent's address space entirely back to the OS.
// Returns the number of bytes the extent had reserved, so the caller
// can keep its own aggregate counters in sync.
func (dl *directMapList) free(addr uintptr) uintptr {
	dl.mu.Lock()
	ext := dl.find(addr)
	if ext == nil {
		dl.mu.Unlock()
		panicerr("%w: direct-map free of unowned pointer %#x", ErrIntegrity, addr)
	}
	if ext.prev != nil {
		ext.prev.next = ext.next
	} else {
		dl.head = ext.next
	}
	if ext.next != nil {
		ext.next.prev = ext.prev
	}
	dl.bytes -= int64(ext.reserved)
	dl.mu.Unlock()

	ospage.ReleaseAddressSpace(ext.base, ext.reserved)
	return ext.reserved
}

// tryResize shrinks in place by decommitting the tail, or grows in
// place by committing more of the tail if the already-reserved region
// has enough room;
// otherwise reports failure so the caller falls back to alloc+copy+free.
func (dl *directMapList) tryResize(addr uintptr, newSize uintptr) bool {
	dl.mu.Lock()
	ext := dl.find(addr)
	if ext == nil {
		dl.mu.Unlock()
		return false
	}
	offset := addr - ext.base
	newCommitted := ospage.RoundUpToSystemPage(offset + newSize)
	defer dl.mu.Unlock()

	if newCommitted <= ext.committed {
		tailBase := ext.base + newCommitted
		tailLen := ext.committed - newCommitted
		if tailLen > 0 {
			if err := ospage.DecommitSystemPages(tailBase, tailLen); err != nil {
				return false
			}
		}
		ext.committed = newCommitted
		return true
	}
	if newCommitted <= ext.reserved {
		growLen := newCommitted - ext.committed
		if err := ospage.CommitSystemPages(ext.base+ext.committed, growLen); err != nil {
			return false
		}
		ext.committed = newCommitted
		return true
	}
	return false
}

// allocDirect satisfies a request too large for any bucket via the
// direct-map path, tracking the partition's aggregate counters.
func (root *PartitionRoot) allocDirect(rawSize uintptr) (unsafe.Pointer, error) {
	if rawSize > MaxDirectMapped {
		return nil, ErrOOM
	}
	base, err := root.directMap.alloc(rawSize)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&root.directMapBytes, int64(ospage.RoundUpToGranularity(rawSize)))
	return unsafe.Pointer(base), nil
}

// MaxDirectMapped is the security cap on direct-mapped request sizes.
var MaxDirectMapped uintptr
