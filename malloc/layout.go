package malloc

import "sync"
import "unsafe"

import "github.com/bnclabs/partalloc/ospage"

// PartitionPageSize is a fixed multiple of the OS system page size:
// four system pages, the granularity slot spans and metadata are
// sized in.
var PartitionPageSize uintptr

// SuperPageSize is the unit of address-space reservation: a whole
// number of partition pages (m=512), reserved up front from a
// GigaCage pool.
var SuperPageSize uintptr

// PartitionPagesPerSuperPage is SuperPageSize / PartitionPageSize.
var PartitionPagesPerSuperPage uintptr

// pageDescriptorSize is the per-partition-page metadata footprint.
const pageDescriptorSize = unsafe.Sizeof(pageDescriptor{})

var layoutOnce sync.Once

// initLayout derives PartitionPageSize/SuperPageSize from the OS page
// size reported by ospage. Called once, lazily, the first time a
// PartitionRoot is constructed, since Go cannot read the OS page size
// at compile time.
func initLayout() {
	layoutOnce.Do(func() {
		sp := ospage.SystemPageSize()
		PartitionPageSize = 4 * sp
		SuperPageSize = 512 * PartitionPageSize
		PartitionPagesPerSuperPage = SuperPageSize / PartitionPageSize
		MaxDirectMapped = (uintptr(1) << 31) + ospage.AllocationGranularity()
	})
}

// descriptorKind classifies a partition-page descriptor.
type descriptorKind uint8

const (
	kindUnused descriptorKind = iota
	kindGuard
	kindMetadata
	kindSpanHead
	kindSpanTail
)

// pageDescriptor is the metadata for one partition page inside a super
// page. Its superPageExtent holds a Go slice of these, one per partition
// page in the super page; they are not written into the super page's
// metadata partition page.
type pageDescriptor struct {
	kind   descriptorKind
	bucket *bucket
	span   *slotSpan // valid when kind == kindSpanHead
	head   uint32    // index of the owning head descriptor, when kindSpanTail
}

// superPageExtent is the header of one super page: a back-pointer to
// the owning root and the intrusive link to the next super page the
// root has reserved. It is a Go heap object found through extentIndex;
// the super page's metadata partition page is committed but holds no
// copy of it.
type superPageExtent struct {
	base        uintptr
	root        *PartitionRoot
	next        *superPageExtent
	descriptors []pageDescriptor
}

// extentIndex maps every super-page base in the process to its extent.
// Super pages are never released while their root lives, so entries are
// only ever added; reads need no lock, keeping pointer-to-metadata
// lookup O(1) and lock-free on the Free fast path.
var extentIndex sync.Map

func registerExtent(ext *superPageExtent) {
	extentIndex.Store(ext.base, ext)
}

func lookupExtent(base uintptr) *superPageExtent {
	v, ok := extentIndex.Load(base)
	if !ok {
		return nil
	}
	return v.(*superPageExtent)
}

// FromSuperPage returns the PartitionRoot owning the super page at
// `base` (as produced by masking a payload pointer with
// ^(SuperPageSize-1)), or nil if no partition owns that address.
func FromSuperPage(base uintptr) *PartitionRoot {
	ext := lookupExtent(base)
	if ext == nil {
		return nil
	}
	return ext.root
}

// newSuperPageExtent carves guard/metadata/payload regions out of a
// freshly reserved and committed super page at `base`.
func newSuperPageExtent(base uintptr, root *PartitionRoot) *superPageExtent {
	ext := &superPageExtent{
		base:        base,
		root:        root,
		descriptors: make([]pageDescriptor, PartitionPagesPerSuperPage),
	}
	ext.descriptors[0].kind = kindGuard
	ext.descriptors[1].kind = kindMetadata
	for i := uintptr(2); i < PartitionPagesPerSuperPage-1; i++ {
		ext.descriptors[i].kind = kindUnused
	}
	ext.descriptors[PartitionPagesPerSuperPage-1].kind = kindGuard
	registerExtent(ext)
	return ext
}

// payloadBase returns the address of the first payload partition page
// (index 2: past the leading guard and metadata pages).
func (ext *superPageExtent) payloadBase() uintptr {
	return ext.base + 2*PartitionPageSize
}

// payloadPartitionPages returns how many partition pages are available
// for slot spans (total minus the two guards and the metadata page).
func (ext *superPageExtent) payloadPartitionPages() uintptr {
	return PartitionPagesPerSuperPage - 3
}

// descriptorFor returns the descriptor for the partition page
// containing `ptr`, which must lie within this extent's super page.
func (ext *superPageExtent) descriptorFor(ptr uintptr) *pageDescriptor {
	idx := (ptr - ext.base) / PartitionPageSize
	return &ext.descriptors[idx]
}

// superPageBase masks any pointer inside a normal-bucket allocation
// down to its super-page base: O(1), no lookup required.
func superPageBase(ptr uintptr) uintptr {
	return ptr &^ (SuperPageSize - 1)
}

// spanForPointer recovers the owning slot span for a live pointer by
// masking to the super-page base, indexing the metadata array, and
// walking back from a tail descriptor to its head if necessary.
func spanForPointer(ext *superPageExtent, ptr uintptr) *slotSpan {
	desc := ext.descriptorFor(ptr)
	switch desc.kind {
	case kindSpanHead:
		return desc.span
	case kindSpanTail:
		return ext.descriptors[desc.head].span
	default:
		panicerr("%w: pointer %#x not inside a slot span", ErrIntegrity, ptr)
	}
	return nil
}
