package malloc

import "github.com/bnclabs/partalloc/ospage"
import "github.com/prataprc/golog"

// gigaCage owns one pool of reserved virtual address space and hands
// out aligned super-page regions from it on demand. Each PartitionRoot
// reserves its own cage, used for normal buckets only; direct-map
// allocations do not come from a cage but are reserved one at a time
// by directMapList.
type gigaCage struct {
	name       string
	reserved   uintptr
	base       uintptr
	cursor     uintptr
	superPages []*superPageExtent
}

// newGigaCage reserves `size` bytes of address space aligned to
// SuperPageSize. It does not commit any physical memory.
func newGigaCage(name string, size uintptr) *gigaCage {
	initLayout()
	base, err := ospage.ReserveAddressSpace(size, SuperPageSize)
	if err != nil {
		panicerr("%w: gigacage %q reserve %d bytes: %v", ErrOOM, name, size, err)
	}
	log.Infof("malloc: gigacage %q reserved %d bytes at %#x", name, size, base)
	return &gigaCage{name: name, reserved: size, base: base, cursor: base}
}

// nextSuperPage commits and returns the next super page out of this
// cage's reservation, or nil if the cage is exhausted or the metadata
// page cannot be committed.
func (cage *gigaCage) nextSuperPage(root *PartitionRoot) *superPageExtent {
	if cage.cursor+SuperPageSize > cage.base+cage.reserved {
		return nil
	}
	base := cage.cursor
	cage.cursor += SuperPageSize
	// The leading guard partition page stays inaccessible; only the
	// metadata partition page behind it is committed.
	if err := ospage.CommitSystemPages(base+PartitionPageSize, PartitionPageSize); err != nil {
		log.Errorf("malloc: gigacage %q commit metadata page: %v", cage.name, err)
		return nil
	}
	ext := newSuperPageExtent(base, root)
	cage.superPages = append(cage.superPages, ext)
	return ext
}

// release returns the entire cage's address space to the OS. Only
// valid once every allocation the cage ever handed out has been freed;
// callers are responsible for that invariant.
func (cage *gigaCage) release() {
	if cage.base == 0 {
		return
	}
	if err := ospage.ReleaseAddressSpace(cage.base, cage.reserved); err != nil {
		log.Errorf("malloc: gigacage %q release: %v", cage.name, err)
	}
	cage.base, cage.cursor, cage.superPages = 0, 0, nil
}
