// Package ospage wraps the operating system's virtual memory primitives at
// the granularity the partitioned allocator needs: reservation of address
// space, commit/decommit of physical pages inside a reservation, and
// discard of page contents without releasing the mapping.
//
// Callers reserve a region once with ReserveAddressSpace and thereafter
// only toggle physical backing with CommitSystemPages/DecommitSystemPages;
// the virtual address returned by Reserve never moves and is never handed
// back to the OS until ReleaseAddressSpace.
package ospage
