// +build !debug

package malloc

// poisonSlot is a no-op in production builds: freshly provisioned slots
// are left as the OS handed them back (zeroed on first commit, stale
// contents on recommit), and Alloc only pays the zero-fill cost when
// the caller asks for it via FlagZeroFill.
func poisonSlot(block uintptr, size uintptr) {}
