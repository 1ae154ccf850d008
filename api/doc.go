// Package api defines the contracts the partitioned allocator consumes
// from, and exposes to, its external collaborators: the pointer-scanning
// quarantine and the miscellaneous allocation hooks. The allocator core
// never imports a concrete quarantine or hook implementation; it only
// depends on these interfaces, so a caller can wire one in (or leave it
// nil to disable the feature) without the core knowing the difference.
package api
