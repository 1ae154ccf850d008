package malloc

import "testing"
import "unsafe"

import "github.com/stretchr/testify/require"

func TestThreadCachePushPopRoundTrip(t *testing.T) {
	root := NewPartitionRoot(Options{ThreadCache: true, Tag: t.Name()})
	tc := root.threadCache
	require.NotNil(t, tc)

	sizes := root.sizes
	idx := SizeToBucketIndex(sizes, 64)
	require.True(t, tc.push(idx, sizes[idx], 0x1000))
	require.Equal(t, uintptr(0x1000), tc.pop(sizes, sizes[idx]))
	require.Equal(t, uintptr(0), tc.pop(sizes, sizes[idx]), "bin must be empty after the single entry is popped")
}

func TestThreadCachePushFlushesBatchOnOverflow(t *testing.T) {
	root := NewPartitionRoot(Options{ThreadCache: true, Tag: t.Name()})
	tc := root.threadCache
	idx := SizeToBucketIndex(root.sizes, 64)

	// Allocate everything up front so the pushes below are not raided
	// by Alloc's own pops, then fill the bin with live slots so the
	// overflow batch materializes as real frees on their spans.
	ptrs := make([]unsafe.Pointer, binLimit+1)
	for i := range ptrs {
		ptrs[i] = root.Alloc(64, 0)
	}
	for i := 0; i < binLimit; i++ {
		require.True(t, tc.push(idx, root.sizes[idx], uintptr(ptrs[i])))
	}
	require.True(t, tc.push(idx, root.sizes[idx], uintptr(ptrs[binLimit])),
		"an overflowing push must flush a batch and cache the new entry in the freed room")

	bin := tc.pools[idx].Get().(*threadCacheBin)
	defer tc.pools[idx].Put(bin)
	require.Equal(t, binLimit-binFlushBatch+1, len(bin.slots),
		"the older half of the bin must have been flushed back to the partition")
}

func TestThreadCacheIgnoresBucketsAboveCacheLimit(t *testing.T) {
	root := NewPartitionRoot(Options{ThreadCache: true, Tag: t.Name()})
	tc := root.threadCache
	require.False(t, tc.push(maxCachedBucketIndex+1, 0, 0x1000))
	require.Equal(t, uintptr(0), tc.pop(root.sizes, MaxBucketed))
}
