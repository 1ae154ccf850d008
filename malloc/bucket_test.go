package malloc

import "testing"

import "github.com/stretchr/testify/require"

func TestInitBucketSizesCoversRange(t *testing.T) {
	sizes := InitBucketSizes()
	require.NotEmpty(t, sizes)
	require.Equal(t, SmallestBucket, sizes[0])
	require.Equal(t, MaxBucketed, sizes[len(sizes)-1])
	for i := 1; i < len(sizes); i++ {
		require.True(t, sizes[i] > sizes[i-1], "bucket sizes must be strictly increasing")
		require.Equal(t, uintptr(0), sizes[i]%Alignment, "bucket size %v not aligned", sizes[i])
	}
}

func TestSizeToBucketIndexFitsRequest(t *testing.T) {
	sizes := InitBucketSizes()
	for _, n := range []uintptr{1, 15, 16, 17, 100, 4096, MaxBucketed - 1, MaxBucketed} {
		idx := SizeToBucketIndex(sizes, n)
		require.True(t, idx >= 0 && idx < len(sizes))
		require.True(t, sizes[idx] >= n, "bucket %v too small for request %v", sizes[idx], n)
		if idx > 0 {
			require.True(t, sizes[idx-1] < n, "an earlier, smaller bucket would also have fit %v", n)
		}
	}
}

func TestSizeToBucketIndexSentinelAboveMax(t *testing.T) {
	sizes := InitBucketSizes()
	require.Equal(t, sentinelBucketIndex, SizeToBucketIndex(sizes, MaxBucketed+1))
}

func TestActualSizeRoundsUp(t *testing.T) {
	sizes := InitBucketSizes()
	n := uintptr(100)
	actual := ActualSize(sizes, n)
	require.True(t, actual >= n)

	big := MaxBucketed + 1024
	require.Equal(t, roundUpAlignment(big), ActualSize(sizes, big))
}

func TestSlotsPerSpanForIsPositive(t *testing.T) {
	initLayout()
	for _, size := range InitBucketSizes() {
		n := slotsPerSpanFor(size)
		require.True(t, n > 0, "slotsPerSpanFor(%v) must be positive", size)
	}
}
