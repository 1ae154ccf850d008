package malloc

import "math/bits"

// bucket is one size class: its slot size and the span lists the
// state machine moves spans between. numFullSpans is tracked
// separately since full spans carry no list pointers worth
// dereferencing on the fast path.
type bucket struct {
	slotSize     uintptr
	slotsPerSpan uintptr
	activeSpans  *slotSpan
	emptyRing    [MaxFreeableSpans]*slotSpan
	emptyHead    int
	emptyCount   int
	decommitted  *slotSpan
	numFullSpans int64
	stats        bucketStats
}

// sentinelBucketIndex marks a request that must take the direct-map
// path instead of any bucket.
const sentinelBucketIndex = -1

// InitBucketSizes builds the size-class table once: BucketsPerOrder
// linear steps per power-of-two order, from SmallestBucket up through
// MaxBucketed.
func InitBucketSizes() []uintptr {
	var sizes []uintptr
	seen := make(map[uintptr]bool)
	minOrder := orderOf(SmallestBucket)
	maxOrder := orderOf(MaxBucketed)
	for order := minOrder; order <= maxOrder; order++ {
		base := uintptr(1) << uint(order)
		step := base / BucketsPerOrder
		if step < Alignment {
			step = Alignment
		}
		for i := uintptr(0); i < BucketsPerOrder; i++ {
			size := base + i*step
			size = roundUpAlignment(size)
			if size < SmallestBucket {
				size = SmallestBucket
			}
			if size > MaxBucketed {
				size = MaxBucketed
			}
			if !seen[size] {
				seen[size] = true
				sizes = append(sizes, size)
			}
		}
	}
	return sizes
}

func roundUpAlignment(n uintptr) uintptr {
	return ((n + Alignment - 1) / Alignment) * Alignment
}

// orderOf returns ceil(log2(n)), via count-leading-zeros.
func orderOf(n uintptr) int {
	if n <= 1 {
		return 0
	}
	return 64 - bits.LeadingZeros64(uint64(n-1))
}

// SizeToBucketIndex maps a raw request size (already adjusted for
// per-slot extras) to a bucket index in the table returned by
// InitBucketSizes, or sentinelBucketIndex if the size belongs on the
// direct-map path. Monotonic in n: sizes are searched in ascending
// table order and the first bucket whose slotSize is big enough wins.
func SizeToBucketIndex(sizes []uintptr, n uintptr) int {
	if n > MaxBucketed {
		return sentinelBucketIndex
	}
	lo, hi := 0, len(sizes)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if sizes[mid] < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ActualSize returns the slot size Alloc(n) would actually carve,
// letting callers grow containers in place without reallocating. For n
// above MaxBucketed it returns n rounded up to Alignment only; the
// direct-map path reserves whole allocation-granularity units, which
// PartitionRoot.ActualSize accounts for.
func ActualSize(sizes []uintptr, n uintptr) uintptr {
	idx := SizeToBucketIndex(sizes, n)
	if idx == sentinelBucketIndex {
		return roundUpAlignment(n)
	}
	return sizes[idx]
}

// slotsPerSpanFor picks how many slots of slotSize fit in the smallest
// span (in partition pages) that keeps per-span waste low: enough pages
// to hold at least one slot, growing until the span holds at least 16
// slots or hits PartitionPageSize*4, whichever comes first. Buckets
// whose slot exceeds four partition pages get single-slot spans.
func slotsPerSpanFor(slotSize uintptr) uintptr {
	spanBytes := PartitionPageSize
	for spanBytes < slotSize {
		spanBytes += PartitionPageSize
	}
	for spanBytes/slotSize < 16 && spanBytes < 4*PartitionPageSize {
		spanBytes += PartitionPageSize
	}
	return spanBytes / slotSize
}
