package malloc

import "testing"
import "unsafe"

import "github.com/stretchr/testify/require"

func TestFreelistEncodeDecodeRoundTrip(t *testing.T) {
	slotAddr := uintptr(0x1000)
	next := uintptr(0x2000)
	encoded := encodeNext(slotAddr, next)
	require.Equal(t, next, decodeNext(slotAddr, encoded))
	require.NotEqual(t, next, encoded, "obfuscated next-pointer must not equal the raw value")
}

func TestSlotSpanAllocateFreeRoundTrip(t *testing.T) {
	initLayout()
	buf := make([]byte, SuperPageSize*2)
	base := (uintptr(unsafe.Pointer(&buf[0])) + SuperPageSize - 1) &^ (SuperPageSize - 1)

	b := &bucket{slotSize: 64, slotsPerSpan: 4}
	ext := newSuperPageExtent(base, nil)
	span := newSlotSpan(ext, 2, b)

	a1 := span.allocate()
	a2 := span.allocate()
	require.NotEqual(t, uintptr(0), a1)
	require.NotEqual(t, uintptr(0), a2)
	require.NotEqual(t, a1, a2)
	require.Equal(t, uintptr(2), span.numAllocated)
	require.False(t, span.isFull())
	require.False(t, span.isEmpty())

	span.free(a1)
	require.Equal(t, uintptr(1), span.numAllocated)

	span.free(a2)
	require.True(t, span.isEmpty())
}

func TestSlotSpanIsFullAfterExhaustion(t *testing.T) {
	initLayout()
	buf := make([]byte, SuperPageSize*2)
	base := (uintptr(unsafe.Pointer(&buf[0])) + SuperPageSize - 1) &^ (SuperPageSize - 1)

	b := &bucket{slotSize: 64, slotsPerSpan: 2}
	ext := newSuperPageExtent(base, nil)
	span := newSlotSpan(ext, 2, b)

	require.NotEqual(t, uintptr(0), span.allocate())
	require.NotEqual(t, uintptr(0), span.allocate())
	require.True(t, span.isFull())
}

func TestEmptyRingFIFOOrder(t *testing.T) {
	b := &bucket{slotSize: 64, slotsPerSpan: 1}
	spans := make([]*slotSpan, MaxFreeableSpans)
	for i := range spans {
		spans[i] = &slotSpan{owner: b, slotSize: 64, slotsPerSpan: 1}
		b.pushEmptyRing(spans[i], nil)
	}
	for i := range spans {
		got := b.popEmptyRing()
		require.Same(t, spans[i], got, "empty ring must drain in FIFO order")
	}
	require.Nil(t, b.popEmptyRing())
}

func TestValidateFreelistPointerRejectsMisaligned(t *testing.T) {
	span := &slotSpan{base: 0x10000, slotSize: 64, slotsPerSpan: 4}
	require.Panics(t, func() {
		span.validateFreelistPointer(span.base + 10)
	})
	require.Panics(t, func() {
		span.validateFreelistPointer(span.base - 64)
	})
	require.NotPanics(t, func() {
		span.validateFreelistPointer(span.base + 64)
	})
}
