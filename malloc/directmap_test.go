package malloc

import "testing"

import "github.com/stretchr/testify/require"

func TestDirectMapListAllocFreeOwnership(t *testing.T) {
	dl := newDirectMapList(t.Name())
	addr, err := dl.alloc(1 << 20)
	require.NoError(t, err)
	require.NotEqual(t, uintptr(0), addr)
	require.True(t, dl.owns(addr))
	require.True(t, dl.usableSize(addr) >= 1<<20)

	freed := dl.free(addr)
	require.True(t, freed >= 1<<20)
	require.False(t, dl.owns(addr))
}

func TestDirectMapListTryResizeShrinkAndGrow(t *testing.T) {
	dl := newDirectMapList(t.Name())
	addr, err := dl.alloc(1 << 20)
	require.NoError(t, err)
	defer dl.free(addr)

	require.True(t, dl.tryResize(addr, 1<<19), "shrink within the reserved region must succeed")
	require.True(t, dl.tryResize(addr, 1<<20), "grow back within the reserved region must succeed")
	require.False(t, dl.tryResize(addr, 1<<30), "grow past the reserved region must fail")
}

func TestDirectMapListFreeUnownedPanics(t *testing.T) {
	dl := newDirectMapList(t.Name())
	require.Panics(t, func() { dl.free(0xdeadbeef) })
}
