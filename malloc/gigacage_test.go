package malloc

import "testing"

import "github.com/stretchr/testify/require"

func TestGigaCageNextSuperPageAdvancesAndExhausts(t *testing.T) {
	initLayout()
	cage := newGigaCage(t.Name(), SuperPageSize*2)
	defer cage.release()

	ext1 := cage.nextSuperPage(nil)
	require.NotNil(t, ext1)
	ext2 := cage.nextSuperPage(nil)
	require.NotNil(t, ext2)
	require.NotEqual(t, ext1.base, ext2.base)
	require.Equal(t, uintptr(0), ext2.base%SuperPageSize, "super pages must be SuperPageSize aligned")

	require.Nil(t, cage.nextSuperPage(nil), "cage must report exhaustion once its reservation is used up")
}

func TestGigaCageReleaseIsIdempotent(t *testing.T) {
	initLayout()
	cage := newGigaCage(t.Name(), SuperPageSize)
	cage.release()
	require.NotPanics(t, func() { cage.release() })
}
