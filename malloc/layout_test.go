package malloc

import "testing"

import "github.com/stretchr/testify/require"

func TestInitLayoutDerivedSizes(t *testing.T) {
	initLayout()
	require.True(t, PartitionPageSize > 0)
	require.Equal(t, uintptr(0), SuperPageSize%PartitionPageSize)
	require.Equal(t, PartitionPagesPerSuperPage, SuperPageSize/PartitionPageSize)
	require.True(t, MaxDirectMapped > MaxBucketed)
}

func TestSuperPageBaseMasking(t *testing.T) {
	initLayout()
	base := SuperPageSize * 3
	for _, off := range []uintptr{0, 1, PartitionPageSize, SuperPageSize - 1} {
		require.Equal(t, base, superPageBase(base+off))
	}
}

func TestNewSuperPageExtentGuardsAndMetadata(t *testing.T) {
	initLayout()
	ext := newSuperPageExtent(SuperPageSize*7, nil)
	require.Equal(t, kindGuard, ext.descriptors[0].kind)
	require.Equal(t, kindMetadata, ext.descriptors[1].kind)
	require.Equal(t, kindGuard, ext.descriptors[len(ext.descriptors)-1].kind)
	require.Equal(t, ext.base+2*PartitionPageSize, ext.payloadBase())
	require.Equal(t, PartitionPagesPerSuperPage-3, ext.payloadPartitionPages())
}
