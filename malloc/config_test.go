package malloc

import "testing"

import s "github.com/prataprc/gosettings"
import "github.com/stretchr/testify/require"

func TestSetts2optionsAppliesDefaults(t *testing.T) {
	opts := Setts2options(s.Settings{})
	require.Equal(t, true, opts.ThreadCache)
	require.Equal(t, false, opts.RefCount)
	require.Equal(t, false, opts.AlignedAllocs)
	require.Equal(t, false, opts.MallocReplacement)
	require.Equal(t, QuarantineAlwaysDisabled, opts.Quarantine)
	require.Equal(t, "default", opts.Tag)
}

func TestSetts2optionsOverridesDefaults(t *testing.T) {
	opts := Setts2options(s.Settings{
		"partition.refcount": true,
		"partition.tag":      "custom",
	})
	require.Equal(t, true, opts.RefCount)
	require.Equal(t, "custom", opts.Tag)
	require.Equal(t, true, opts.ThreadCache, "unset keys must still fall back to Defaultsettings")
}
