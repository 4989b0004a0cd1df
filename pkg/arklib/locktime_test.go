package arklib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAbsoluteLocktimeIsBlockHeight(t *testing.T) {
	require.True(t, AbsoluteLocktime(500).IsBlockHeight())
	require.False(t, AbsoluteLocktime(locktimeThreshold).IsBlockHeight())
	require.False(t, AbsoluteLocktime(locktimeThreshold+1).IsBlockHeight())
}

func TestHighestAbsoluteLocktimePicksLatest(t *testing.T) {
	highest, err := HighestAbsoluteLocktime([]AbsoluteLocktime{100, 500, 250})
	require.NoError(t, err)
	require.EqualValues(t, 500, highest)
}

func TestHighestAbsoluteLocktimeSingleValue(t *testing.T) {
	highest, err := HighestAbsoluteLocktime([]AbsoluteLocktime{42})
	require.NoError(t, err)
	require.EqualValues(t, 42, highest)
}

func TestHighestAbsoluteLocktimeEmpty(t *testing.T) {
	highest, err := HighestAbsoluteLocktime(nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, highest)
}

func TestHighestAbsoluteLocktimeRejectsMixedKinds(t *testing.T) {
	_, err := HighestAbsoluteLocktime([]AbsoluteLocktime{100, locktimeThreshold + 1000})
	require.Error(t, err)
}
