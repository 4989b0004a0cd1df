package arklib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSequenceNumberBelowThresholdIsBlocks(t *testing.T) {
	lt, err := ParseSequenceNumber(10)
	require.NoError(t, err)
	require.False(t, lt.Seconds)
	require.EqualValues(t, 10, lt.Value)
}

func TestParseSequenceNumberAtThresholdIsSeconds(t *testing.T) {
	lt, err := ParseSequenceNumber(512)
	require.NoError(t, err)
	require.True(t, lt.Seconds)
	require.EqualValues(t, 1, lt.Value)
}

func TestParseSequenceNumberCeilDivides(t *testing.T) {
	lt, err := ParseSequenceNumber(513)
	require.NoError(t, err)
	require.True(t, lt.Seconds)
	require.EqualValues(t, 2, lt.Value)
}

func TestParseSequenceNumberRejectsNegative(t *testing.T) {
	_, err := ParseSequenceNumber(-1)
	require.Error(t, err)
}

func TestToSequenceBlocksIsBareValue(t *testing.T) {
	lt := RelativeLocktime{Value: 144, Seconds: false}
	require.EqualValues(t, 144, lt.ToSequence())
}

func TestToSequenceSecondsSetsTypeFlag(t *testing.T) {
	lt := RelativeLocktime{Value: 2, Seconds: true}
	seq := lt.ToSequence()
	require.Equal(t, uint32(1<<22)|2, seq)
}
