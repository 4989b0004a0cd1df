package arklib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnchorOutputIsZeroValueP2A(t *testing.T) {
	out := AnchorOutput()
	require.EqualValues(t, 0, out.Value)
	require.Equal(t, []byte{0x51, 0x02, 0x4e, 0x73}, out.PkScript)
}

func TestAnchorOutputReturnsIndependentCopies(t *testing.T) {
	a := AnchorOutput()
	b := AnchorOutput()
	a.PkScript[0] = 0x00
	require.Equal(t, byte(0x51), b.PkScript[0])
}
