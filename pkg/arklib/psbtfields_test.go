package arklib

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTapscriptsRoundTrip(t *testing.T) {
	scripts := [][]byte{
		{0x01, 0x02, 0x03},
		{},
		make([]byte, 300), // forces the 253-prefixed compact-size branch
	}
	encoded, err := EncodeTapscripts(scripts)
	require.NoError(t, err)

	decoded, err := DecodeTapscripts(encoded)
	require.NoError(t, err)
	require.Equal(t, scripts, decoded)
}

func TestDecodeTapscriptsEmptyInput(t *testing.T) {
	decoded, err := DecodeTapscripts(nil)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestSetAndFindTapscriptsUnknownRoundTrip(t *testing.T) {
	scripts := [][]byte{{0xaa, 0xbb}, {0xcc}}
	input := &psbt.PInput{}

	require.NoError(t, SetTapscriptsUnknown(input, scripts))

	found, err := FindTapscriptsUnknown(input)
	require.NoError(t, err)
	require.Equal(t, scripts, found)
}

func TestFindTapscriptsUnknownAbsentReturnsNil(t *testing.T) {
	input := &psbt.PInput{}
	found, err := FindTapscriptsUnknown(input)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestSetAndExtractCosignerPks(t *testing.T) {
	input := &psbt.PInput{}
	SetCosignerUnknown(input, "aa11")
	SetCosignerUnknown(input, "bb22")

	pks := ExtractCosignerPks(input)
	require.ElementsMatch(t, []string{"aa11", "bb22"}, pks)
}

func TestExtractCosignerPksEmptyWhenNoneSet(t *testing.T) {
	input := &psbt.PInput{}
	require.Empty(t, ExtractCosignerPks(input))
}

func TestExtractCosignerPksIgnoresOtherUnknowns(t *testing.T) {
	input := &psbt.PInput{}
	require.NoError(t, SetTapscriptsUnknown(input, [][]byte{{0x01}}))
	SetCosignerUnknown(input, "cc33")

	pks := ExtractCosignerPks(input)
	require.Equal(t, []string{"cc33"}, pks)
}
