package script

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func testPubKeys(t *testing.T, n int) []*btcec.PublicKey {
	t.Helper()
	keys := make([]*btcec.PublicKey, n)
	for i := range keys {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = priv.PubKey()
	}
	return keys
}

func TestUnspendableInternalKeyIsStable(t *testing.T) {
	a, err := UnspendableInternalKey()
	require.NoError(t, err)
	b, err := UnspendableInternalKey()
	require.NoError(t, err)
	require.Equal(t, a.SerializeCompressed(), b.SerializeCompressed())
}

func TestForfeitScriptDiffersFromCSVSigScript(t *testing.T) {
	keys := testPubKeys(t, 2)
	forfeit, err := ForfeitScript(keys[0], keys[1])
	require.NoError(t, err)
	csv, err := CSVSigScript(144, keys[1])
	require.NoError(t, err)
	require.NotEqual(t, forfeit, csv)
}

func TestCLTVRefundScriptBuilds(t *testing.T) {
	keys := testPubKeys(t, 2)
	s, err := CLTVRefundScript(500000000, keys[0], keys[1])
	require.NoError(t, err)
	require.NotEmpty(t, s)
}

func TestBuildRejectsZeroLeaves(t *testing.T) {
	internalKey, err := UnspendableInternalKey()
	require.NoError(t, err)
	_, err = Build(internalKey, nil)
	require.Error(t, err)
}

func TestBuildSingleLeafHasEmptyInclusionProof(t *testing.T) {
	internalKey, err := UnspendableInternalKey()
	require.NoError(t, err)
	keys := testPubKeys(t, 1)
	leafScript, err := CSVSigScript(144, keys[0])
	require.NoError(t, err)

	info, err := Build(internalKey, []Leaf{{Script: leafScript, Weight: 1}})
	require.NoError(t, err)

	cb, err := info.ControlBlockFor(leafScript)
	require.NoError(t, err)
	require.Empty(t, cb.InclusionProof)
}

func TestBuildMultiLeafProducesControlBlockPerLeaf(t *testing.T) {
	internalKey, err := UnspendableInternalKey()
	require.NoError(t, err)
	keys := testPubKeys(t, 3)

	var leaves []Leaf
	for _, k := range keys {
		s, err := CSVSigScript(144, k)
		require.NoError(t, err)
		leaves = append(leaves, Leaf{Script: s, Weight: 1})
	}

	info, err := Build(internalKey, leaves)
	require.NoError(t, err)
	require.Len(t, info.ControlBlocks, 3)

	for _, l := range leaves {
		cb, err := info.ControlBlockFor(l.Script)
		require.NoError(t, err)
		require.NotEmpty(t, cb.InclusionProof)
	}
}

func TestBuildIsDeterministicGivenSameLeafOrder(t *testing.T) {
	internalKey, err := UnspendableInternalKey()
	require.NoError(t, err)
	keys := testPubKeys(t, 4)

	var leaves []Leaf
	for _, k := range keys {
		s, err := CSVSigScript(144, k)
		require.NoError(t, err)
		leaves = append(leaves, Leaf{Script: s, Weight: 1})
	}

	a, err := Build(internalKey, leaves)
	require.NoError(t, err)
	b, err := Build(internalKey, leaves)
	require.NoError(t, err)
	require.Equal(t, a.OutputKey.SerializeCompressed(), b.OutputKey.SerializeCompressed())
	require.Equal(t, a.TapscriptRoot, b.TapscriptRoot)
}

func TestControlBlockForUnknownLeafErrors(t *testing.T) {
	internalKey, err := UnspendableInternalKey()
	require.NoError(t, err)
	keys := testPubKeys(t, 1)
	leafScript, err := CSVSigScript(144, keys[0])
	require.NoError(t, err)

	info, err := Build(internalKey, []Leaf{{Script: leafScript, Weight: 1}})
	require.NoError(t, err)

	otherScript, err := CSVSigScript(200, keys[0])
	require.NoError(t, err)
	_, err = info.ControlBlockFor(otherScript)
	require.Error(t, err)
}

func TestP2TRScriptShape(t *testing.T) {
	internalKey, err := UnspendableInternalKey()
	require.NoError(t, err)
	keys := testPubKeys(t, 1)
	leafScript, err := CSVSigScript(144, keys[0])
	require.NoError(t, err)

	info, err := Build(internalKey, []Leaf{{Script: leafScript, Weight: 1}})
	require.NoError(t, err)

	spk, err := P2TRScript(info)
	require.NoError(t, err)
	require.Len(t, spk, 34)
	require.EqualValues(t, 0x51, spk[0])
	require.EqualValues(t, 32, spk[1])
}

func TestLeafDepths(t *testing.T) {
	cases := []struct {
		n         int
		minDepth  int
		deepCount int
	}{
		{1, 0, 0},
		{2, 1, 2},
		{3, 2, 2},
		{4, 2, 3},
		{5, 3, 2},
	}
	for _, c := range cases {
		minDepth, deepCount := LeafDepths(c.n)
		require.Equal(t, c.minDepth, minDepth, "n=%d", c.n)
		require.Equal(t, c.deepCount, deepCount, "n=%d", c.n)
	}
}
