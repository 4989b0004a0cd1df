package arklib

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func TestNetworkHRP(t *testing.T) {
	require.Equal(t, "ark", NetworkMainnet.HRP())
	require.Equal(t, "tark", NetworkTestnet.HRP())
	require.Equal(t, "tark", NetworkSignet.HRP())
	require.Equal(t, "rark", NetworkRegtest.HRP())
}

func testKeyPair(t *testing.T) (*btcec.PublicKey, *btcec.PublicKey) {
	t.Helper()
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv1.PubKey(), priv2.PubKey()
}

func TestArkAddressEncodeDecodeRoundTrip(t *testing.T) {
	serverPk, vtxoPk := testKeyPair(t)
	addr := NewArkAddress(NetworkMainnet, serverPk, vtxoPk)

	encoded, err := addr.Encode()
	require.NoError(t, err)
	require.Contains(t, encoded, "ark1")

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, NetworkMainnet, decoded.Network)
	require.Equal(t, xOnly(serverPk), xOnly(decoded.ServerPk))
	require.Equal(t, xOnly(vtxoPk), xOnly(decoded.VtxoPk))
}

func TestArkAddressEncodeDecodeRegtest(t *testing.T) {
	serverPk, vtxoPk := testKeyPair(t)
	addr := NewArkAddress(NetworkRegtest, serverPk, vtxoPk)

	encoded, err := addr.Encode()
	require.NoError(t, err)

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, NetworkRegtest, decoded.Network)
}

func TestDecodeAddressRejectsBadPayloadLength(t *testing.T) {
	_, err := DecodeAddress("ark1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq7ye9rc")
	require.Error(t, err)
}

func TestArkAddressScriptPubKeyIsP2TR(t *testing.T) {
	serverPk, vtxoPk := testKeyPair(t)
	addr := NewArkAddress(NetworkMainnet, serverPk, vtxoPk)

	spk, err := addr.ScriptPubKey()
	require.NoError(t, err)
	require.Equal(t, byte(txscript.OP_1), spk[0])
	require.Equal(t, byte(32), spk[1])
	require.Len(t, spk, 34)
}

func TestArkAddressSubDustScriptPubKeyIsOpReturn(t *testing.T) {
	serverPk, vtxoPk := testKeyPair(t)
	addr := NewArkAddress(NetworkMainnet, serverPk, vtxoPk)

	spk, err := addr.SubDustScriptPubKey()
	require.NoError(t, err)
	require.Equal(t, byte(txscript.OP_RETURN), spk[0])
}
