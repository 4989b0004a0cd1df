package batch

import (
	"testing"

	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/txgraph"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func newCosignedTreeTx(t *testing.T, parentTxid chainhash.Hash, cosigners []*btcec.PublicKey, amount int64) *psbt.Packet {
	t.Helper()

	unsignedTx := wire.NewMsgTx(3)
	unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parentTxid, Index: 0}})
	unsignedTx.AddTxOut(&wire.TxOut{Value: amount, PkScript: []byte{0x51, 0x20}})

	pkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	require.NoError(t, err)

	pkt.Inputs[VtxoInputIndex].WitnessUtxo = &wire.TxOut{Value: amount + 1000, PkScript: []byte{0x51, 0x20}}
	for _, pk := range cosigners {
		arklib.SetCosignerUnknown(&pkt.Inputs[VtxoInputIndex], hexEncode(schnorr.SerializePubKey(pk)))
	}

	return pkt
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

func newCommitmentTx(t *testing.T, amount int64) *psbt.Packet {
	t.Helper()
	unsignedTx := wire.NewMsgTx(3)
	unsignedTx.AddTxIn(&wire.TxIn{})
	unsignedTx.AddTxOut(&wire.TxOut{Value: amount, PkScript: []byte{0x51, 0x20}})
	pkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	require.NoError(t, err)
	return pkt
}

func TestCosignerPubKeysRoundtripsThroughUnknownFields(t *testing.T) {
	k1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	k2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pkt := newCosignedTreeTx(t, chainhash.Hash{}, []*btcec.PublicKey{k1.PubKey(), k2.PubKey()}, 5000)

	pks, err := cosignerPubKeys(pkt)
	require.NoError(t, err)
	require.Len(t, pks, 2)
	require.True(t, containsPubKey(pks, k1.PubKey()))
	require.True(t, containsPubKey(pks, k2.PubKey()))
}

func TestGenerateNonceTreeFailsWhenOwnKeyMissing(t *testing.T) {
	k1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	commitmentTxid := chainhash.Hash{}
	leaf := newCosignedTreeTx(t, commitmentTxid, []*btcec.PublicKey{k1.PubKey()}, 5000)

	chunks := []txgraph.Chunk{{Txid: leaf.UnsignedTx.TxHash(), Psbt: leaf, Children: map[uint32]chainhash.Hash{}}}
	graph, err := txgraph.New(chunks)
	require.NoError(t, err)

	commitmentTx := newCommitmentTx(t, 6000)

	_, err = GenerateNonceTree(graph, other.PubKey(), commitmentTx)
	require.Error(t, err)
}

func TestGenerateNonceTreeProducesOneNoncePerNode(t *testing.T) {
	own, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	commitmentTxid := chainhash.Hash{}
	leaf := newCosignedTreeTx(t, commitmentTxid, []*btcec.PublicKey{own.PubKey()}, 5000)

	chunks := []txgraph.Chunk{{Txid: leaf.UnsignedTx.TxHash(), Psbt: leaf, Children: map[uint32]chainhash.Hash{}}}
	graph, err := txgraph.New(chunks)
	require.NoError(t, err)

	commitmentTx := newCommitmentTx(t, 6000)

	nonces, err := GenerateNonceTree(graph, own.PubKey(), commitmentTx)
	require.NoError(t, err)
	require.Len(t, nonces.PublicNonces(), 1)

	_, ok := nonces.TakeSecret(leaf.UnsignedTx.TxHash())
	require.True(t, ok)
	_, ok = nonces.TakeSecret(leaf.UnsignedTx.TxHash())
	require.False(t, ok, "secret nonce must not be takeable twice")
}

func TestDeriveVtxoConnectorMapZipsSortedOutpoints(t *testing.T) {
	connTx := wire.NewMsgTx(3)
	connTx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})
	connTx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})
	connTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: []byte{0x6a}})
	connPkt, err := psbt.NewFromUnsignedTx(connTx)
	require.NoError(t, err)

	vtxoInputs := []VtxoInput{
		{Amount: 5000, Outpoint: wire.OutPoint{Index: 1}},
		{Amount: 5000, Outpoint: wire.OutPoint{Index: 0}},
		{Amount: 500, Outpoint: wire.OutPoint{Index: 2}}, // below dust, excluded
	}

	m, err := DeriveVtxoConnectorMap(vtxoInputs, []*psbt.Packet{connPkt}, 1000)
	require.NoError(t, err)
	require.Len(t, m, 2)
}

func TestDeriveVtxoConnectorMapRejectsCountMismatch(t *testing.T) {
	connTx := wire.NewMsgTx(3)
	connTx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})
	connPkt, err := psbt.NewFromUnsignedTx(connTx)
	require.NoError(t, err)

	vtxoInputs := []VtxoInput{
		{Amount: 5000, Outpoint: wire.OutPoint{Index: 0}},
		{Amount: 5000, Outpoint: wire.OutPoint{Index: 1}},
	}

	_, err = DeriveVtxoConnectorMap(vtxoInputs, []*psbt.Packet{connPkt}, 1000)
	require.Error(t, err)
}

func TestCreateAndSignForfeitTxsSignsEachInputAboveDust(t *testing.T) {
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ownerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	vtxo, err := arklib.NewVtxo(serverKey.PubKey(), ownerKey.PubKey(), 144, nil, arklib.NetworkRegtest)
	require.NoError(t, err)

	connTx := wire.NewMsgTx(3)
	connTx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})
	connPkt, err := psbt.NewFromUnsignedTx(connTx)
	require.NoError(t, err)

	vtxoInputs := []VtxoInput{
		{Vtxo: vtxo, Amount: 20000, Outpoint: wire.OutPoint{Index: 0}},
	}

	signFn := func(msg [32]byte, v *arklib.Vtxo) (*schnorr.Signature, *btcec.PublicKey, error) {
		sig, err := schnorr.Sign(ownerKey, msg[:])
		return sig, ownerKey.PubKey(), err
	}

	forfeitTxs, err := CreateAndSignForfeitTxs(vtxoInputs, []*psbt.Packet{connPkt}, []byte{0x51, 0x20}, 1000, signFn)
	require.NoError(t, err)
	require.Len(t, forfeitTxs, 1)
	require.Len(t, forfeitTxs[0].Inputs[forfeitTxVtxoIndex].TaprootScriptSpendSig, 1)
}

func TestSignCommitmentPsbtAttachesBoardingSignature(t *testing.T) {
	serverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ownerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	boarding, err := arklib.NewBoardingOutput(serverKey.PubKey(), ownerKey.PubKey(), 144, arklib.NetworkRegtest)
	require.NoError(t, err)
	boardingSpk, err := boarding.ScriptPubKey()
	require.NoError(t, err)

	boardingOutpoint := wire.OutPoint{Index: 0}

	unsignedTx := wire.NewMsgTx(3)
	unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: boardingOutpoint})
	unsignedTx.AddTxOut(&wire.TxOut{Value: 50000, PkScript: []byte{0x51, 0x20}})
	commitmentPkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	require.NoError(t, err)
	commitmentPkt.Inputs[0].WitnessUtxo = &wire.TxOut{Value: 50000, PkScript: boardingSpk}

	onchainInputs := []OnChainInput{
		{BoardingOutput: boarding, Amount: 50000, Outpoint: boardingOutpoint},
	}

	signFn := func(ownerPk *btcec.PublicKey, msg [32]byte) (*schnorr.Signature, error) {
		return schnorr.Sign(ownerKey, msg[:])
	}

	err = SignCommitmentPsbt(signFn, commitmentPkt, onchainInputs)
	require.NoError(t, err)
	require.Len(t, commitmentPkt.Inputs[0].TaprootScriptSpendSig, 1)
}
