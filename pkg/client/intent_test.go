package client

import (
	"testing"

	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/batch"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testVtxoInput(t *testing.T, serverPk, ownerPk *btcec.PublicKey, amount int64) batch.VtxoInput {
	t.Helper()
	vtxo, err := arklib.NewVtxo(serverPk, ownerPk, 144, nil, arklib.NetworkRegtest)
	require.NoError(t, err)
	return batch.VtxoInput{Vtxo: vtxo, Amount: amount, Outpoint: wire.OutPoint{Index: 0}}
}

func TestBuildBatchIntentRejectsNoInputs(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	c := newTestClient(t, &fakeTransport{}, &fakeBlockchain{}, &fakeBoardingWallet{}, &fakeOnchainWallet{})
	c.Kp = priv
	c.ServerInfo = connectedServerInfo(t)

	cosignerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, _, err = c.buildBatchIntent(nil, nil, BatchOutputType{Board: &BoardBatchOutput{ToAmount: 1000}}, cosignerPriv.PubKey())
	require.Error(t, err)
}

func TestBuildBatchIntentSignsVtxoInputsAndBoardOutput(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	c := newTestClient(t, &fakeTransport{}, &fakeBlockchain{}, &fakeBoardingWallet{}, &fakeOnchainWallet{})
	c.Kp = priv
	c.ServerInfo = connectedServerInfo(t)

	vtxoInput := testVtxoInput(t, c.ServerInfo.Pk, priv.PubKey(), 50000)
	ownAddr, _, err := c.GetOffchainAddress()
	require.NoError(t, err)

	cosignerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	intent, topics, err := c.buildBatchIntent(nil, []batch.VtxoInput{vtxoInput}, BatchOutputType{Board: &BoardBatchOutput{ToAddress: ownAddr, ToAmount: 49000}}, cosignerPriv.PubKey())
	require.NoError(t, err)
	require.NotNil(t, intent)
	require.Len(t, intent.Proof.Inputs, 2)
	require.Len(t, topics, 2)
	require.Equal(t, vtxoInput.Outpoint.String(), topics[0])
}

func TestBatchOutputsForRejectsEmptyOutputType(t *testing.T) {
	_, err := batchOutputsFor(BatchOutputType{})
	require.Error(t, err)
}

func TestBatchOutputsForOffBoardIncludesChangeWhenPositive(t *testing.T) {
	serverPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ownerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	changeVtxo, err := arklib.NewVtxo(serverPriv.PubKey(), ownerPriv.PubKey(), 144, nil, arklib.NetworkRegtest)
	require.NoError(t, err)
	changeAddr := changeVtxo.Address()

	destAddr, err := btcutil.NewAddressTaproot(make([]byte, 32), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	outputs, err := batchOutputsFor(BatchOutputType{OffBoard: &OffBoardBatchOutput{
		ToAddress:     destAddr,
		ToAmount:      10000,
		ChangeAddress: changeAddr,
		ChangeAmount:  500,
	}})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	require.Equal(t, arklib.IntentOutputOnchain, outputs[0].Kind)
	require.Equal(t, arklib.IntentOutputOffchain, outputs[1].Kind)
}

func TestBatchOutputsForOffBoardOmitsZeroChange(t *testing.T) {
	destAddr, err := btcutil.NewAddressTaproot(make([]byte, 32), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	outputs, err := batchOutputsFor(BatchOutputType{OffBoard: &OffBoardBatchOutput{ToAddress: destAddr, ToAmount: 10000}})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
}
