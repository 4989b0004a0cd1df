package client

import (
	"context"

	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/explorer"
	"github.com/arkwire/ark-client-core/pkg/wallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// fakeTransport is a minimal, hand-rolled TransportClient stand-in: tests
// only populate the methods they exercise, every other method returns a
// zero value.
type fakeTransport struct {
	vtxoList *arklib.VtxoList
}

func (f *fakeTransport) GetInfo(ctx context.Context) (*ServerInfo, error) { return nil, nil }
func (f *fakeTransport) ListVtxos(ctx context.Context, address *arklib.ArkAddress) (*arklib.VtxoList, error) {
	if f.vtxoList != nil {
		return f.vtxoList, nil
	}
	return &arklib.VtxoList{}, nil
}
func (f *fakeTransport) GetVtxoChain(ctx context.Context, outpoint chainhash.Hash, pageSize, pageIndex int) ([]byte, error) {
	return nil, nil
}
func (f *fakeTransport) GetTxHistory(ctx context.Context, address *arklib.ArkAddress) ([]arklib.TxRecord, error) {
	return nil, nil
}
func (f *fakeTransport) RegisterIntent(ctx context.Context, intentMessage []byte, proof *psbt.Packet) (string, error) {
	return "", nil
}
func (f *fakeTransport) ConfirmRegistration(ctx context.Context, intentID string) error { return nil }
func (f *fakeTransport) GetEventStream(ctx context.Context, topics []string) (EventStream, error) {
	return nil, nil
}
func (f *fakeTransport) SubmitTreeNonces(ctx context.Context, batchID string, cosignerPk *btcec.PublicKey, nonces map[chainhash.Hash][66]byte) error {
	return nil
}
func (f *fakeTransport) SubmitTreeSignatures(ctx context.Context, batchID string, cosignerPk *btcec.PublicKey, sigs PartialSigTree) error {
	return nil
}
func (f *fakeTransport) SubmitSignedForfeitTxs(ctx context.Context, forfeitTxs []*psbt.Packet, commitmentTx *psbt.Packet) error {
	return nil
}
func (f *fakeTransport) SubmitTx(ctx context.Context, arkTx *psbt.Packet, checkpointTxs []*psbt.Packet) (string, []*psbt.Packet, error) {
	return "", nil, nil
}
func (f *fakeTransport) FinalizeTx(ctx context.Context, arkTxid string, finalCheckpointTxs []*psbt.Packet) error {
	return nil
}
func (f *fakeTransport) SubscribeForScripts(ctx context.Context, scripts []string) (string, error) {
	return "", nil
}
func (f *fakeTransport) GetSubscription(ctx context.Context, subscriptionID string) (EventStream, error) {
	return nil, nil
}
func (f *fakeTransport) UnsubscribeForScripts(ctx context.Context, subscriptionID string, scripts []string) error {
	return nil
}

type fakeBlockchain struct {
	feeRate float64
}

func (f *fakeBlockchain) FindOutpoints(ctx context.Context, scriptPubKey []byte) ([]explorer.Utxo, error) {
	return nil, nil
}
func (f *fakeBlockchain) FindTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	return nil, nil
}
func (f *fakeBlockchain) GetOutputStatus(ctx context.Context, outpoint wire.OutPoint) (*explorer.OutputStatus, error) {
	return nil, nil
}
func (f *fakeBlockchain) GetTxStatus(ctx context.Context, txid chainhash.Hash) (*explorer.TxStatus, error) {
	return nil, nil
}
func (f *fakeBlockchain) Broadcast(ctx context.Context, tx *wire.MsgTx) error        { return nil }
func (f *fakeBlockchain) BroadcastPackage(ctx context.Context, txs []*wire.MsgTx) error { return nil }
func (f *fakeBlockchain) GetFeeRate(ctx context.Context) (float64, error)           { return f.feeRate, nil }

type fakeBoardingWallet struct {
	outputs []*arklib.BoardingOutput
}

func (f *fakeBoardingWallet) NewBoardingOutput(ctx context.Context, serverPk *btcec.PublicKey, exitDelay int64, network arklib.Network) (*arklib.BoardingOutput, error) {
	return nil, nil
}
func (f *fakeBoardingWallet) GetBoardingOutputs(ctx context.Context) ([]*arklib.BoardingOutput, error) {
	return f.outputs, nil
}
func (f *fakeBoardingWallet) SignForPk(ctx context.Context, pk *btcec.PublicKey, msg [32]byte) (*schnorr.Signature, error) {
	return nil, nil
}

type fakeOnchainWallet struct {
	addr      btcutil.Address
	selection *wallet.UtxoCoinSelection
	signOK    bool
}

func (f *fakeOnchainWallet) GetOnchainAddress(ctx context.Context) (btcutil.Address, error) {
	return f.addr, nil
}
func (f *fakeOnchainWallet) Sync(ctx context.Context) error { return nil }
func (f *fakeOnchainWallet) Balance(ctx context.Context) (wallet.Balance, error) {
	return wallet.Balance{}, nil
}
func (f *fakeOnchainWallet) PrepareSendToAddress(ctx context.Context, address btcutil.Address, amount int64, feeRate float64) (*psbt.Packet, error) {
	return nil, nil
}
func (f *fakeOnchainWallet) Sign(ctx context.Context, pkt *psbt.Packet) (bool, error) {
	return f.signOK, nil
}
func (f *fakeOnchainWallet) SelectCoins(ctx context.Context, targetAmount int64) (*wallet.UtxoCoinSelection, error) {
	return f.selection, nil
}
