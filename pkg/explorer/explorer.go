// Package explorer declares the narrow chain-data interface the client
// core consumes. It is an external collaborator boundary: this module
// defines the shape a concrete Esplora/Electrum/bitcoind-backed
// implementation must satisfy, but does not implement one itself,
// grounded on the `Blockchain` trait in original_source/ark-client/src/lib.rs.
package explorer

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Utxo is one on-chain output observed at a script, with the lifecycle
// fields the boarding/coin-selection logic needs.
type Utxo struct {
	Outpoint            wire.OutPoint
	Amount              int64
	ConfirmationTime    *time.Time
	IsSpent             bool
}

// OutputStatus reports whether and how an outpoint has been spent.
type OutputStatus struct {
	Spent   bool
	SpentBy *chainhash.Hash
}

// TxStatus reports an on-chain transaction's confirmation state.
type TxStatus struct {
	Confirmed bool
	BlockTime *time.Time
}

// Blockchain is the read/broadcast surface the client core needs from a
// chain-data backend: finding boarding UTXOs at a script, looking up
// transactions and their confirmation status, broadcasting signed
// transactions (singly or as a CPFP package), and a current fee-rate
// estimate for anchor-output bumping.
type Blockchain interface {
	FindOutpoints(ctx context.Context, scriptPubKey []byte) ([]Utxo, error)
	FindTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
	GetOutputStatus(ctx context.Context, outpoint wire.OutPoint) (*OutputStatus, error)
	GetTxStatus(ctx context.Context, txid chainhash.Hash) (*TxStatus, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
	BroadcastPackage(ctx context.Context, txs []*wire.MsgTx) error
	GetFeeRate(ctx context.Context) (float64, error) // sats/vbyte
}
