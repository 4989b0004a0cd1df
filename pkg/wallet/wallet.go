// Package wallet declares the narrow onchain-signing interfaces the
// client core consumes. Like pkg/explorer, these are external
// collaborator boundaries: spec.md treats the wallet as something the
// core calls through, not something it implements, grounded on the
// `OnchainWallet`/`BoardingWallet` traits in
// original_source/ark-client/src/lib.rs.
package wallet

import (
	"context"

	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// Balance is the wallet's on-chain balance split by confirmation state.
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

// Total is Confirmed plus Unconfirmed.
func (b Balance) Total() int64 { return b.Confirmed + b.Unconfirmed }

// UtxoCoinSelection is a set of on-chain inputs selected to cover a
// target amount, plus the leftover that must come back as change.
type UtxoCoinSelection struct {
	Outpoints []wire.OutPoint
	Amount    int64
	Change    int64
}

// BoardingWallet manages the boarding outputs a client has funded and
// signs their forfeit path during commitment-transaction cosigning.
type BoardingWallet interface {
	// NewBoardingOutput derives and persists a fresh boarding output for
	// the given server key and exit delay.
	NewBoardingOutput(ctx context.Context, serverPk *btcec.PublicKey, exitDelay int64, network arklib.Network) (*arklib.BoardingOutput, error)
	GetBoardingOutputs(ctx context.Context) ([]*arklib.BoardingOutput, error)
	// SignForPk produces a BIP-340 Schnorr signature over msg under the
	// key identified by the x-only public key pk.
	SignForPk(ctx context.Context, pk *btcec.PublicKey, msg [32]byte) (*schnorr.Signature, error)
}

// OnchainWallet is the plain on-chain wallet backing boarding deposits
// and collaborative-exit change/CPFP outputs.
type OnchainWallet interface {
	GetOnchainAddress(ctx context.Context) (btcutil.Address, error)
	Sync(ctx context.Context) error
	Balance(ctx context.Context) (Balance, error)
	PrepareSendToAddress(ctx context.Context, address btcutil.Address, amount int64, feeRate float64) (*psbt.Packet, error)
	// Sign fills in the witness/signature fields of pkt's onchain inputs
	// in place. The bool return reports whether every input it owns was
	// signed (false means the PSBT is only partially ours).
	Sign(ctx context.Context, pkt *psbt.Packet) (bool, error)
	SelectCoins(ctx context.Context, targetAmount int64) (*UtxoCoinSelection, error)
}
