package arklib

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// VirtualTxOutPoint is the server's view of one VTXO: the outpoint it
// lives at, its lifecycle flags, and the ancestry needed to reconstruct
// transaction history.
type VirtualTxOutPoint struct {
	Outpoint        wire.OutPoint
	Amount          int64
	ScriptPubKey    []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
	IsPreconfirmed  bool
	IsSwept         bool
	IsUnrolled      bool
	IsSpent         bool
	SpentBy         *string // checkpoint txid that spent this outpoint
	CommitmentTxids []string
	SettledBy       *string // forfeit/commitment txid that finalised this outpoint
	ArkTxid         *string // ark transaction txid spending through the checkpoint

	now func() time.Time // overridable in tests; defaults to time.Now
}

// IsRecoverable reports whether this outpoint can still be reclaimed by
// its owner even though the server considers it settled: either it was
// swept without being spent, or its CSV/expiry window has already
// passed.
func (v *VirtualTxOutPoint) IsRecoverable() bool {
	nowFn := v.now
	if nowFn == nil {
		nowFn = time.Now
	}
	if v.IsSwept && !v.IsSpent {
		return true
	}
	return nowFn().After(v.ExpiresAt)
}

// VtxoList is a flat collection of virtual outpoints with the filtered
// views the Batch Protocol Engine and Coin Selection need.
type VtxoList struct {
	Spent      []*VirtualTxOutPoint
	Spendable  []*VirtualTxOutPoint
}

// All returns the concatenation of spent and spendable outpoints.
func (l *VtxoList) All() []*VirtualTxOutPoint {
	out := make([]*VirtualTxOutPoint, 0, len(l.Spent)+len(l.Spendable))
	out = append(out, l.Spent...)
	out = append(out, l.Spendable...)
	return out
}

// SpendableWithRecoverable returns every spendable outpoint plus any
// spent-but-recoverable outpoint, matching the Rust
// `spendable_with_recoverable` view used when a caller opts in to
// reclaiming recoverable VTXOs during a batch.
func (l *VtxoList) SpendableWithRecoverable() []*VirtualTxOutPoint {
	out := make([]*VirtualTxOutPoint, 0, len(l.Spendable))
	out = append(out, l.Spendable...)
	for _, v := range l.Spent {
		if v.IsRecoverable() {
			out = append(out, v)
		}
	}
	return out
}

// SpendableWithoutRecoverable filters recoverable outpoints out of the
// spendable set, used when a caller has not opted in to reclaiming them.
func (l *VtxoList) SpendableWithoutRecoverable() []*VirtualTxOutPoint {
	out := make([]*VirtualTxOutPoint, 0, len(l.Spendable))
	for _, v := range l.Spendable {
		if !v.IsRecoverable() {
			out = append(out, v)
		}
	}
	return out
}

// SpentWithoutRecoverable returns spent outpoints that are not
// recoverable, i.e. genuinely and irreversibly spent.
func (l *VtxoList) SpentWithoutRecoverable() []*VirtualTxOutPoint {
	out := make([]*VirtualTxOutPoint, 0, len(l.Spent))
	for _, v := range l.Spent {
		if !v.IsRecoverable() {
			out = append(out, v)
		}
	}
	return out
}

// Balance sums the amount of every outpoint in the set.
func Balance(vtxos []*VirtualTxOutPoint) int64 {
	var total int64
	for _, v := range vtxos {
		total += v.Amount
	}
	return total
}
