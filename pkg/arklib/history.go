package arklib

import (
	"sort"
	"time"
)

// TxKind classifies one row of reconstructed transaction history.
type TxKind int

const (
	TxKindBoarding TxKind = iota
	TxKindCommitment
	TxKindArk
	TxKindOffboard
)

// BoardingRecord is one observed on-chain boarding UTXO, supplied by the
// caller since boarding outputs are not VirtualTxOutPoints.
type BoardingRecord struct {
	Txid        string
	Amount      int64
	ConfirmedAt *time.Time
}

// TxRecord is one row of the reconstructed history, ready for display.
type TxRecord struct {
	Kind        TxKind
	Txid        string
	Amount      int64 // negative for outgoing
	CreatedAt   *time.Time
	IsSettled   bool
	Incomplete  bool // true if an outgoing Ark/Commitment row has no locally-known change output
}

func outpointTxid(v *VirtualTxOutPoint) string {
	return v.Outpoint.Hash.String()
}

// ReconstructHistory implements the algorithm in spec.md §4.6: given the
// spent and spendable VTXO sets plus the client's own boarding
// commitment TXIDs, produce an ordered sequence of display rows.
func ReconstructHistory(spent, spendable []*VirtualTxOutPoint, boardingCommitmentTxids []string, boarding []BoardingRecord) []TxRecord {
	boardingSet := make(map[string]bool, len(boardingCommitmentTxids))
	for _, txid := range boardingCommitmentTxids {
		boardingSet[txid] = true
	}

	var rows []TxRecord

	for _, b := range boarding {
		rows = append(rows, TxRecord{
			Kind:      TxKindBoarding,
			Txid:      b.Txid,
			Amount:    b.Amount,
			CreatedAt: b.ConfirmedAt,
		})
	}

	all := make([]*VirtualTxOutPoint, 0, len(spent)+len(spendable))
	all = append(all, spent...)
	all = append(all, spendable...)

	// Incoming rows.
	for _, v := range all {
		if !v.IsPreconfirmed {
			if len(v.CommitmentTxids) == 1 && boardingSet[v.CommitmentTxids[0]] {
				continue // the client's own settlement, not an incoming payment
			}
		}

		if v.IsPreconfirmed {
			var spentAgainst int64
			for _, s := range spent {
				if s.ArkTxid != nil && *s.ArkTxid == outpointTxid(v) {
					spentAgainst += s.Amount
				}
			}
			incoming := v.Amount - spentAgainst
			if incoming > 0 {
				rows = append(rows, TxRecord{
					Kind:      TxKindArk,
					Txid:      outpointTxid(v),
					Amount:    incoming,
					CreatedAt: timePtr(v.CreatedAt),
					IsSettled: v.SpentBy != nil || v.SettledBy != nil,
				})
			}
			continue
		}

		if len(v.CommitmentTxids) != 1 {
			continue
		}
		var spentAgainst int64
		for _, s := range spent {
			if s.SettledBy != nil && *s.SettledBy == v.CommitmentTxids[0] {
				spentAgainst += s.Amount
			}
		}
		incoming := v.Amount - spentAgainst
		if incoming > 0 {
			rows = append(rows, TxRecord{
				Kind:      TxKindCommitment,
				Txid:      v.CommitmentTxids[0],
				Amount:    incoming,
				CreatedAt: timePtr(v.CreatedAt),
			})
		}
	}

	// Outgoing rows: group spent VTXOs with SettledBy == nil, SpentBy != nil, by ArkTxid.
	groups := make(map[string][]*VirtualTxOutPoint)
	var order []string
	for _, v := range spent {
		if v.SettledBy != nil || v.SpentBy == nil || v.ArkTxid == nil {
			continue
		}
		key := *v.ArkTxid
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], v)
	}

	for _, arkTxid := range order {
		members := groups[arkTxid]
		var spentAmount int64
		for _, m := range members {
			spentAmount += m.Amount
		}

		var produced *VirtualTxOutPoint
		var producedAmount int64
		for _, v := range all {
			if outpointTxid(v) == arkTxid {
				producedAmount += v.Amount
				produced = v
			}
		}

		net := producedAmount - spentAmount
		if net >= 0 {
			continue // settlement or self-payment, dropped
		}

		row := TxRecord{Txid: arkTxid, Amount: net}
		switch {
		case produced == nil:
			row.Kind = TxKindArk
			row.Incomplete = true
		case produced.IsPreconfirmed:
			row.Kind = TxKindArk
			row.CreatedAt = timePtr(produced.CreatedAt)
			row.IsSettled = true
		default:
			row.Kind = TxKindCommitment
			row.CreatedAt = timePtr(produced.CreatedAt)
			row.IsSettled = true
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.CreatedAt == nil && b.CreatedAt == nil {
			return false
		}
		if a.CreatedAt == nil {
			return true
		}
		if b.CreatedAt == nil {
			return false
		}
		return a.CreatedAt.After(*b.CreatedAt)
	})

	return rows
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
