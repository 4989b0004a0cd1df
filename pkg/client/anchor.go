package client

import (
	"bytes"
	"math"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// anchorBumpVsize is a conservative fixed-vsize estimate for a
// one-anchor-input, one-wallet-input, one-change-output CPFP child,
// used only to size the fee target handed to coin selection; the
// wallet's own PSBT finalization determines the real weight.
const anchorBumpVsize = 180

// buildAnchorTx constructs (but does not sign) a transaction spending
// parent's P2A anchor output plus enough wallet-selected coins to cover
// fees at feeRate, with any leftover paid to changeAddr, grounded on
// `build_anchor_tx` in original_source/ark-core/src/coin_select.rs.
func buildAnchorTx(parent *wire.MsgTx, changeAddr btcutil.Address, feeRate float64, selectCoins func(target int64) (*wallet.UtxoCoinSelection, error)) (*psbt.Packet, error) {
	anchorIndex, anchorOut, err := findAnchorOutput(parent)
	if err != nil {
		return nil, err
	}

	fee := int64(math.Ceil(feeRate * anchorBumpVsize))
	sel, err := selectCoins(fee)
	if err != nil {
		return nil, arkerror.Context("failed to select coins to fund anchor bump", err)
	}

	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, arkerror.Transaction("failed to build change script", err)
	}

	unsignedTx := wire.NewMsgTx(3)
	unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parent.TxHash(), Index: anchorIndex}})
	for _, op := range sel.Outpoints {
		unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: op})
	}
	if sel.Change > 0 {
		unsignedTx.AddTxOut(&wire.TxOut{Value: sel.Change, PkScript: changeScript})
	}

	pkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, arkerror.Transaction("failed to build anchor bump psbt", err)
	}
	pkt.Inputs[0].WitnessUtxo = anchorOut

	return pkt, nil
}

func findAnchorOutput(tx *wire.MsgTx) (uint32, *wire.TxOut, error) {
	anchor := arklib.AnchorOutput()
	for i, out := range tx.TxOut {
		if out.Value == anchor.Value && bytes.Equal(out.PkScript, anchor.PkScript) {
			return uint32(i), out, nil
		}
	}
	return 0, nil, arkerror.AdHoc("parent transaction has no anchor output to bump")
}

func psbtExtract(pkt *psbt.Packet) (*wire.MsgTx, error) {
	tx, err := psbt.Extract(pkt)
	if err != nil {
		return nil, arkerror.Transaction("failed to extract final anchor bump transaction", err)
	}
	return tx, nil
}
