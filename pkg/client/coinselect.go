package client

import (
	"bytes"
	"sort"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SelectVtxosForAmount greedily selects spendable VTXOs to cover target,
// preferring outpoints closest to expiry first so VTXOs nearing the
// server's enforced expiry get spent before idle ones, grounded on the
// expiry-ordered coin selection in
// original_source/ark-core/src/coin_select.rs.
func SelectVtxosForAmount(vtxos []*arklib.VirtualTxOutPoint, target int64) ([]*arklib.VirtualTxOutPoint, int64, error) {
	if target <= 0 {
		return nil, 0, arkerror.CoinSelect("target amount must be positive")
	}

	sorted := make([]*arklib.VirtualTxOutPoint, len(vtxos))
	copy(sorted, vtxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExpiresAt.Before(sorted[j].ExpiresAt) })

	var selected []*arklib.VirtualTxOutPoint
	var total int64
	for _, v := range sorted {
		if total >= target {
			break
		}
		selected = append(selected, v)
		total += v.Amount
	}
	if total < target {
		return nil, 0, arkerror.CoinSelect("insufficient vtxos to cover target amount")
	}
	return selected, total - target, nil
}

// UnilateralExitInput is the CSV-delayed exit leaf of a single expired
// boarding output or VTXO, enough to spend it on-chain without server
// cooperation.
type UnilateralExitInput struct {
	Outpoint     wire.OutPoint
	Amount       int64
	ScriptPubKey []byte
	ExitScript   []byte
	SpendInfo    *script.SpendInfo
	Sequence     uint32
	OwnerPk      *btcec.PublicKey
}

// BuildUnilateralExitTx spends one or more expired boarding outputs or
// VTXOs through their CSV-delayed exit leaf directly on-chain, the
// on-chain counterpart to the cooperative forfeit path batch.go signs
// into a commitment transaction, grounded on the exit-transaction
// construction in original_source/ark-client/src/lib.rs. The transaction
// has a single output to destAddr carrying the sum of all input amounts
// minus fee.
func BuildUnilateralExitTx(inputs []UnilateralExitInput, destAddr btcutil.Address, fee int64, sign func(input UnilateralExitInput, sighash [32]byte) (*schnorr.Signature, error)) (*wire.MsgTx, error) {
	if len(inputs) == 0 {
		return nil, arkerror.AdHoc("no unilateral exit inputs given")
	}

	var total int64
	for _, in := range inputs {
		total += in.Amount
	}
	if total <= fee {
		return nil, arkerror.CoinSelect("unilateral exit inputs do not cover the exit fee")
	}

	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, arkerror.Transaction("failed to build exit destination script", err)
	}

	unsignedTx := wire.NewMsgTx(2)
	witnessUtxos := make([]*wire.TxOut, len(inputs))
	for i, in := range inputs {
		unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: in.Outpoint, Sequence: in.Sequence})
		witnessUtxos[i] = &wire.TxOut{Value: in.Amount, PkScript: in.ScriptPubKey}
	}
	unsignedTx.AddTxOut(&wire.TxOut{Value: total - fee, PkScript: destScript})

	pkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, arkerror.Transaction("failed to build unilateral exit psbt", err)
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(inputs))
	for i, in := range inputs {
		pkt.Inputs[i].WitnessUtxo = witnessUtxos[i]
		prevOuts[in.Outpoint] = witnessUtxos[i]
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(unsignedTx, fetcher)

	for i, in := range inputs {
		cb, err := in.SpendInfo.ControlBlockFor(in.ExitScript)
		if err != nil {
			return nil, err
		}
		cbBytes, err := cb.ToBytes()
		if err != nil {
			return nil, arkerror.Transaction("failed to serialize exit control block", err)
		}
		pkt.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
			ControlBlock: cbBytes,
			Script:       in.ExitScript,
			LeafVersion:  txscript.BaseLeafVersion,
		}}

		leaf := txscript.NewBaseTapLeaf(in.ExitScript)
		leafHash := leaf.TapHash()
		sighash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, unsignedTx, i, fetcher, leaf)
		if err != nil {
			return nil, arkerror.Crypto("failed to compute exit sighash", err)
		}
		var sighashArr [32]byte
		copy(sighashArr[:], sighash)

		sig, err := sign(in, sighashArr)
		if err != nil {
			return nil, arkerror.Context("failed to sign unilateral exit input", err)
		}

		pkt.Inputs[i].TaprootScriptSpendSig = []*psbt.TaprootScriptSpendSig{{
			XOnlyPubKey: schnorr.SerializePubKey(in.OwnerPk),
			LeafHash:    leafHash[:],
			Signature:   sig.Serialize(),
			SigHash:     txscript.SigHashDefault,
		}}

		var witnessBuf bytes.Buffer
		if err := psbt.WriteTxWitness(&witnessBuf, wire.TxWitness{sig.Serialize(), in.ExitScript, cbBytes}); err != nil {
			return nil, arkerror.Transaction("failed to serialize exit witness", err)
		}
		pkt.Inputs[i].FinalScriptWitness = witnessBuf.Bytes()
	}

	return psbtExtract(pkt)
}
