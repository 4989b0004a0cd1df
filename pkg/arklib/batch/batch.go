// Package batch implements the client side of batch-tree cosigning: nonce
// generation, MuSig2 partial signing of the VTXO tree, and forfeit/
// commitment signing, grounded on
// original_source/ark-core/src/batch.rs.
package batch

import (
	"bytes"
	"sort"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/script"
	"github.com/arkwire/ark-client-core/pkg/arklib/txgraph"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// VtxoInputIndex is the fixed index of the single VTXO input every
// batch-tree node transaction spends.
const VtxoInputIndex = 0

// OnChainInput is a boarding UTXO entering the batch, spent via the
// server/owner forfeit path.
type OnChainInput struct {
	BoardingOutput *arklib.BoardingOutput
	Amount         int64
	Outpoint       wire.OutPoint
}

// VtxoInput is a confirmed or preconfirmed VTXO entering the batch, to be
// renewed, confirmed, or spent into a plain UTXO.
type VtxoInput struct {
	Vtxo     *arklib.Vtxo
	Amount   int64
	Outpoint wire.OutPoint
}

type nonceEntry struct {
	sec [97]byte
	pub [66]byte
	used bool
}

// NonceKps holds one MuSig2 nonce key pair per batch-tree transaction
// this party cosigns. Each secret nonce can be taken exactly once, to
// guard against nonce reuse across signing attempts.
type NonceKps struct {
	nonces map[chainhash.Hash]*nonceEntry
}

// TakeSecret removes and returns the secret nonce for txid. The second
// return value is false if there is no such nonce or it was already
// taken.
func (n *NonceKps) TakeSecret(txid chainhash.Hash) ([97]byte, bool) {
	e, ok := n.nonces[txid]
	if !ok || e.used {
		return [97]byte{}, false
	}
	e.used = true
	return e.sec, true
}

// PublicNonces returns every public nonce, keyed by tree TXID, to be
// shared with the other cosigners and the server.
func (n *NonceKps) PublicNonces() map[chainhash.Hash][66]byte {
	out := make(map[chainhash.Hash][66]byte, len(n.nonces))
	for txid, e := range n.nonces {
		out[txid] = e.pub
	}
	return out
}

func cosignerPubKeys(nodePsbt *psbt.Packet) ([]*btcec.PublicKey, error) {
	if len(nodePsbt.Inputs) <= VtxoInputIndex {
		return nil, arkerror.AdHoc("tree tx psbt has no vtxo input")
	}
	hexKeys := arklib.ExtractCosignerPks(&nodePsbt.Inputs[VtxoInputIndex])
	pks := make([]*btcec.PublicKey, 0, len(hexKeys))
	for _, h := range hexKeys {
		raw, err := decodeHex(h)
		if err != nil {
			return nil, arkerror.Context("invalid cosigner public key", err)
		}
		pk, err := schnorr.ParsePubKey(raw)
		if err != nil {
			return nil, arkerror.Crypto("failed to parse cosigner public key", err)
		}
		pks = append(pks, pk)
	}
	return pks, nil
}

func decodeHex(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			b <<= 4
			switch {
			case c >= '0' && c <= '9':
				b |= c - '0'
			case c >= 'a' && c <= 'f':
				b |= c - 'a' + 10
			case c >= 'A' && c <= 'F':
				b |= c - 'A' + 10
			default:
				return nil, arkerror.AdHoc("invalid hex character in public key")
			}
		}
		out[i] = b
	}
	return out, nil
}

// containsPubKey compares by x-only serialization, since cosigner
// identities are carried through PSBTs as x-only keys and lose their Y
// parity: two btcec.PublicKey values sharing an x-coordinate must be
// treated as the same cosigner regardless of which parity each was
// constructed with.
func containsPubKey(keys []*btcec.PublicKey, target *btcec.PublicKey) bool {
	targetX := schnorr.SerializePubKey(target)
	for _, k := range keys {
		if bytes.Equal(schnorr.SerializePubKey(k), targetX) {
			return true
		}
	}
	return false
}

func sortPubKeys(keys []*btcec.PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].SerializeCompressed(), keys[j].SerializeCompressed()) < 0
	})
}

// treeTxSighash computes the key-spend sighash a batch-tree node
// transaction's single VTXO input must be signed against.
func treeTxSighash(nodePsbt *psbt.Packet, nodes map[chainhash.Hash]*txgraph.Node, commitmentTx *psbt.Packet) ([32]byte, error) {
	tx := nodePsbt.UnsignedTx
	prevOutpoint := tx.TxIn[VtxoInputIndex].PreviousOutPoint

	var prevOut *wire.TxOut
	if parent, ok := nodes[prevOutpoint.Hash]; ok {
		if int(prevOutpoint.Index) >= len(parent.Psbt.UnsignedTx.TxOut) {
			return [32]byte{}, arkerror.AdHocf("previous output %d not found for tree tx %s", prevOutpoint.Index, tx.TxHash())
		}
		prevOut = parent.Psbt.UnsignedTx.TxOut[prevOutpoint.Index]
	} else if prevOutpoint.Hash == commitmentTx.UnsignedTx.TxHash() {
		prevOut = commitmentTx.UnsignedTx.TxOut[prevOutpoint.Index]
	} else {
		return [32]byte{}, arkerror.AdHocf("parent transaction %s not found for tree tx %s", prevOutpoint.Hash, tx.TxHash())
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sighash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, VtxoInputIndex, fetcher)
	if err != nil {
		return [32]byte{}, arkerror.Crypto("failed to compute tree tx sighash", err)
	}
	var out [32]byte
	copy(out[:], sighash)
	return out, nil
}

// GenerateNonceTree produces a fresh MuSig2 nonce key pair for every
// batch-tree transaction this cosigner participates in.
func GenerateNonceTree(graph *txgraph.Graph, ownCosignerPk *btcec.PublicKey, commitmentTx *psbt.Packet) (*NonceKps, error) {
	nodes := graph.AsMap()
	nonces := make(map[chainhash.Hash]*nonceEntry, len(nodes))

	for txid, node := range nodes {
		cosignerPks, err := cosignerPubKeys(node.Psbt)
		if err != nil {
			return nil, arkerror.Context("failed to read cosigner keys", err)
		}
		if !containsPubKey(cosignerPks, ownCosignerPk) {
			return nil, arkerror.Crypto("own cosigner key missing from tree tx cosigner set", nil)
		}

		nonces_, err := musig2.GenNonces(musig2.WithPublicKey(ownCosignerPk))
		if err != nil {
			return nil, arkerror.Crypto("failed to generate musig2 nonce", err)
		}

		nonces[txid] = &nonceEntry{sec: nonces_.SecNonce, pub: nonces_.PubNonce}
	}

	return &NonceKps{nonces: nonces}, nil
}

// AggregateNonces combines every cosigner's public nonce for one
// batch-tree transaction into a single aggregated nonce.
func AggregateNonces(pubNonces [][66]byte) ([66]byte, error) {
	agg, err := musig2.AggregateNonces(pubNonces)
	if err != nil {
		return [66]byte{}, arkerror.Crypto("failed to aggregate musig2 nonces", err)
	}
	return agg, nil
}

// sweepTweak computes the taproot tweak applied to the aggregated
// cosigner key for a tree node's output: a single-leaf tree letting the
// server sweep the output unilaterally once vtxoTreeExpiry elapses.
func sweepTweak(aggKey *btcec.PublicKey, vtxoTreeExpiry int64, serverPk *btcec.PublicKey) (chainhash.Hash, error) {
	sweepScript, err := script.CSVSigScript(vtxoTreeExpiry, serverPk)
	if err != nil {
		return chainhash.Hash{}, err
	}
	spendInfo, err := script.Build(aggKey, []script.Leaf{{Script: sweepScript, Weight: 1}})
	if err != nil {
		return chainhash.Hash{}, arkerror.Context("failed to build tree node sweep tree", err)
	}
	return spendInfo.TapscriptRoot, nil
}

// SignBatchTreeTx produces this cosigner's partial MuSig2 signature for
// one batch-tree transaction, consuming the nonce reserved for it.
func SignBatchTreeTx(
	treeTxid chainhash.Hash,
	vtxoTreeExpiry int64,
	serverPk *btcec.PublicKey,
	ownCosignerKey *btcec.PrivateKey,
	aggNonce [66]byte,
	graph *txgraph.Graph,
	commitmentTx *psbt.Packet,
	ourNonces *NonceKps,
) (*musig2.PartialSignature, error) {
	ownCosignerPk := ownCosignerKey.PubKey()

	nodes := graph.AsMap()
	node, ok := nodes[treeTxid]
	if !ok {
		return nil, arkerror.AdHocf("txid %s not found in batch tree map", treeTxid)
	}

	cosignerPks, err := cosignerPubKeys(node.Psbt)
	if err != nil {
		return nil, err
	}
	sortPubKeys(cosignerPks)
	if !containsPubKey(cosignerPks, ownCosignerPk) {
		return nil, arkerror.AdHoc("own cosigner key not found among tree tx cosigner keys")
	}

	aggKey, err := aggregatedKeyOf(cosignerPks)
	if err != nil {
		return nil, err
	}
	tweak, err := sweepTweak(aggKey, vtxoTreeExpiry, serverPk)
	if err != nil {
		return nil, err
	}

	msg, err := treeTxSighash(node.Psbt, nodes, commitmentTx)
	if err != nil {
		return nil, err
	}

	secNonce, ok := ourNonces.TakeSecret(treeTxid)
	if !ok {
		return nil, arkerror.Crypto("missing or already-used nonce for tree tx", nil)
	}

	partialSig, err := musig2.Sign(
		secNonce, ownCosignerKey, aggNonce, cosignerPks, msg,
		musig2.WithSortedKeys(), musig2.WithTaprootSignTweak(tweak[:]),
	)
	if err != nil {
		return nil, arkerror.Crypto("failed to produce musig2 partial signature", err)
	}

	return partialSig, nil
}

func aggregatedKeyOf(cosignerPks []*btcec.PublicKey) (*btcec.PublicKey, error) {
	agg, err := musig2.AggregateKeys(cosignerPks, true)
	if err != nil {
		return nil, arkerror.Crypto("failed to aggregate cosigner keys", err)
	}
	return agg.FinalKey, nil
}

// CombinePartialSignatures aggregates every cosigner's partial signature
// for one batch-tree transaction into the final Schnorr signature that
// gets attached to the node's PSBT input.
func CombinePartialSignatures(cosignerPks []*btcec.PublicKey, vtxoTreeExpiry int64, serverPk *btcec.PublicKey, msg [32]byte, aggNonce [66]byte, partialSigs []*musig2.PartialSignature) (*schnorr.Signature, error) {
	sorted := append([]*btcec.PublicKey(nil), cosignerPks...)
	sortPubKeys(sorted)

	aggKey, err := aggregatedKeyOf(sorted)
	if err != nil {
		return nil, err
	}
	tweak, err := sweepTweak(aggKey, vtxoTreeExpiry, serverPk)
	if err != nil {
		return nil, err
	}

	combined, err := musig2.CombineSigs(aggNonce, partialSigs,
		musig2.WithTaprootTweakedCombine(msg, sorted, tweak[:], true))
	if err != nil {
		return nil, arkerror.Crypto("failed to combine musig2 partial signatures", err)
	}
	return combined, nil
}

// DeriveVtxoConnectorMap deterministically pairs each forfeitable VTXO
// outpoint (above dust) with one connector outpoint, by sorting both
// sets and zipping them.
func DeriveVtxoConnectorMap(vtxoInputs []VtxoInput, connectorLeaves []*psbt.Packet, dust int64) (map[wire.OutPoint]wire.OutPoint, error) {
	var connectorOutpoints []wire.OutPoint
	for _, leaf := range connectorLeaves {
		txid := leaf.UnsignedTx.TxHash()
		for vout, out := range leaf.UnsignedTx.TxOut {
			if out.Value == 0 {
				continue // anchor output
			}
			connectorOutpoints = append(connectorOutpoints, wire.OutPoint{Hash: txid, Index: uint32(vout)})
		}
	}
	sort.Slice(connectorOutpoints, func(i, j int) bool {
		return outpointLess(connectorOutpoints[i], connectorOutpoints[j])
	})

	var vtxoOutpoints []wire.OutPoint
	for _, in := range vtxoInputs {
		if in.Amount > dust {
			vtxoOutpoints = append(vtxoOutpoints, in.Outpoint)
		}
	}
	sort.Slice(vtxoOutpoints, func(i, j int) bool {
		return outpointLess(vtxoOutpoints[i], vtxoOutpoints[j])
	})

	if len(vtxoOutpoints) != len(connectorOutpoints) {
		return nil, arkerror.AdHocf("mismatch between vtxo count (%d) and connector count (%d)", len(vtxoOutpoints), len(connectorOutpoints))
	}

	out := make(map[wire.OutPoint]wire.OutPoint, len(vtxoOutpoints))
	for i, vtxoOutpoint := range vtxoOutpoints {
		out[vtxoOutpoint] = connectorOutpoints[i]
	}
	return out, nil
}

func outpointLess(a, b wire.OutPoint) bool {
	cmp := bytes.Compare(a.Hash[:], b.Hash[:])
	if cmp != 0 {
		return cmp < 0
	}
	return a.Index < b.Index
}

const (
	forfeitTxConnectorIndex = 0
	forfeitTxVtxoIndex      = 1
)

// SignFunc signs a forfeit sighash for the given VTXO and returns the
// signature alongside the owner public key it was produced with.
type SignFunc func(msg [32]byte, vtxo *arklib.Vtxo) (*schnorr.Signature, *btcec.PublicKey, error)

// CreateAndSignForfeitTxs builds and signs one forfeit transaction per
// VTXO input above dust, spending its connector output and the VTXO
// itself into the server's forfeit address.
func CreateAndSignForfeitTxs(vtxoInputs []VtxoInput, connectorLeaves []*psbt.Packet, serverForfeitScript []byte, dust int64, sign SignFunc) ([]*psbt.Packet, error) {
	connectorIndex, err := DeriveVtxoConnectorMap(vtxoInputs, connectorLeaves, dust)
	if err != nil {
		return nil, err
	}

	var forfeitTxs []*psbt.Packet
	for _, in := range vtxoInputs {
		if in.Amount <= dust {
			continue
		}

		connectorOutpoint, ok := connectorIndex[in.Outpoint]
		if !ok {
			return nil, arkerror.AdHocf("connector outpoint missing for vtxo outpoint %s", in.Outpoint)
		}

		var connectorOutput *wire.TxOut
		for _, leaf := range connectorLeaves {
			if leaf.UnsignedTx.TxHash() == connectorOutpoint.Hash {
				connectorOutput = leaf.UnsignedTx.TxOut[connectorOutpoint.Index]
				break
			}
		}
		if connectorOutput == nil {
			return nil, arkerror.AdHocf("connector psbt missing for vtxo outpoint %s", in.Outpoint)
		}

		vtxoScriptPubKey, err := in.Vtxo.ScriptPubKey()
		if err != nil {
			return nil, err
		}
		forfeitOutput := &wire.TxOut{Value: in.Amount + connectorOutput.Value, PkScript: serverForfeitScript}

		unsignedTx := wire.NewMsgTx(3)
		unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: connectorOutpoint})
		unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: in.Outpoint})
		unsignedTx.AddTxOut(forfeitOutput)
		unsignedTx.AddTxOut(arklib.AnchorOutput())

		forfeitPkt, err := psbt.NewFromUnsignedTx(unsignedTx)
		if err != nil {
			return nil, arkerror.Transaction("failed to build forfeit psbt", err)
		}

		forfeitPkt.Inputs[forfeitTxConnectorIndex].WitnessUtxo = connectorOutput
		forfeitPkt.Inputs[forfeitTxVtxoIndex].WitnessUtxo = &wire.TxOut{Value: in.Amount, PkScript: vtxoScriptPubKey}

		forfeitScript := in.Vtxo.ForfeitScript()
		controlBlock, err := in.Vtxo.SpendInfo().ControlBlockFor(forfeitScript)
		if err != nil {
			return nil, err
		}
		cbBytes, err := controlBlock.ToBytes()
		if err != nil {
			return nil, arkerror.Transaction("failed to serialize forfeit control block", err)
		}
		forfeitPkt.Inputs[forfeitTxVtxoIndex].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
			{ControlBlock: cbBytes, Script: forfeitScript, LeafVersion: txscript.BaseLeafVersion},
		}

		prevOuts := map[wire.OutPoint]*wire.TxOut{
			connectorOutpoint: connectorOutput,
			in.Outpoint:       forfeitPkt.Inputs[forfeitTxVtxoIndex].WitnessUtxo,
		}
		fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
		sigHashes := txscript.NewTxSigHashes(unsignedTx, fetcher)
		leaf := txscript.NewBaseTapLeaf(forfeitScript)
		leafHash := leaf.TapHash()

		sighash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, unsignedTx, forfeitTxVtxoIndex, fetcher, leaf)
		if err != nil {
			return nil, arkerror.Crypto("failed to compute forfeit sighash", err)
		}
		var sighashArr [32]byte
		copy(sighashArr[:], sighash)

		sig, pk, err := sign(sighashArr, in.Vtxo)
		if err != nil {
			return nil, arkerror.Context("failed to sign forfeit transaction", err)
		}

		forfeitPkt.Inputs[forfeitTxVtxoIndex].TaprootScriptSpendSig = []*psbt.TaprootScriptSpendSig{
			{
				XOnlyPubKey: pk.SerializeCompressed()[1:],
				LeafHash:    leafHash[:],
				Signature:   sig.Serialize(),
				SigHash:     txscript.SigHashDefault,
			},
		}

		forfeitTxs = append(forfeitTxs, forfeitPkt)
	}

	return forfeitTxs, nil
}

// SignCommitmentFunc signs a commitment-transaction sighash on behalf of
// the given owner public key.
type SignCommitmentFunc func(ownerPk *btcec.PublicKey, msg [32]byte) (*schnorr.Signature, error)

// SignCommitmentPsbt signs every commitment-transaction input spending
// one of onchainInputs' boarding outputs, via their forfeit script path.
func SignCommitmentPsbt(sign SignCommitmentFunc, commitmentPsbt *psbt.Packet, onchainInputs []OnChainInput) error {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(commitmentPsbt.Inputs))
	for i, in := range commitmentPsbt.Inputs {
		if in.WitnessUtxo != nil {
			prevOuts[commitmentPsbt.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
		}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(commitmentPsbt.UnsignedTx, fetcher)

	for _, in := range onchainInputs {
		script_, err := in.BoardingOutput.ForfeitSpendInfo()
		if err != nil {
			return err
		}
		controlBlock, err := in.BoardingOutput.SpendInfo().ControlBlockFor(script_)
		if err != nil {
			return err
		}
		cbBytes, err := controlBlock.ToBytes()
		if err != nil {
			return arkerror.Transaction("failed to serialize boarding control block", err)
		}

		for i, txIn := range commitmentPsbt.UnsignedTx.TxIn {
			if txIn.PreviousOutPoint != in.Outpoint {
				continue
			}

			commitmentPsbt.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
				{ControlBlock: cbBytes, Script: script_, LeafVersion: txscript.BaseLeafVersion},
			}

			leaf := txscript.NewBaseTapLeaf(script_)
			leafHash := leaf.TapHash()

			sighash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, commitmentPsbt.UnsignedTx, i, fetcher, leaf)
			if err != nil {
				return arkerror.Crypto("failed to compute commitment tx sighash", err)
			}
			var sighashArr [32]byte
			copy(sighashArr[:], sighash)

			sig, err := sign(in.BoardingOutput.OwnerPk, sighashArr)
			if err != nil {
				return arkerror.Context("failed to sign commitment transaction input", err)
			}

			commitmentPsbt.Inputs[i].TaprootScriptSpendSig = []*psbt.TaprootScriptSpendSig{
				{
					XOnlyPubKey: in.BoardingOutput.OwnerPk.SerializeCompressed()[1:],
					LeafHash:    leafHash[:],
					Signature:   sig.Serialize(),
					SigHash:     txscript.SigHashDefault,
				},
			}
		}
	}

	return nil
}
