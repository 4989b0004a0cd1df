// Package send builds and signs the two-tier checkpoint-plus-Ark PSBT
// pair that moves a VTXO offchain, grounded on
// original_source/ark-core/src/send.rs.
package send

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// VtxoInput is one VTXO being spent into an unconfirmed VTXO: its spend
// path, the whole Taproot tree it came from, and where it lives.
type VtxoInput struct {
	SpendScript  []byte
	Locktime     *arklib.AbsoluteLocktime
	ControlBlock *txscript.ControlBlock
	Tapscripts   [][]byte
	ScriptPubKey []byte
	Amount       int64
	Outpoint     wire.OutPoint
}

// AddressAmount pairs a destination address with the amount it should
// receive.
type AddressAmount struct {
	Address *arklib.ArkAddress
	Amount  int64
}

// ServerInfo is the subset of server configuration send needs: the
// tapscript that lets the server unilaterally sweep an unclaimed
// checkpoint output, and the dust threshold that decides how an output
// below it must be encoded.
type ServerInfo struct {
	CheckpointTapscript []byte
	Dust                int64
}

// OffchainTransactions is the result of building a transfer: one Ark
// PSBT spending N checkpoint outputs, and the N checkpoint PSBTs it
// depends on.
type OffchainTransactions struct {
	ArkTx         *psbt.Packet
	CheckpointTxs []*psbt.Packet
}

type checkpointSpendInfo struct {
	spendInfo *script.SpendInfo
}

func newCheckpointSpendInfo(vtxoInput VtxoInput, checkpointExitScript []byte) (*checkpointSpendInfo, error) {
	internalKey, err := script.UnspendableInternalKey()
	if err != nil {
		return nil, err
	}
	leaves := []script.Leaf{
		{Script: vtxoInput.SpendScript, Weight: 1},
		{Script: checkpointExitScript, Weight: 1},
	}
	spendInfo, err := script.Build(internalKey, leaves)
	if err != nil {
		return nil, arkerror.Context("failed to build checkpoint taproot tree", err)
	}
	return &checkpointSpendInfo{spendInfo: spendInfo}, nil
}

func (c *checkpointSpendInfo) scriptPubKey() ([]byte, error) {
	return script.P2TRScript(c.spendInfo)
}

func buildCheckpointPSBT(vtxoInput VtxoInput, checkpointExitScript []byte) (*psbt.Packet, *checkpointSpendInfo, error) {
	sequence := wire.MaxTxInSequenceNum
	var lockTime uint32
	if vtxoInput.Locktime != nil {
		sequence = wire.MaxTxInSequenceNum - 1 // enable locktime, no RBF
		lockTime = uint32(*vtxoInput.Locktime)
	}

	spendInfo, err := newCheckpointSpendInfo(vtxoInput, checkpointExitScript)
	if err != nil {
		return nil, nil, err
	}
	checkpointScriptPubKey, err := spendInfo.scriptPubKey()
	if err != nil {
		return nil, nil, err
	}

	unsignedTx := wire.NewMsgTx(3)
	unsignedTx.LockTime = lockTime
	unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: vtxoInput.Outpoint, Sequence: sequence})
	unsignedTx.AddTxOut(&wire.TxOut{Value: vtxoInput.Amount, PkScript: checkpointScriptPubKey})
	unsignedTx.AddTxOut(arklib.AnchorOutput())

	pkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, nil, arkerror.Transaction("failed to build checkpoint psbt", err)
	}

	cbBytes, err := vtxoInput.ControlBlock.ToBytes()
	if err != nil {
		return nil, nil, arkerror.Transaction("failed to serialize vtxo control block", err)
	}

	pkt.Inputs[0].WitnessUtxo = &wire.TxOut{Value: vtxoInput.Amount, PkScript: vtxoInput.ScriptPubKey}
	pkt.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
		{
			ControlBlock: cbBytes,
			Script:       vtxoInput.SpendScript,
			LeafVersion:  txscript.BaseLeafVersion,
		},
	}
	if err := arklib.SetTapscriptsUnknown(&pkt.Inputs[0], vtxoInput.Tapscripts); err != nil {
		return nil, nil, err
	}

	return pkt, spendInfo, nil
}

// BuildOffchainTransactions builds the Ark PSBT and the per-input
// checkpoint PSBTs it spends, but does not sign them.
func BuildOffchainTransactions(outputs []AddressAmount, changeAddress *arklib.ArkAddress, vtxoInputs []VtxoInput, serverInfo ServerInfo) (*OffchainTransactions, error) {
	if len(vtxoInputs) == 0 {
		return nil, arkerror.AdHoc("cannot build Ark transaction without inputs")
	}

	type checkpointPair struct {
		pkt  *psbt.Packet
		info *checkpointSpendInfo
	}
	checkpointData := make([]checkpointPair, 0, len(vtxoInputs))
	for _, in := range vtxoInputs {
		pkt, info, err := buildCheckpointPSBT(in, serverInfo.CheckpointTapscript)
		if err != nil {
			return nil, arkerror.Context("failed to build checkpoint psbt", err)
		}
		checkpointData = append(checkpointData, checkpointPair{pkt: pkt, info: info})
	}

	txOuts := make([]*wire.TxOut, 0, len(outputs)+2)
	var totalOutput int64
	for _, out := range outputs {
		spk, err := outputScriptPubKey(out, serverInfo.Dust)
		if err != nil {
			return nil, err
		}
		txOuts = append(txOuts, &wire.TxOut{Value: out.Amount, PkScript: spk})
		totalOutput += out.Amount
	}

	var totalInput int64
	for _, in := range vtxoInputs {
		totalInput += in.Amount
	}

	changeAmount := totalInput - totalOutput
	if changeAmount < 0 {
		return nil, arkerror.Transactionf(
			"cannot cover total output amount (%d) with total input amount (%d)", totalOutput, totalInput)
	}
	if changeAmount > 0 && changeAddress != nil {
		spk, err := outputScriptPubKey(AddressAmount{Address: changeAddress, Amount: changeAmount}, serverInfo.Dust)
		if err != nil {
			return nil, err
		}
		txOuts = append(txOuts, &wire.TxOut{Value: changeAmount, PkScript: spk})
	}
	txOuts = append(txOuts, arklib.AnchorOutput())

	var locktimes []arklib.AbsoluteLocktime
	for _, in := range vtxoInputs {
		if in.Locktime != nil {
			locktimes = append(locktimes, *in.Locktime)
		}
	}
	highest, err := arklib.HighestAbsoluteLocktime(locktimes)
	if err != nil {
		return nil, err
	}
	sequence := wire.MaxTxInSequenceNum
	var lockTime uint32
	if len(locktimes) > 0 {
		sequence = wire.MaxTxInSequenceNum - 1
		lockTime = uint32(highest)
	}

	unsignedTx := wire.NewMsgTx(3)
	unsignedTx.LockTime = lockTime
	for _, cp := range checkpointData {
		unsignedTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: cp.pkt.UnsignedTx.TxHash(), Index: 0},
			Sequence:         sequence,
		})
	}
	for _, out := range txOuts {
		unsignedTx.AddTxOut(out)
	}

	arkPkt, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, arkerror.Transaction("failed to build ark psbt", err)
	}

	for i, cp := range checkpointData {
		arkPkt.Inputs[i].WitnessUtxo = cp.pkt.UnsignedTx.TxOut[0]

		vtxoSpendScript := vtxoInputs[i].SpendScript
		controlBlock, err := cp.info.spendInfo.ControlBlockFor(vtxoSpendScript)
		if err != nil {
			return nil, arkerror.Context("failed to find control block for checkpoint leaf", err)
		}
		cbBytes, err := controlBlock.ToBytes()
		if err != nil {
			return nil, arkerror.Transaction("failed to serialize control block", err)
		}

		arkPkt.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
			{ControlBlock: cbBytes, Script: vtxoSpendScript, LeafVersion: txscript.BaseLeafVersion},
		}

		if err := arklib.SetTapscriptsUnknown(&arkPkt.Inputs[i], [][]byte{vtxoSpendScript, serverInfo.CheckpointTapscript}); err != nil {
			return nil, err
		}
	}

	checkpointTxs := make([]*psbt.Packet, len(checkpointData))
	for i, cp := range checkpointData {
		checkpointTxs[i] = cp.pkt
	}

	return &OffchainTransactions{ArkTx: arkPkt, CheckpointTxs: checkpointTxs}, nil
}

func outputScriptPubKey(out AddressAmount, dust int64) ([]byte, error) {
	if out.Amount > dust {
		return out.Address.ScriptPubKey()
	}
	return out.Address.SubDustScriptPubKey()
}

// SignFunc signs a Taproot script-path sighash for the given PSBT input
// and returns the signature alongside the public key it corresponds to.
type SignFunc func(input *psbt.PInput, sighash [32]byte) (*schnorr.Signature, *btcec.PublicKey, error)

// SignCheckpointTransaction signs input 0 of a checkpoint PSBT, spending
// the VTXO it references via the script path already attached to it.
func SignCheckpointTransaction(sign SignFunc, pkt *psbt.Packet) error {
	return signTapscriptInput(sign, pkt, 0)
}

// SignArkTransaction signs one input of an Ark PSBT, spending the
// corresponding checkpoint output via its script path.
func SignArkTransaction(sign SignFunc, pkt *psbt.Packet, inputIndex int) error {
	return signTapscriptInput(sign, pkt, inputIndex)
}

func signTapscriptInput(sign SignFunc, pkt *psbt.Packet, inputIndex int) error {
	if inputIndex >= len(pkt.Inputs) {
		return arkerror.AdHocf("no input at index %d", inputIndex)
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(pkt.Inputs))
	for i, in := range pkt.Inputs {
		if in.WitnessUtxo == nil {
			return arkerror.AdHocf("input %d missing witness utxo", i)
		}
		prevOuts[pkt.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(pkt.UnsignedTx, fetcher)

	psbtInput := &pkt.Inputs[inputIndex]
	if len(psbtInput.TaprootLeafScript) == 0 {
		return arkerror.AdHoc("input has no taproot leaf script to sign")
	}
	leafScript := psbtInput.TaprootLeafScript[0].Script
	leaf := txscript.NewBaseTapLeaf(leafScript)
	leafHash := leaf.TapHash()

	sighash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, pkt.UnsignedTx, inputIndex, fetcher, leaf)
	if err != nil {
		return arkerror.Crypto("failed to compute tapscript sighash", err)
	}
	var sighashArr [32]byte
	copy(sighashArr[:], sighash)

	sig, pk, err := sign(psbtInput, sighashArr)
	if err != nil {
		return arkerror.Context("failed to sign checkpoint/ark input", err)
	}

	psbtInput.TaprootScriptSpendSig = append(psbtInput.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: pk.SerializeCompressed()[1:],
		LeafHash:    leafHash[:],
		Signature:   sig.Serialize(),
		SigHash:     txscript.SigHashDefault,
	})

	return nil
}
