// Intent encoding: a BIP-322-like two-PSBT proof of ownership that
// authorises a named set of inputs and outputs for a future batch,
// grounded on original_source/ark-core/src/intent.rs.
package arklib

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// intentProofTag is the BIP-340 tagged-hash domain separator for intent
// proof messages.
const intentProofTag = "ark-intent-proof-message"

// intentExpiryWindow is how long after valid_at an intent remains
// registrable, per spec.md §3.
const intentExpiryWindow = 120 // seconds

// IntentInput is one pledged input: either a VTXO/boarding output
// (is_onchain=false/true respectively) together with everything needed
// to build and sign its proof-PSBT entry.
type IntentInput struct {
	Outpoint     wire.OutPoint
	Sequence     uint32
	Locktime     uint32 // 0 means no CLTV
	WitnessUtxo  *wire.TxOut
	Tapscripts   [][]byte
	SpendScript  []byte
	ControlBlock []byte
	IsOnchain    bool
	IsSwept      bool
}

// IntentOutputKind distinguishes a planned batch output's settlement
// destination.
type IntentOutputKind int

const (
	IntentOutputOffchain IntentOutputKind = iota
	IntentOutputOnchain
)

// IntentOutput is one planned output of the batch this intent requests.
type IntentOutput struct {
	Kind IntentOutputKind
	TxOut *wire.TxOut
}

// IntentMessage is the JSON-serialized declaration signed over by the
// proof PSBT. Field names and casing mirror the server wire contract
// exactly (original_source serializes with serde, lower-casing the enum
// and renaming own_cosigner_pks to cosigners_public_keys).
type IntentMessage struct {
	Type                string   `json:"type"`
	OnchainOutputIndexes []int   `json:"onchain_output_indexes"`
	ValidAt             int64    `json:"valid_at"`
	ExpireAt            int64    `json:"expire_at"`
	CosignerPksHex      []string `json:"cosigners_public_keys"`
}

// Encode serializes the message to the exact JSON bytes that get tagged-hashed and sent to the server.
func (m *IntentMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, arkerror.AdHocf("failed to encode intent message: %v", err)
	}
	return b, nil
}

// Intent is the registrable proof-of-funds declaration: a PSBT proving
// ownership of every pledged input, plus the message it was built over.
type Intent struct {
	Proof   *psbt.Packet
	Message *IntentMessage
}

// taggedMessageHash computes the BIP-340 tagged hash of message under
// the intent-proof domain separator.
func taggedMessageHash(message []byte) chainhash.Hash {
	tagHash := sha256.Sum256([]byte(intentProofTag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	h.Write(message)
	var out chainhash.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SignFunc produces a Schnorr signature for a sighash digest under the
// owner key responsible for the given input, typically backed by a
// wallet's sign_for_pk call.
type SignFunc func(inputIndex int, sighash []byte) (*schnorr.Signature, *btcec.PublicKey, error)

// BuildProofPSBT assembles the two-PSBT proof described in spec.md §3
// and §6: a zero-value "to_spend" transaction committing to the tagged
// message hash, and a "to_sign" transaction whose first input spends the
// to_spend output and whose remaining inputs are the real pledged
// inputs. Returns the to_sign packet and a synthetic IntentInput
// standing in for the fake input (used so the caller can sign input 0
// the same way as any real input).
func BuildProofPSBT(message *IntentMessage, inputs []IntentInput, outputs []IntentOutput) (*psbt.Packet, *IntentInput, error) {
	if len(inputs) == 0 {
		return nil, nil, arkerror.AdHoc("missing inputs")
	}

	encodedMsg, err := message.Encode()
	if err != nil {
		return nil, nil, err
	}
	msgHash := taggedMessageHash(encodedMsg)

	firstInput := inputs[0]
	scriptSig, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(msgHash[:]).
		Script()
	if err != nil {
		return nil, nil, arkerror.Transaction("failed to build to_spend script_sig", err)
	}

	toSpendTx := wire.NewMsgTx(0)
	toSpendTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: 0xFFFFFFFF},
		SignatureScript:  scriptSig,
		Sequence:         0,
	})
	toSpendTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: firstInput.WitnessUtxo.PkScript})

	fakeOutpoint := wire.OutPoint{Hash: toSpendTx.TxHash(), Index: 0}

	toSignTx := wire.NewMsgTx(2)
	toSignTx.AddTxIn(&wire.TxIn{PreviousOutPoint: fakeOutpoint, Sequence: firstInput.Sequence})
	for _, in := range inputs {
		toSignTx.AddTxIn(&wire.TxIn{PreviousOutPoint: in.Outpoint, Sequence: in.Sequence})
	}

	var maxLocktime uint32
	for _, in := range inputs {
		if in.Locktime > maxLocktime {
			maxLocktime = in.Locktime
		}
	}
	toSignTx.LockTime = maxLocktime

	if len(outputs) == 0 {
		opReturn, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).Script()
		if err != nil {
			return nil, nil, arkerror.Transaction("failed to build empty-intent OP_RETURN output", err)
		}
		toSignTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: opReturn})
	} else {
		for _, o := range outputs {
			toSignTx.AddTxOut(o.TxOut)
		}
	}

	packet, err := psbt.NewFromUnsignedTx(toSignTx)
	if err != nil {
		return nil, nil, arkerror.Transaction("failed to build proof-of-funds PSBT", err)
	}

	packet.Inputs[0].WitnessUtxo = toSpendTx.TxOut[0]
	packet.Inputs[0].SighashType = txscript.SigHashDefault
	if err := SetTapscriptsUnknown(&packet.Inputs[0], firstInput.Tapscripts); err != nil {
		return nil, nil, err
	}
	packet.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
		ControlBlock: firstInput.ControlBlock,
		Script:       firstInput.SpendScript,
		LeafVersion:  txscript.BaseLeafVersion,
	}}

	for i, in := range inputs {
		packet.Inputs[i+1].WitnessUtxo = in.WitnessUtxo
		packet.Inputs[i+1].SighashType = txscript.SigHashDefault
		if err := SetTapscriptsUnknown(&packet.Inputs[i+1], in.Tapscripts); err != nil {
			return nil, nil, err
		}
		packet.Inputs[i+1].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
			ControlBlock: in.ControlBlock,
			Script:       in.SpendScript,
			LeafVersion:  txscript.BaseLeafVersion,
		}}
	}

	fakeInput := firstInput
	fakeInput.Outpoint = fakeOutpoint
	return packet, &fakeInput, nil
}

// MakeIntent builds the full Intent: the proof PSBT plus signatures on
// every input (the fake input signed with the real first input's key,
// since it shares the same script), grounded on `make_intent` in
// original_source/ark-core/src/intent.rs.
func MakeIntent(sign SignFunc, inputs []IntentInput, outputs []IntentOutput, cosignerPks []*btcec.PublicKey) (*Intent, error) {
	var onchainIdx []int
	for i, o := range outputs {
		if o.Kind == IntentOutputOnchain {
			onchainIdx = append(onchainIdx, i)
		}
	}

	cosignerHex := make([]string, len(cosignerPks))
	for i, pk := range cosignerPks {
		cosignerHex[i] = encodeXOnlyHex(pk)
	}

	validAt := currentUnixSeconds()
	message := &IntentMessage{
		Type:                 "register",
		OnchainOutputIndexes: onchainIdx,
		ValidAt:              validAt,
		ExpireAt:             validAt + intentExpiryWindow,
		CosignerPksHex:       cosignerHex,
	}

	proof, fakeInput, err := BuildProofPSBT(message, inputs, outputs)
	if err != nil {
		return nil, err
	}

	allInputs := append([]IntentInput{*fakeInput}, inputs...)

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(proof.UnsignedTx.TxIn))
	for i, txIn := range proof.UnsignedTx.TxIn {
		prevOuts[txIn.PreviousOutPoint] = proof.Inputs[i].WitnessUtxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(proof.UnsignedTx, fetcher)

	for i := range proof.Inputs {
		in := allInputs[i]
		leaf := txscript.NewBaseTapLeaf(in.SpendScript)
		leafHash := leaf.TapHash()

		sighash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, proof.UnsignedTx, i, fetcher, leaf)
		if err != nil {
			return nil, arkerror.Crypto("failed to compute proof-of-funds sighash", err)
		}

		sig, pk, err := sign(i, sighash)
		if err != nil {
			return nil, arkerror.Context("failed to sign proof-of-funds input", err)
		}

		proof.Inputs[i].TaprootScriptSpendSig = append(proof.Inputs[i].TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
			XOnlyPubKey: xOnly(pk),
			LeafHash:    leafHash[:],
			Signature:   sig.Serialize(),
			SigHash:     txscript.SigHashDefault,
		})
	}

	return &Intent{Proof: proof, Message: message}, nil
}

func currentUnixSeconds() int64 { return time.Now().Unix() }

func encodeXOnlyHex(pk *btcec.PublicKey) string {
	b := xOnly(pk)
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
