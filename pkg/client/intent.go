package client

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/batch"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// buildBatchIntent turns the boarding/VTXO inputs pledged to a batch and
// its requested settlement output into a signed proof-of-funds Intent,
// plus the event-stream topics the client must subscribe to in order to
// observe this specific batch, grounded on the `proof_of_funds`/`intent`
// construction in original_source/ark-client/src/batch.rs.
func (c *Client) buildBatchIntent(onchainInputs []batch.OnChainInput, vtxoInputs []batch.VtxoInput, outputType BatchOutputType, cosignerPk *btcec.PublicKey) (*arklib.Intent, []string, error) {
	var inputs []arklib.IntentInput
	var topics []string

	for _, in := range onchainInputs {
		exitScript, err := in.BoardingOutput.ExitSpendInfo()
		if err != nil {
			return nil, nil, err
		}
		forfeitScript, err := in.BoardingOutput.ForfeitSpendInfo()
		if err != nil {
			return nil, nil, err
		}
		cb, err := in.BoardingOutput.SpendInfo().ControlBlockFor(exitScript)
		if err != nil {
			return nil, nil, err
		}
		cbBytes, err := cb.ToBytes()
		if err != nil {
			return nil, nil, arkerror.Transaction("failed to serialize boarding control block", err)
		}
		spk, err := in.BoardingOutput.ScriptPubKey()
		if err != nil {
			return nil, nil, err
		}

		inputs = append(inputs, arklib.IntentInput{
			Outpoint:     in.Outpoint,
			Sequence:     wire.MaxTxInSequenceNum,
			WitnessUtxo:  &wire.TxOut{Value: in.Amount, PkScript: spk},
			Tapscripts:   [][]byte{forfeitScript, exitScript},
			SpendScript:  exitScript,
			ControlBlock: cbBytes,
			IsOnchain:    true,
		})
		topics = append(topics, in.Outpoint.String())
	}

	for _, in := range vtxoInputs {
		spendScript := in.Vtxo.RedeemScript()
		cb, err := in.Vtxo.SpendInfo().ControlBlockFor(spendScript)
		if err != nil {
			return nil, nil, err
		}
		cbBytes, err := cb.ToBytes()
		if err != nil {
			return nil, nil, arkerror.Transaction("failed to serialize vtxo control block", err)
		}
		spk, err := in.Vtxo.ScriptPubKey()
		if err != nil {
			return nil, nil, err
		}

		inputs = append(inputs, arklib.IntentInput{
			Outpoint:     in.Outpoint,
			Sequence:     wire.MaxTxInSequenceNum,
			WitnessUtxo:  &wire.TxOut{Value: in.Amount, PkScript: spk},
			Tapscripts:   [][]byte{in.Vtxo.ForfeitScript(), spendScript},
			SpendScript:  spendScript,
			ControlBlock: cbBytes,
			IsOnchain:    false,
		})
		topics = append(topics, in.Outpoint.String())
	}

	if len(inputs) == 0 {
		return nil, nil, arkerror.AdHoc("no inputs to build batch intent from")
	}

	outputs, err := batchOutputsFor(outputType)
	if err != nil {
		return nil, nil, err
	}

	signFn := func(_ int, sighash []byte) (*schnorr.Signature, *btcec.PublicKey, error) {
		sig, err := schnorr.Sign(c.Kp, sighash)
		if err != nil {
			return nil, nil, arkerror.Crypto("failed to sign proof-of-funds input", err)
		}
		return sig, c.Kp.PubKey(), nil
	}

	intent, err := arklib.MakeIntent(signFn, inputs, outputs, []*btcec.PublicKey{cosignerPk})
	if err != nil {
		return nil, nil, err
	}

	topics = append(topics, hexEncodeXOnly(cosignerPk))
	return intent, topics, nil
}

func batchOutputsFor(outputType BatchOutputType) ([]arklib.IntentOutput, error) {
	var outputs []arklib.IntentOutput

	if b := outputType.Board; b != nil {
		spk, err := b.ToAddress.ScriptPubKey()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, arklib.IntentOutput{
			Kind:  arklib.IntentOutputOffchain,
			TxOut: &wire.TxOut{Value: b.ToAmount, PkScript: spk},
		})
		return outputs, nil
	}

	ob := outputType.OffBoard
	if ob == nil {
		return nil, arkerror.AdHoc("batch output type has neither board nor off-board set")
	}

	onchainScript, err := txscript.PayToAddrScript(ob.ToAddress)
	if err != nil {
		return nil, arkerror.Transaction("failed to build collaborative redeem output script", err)
	}
	outputs = append(outputs, arklib.IntentOutput{
		Kind:  arklib.IntentOutputOnchain,
		TxOut: &wire.TxOut{Value: ob.ToAmount, PkScript: onchainScript},
	})

	if ob.ChangeAmount > 0 {
		spk, err := ob.ChangeAddress.ScriptPubKey()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, arklib.IntentOutput{
			Kind:  arklib.IntentOutputOffchain,
			TxOut: &wire.TxOut{Value: ob.ChangeAmount, PkScript: spk},
		})
	}

	return outputs, nil
}

func hexEncodeXOnly(pk *btcec.PublicKey) string {
	b := schnorr.SerializePubKey(pk)
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
