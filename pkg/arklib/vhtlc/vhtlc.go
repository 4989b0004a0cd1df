// Package vhtlc builds the six-leaf Taproot script used for Lightning
// atomic swaps, grounded on original_source/ark-core/src/vhtlc.rs.
package vhtlc

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib"
	"github.com/arkwire/ark-client-core/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// Delay distinguishes a relative locktime expressed in blocks from one
// expressed in BIP-68 512-second units, since the two CSV variants are
// not interchangeable and mixing them is a caller error.
type Delay struct {
	Blocks  uint32
	Seconds uint32
}

func (d Delay) sequence() (int64, error) {
	switch {
	case d.Blocks > 0 && d.Seconds > 0:
		return 0, arkerror.AdHoc("delay must specify exactly one of blocks or seconds")
	case d.Blocks > 0:
		return int64(d.Blocks), nil
	case d.Seconds > 0:
		if d.Seconds%512 != 0 {
			return 0, arkerror.AdHoc("seconds delay must be a multiple of 512")
		}
		const sequenceLocktimeTypeFlag = 1 << 22
		return sequenceLocktimeTypeFlag | int64(d.Seconds/512), nil
	default:
		return 0, arkerror.AdHoc("delay must be non-zero")
	}
}

// Options is the full parameter set a VHTLC is derived from.
type Options struct {
	Sender        *btcec.PublicKey
	Receiver      *btcec.PublicKey
	Server        *btcec.PublicKey
	PreimageHash  [20]byte // RIPEMD160(SHA256(preimage)), i.e. HASH160
	RefundLocktime int64    // absolute CLTV height/time
	UnilateralClaimDelay   Delay
	UnilateralRefundDelay  Delay
	UnilateralRefundWithoutReceiverDelay Delay
}

// Validate enforces the non-zero-locktime invariants spec.md and
// vhtlc.rs both require: a swap with a zero refund locktime or a zero
// unilateral delay can never be unwound, which is always a
// misconfiguration rather than a valid edge case.
func (o Options) Validate() error {
	if o.RefundLocktime <= 0 {
		return arkerror.AdHoc("refund locktime must be positive")
	}
	for name, d := range map[string]Delay{
		"unilateral claim":                    o.UnilateralClaimDelay,
		"unilateral refund":                   o.UnilateralRefundDelay,
		"unilateral refund without receiver":  o.UnilateralRefundWithoutReceiverDelay,
	} {
		if d.Blocks == 0 && d.Seconds == 0 {
			return arkerror.AdHocf("%s delay must be non-zero", name)
		}
	}
	return nil
}

// Script is a fully constructed VHTLC: its six leaves and the resulting
// Taproot spend info.
type Script struct {
	Options Options
	Network arklib.Network

	ClaimScript                         []byte
	RefundScript                        []byte
	RefundWithoutReceiverScript         []byte
	UnilateralClaimScript               []byte
	UnilateralRefundScript              []byte
	UnilateralRefundWithoutReceiverScript []byte

	SpendInfo *script.SpendInfo
}

// New derives the complete VHTLC script set.
func New(opts Options, network arklib.Network) (*Script, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	claim, err := claimScript(opts.PreimageHash, opts.Receiver, opts.Server)
	if err != nil {
		return nil, err
	}
	refund, err := refundScript(opts.Sender, opts.Receiver, opts.Server)
	if err != nil {
		return nil, err
	}
	refundWR, err := script.CLTVRefundScript(opts.RefundLocktime, opts.Sender, opts.Server)
	if err != nil {
		return nil, err
	}
	claimSeq, err := opts.UnilateralClaimDelay.sequence()
	if err != nil {
		return nil, err
	}
	uClaim, err := unilateralClaimScript(opts.PreimageHash, claimSeq, opts.Receiver)
	if err != nil {
		return nil, err
	}
	refundSeq, err := opts.UnilateralRefundDelay.sequence()
	if err != nil {
		return nil, err
	}
	uRefund, err := unilateralRefundScript(refundSeq, opts.Sender, opts.Receiver)
	if err != nil {
		return nil, err
	}
	refundWRSeq, err := opts.UnilateralRefundWithoutReceiverDelay.sequence()
	if err != nil {
		return nil, err
	}
	uRefundWR, err := unilateralRefundWithoutReceiverScript(refundWRSeq, opts.Sender)
	if err != nil {
		return nil, err
	}

	internalKey, err := script.UnspendableInternalKey()
	if err != nil {
		return nil, err
	}

	leaves := []script.Leaf{
		{Script: claim, Weight: 1},
		{Script: refund, Weight: 1},
		{Script: refundWR, Weight: 1},
		{Script: uClaim, Weight: 1},
		{Script: uRefund, Weight: 1},
		{Script: uRefundWR, Weight: 1},
	}
	spendInfo, err := script.Build(internalKey, leaves)
	if err != nil {
		return nil, arkerror.Context("failed to build vhtlc taproot tree", err)
	}

	return &Script{
		Options:                                opts,
		Network:                                network,
		ClaimScript:                            claim,
		RefundScript:                           refund,
		RefundWithoutReceiverScript:            refundWR,
		UnilateralClaimScript:                  uClaim,
		UnilateralRefundScript:                 uRefund,
		UnilateralRefundWithoutReceiverScript:  uRefundWR,
		SpendInfo:                              spendInfo,
	}, nil
}

// ScriptPubKey returns the VHTLC's P2TR output script.
func (s *Script) ScriptPubKey() ([]byte, error) {
	return script.P2TRScript(s.SpendInfo)
}

// Address renders the VHTLC as a Bech32m Ark address.
func (s *Script) Address() (string, error) {
	addr := arklib.NewArkAddress(s.Network, s.Options.Server, s.SpendInfo.OutputKey)
	return addr.Encode()
}

// Tapscripts returns all six leaves in their canonical declared order.
func (s *Script) Tapscripts() [][]byte {
	return [][]byte{
		s.ClaimScript,
		s.RefundScript,
		s.RefundWithoutReceiverScript,
		s.UnilateralClaimScript,
		s.UnilateralRefundScript,
		s.UnilateralRefundWithoutReceiverScript,
	}
}

func xOnly(pk *btcec.PublicKey) []byte {
	x := pk.X().Bytes()
	if len(x) < 32 {
		padded := make([]byte, 32-len(x))
		x = append(padded, x...)
	}
	return x
}

// claimScript: `HASH160 <h> EQUALVERIFY <receiver> CHECKSIGVERIFY <server> CHECKSIG`.
func claimScript(hash [20]byte, receiver, server *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_HASH160)
	b.AddData(hash[:])
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddData(xOnly(receiver))
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddData(xOnly(server))
	b.AddOp(txscript.OP_CHECKSIG)
	out, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build vhtlc claim script", err)
	}
	return out, nil
}

// refundScript: `<sender> CHECKSIGVERIFY <receiver> CHECKSIGVERIFY <server> CHECKSIG`.
func refundScript(sender, receiver, server *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(xOnly(sender))
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddData(xOnly(receiver))
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddData(xOnly(server))
	b.AddOp(txscript.OP_CHECKSIG)
	out, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build vhtlc refund script", err)
	}
	return out, nil
}

// unilateralClaimScript: `HASH160 <h> EQUALVERIFY <seq> CSV DROP <receiver> CHECKSIG`.
func unilateralClaimScript(hash [20]byte, seq int64, receiver *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_HASH160)
	b.AddData(hash[:])
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddInt64(seq)
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(xOnly(receiver))
	b.AddOp(txscript.OP_CHECKSIG)
	out, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build vhtlc unilateral claim script", err)
	}
	return out, nil
}

// unilateralRefundScript: `<seq> CSV DROP <sender> CHECKSIGVERIFY <receiver> CHECKSIG`.
func unilateralRefundScript(seq int64, sender, receiver *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddInt64(seq)
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(xOnly(sender))
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddData(xOnly(receiver))
	b.AddOp(txscript.OP_CHECKSIG)
	out, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build vhtlc unilateral refund script", err)
	}
	return out, nil
}

// unilateralRefundWithoutReceiverScript: `<seq> CSV DROP <sender> CHECKSIG`.
func unilateralRefundWithoutReceiverScript(seq int64, sender *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddInt64(seq)
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(xOnly(sender))
	b.AddOp(txscript.OP_CHECKSIG)
	out, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build vhtlc unilateral refund without receiver script", err)
	}
	return out, nil
}
