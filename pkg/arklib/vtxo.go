package arklib

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2"
)

// leafWeight is the uniform weight every forfeit/exit/extra leaf is given.
// spec.md §3 treats all leaves of a VTXO as equally likely to be spent, so
// the weighted-balanced builder degenerates to a plain balanced tree with
// the deepest leaves left-most.
const leafWeight uint32 = 1

// BoardingOutput is an on-chain UTXO earmarked for conversion into VTXOs.
// Its Taproot tree has exactly two leaves: the server/owner forfeit path
// and a CSV-delayed unilateral exit.
type BoardingOutput struct {
	ServerPk            *btcec.PublicKey
	OwnerPk             *btcec.PublicKey
	BoardingExitDelay   int64
	Network             Network
	forfeitScript       []byte
	exitScript          []byte
	spendInfo           *script.SpendInfo
}

// NewBoardingOutput derives a BoardingOutput deterministically from the
// server's public key, the owner's public key, and the exit delay
// advertised by the server's info endpoint.
func NewBoardingOutput(serverPk, ownerPk *btcec.PublicKey, exitDelay int64, network Network) (*BoardingOutput, error) {
	forfeit, err := script.ForfeitScript(serverPk, ownerPk)
	if err != nil {
		return nil, arkerror.Context("failed to build boarding forfeit script", err)
	}
	exit, err := script.CSVSigScript(exitDelay, ownerPk)
	if err != nil {
		return nil, arkerror.Context("failed to build boarding exit script", err)
	}

	internalKey, err := script.UnspendableInternalKey()
	if err != nil {
		return nil, err
	}

	spendInfo, err := script.Build(internalKey, []script.Leaf{
		{Script: forfeit, Weight: leafWeight},
		{Script: exit, Weight: leafWeight},
	})
	if err != nil {
		return nil, arkerror.Context("failed to build boarding output taproot tree", err)
	}

	return &BoardingOutput{
		ServerPk:          serverPk,
		OwnerPk:           ownerPk,
		BoardingExitDelay: exitDelay,
		Network:           network,
		forfeitScript:     forfeit,
		exitScript:        exit,
		spendInfo:         spendInfo,
	}, nil
}

// SpendInfo returns the Taproot spend info built at construction time.
func (b *BoardingOutput) SpendInfo() *script.SpendInfo { return b.spendInfo }

// ForfeitSpendInfo returns the 2-of-2 forfeit leaf script after checking
// that the tree holds a control block for it; the control block itself
// is not returned.
func (b *BoardingOutput) ForfeitSpendInfo() ([]byte, error) {
	cb, err := b.spendInfo.ControlBlockFor(b.forfeitScript)
	if err != nil {
		return nil, err
	}
	_ = cb
	return b.forfeitScript, nil
}

// ExitSpendInfo returns the CSV-delayed unilateral exit leaf script after
// checking that the tree holds a control block for it; the control block
// itself is not returned.
func (b *BoardingOutput) ExitSpendInfo() ([]byte, error) {
	if _, err := b.spendInfo.ControlBlockFor(b.exitScript); err != nil {
		return nil, err
	}
	return b.exitScript, nil
}

// ScriptPubKey returns the P2TR output script for this boarding output.
func (b *BoardingOutput) ScriptPubKey() ([]byte, error) {
	return script.P2TRScript(b.spendInfo)
}

// Address renders the boarding output as a Bech32m Ark address.
func (b *BoardingOutput) Address() (*ArkAddress, error) {
	return NewArkAddress(b.Network, b.ServerPk, b.spendInfo.OutputKey), nil
}

// Vtxo is an off-chain coin whose Taproot tree places a forfeit leaf, a
// CSV-delayed unilateral redeem leaf, and any caller-supplied extension
// leaves via the weighted-balanced algorithm in pkg/arklib/script.
type Vtxo struct {
	ServerPk            *btcec.PublicKey
	OwnerPk             *btcec.PublicKey
	UnilateralExitDelay int64
	ExtraLeaves         [][]byte
	Network             Network
	forfeitScript       []byte
	redeemScript        []byte
	spendInfo           *script.SpendInfo
}

// NewVtxo derives a Vtxo deterministically from (serverPk, ownerPk,
// extraLeaves, network). Two constructions with the same inputs always
// produce the same script-pubkey, since the underlying tree builder is
// deterministic.
func NewVtxo(serverPk, ownerPk *btcec.PublicKey, exitDelay int64, extraLeaves [][]byte, network Network) (*Vtxo, error) {
	forfeit, err := script.ForfeitScript(serverPk, ownerPk)
	if err != nil {
		return nil, arkerror.Context("failed to build vtxo forfeit script", err)
	}
	redeem, err := script.CSVSigScript(exitDelay, ownerPk)
	if err != nil {
		return nil, arkerror.Context("failed to build vtxo redeem script", err)
	}

	leaves := make([]script.Leaf, 0, 2+len(extraLeaves))
	leaves = append(leaves, script.Leaf{Script: forfeit, Weight: leafWeight})
	leaves = append(leaves, script.Leaf{Script: redeem, Weight: leafWeight})
	for _, s := range extraLeaves {
		leaves = append(leaves, script.Leaf{Script: s, Weight: leafWeight})
	}

	internalKey, err := script.UnspendableInternalKey()
	if err != nil {
		return nil, err
	}

	spendInfo, err := script.Build(internalKey, leaves)
	if err != nil {
		return nil, arkerror.Context("failed to build vtxo taproot tree", err)
	}

	return &Vtxo{
		ServerPk:            serverPk,
		OwnerPk:             ownerPk,
		UnilateralExitDelay: exitDelay,
		ExtraLeaves:         extraLeaves,
		Network:             network,
		forfeitScript:       forfeit,
		redeemScript:        redeem,
		spendInfo:           spendInfo,
	}, nil
}

// SpendInfo returns the Taproot spend info built at construction time.
func (v *Vtxo) SpendInfo() *script.SpendInfo { return v.spendInfo }

// ForfeitScript returns the forfeit leaf script.
func (v *Vtxo) ForfeitScript() []byte { return v.forfeitScript }

// RedeemScript returns the CSV-delayed unilateral exit leaf script.
func (v *Vtxo) RedeemScript() []byte { return v.redeemScript }

// ScriptPubKey returns the P2TR output script for this VTXO.
func (v *Vtxo) ScriptPubKey() ([]byte, error) {
	return script.P2TRScript(v.spendInfo)
}

// Address renders the VTXO as a Bech32m Ark address.
func (v *Vtxo) Address() *ArkAddress {
	return NewArkAddress(v.Network, v.ServerPk, v.spendInfo.OutputKey)
}
