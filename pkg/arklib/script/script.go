// Package script builds the Tapscript leaves used throughout the Ark
// client core and assembles them into a Taproot tree using a
// deterministic weighted-balanced algorithm, grounded on the leaf
// placement rule described in original_source/ark-core/src/vhtlc.rs
// (itself ported from the scure-btc-signer TypeScript reference).
//
// Every VTXO-family entity (BoardingOutput, Vtxo, VhtlcScript, ArkNote)
// spends through a script path only: the internal key is always the
// Taproot NUMS point, so key-path spends are provably impossible.
package script

import (
	"encoding/hex"
	"sort"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// UnspendableKeyHex is the standard Taproot NUMS (nothing-up-my-sleeve)
// internal key H from BIP-341, whose x-coordinate is the SHA-256 of the
// uncompressed encoding of the secp256k1 generator G, reused verbatim by
// every Ark implementation so that addresses are cross-compatible.
const UnspendableKeyHex = "50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

// UnspendableInternalKey parses UnspendableKeyHex into an x-only public key.
func UnspendableInternalKey() (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(UnspendableKeyHex)
	if err != nil {
		return nil, arkerror.Crypto("failed to parse unspendable key", err)
	}
	pk, err := schnorrPubKeyFromXOnly(b)
	if err != nil {
		return nil, err
	}
	return pk, nil
}

func schnorrPubKeyFromXOnly(b []byte) (*btcec.PublicKey, error) {
	pk, err := btcec.ParsePubKey(append([]byte{0x02}, b...))
	if err != nil {
		return nil, arkerror.Crypto("failed to lift x-only key", err)
	}
	return pk, nil
}

// Leaf is a tapscript with the weight used to place it in the tree: a
// lower weight means the leaf is more frequently spent and should sit
// shallower (cheaper witness). Weights are caller-assigned; the VTXO and
// BoardingOutput entities in this module give every leaf weight 1,
// matching the "all paths equally likely" assumption in
// original_source/ark-core/src/vhtlc.rs.
type Leaf struct {
	Script []byte
	Weight uint32
}

// ForfeitScript builds `<ownerPk> CHECKSIGVERIFY <serverPk> CHECKSIG`, the
// 2-of-2 path the server uses to claim a VTXO once its owner has forfeited
// it into a batch.
func ForfeitScript(serverPk, ownerPk *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(schnorrXOnly(ownerPk))
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddData(schnorrXOnly(serverPk))
	b.AddOp(txscript.OP_CHECKSIG)
	s, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build forfeit script", err)
	}
	return s, nil
}

// CSVSigScript builds `<seq> CSV DROP <ownerPk> CHECKSIG`, the unilateral
// exit path available to the owner after a relative-locktime delay.
func CSVSigScript(seq int64, ownerPk *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddInt64(seq)
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(schnorrXOnly(ownerPk))
	b.AddOp(txscript.OP_CHECKSIG)
	s, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build CSV exit script", err)
	}
	return s, nil
}

// CLTVRefundScript builds `<locktime> CLTV DROP <senderPk> CHECKSIGVERIFY
// <serverPk> CHECKSIG`, used by VHTLC's refund-without-receiver path.
func CLTVRefundScript(locktime int64, senderPk, serverPk *btcec.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddInt64(locktime)
	b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(schnorrXOnly(senderPk))
	b.AddOp(txscript.OP_CHECKSIGVERIFY)
	b.AddData(schnorrXOnly(serverPk))
	b.AddOp(txscript.OP_CHECKSIG)
	s, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build CLTV refund script", err)
	}
	return s, nil
}

func schnorrXOnly(pk *btcec.PublicKey) []byte {
	x := pk.X().Bytes()
	if len(x) < 32 {
		pad := make([]byte, 32-len(x))
		x = append(pad, x...)
	}
	return x
}

// node is one element of the weighted-balanced merge tree: either a leaf
// (weight assigned by the caller) or a branch (weight is the sum of its
// children's weights, used only to decide merge order).
type node struct {
	tap    txscript.TapNode
	weight uint32
	script []byte // non-nil only for leaves
}

// buildWeightedTree repeatedly merges the two lightest remaining nodes,
// matching the algorithm in original_source/ark-core/src/vhtlc.rs
// (`taproot_list_to_tree`): while >= 2 nodes remain, sort ascending by
// weight and combine the first two. A stable sort preserves input order
// among equal weights, which places the earliest-declared leaves deepest
// — the "deepest leaves left-most" rule spec.md requires.
func buildWeightedTree(leaves []Leaf) *node {
	nodes := make([]*node, len(leaves))
	for i, l := range leaves {
		tl := txscript.NewBaseTapLeaf(l.Script)
		nodes[i] = &node{tap: tl, weight: l.Weight, script: l.Script}
	}

	for len(nodes) > 1 {
		sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].weight < nodes[j].weight })
		a, b := nodes[0], nodes[1]
		branch := txscript.NewTapBranch(a.tap, b.tap)
		merged := &node{tap: branch, weight: a.weight + b.weight}
		nodes = append(nodes[2:], merged)
	}

	return nodes[0]
}

// merkleProof returns, for the leaf carrying the given script, the
// bottom-up list of sibling tap hashes needed to build its control block.
// Returns false if no leaf in the tree carries that script.
func merkleProof(n *node, target []byte) ([]chainhash.Hash, bool) {
	if n.script != nil {
		return nil, string(n.script) == string(target)
	}
	branch, ok := n.tap.(txscript.TapBranch)
	if !ok {
		return nil, false
	}
	left := &node{tap: branch.Left()}
	// Re-derive child node scripts by checking if it's a leaf via type assertion.
	if leaf, ok := branch.Left().(txscript.TapLeaf); ok {
		left.script = leaf.Script
	}
	right := &node{tap: branch.Right()}
	if leaf, ok := branch.Right().(txscript.TapLeaf); ok {
		right.script = leaf.Script
	}

	if proof, found := merkleProof(left, target); found {
		h := right.tap.TapHash()
		return append([]chainhash.Hash{h}, proof...), true
	}
	if proof, found := merkleProof(right, target); found {
		h := left.tap.TapHash()
		return append([]chainhash.Hash{h}, proof...), true
	}
	return nil, false
}

// SpendInfo carries the Taproot output data every VTXO-family entity
// needs: the tweaked output key, the leaf scripts in declaration order,
// and the control block for each leaf script.
type SpendInfo struct {
	InternalKey   *btcec.PublicKey
	OutputKey     *btcec.PublicKey
	OutputKeyOdd  bool
	TapscriptRoot chainhash.Hash
	Leaves        []Leaf
	ControlBlocks map[string]*txscript.ControlBlock // keyed by leaf script, as a string
}

// ControlBlockFor returns the control block for the given leaf script, or
// an error if the script is not one of this entity's declared leaves. A
// lookup miss here indicates a logic bug (the caller asked for a spend
// path the entity never declared) rather than a recoverable condition.
func (s *SpendInfo) ControlBlockFor(leafScript []byte) (*txscript.ControlBlock, error) {
	cb, ok := s.ControlBlocks[string(leafScript)]
	if !ok {
		return nil, arkerror.AdHoc("control block missing for declared leaf script")
	}
	return cb, nil
}

// Build assembles leaves into a Taproot tree rooted at internalKey using
// the weighted-balanced algorithm and returns the resulting spend info.
func Build(internalKey *btcec.PublicKey, leaves []Leaf) (*SpendInfo, error) {
	if len(leaves) == 0 {
		return nil, arkerror.AdHoc("cannot build taproot tree with zero leaves")
	}

	root := buildWeightedTree(leaves)
	rootHash := root.tap.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(internalKey, rootHash[:])
	outputKeyOdd := outputKey.SerializeCompressed()[0] == secp256k1OddPrefix

	controlBlocks := make(map[string]*txscript.ControlBlock, len(leaves))
	for _, l := range leaves {
		proof, found := merkleProof(root, l.Script)
		if !found {
			return nil, arkerror.AdHoc("internal error: leaf missing from its own tree")
		}

		inclusion := make([]byte, 0, len(proof)*chainhash.HashSize)
		for _, h := range proof {
			inclusion = append(inclusion, h[:]...)
		}

		cb := &txscript.ControlBlock{
			InternalKey:     internalKey,
			OutputKeyYIsOdd: outputKeyOdd,
			LeafVersion:     txscript.BaseLeafVersion,
			InclusionProof:  inclusion,
		}
		controlBlocks[string(l.Script)] = cb
	}

	return &SpendInfo{
		InternalKey:   internalKey,
		OutputKey:     outputKey,
		OutputKeyOdd:  outputKeyOdd,
		TapscriptRoot: rootHash,
		Leaves:        leaves,
		ControlBlocks: controlBlocks,
	}, nil
}

const secp256k1OddPrefix = 0x03

// P2TRScript builds the scriptPubKey `OP_1 <32-byte-x-only-output-key>`
// for the given spend info.
func P2TRScript(s *SpendInfo) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_1)
	b.AddData(schnorrXOnly(s.OutputKey))
	out, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build P2TR script", err)
	}
	return out, nil
}

// LeafDepths returns the closed-form leaf-depth split (root = 0) for n
// equal-weight leaves: minDepth = ceil(log2(n)), and deepCount =
// n - 2^(minDepth-1) + 1 leaves at minDepth, the remainder at
// minDepth-1. It is computed from the formula alone, not from Build; for
// some n (4 and 6, for example) Build's merge loop places a different
// number of leaves at minDepth.
func LeafDepths(n int) (minDepth int, deepCount int) {
	if n <= 1 {
		return 0, 0
	}
	d := 0
	for (1 << d) < n {
		d++
	}
	deep := n - (1 << (d - 1)) + 1
	return d, deep
}
