package arklib

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/arkwire/ark-client-core/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DefaultArkNoteHRP is the human-readable prefix prepended to an encoded
// note when the caller does not supply one.
const DefaultArkNoteHRP = "arknote"

const (
	notePreimageLength = 32
	noteValueLength    = 4
	noteTotalLength    = notePreimageLength + noteValueLength
)

// ArkNote is a bearer VTXO: whoever learns the preimage can spend the
// note's single leaf. It has no real on-chain outpoint; its "fake"
// outpoint is derived purely from the preimage so that a note can be fed
// through the same coin-selection and spend code as a real VTXO.
type ArkNote struct {
	Preimage [32]byte
	Value    uint32
	HRP      string
}

// NewArkNote builds a note from a preimage and a satoshi value using the
// default HRP.
func NewArkNote(preimage [32]byte, value uint32) *ArkNote {
	return &ArkNote{Preimage: preimage, Value: value, HRP: DefaultArkNoteHRP}
}

// Hash returns SHA-256(preimage), the value committed in the note's
// tapscript leaf.
func (n *ArkNote) Hash() [32]byte {
	return sha256.Sum256(n.Preimage[:])
}

// Script builds the note's single tapscript leaf: `SHA256 <hash> EQUAL`.
func (n *ArkNote) Script() ([]byte, error) {
	h := n.Hash()
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_SHA256)
	b.AddData(h[:])
	b.AddOp(txscript.OP_EQUAL)
	s, err := b.Script()
	if err != nil {
		return nil, arkerror.Transaction("failed to build arknote script", err)
	}
	return s, nil
}

// SpendInfo builds the note's (single-leaf) Taproot spend info.
func (n *ArkNote) SpendInfo() (*script.SpendInfo, error) {
	leafScript, err := n.Script()
	if err != nil {
		return nil, err
	}
	internalKey, err := script.UnspendableInternalKey()
	if err != nil {
		return nil, err
	}
	return script.Build(internalKey, []script.Leaf{{Script: leafScript, Weight: leafWeight}})
}

// FakeOutpoint derives the deterministic outpoint a note presents as its
// VTXO outpoint: txid = reverse(SHA256(preimage)), vout = 0.
func (n *ArkNote) FakeOutpoint() wire.OutPoint {
	h := n.Hash()
	var reversed chainhash.Hash
	for i, b := range h {
		reversed[len(h)-1-i] = b
	}
	return wire.OutPoint{Hash: reversed, Index: 0}
}

// Encode renders the note as `<32-byte preimage><4-byte-BE value>`
// base58-encoded and prefixed with HRP.
func (n *ArkNote) Encode() string {
	buf := make([]byte, 0, noteTotalLength)
	buf = append(buf, n.Preimage[:]...)
	var valueBytes [4]byte
	binary.BigEndian.PutUint32(valueBytes[:], n.Value)
	buf = append(buf, valueBytes[:]...)
	return n.HRP + base58.Encode(buf)
}

// String implements fmt.Stringer via Encode.
func (n *ArkNote) String() string { return n.Encode() }

// DecodeArkNote parses a note string with the default HRP.
func DecodeArkNote(s string) (*ArkNote, error) {
	return DecodeArkNoteWithHRP(s, DefaultArkNoteHRP)
}

// DecodeArkNoteWithHRP parses a note string encoded with a non-default
// HRP.
func DecodeArkNoteWithHRP(s, hrp string) (*ArkNote, error) {
	if !strings.HasPrefix(s, hrp) {
		return nil, arkerror.AdHocf("arknote string missing expected prefix %q", hrp)
	}
	encoded := strings.TrimPrefix(s, hrp)

	decoded := base58.Decode(encoded)
	if len(decoded) != noteTotalLength {
		return nil, arkerror.AdHocf("arknote payload must be %d bytes, got %d", noteTotalLength, len(decoded))
	}

	var preimage [32]byte
	copy(preimage[:], decoded[:notePreimageLength])
	value := binary.BigEndian.Uint32(decoded[notePreimageLength:])

	return &ArkNote{Preimage: preimage, Value: value, HRP: hrp}, nil
}
