package arklib

import "github.com/btcsuite/btcd/wire"

// anchorScript is the zero-value pay-to-anchor template (OP_1 <0x4e73>):
// a standard, key-less, ephemeral output any participant can spend to
// attach fees via CPFP without needing a signature from the Ark server.
var anchorScript = []byte{txOP_1, 0x02, 0x4e, 0x73}

const txOP_1 = 0x51

// AnchorOutput returns the zero-value P2A anchor every settlement and
// offchain transaction carries, grounded on the `anchor_output` helper
// referenced throughout original_source/ark-core/src/send.rs.
func AnchorOutput() *wire.TxOut {
	return &wire.TxOut{Value: 0, PkScript: append([]byte(nil), anchorScript...)}
}
