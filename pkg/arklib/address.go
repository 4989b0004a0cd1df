package arklib

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/txscript"
)

// Network tags the chain an address/entity belongs to. Each maps to a
// Bech32m human-readable part (testnet and signet share "tark"),
// mirroring chaincfg's mainnet/testnet split but scoped to the four
// networks the server advertises.
type Network int

const (
	NetworkMainnet Network = iota
	NetworkTestnet
	NetworkSignet
	NetworkRegtest
)

// HRP returns the human-readable part used for Bech32m Ark addresses on
// this network.
func (n Network) HRP() string {
	switch n {
	case NetworkMainnet:
		return "ark"
	case NetworkTestnet:
		return "tark"
	case NetworkSignet:
		return "tark"
	case NetworkRegtest:
		return "rark"
	default:
		return "ark"
	}
}

// ArkAddress is a Bech32m-encoded pair of x-only public keys: the
// server's signing key and the entity's tweaked Taproot output key. It
// carries no amount and no script; it is purely an address.
type ArkAddress struct {
	Network  Network
	ServerPk *btcec.PublicKey
	VtxoPk   *btcec.PublicKey
}

// NewArkAddress builds an address from its two component keys.
func NewArkAddress(network Network, serverPk, vtxoPk *btcec.PublicKey) *ArkAddress {
	return &ArkAddress{Network: network, ServerPk: serverPk, VtxoPk: vtxoPk}
}

// Encode renders the address as Bech32m: HRP derived from network,
// payload = 32-byte x-only server key || 32-byte x-only output key.
func (a *ArkAddress) Encode() (string, error) {
	payload := make([]byte, 0, 64)
	payload = append(payload, xOnly(a.ServerPk)...)
	payload = append(payload, xOnly(a.VtxoPk)...)

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", arkerror.AdHoc("failed to convert address payload to 5-bit groups")
	}

	encoded, err := bech32.EncodeM(a.Network.HRP(), converted)
	if err != nil {
		return "", arkerror.AdHoc("failed to bech32m-encode address")
	}
	return encoded, nil
}

// DecodeAddress parses a Bech32m Ark address string.
func DecodeAddress(s string) (*ArkAddress, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, arkerror.AdHoc("failed to bech32-decode address")
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, arkerror.AdHoc("failed to convert address payload from 5-bit groups")
	}
	if len(payload) != 64 {
		return nil, arkerror.AdHocf("ark address payload must be 64 bytes, got %d", len(payload))
	}

	serverPk, err := liftX(payload[:32])
	if err != nil {
		return nil, arkerror.Context("failed to lift server key", err)
	}
	vtxoPk, err := liftX(payload[32:])
	if err != nil {
		return nil, arkerror.Context("failed to lift vtxo output key", err)
	}

	return &ArkAddress{Network: networkFromHRP(hrp), ServerPk: serverPk, VtxoPk: vtxoPk}, nil
}

// ScriptPubKey returns the standard P2TR output script for this
// address's output key.
func (a *ArkAddress) ScriptPubKey() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(xOnly(a.VtxoPk)).
		Script()
}

// SubDustScriptPubKey returns the script used for an output whose amount
// falls below the server's dust threshold: such an output can never be
// broadcast as a standalone UTXO, so it is encoded as a provably
// unspendable OP_RETURN carrying the output key instead of a spendable
// P2TR, signalling to anyone scanning the chain that it is not a real
// coin.
func (a *ArkAddress) SubDustScriptPubKey() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(xOnly(a.VtxoPk)).
		Script()
}

func networkFromHRP(hrp string) Network {
	switch hrp {
	case "ark":
		return NetworkMainnet
	case "rark":
		return NetworkRegtest
	default:
		return NetworkTestnet
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

func liftX(b []byte) (*btcec.PublicKey, error) {
	if len(b) != 32 {
		return nil, arkerror.AdHoc("x-only key must be 32 bytes")
	}
	pk, err := btcec.ParsePubKey(append([]byte{0x02}, b...))
	if err != nil {
		return nil, arkerror.Crypto("failed to lift x-only key to a point", err)
	}
	return pk, nil
}
