// Package sigverify verifies BIP-340 Schnorr signatures produced for
// Taproot key-path and script-path spends.
//
// This is a narrow cousin of a general-purpose taproot script engine:
// where a full interpreter has to parse an arbitrary signature out of a
// witness stack and classify its sighash flag, every signature this
// client core ever verifies is one it just produced itself and already
// holds as a typed value, so there is no witness-stack parsing step.
package sigverify

import (
	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Verify checks that sig is a valid BIP-340 Schnorr signature over msg
// under pubKey. msg must already be the 32-byte sighash digest.
func Verify(pubKey *btcec.PublicKey, msg []byte, sig *schnorr.Signature) error {
	if !sig.Verify(msg, pubKey) {
		return arkerror.Crypto("schnorr signature verification failed", nil)
	}
	return nil
}

// VerifyBytes parses sigBytes as a raw 64-byte BIP-340 signature and
// verifies it over msg under pubKey.
func VerifyBytes(pubKey *btcec.PublicKey, msg []byte, sigBytes []byte) error {
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return arkerror.Crypto("failed to parse schnorr signature", err)
	}
	return Verify(pubKey, msg, sig)
}
