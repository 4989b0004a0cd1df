package arklib

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

// Well-known PSBT "unknown" field type values and key payloads used to
// smuggle Ark-specific data through an otherwise standard BIP-174
// packet. Every Ark implementation must agree on these so that a
// checkpoint or intent-proof PSBT built by one party can be reassembled
// by another.
const (
	// VtxoTaprootTreeFieldType is the PSBT unknown field type carrying a
	// VTXO's full tapscript list on an input.
	VtxoTaprootTreeFieldType = 222

	// VtxoCosignerKeyPrefix prefixes the PSBT unknown keys under which a
	// batch-tree node input records one cosigner's x-only public key.
	VtxoCosignerKeyPrefix = "cosigner"
)

// VtxoTaprootTreeKey is the fixed key payload for VtxoTaprootTreeFieldType.
var VtxoTaprootTreeKey = []byte("taptree")

// EncodeTapscripts serializes a VTXO's tapscript list into the flat
// unknown-field format: each entry is a placeholder depth byte, the
// tapscript leaf-version byte, a compact-size length, then the script
// bytes. The depth byte does not reconstruct the real tree shape; it
// exists only because the wire format reserves a slot for it.
func EncodeTapscripts(scripts [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range scripts {
		buf.WriteByte(1)    // depth placeholder
		buf.WriteByte(0xc0) // BaseLeafVersion
		if err := writeCompactSize(&buf, uint64(len(s))); err != nil {
			return nil, arkerror.Transaction("failed to write tapscript length", err)
		}
		buf.Write(s)
	}
	return buf.Bytes(), nil
}

// DecodeTapscripts parses the format EncodeTapscripts produces.
func DecodeTapscripts(data []byte) ([][]byte, error) {
	r := bytes.NewReader(data)
	var scripts [][]byte
	for r.Len() > 0 {
		if _, err := r.ReadByte(); err != nil { // depth, ignored
			return nil, arkerror.Transaction("failed to read tapscript depth", err)
		}
		if _, err := r.ReadByte(); err != nil { // leaf version, ignored
			return nil, arkerror.Transaction("failed to read tapscript leaf version", err)
		}
		length, err := readCompactSize(r)
		if err != nil {
			return nil, arkerror.Transaction("failed to read tapscript length", err)
		}
		script := make([]byte, length)
		if _, err := io.ReadFull(r, script); err != nil {
			return nil, arkerror.Transaction("failed to read tapscript body", err)
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

func writeCompactSize(w io.ByteWriter, val uint64) error {
	bw, ok := w.(io.Writer)
	if !ok {
		return arkerror.AdHoc("compact-size writer must also implement io.Writer")
	}
	switch {
	case val < 253:
		return w.WriteByte(byte(val))
	case val <= 0xffff:
		if err := w.WriteByte(253); err != nil {
			return err
		}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(val))
		_, err := bw.Write(b[:])
		return err
	case val <= 0xffffffff:
		if err := w.WriteByte(254); err != nil {
			return err
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(val))
		_, err := bw.Write(b[:])
		return err
	default:
		if err := w.WriteByte(255); err != nil {
			return err
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], val)
		_, err := bw.Write(b[:])
		return err
	}
}

func readCompactSize(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch first {
	case 253:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case 254:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case 255:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(first), nil
	}
}

// SetTapscriptsUnknown attaches the encoded tapscript list of a VTXO
// input to a PSBT input's unknown-field set.
func SetTapscriptsUnknown(input *psbt.PInput, scripts [][]byte) error {
	encoded, err := EncodeTapscripts(scripts)
	if err != nil {
		return err
	}
	input.Unknowns = append(input.Unknowns, psbt.Unknown{
		Key:   append([]byte{VtxoTaprootTreeFieldType}, VtxoTaprootTreeKey...),
		Value: encoded,
	})
	return nil
}

// FindTapscriptsUnknown reads back the tapscript list an input carries,
// or returns nil if the input has none.
func FindTapscriptsUnknown(input *psbt.PInput) ([][]byte, error) {
	want := append([]byte{VtxoTaprootTreeFieldType}, VtxoTaprootTreeKey...)
	for _, u := range input.Unknowns {
		if bytes.Equal(u.Key, want) {
			return DecodeTapscripts(u.Value)
		}
	}
	return nil, nil
}

// cosignerKey builds the unknown-field key a batch-tree node input uses
// to record one cosigner's x-only public key, keyed by its hex encoding
// so that extraction does not require parsing a compound value.
func cosignerKey(pkHex string) []byte {
	return append([]byte(VtxoCosignerKeyPrefix), []byte(pkHex)...)
}

// SetCosignerUnknown records that pkHex participates as a cosigner on
// this batch-tree node input.
func SetCosignerUnknown(input *psbt.PInput, pkHex string) {
	input.Unknowns = append(input.Unknowns, psbt.Unknown{Key: cosignerKey(pkHex), Value: []byte{1}})
}

// ExtractCosignerPks scans an input's unknown fields for cosigner
// markers and returns every cosigner's hex-encoded x-only public key,
// grounded on `extract_cosigner_pks_from_vtxo_psbt` in
// original_source/ark-core/src/batch.rs.
func ExtractCosignerPks(input *psbt.PInput) []string {
	var pks []string
	prefix := []byte(VtxoCosignerKeyPrefix)
	for _, u := range input.Unknowns {
		if bytes.HasPrefix(u.Key, prefix) {
			pks = append(pks, string(u.Key[len(prefix):]))
		}
	}
	return pks
}
