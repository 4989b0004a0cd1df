package arklib

import "github.com/arkwire/ark-client-core/pkg/arkerror"

// bip68SecondsGranularity is the unit (in seconds) one tick of a BIP-68
// relative time-locktime represents.
const bip68SecondsGranularity = 512

// relativeLocktimeThreshold is the dividing line the server uses when it
// advertises a single integer delay: below it, the value is a relative
// block-height locktime; at or above it, a relative time-locktime in
// 512-second units.
const relativeLocktimeThreshold = 512

// RelativeLocktime is either a block-count or a BIP-68 time delay,
// expressed uniformly as the raw sequence-number value the server sent.
type RelativeLocktime struct {
	Value   int64
	Seconds bool
}

// ParseSequenceNumber interprets a raw server-advertised delay value per
// the threshold rule: values below 512 are block heights, values at or
// above 512 are ceiling-divided into 512-second units.
func ParseSequenceNumber(raw int64) (RelativeLocktime, error) {
	if raw < 0 {
		return RelativeLocktime{}, arkerror.AdHoc("sequence number must not be negative")
	}
	if raw < relativeLocktimeThreshold {
		return RelativeLocktime{Value: raw, Seconds: false}, nil
	}
	units := (raw + bip68SecondsGranularity - 1) / bip68SecondsGranularity
	return RelativeLocktime{Value: units, Seconds: true}, nil
}

// ToSequence converts the locktime into the encoded value placed on a
// transaction input's sequence field: a bare block count, or a seconds
// count with the BIP-68 type-flag bit set.
func (r RelativeLocktime) ToSequence() uint32 {
	const sequenceLocktimeTypeFlag = 1 << 22
	if r.Seconds {
		return sequenceLocktimeTypeFlag | uint32(r.Value)
	}
	return uint32(r.Value)
}
