package arklib

import "github.com/arkwire/ark-client-core/pkg/arkerror"

// locktimeThreshold is the boundary nLockTime value below which it is
// interpreted as a block height and at or above which it is interpreted
// as a Unix timestamp, per Bitcoin consensus rules.
const locktimeThreshold = 500000000

// AbsoluteLocktime is a CLTV-style locktime: either a block height or a
// Unix timestamp, never both.
type AbsoluteLocktime int64

// IsBlockHeight reports whether this locktime is a height rather than a
// timestamp.
func (l AbsoluteLocktime) IsBlockHeight() bool {
	return int64(l) < locktimeThreshold
}

// HighestAbsoluteLocktime picks the latest of a set of absolute
// locktimes, refusing to mix block-height and timestamp locktimes since
// the two are not comparable.
func HighestAbsoluteLocktime(locktimes []AbsoluteLocktime) (AbsoluteLocktime, error) {
	var highest AbsoluteLocktime
	var set bool
	for _, l := range locktimes {
		if !set {
			highest, set = l, true
			continue
		}
		if highest.IsBlockHeight() != l.IsBlockHeight() {
			return 0, arkerror.AdHoc("incompatible locktimes: cannot mix block-height and timestamp locktimes")
		}
		if l > highest {
			highest = l
		}
	}
	return highest, nil
}
