package scheduler

// Skip fee bands in credits, keyed by declared clip duration. Monotonic step
// table: longer clips cost more to expedite. Depth of the queue does not
// change the fee.
var skipFeeBands = []struct {
	maxSec int
	fee    int64
}{
	{15, 5},
	{30, 10},
	{60, 20},
}

// skipFeeTop applies to anything past the last band.
const skipFeeTop int64 = 40

// SkipFee returns the expedite fee in credits for a clip of the given
// duration.
func SkipFee(durationSec int) int64 {
	for _, b := range skipFeeBands {
		if durationSec <= b.maxSec {
			return b.fee
		}
	}
	return skipFeeTop
}
