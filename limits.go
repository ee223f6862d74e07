package pe

import "sync/atomic"

// Process-wide knobs for the Strings auxiliary parser. Same pattern as
// the teacher's HASH_SIZE_LIMIT: a package-level value behind atomic
// swap/load rather than a config struct threaded through every call,
// since these are rarely-touched global switches, not per-call options.
var (
	disableLoadStrings int32
	loadStringLength   int64 = 4
)

// SetDisableLoadStrings turns the Strings auxiliary parser on or off.
func SetDisableLoadStrings(disabled bool) {
	v := int32(0)
	if disabled {
		v = 1
	}
	atomic.StoreInt32(&disableLoadStrings, v)
}

func GetDisableLoadStrings() bool {
	return atomic.LoadInt32(&disableLoadStrings) != 0
}

// SetLoadStringLength sets the minimum run length the Strings parser
// will emit as a StringData entry. Default is 4.
func SetLoadStringLength(length int) {
	atomic.SwapInt64(&loadStringLength, int64(length))
}

func GetLoadStringLength() int {
	return int(atomic.LoadInt64(&loadStringLength))
}
