package pe

import "time"

// UnixTimeStamp wraps the FileHeader.TimeDateStamp field (seconds since
// the Unix epoch, same as the original COFF encoding) with the teacher's
// String()/DebugString() presentation.
type UnixTimeStamp struct {
	time.Time
}

func (self UnixTimeStamp) DebugString() string {
	return self.String()
}

func (self UnixTimeStamp) String() string {
	result, _ := self.UTC().MarshalText()
	return string(result)
}

func newUnixTimeStamp(seconds uint32) UnixTimeStamp {
	return UnixTimeStamp{time.Unix(int64(seconds), 0)}
}
