package xdr

import (
	"time"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
)

// TimeValToTime converts an nfstime3 to time.Time.
func TimeValToTime(tv types.TimeVal) time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

// TimeToTimeVal converts time.Time to nfstime3. The zero time maps to 0.
func TimeToTimeVal(t time.Time) types.TimeVal {
	if t.IsZero() {
		return types.TimeVal{}
	}
	return types.TimeVal{
		Seconds:  uint32(t.Unix()),
		Nseconds: uint32(t.Nanosecond()),
	}
}

