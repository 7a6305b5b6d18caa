package handlers

// NFSResponseBase carries the leading nfsstat3 of every NFSPROC3 result.
// The dispatcher reads it through GetStatus for logging and metrics.
type NFSResponseBase struct {
	Status uint32
}

func (r *NFSResponseBase) GetStatus() uint32 { return r.Status }
