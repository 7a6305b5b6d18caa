package handlers

// MountResponseBase holds the mountstat3 shared by MOUNT replies. Replies
// without a status on the wire (NULL, DUMP, EXPORT) leave it at MountOK.
type MountResponseBase struct {
	Status uint32
}

func (r *MountResponseBase) GetStatus() uint32 { return r.Status }
