package types

// TimeVal is an NFS timestamp (nfstime3).
type TimeVal struct {
	Seconds  uint32
	Nseconds uint32
}

// NFSFileAttr is fattr3 (RFC 1813 Section 2.3.5). Field order matches the
// wire layout so the struct can be marshalled directly.
type NFSFileAttr struct {
	Type   uint32
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	Fsid   uint64
	Fileid uint64
	Atime  TimeVal
	Mtime  TimeVal
	Ctime  TimeVal
}

// SpecData is specdata3: device numbers of block and character devices.
type SpecData struct {
	Major uint32
	Minor uint32
}

// WccAttr is the pre-operation subset of attributes used for weak cache
// consistency (RFC 1813 Section 2.6).
type WccAttr struct {
	Size  uint64
	Mtime TimeVal
	Ctime TimeVal
}

// SetAttrs is a decoded sattr3. Each Set* flag tells whether the matching
// value should be applied.
type SetAttrs struct {
	SetMode bool
	Mode    uint32

	SetUID bool
	UID    uint32

	SetGID bool
	GID    uint32

	SetSize bool
	Size    uint64

	// Atime/Mtime modes: 0 don't change, 1 server time, 2 client time.
	// These follow the wire values of time_how.
	SetAtime uint32
	Atime    TimeVal

	SetMtime uint32
	Mtime    TimeVal
}

// time_how values.
const (
	DontChange      = 0
	SetToServerTime = 1
	SetToClientTime = 2
)

// DirEntry is one READDIR entry.
type DirEntry struct {
	Fileid uint64
	Name   string
	Cookie uint64
}

// DirEntryPlus is one READDIRPLUS entry. Attr and Handle may be nil when
// the server could not produce them.
type DirEntryPlus struct {
	Fileid uint64
	Name   string
	Cookie uint64
	Attr   *NFSFileAttr
	Handle []byte
}

// TimeGuard is sattrguard3 used by SETATTR.
type TimeGuard struct {
	Check bool
	Time  TimeVal
}
