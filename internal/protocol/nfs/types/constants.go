package types

// NFSv3 procedure numbers (RFC 1813 Section 3.3).
const (
	NFSProcNull        = 0
	NFSProcGetAttr     = 1
	NFSProcSetAttr     = 2
	NFSProcLookup      = 3
	NFSProcAccess      = 4
	NFSProcReadLink    = 5
	NFSProcRead        = 6
	NFSProcWrite       = 7
	NFSProcCreate      = 8
	NFSProcMkdir       = 9
	NFSProcSymlink     = 10
	NFSProcMknod       = 11
	NFSProcRemove      = 12
	NFSProcRmdir       = 13
	NFSProcRename      = 14
	NFSProcLink        = 15
	NFSProcReadDir     = 16
	NFSProcReadDirPlus = 17
	NFSProcFsStat      = 18
	NFSProcFsInfo      = 19
	NFSProcPathConf    = 20
	NFSProcCommit      = 21
)

// nfsstat3 values (RFC 1813 Section 2.6).
const (
	NFS3OK             = 0
	NFS3ErrPerm        = 1
	NFS3ErrNoEnt       = 2
	NFS3ErrIO          = 5
	NFS3ErrNXIO        = 6
	NFS3ErrAcces       = 13
	NFS3ErrExist       = 17
	NFS3ErrXDev        = 18
	NFS3ErrNoDev       = 19
	NFS3ErrNotDir      = 20
	NFS3ErrIsDir       = 21
	NFS3ErrInval       = 22
	NFS3ErrFBig        = 27
	NFS3ErrNoSpc       = 28
	NFS3ErrRofs        = 30
	NFS3ErrMLink       = 31
	NFS3ErrNameTooLong = 63
	NFS3ErrNotEmpty    = 66
	NFS3ErrDQuot       = 69
	NFS3ErrStale       = 70
	NFS3ErrRemote      = 71
	NFS3ErrBadHandle   = 10001
	NFS3ErrNotSync     = 10002
	NFS3ErrBadCookie   = 10003
	NFS3ErrNotSupp     = 10004
	NFS3ErrTooSmall    = 10005
	NFS3ErrServerFault = 10006
	NFS3ErrBadType     = 10007
	NFS3ErrJukebox     = 10008
)

// ftype3 values (RFC 1813 Section 2.5.5).
const (
	NF3REG  = 1
	NF3DIR  = 2
	NF3BLK  = 3
	NF3CHR  = 4
	NF3LNK  = 5
	NF3SOCK = 6
	NF3FIFO = 7
)

// ACCESS procedure bits (RFC 1813 Section 3.3.4).
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020
)

// stable_how values used by WRITE (RFC 1813 Section 3.3.7).
const (
	// WriteUnstable data may be cached until COMMIT.
	WriteUnstable = 0

	// WriteDataSync data is on stable storage before the reply.
	WriteDataSync = 1

	// WriteFileSync data and metadata are on stable storage before the reply.
	WriteFileSync = 2
)

// createmode3 values (RFC 1813 Section 3.3.8).
const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)

// FSINFO properties (RFC 1813 Section 3.3.19).
const (
	FSFLink        = 0x0001
	FSFSymlink     = 0x0002
	FSFHomogeneous = 0x0008
	FSFCanSetTime  = 0x0010
)

// CookieVerfSize is the length of a cookieverf3, createverf3 and writeverf3.
const CookieVerfSize = 8

// Transfer sizes advertised by FSINFO.
const (
	MaxReadSize  = 65536
	MaxWriteSize = 65536
	PrefSize     = 32768
	DirPrefSize  = 8192
)

// NameMax is the longest file name accepted (PATHCONF name_max).
const NameMax = 255

// PathMax bounds symlink targets and reconstructed paths.
const PathMax = 4096

// StatusString returns the symbolic name of an nfsstat3 for logs.
func StatusString(status uint32) string {
	switch status {
	case NFS3OK:
		return "NFS3_OK"
	case NFS3ErrPerm:
		return "NFS3ERR_PERM"
	case NFS3ErrNoEnt:
		return "NFS3ERR_NOENT"
	case NFS3ErrIO:
		return "NFS3ERR_IO"
	case NFS3ErrNXIO:
		return "NFS3ERR_NXIO"
	case NFS3ErrAcces:
		return "NFS3ERR_ACCES"
	case NFS3ErrExist:
		return "NFS3ERR_EXIST"
	case NFS3ErrXDev:
		return "NFS3ERR_XDEV"
	case NFS3ErrNoDev:
		return "NFS3ERR_NODEV"
	case NFS3ErrNotDir:
		return "NFS3ERR_NOTDIR"
	case NFS3ErrIsDir:
		return "NFS3ERR_ISDIR"
	case NFS3ErrInval:
		return "NFS3ERR_INVAL"
	case NFS3ErrFBig:
		return "NFS3ERR_FBIG"
	case NFS3ErrNoSpc:
		return "NFS3ERR_NOSPC"
	case NFS3ErrRofs:
		return "NFS3ERR_ROFS"
	case NFS3ErrMLink:
		return "NFS3ERR_MLINK"
	case NFS3ErrNameTooLong:
		return "NFS3ERR_NAMETOOLONG"
	case NFS3ErrNotEmpty:
		return "NFS3ERR_NOTEMPTY"
	case NFS3ErrDQuot:
		return "NFS3ERR_DQUOT"
	case NFS3ErrStale:
		return "NFS3ERR_STALE"
	case NFS3ErrRemote:
		return "NFS3ERR_REMOTE"
	case NFS3ErrBadHandle:
		return "NFS3ERR_BADHANDLE"
	case NFS3ErrNotSync:
		return "NFS3ERR_NOT_SYNC"
	case NFS3ErrBadCookie:
		return "NFS3ERR_BAD_COOKIE"
	case NFS3ErrNotSupp:
		return "NFS3ERR_NOTSUPP"
	case NFS3ErrTooSmall:
		return "NFS3ERR_TOOSMALL"
	case NFS3ErrServerFault:
		return "NFS3ERR_SERVERFAULT"
	case NFS3ErrBadType:
		return "NFS3ERR_BADTYPE"
	case NFS3ErrJukebox:
		return "NFS3ERR_JUKEBOX"
	default:
		return "UNKNOWN"
	}
}
