package xdr

import (
	"errors"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
)

// statusTable maps sentinel failures to nfsstat3, checked in order.
var statusTable = []struct {
	err    error
	status uint32
}{
	{fhcache.ErrBadHandle, types.NFS3ErrBadHandle},
	{fhcache.ErrStale, types.NFS3ErrStale},
	{fhcache.ErrNotFound, types.NFS3ErrStale},
	{fhcache.ErrTooDeep, types.NFS3ErrNameTooLong},
	{backend.ErrNotExist, types.NFS3ErrNoEnt},
	{backend.ErrPermission, types.NFS3ErrAcces},
	{backend.ErrExist, types.NFS3ErrExist},
	{backend.ErrNotEmpty, types.NFS3ErrNotEmpty},
	{backend.ErrNoSpace, types.NFS3ErrNoSpc},
	{backend.ErrNotDir, types.NFS3ErrNotDir},
	{backend.ErrIsDir, types.NFS3ErrIsDir},
	{backend.ErrInvalid, types.NFS3ErrInval},
	{backend.ErrNameTooLong, types.NFS3ErrNameTooLong},
	{backend.ErrReadOnly, types.NFS3ErrRofs},
	{backend.ErrTooBig, types.NFS3ErrFBig},
	{backend.ErrCrossDevice, types.NFS3ErrXDev},
	{backend.ErrTooManyLinks, types.NFS3ErrMLink},
	{backend.ErrNotSupported, types.NFS3ErrNotSupp},
	{backend.ErrIO, types.NFS3ErrIO},
}

// StatusFromError maps an error to nfsstat3 without logging.
// Unclassified errors become NFS3ERR_IO.
func StatusFromError(err error) uint32 {
	if err == nil {
		return types.NFS3OK
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return types.NFS3ErrIO
}

// MapBackendErrorToNFSStatus maps a backend or handle-cache error to
// nfsstat3 and logs it. Expected client-visible outcomes (missing files,
// stale handles) are logged at debug level; I/O failures at error level.
func MapBackendErrorToNFSStatus(err error, clientIP string, operation string) uint32 {
	status := StatusFromError(err)
	switch status {
	case types.NFS3OK:
	case types.NFS3ErrNoEnt, types.NFS3ErrExist, types.NFS3ErrNotEmpty, types.NFS3ErrStale:
		logger.Debug("%s: %s: %v client=%s", operation, types.StatusString(status), err, clientIP)
	case types.NFS3ErrIO:
		logger.Error("%s failed: %v client=%s", operation, err, clientIP)
	default:
		logger.Warn("%s failed: %s: %v client=%s", operation, types.StatusString(status), err, clientIP)
	}
	return status
}
