// Package mount groups the MOUNT program (100005) served next to NFS.
//
// Versions 1 and 3 share one procedure table. MNT resolves the requested
// directory against the export registry, checks the caller address, and
// returns the directory's file handle together with the accepted auth
// flavors. The mount table kept by the registry feeds DUMP, UMNT and
// UMNTALL; it is advisory and clients never depend on it.
//
// The procedures live in the handlers subpackage:
//
//	h := &handlers.Handler{Registry: reg, Handles: fh, Backend: be}
//	resp, err := h.Mount(mctx, &handlers.MountRequest{DirPath: "/data"})
package mount
