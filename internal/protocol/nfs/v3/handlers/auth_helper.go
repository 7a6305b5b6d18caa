package handlers

import (
	"path"
	"strings"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
)

// object is a resolved file handle.
type object struct {
	handle fhcache.Handle
	path   string
	attr   *backend.Attr
	export *registry.Export
}

// resolve turns a wire handle into an object and checks that the caller may
// use the export the object lives in.
//
// Returns NFS3OK and the object, or the status to reply with.
func (h *Handler) resolve(ctx *NFSHandlerContext, raw []byte, op string) (*object, uint32) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)

	fh, err := fhcache.Decode(raw)
	if err != nil {
		return nil, xdr.MapBackendErrorToNFSStatus(err, clientIP, op)
	}

	p, attr, err := h.Handles.Resolve(fh)
	if err != nil {
		return nil, xdr.MapBackendErrorToNFSStatus(err, clientIP, op)
	}

	exp, ok := h.Registry.Lookup(p)
	if !ok {
		logger.Warn("%s: path %s is not exported: client=%s", op, p, clientIP)
		return nil, types.NFS3ErrAcces
	}
	if !h.Registry.Allowed(exp, clientIP) {
		logger.Warn("%s: client %s not allowed on export %s", op, clientIP, exp.Path)
		return nil, types.NFS3ErrAcces
	}

	return &object{handle: fh, path: p, attr: attr, export: exp}, types.NFS3OK
}

// identity applies the export's identity mapping to the caller.
func (h *Handler) identity(ctx *NFSHandlerContext, obj *object) registry.Identity {
	return h.Registry.MapIdentity(obj.export, ctx.Credentials())
}

// checkWritable refuses modifications on read-only exports.
func checkWritable(obj *object) uint32 {
	if obj.export.ReadOnly {
		return types.NFS3ErrRofs
	}
	return types.NFS3OK
}

// validateName checks a single path component supplied by the client.
// creating rejects "." and "..", which can be looked up but not created or
// removed.
func validateName(name string, creating bool) uint32 {
	switch {
	case name == "", strings.ContainsAny(name, "/\x00"):
		return types.NFS3ErrAcces
	case len(name) > types.NameMax:
		return types.NFS3ErrNameTooLong
	case creating && (name == "." || name == ".."):
		return types.NFS3ErrExist
	}
	return types.NFS3OK
}

// requireDir returns NFS3ERR_NOTDIR unless obj is a directory.
func requireDir(obj *object) uint32 {
	if obj.attr.Type != backend.TypeDirectory {
		return types.NFS3ErrNotDir
	}
	return types.NFS3OK
}

// postOpAttr returns the current attributes of p, or nil when they cannot
// be read. post_op_attr is optional, so failure here is never fatal.
func (h *Handler) postOpAttr(p string) *types.NFSFileAttr {
	attr, err := h.Backend.Lstat(p)
	if err != nil {
		logger.Debug("post-op lstat failed: path=%s error=%v", p, err)
		return nil
	}
	return xdr.ToNFSAttr(attr)
}

// childPath joins a validated name onto a directory path.
func childPath(dir, name string) string {
	return path.Join(dir, name)
}

// applySetAttrs applies a decoded sattr3 to p. attr is the current state of
// the object and is used to validate size changes.
func (h *Handler) applySetAttrs(p string, attr *backend.Attr, s *types.SetAttrs) error {
	if s.SetSize {
		if attr.Type != backend.TypeRegular {
			return backend.NewError("truncate", p, backend.ErrInvalid)
		}
		// Flush and close cached descriptors first so pending writes
		// cannot land past the new end of file.
		if err := h.Files.Forget(attr.Identity()); err != nil {
			logger.Debug("closing descriptors of %s: %v", p, err)
		}
		if err := h.Backend.Truncate(p, int64(s.Size)); err != nil {
			return err
		}
	}

	if s.SetMode {
		if err := h.Backend.Chmod(p, s.Mode&07777); err != nil {
			return err
		}
	}

	if s.SetUID || s.SetGID {
		uid, gid := -1, -1
		if s.SetUID {
			uid = int(s.UID)
		}
		if s.SetGID {
			gid = int(s.GID)
		}
		if err := h.Backend.Lchown(p, uid, gid); err != nil {
			return err
		}
	}

	if s.SetAtime != types.DontChange || s.SetMtime != types.DontChange {
		now := time.Now()
		if err := h.Backend.Chtimes(p, setTime(s.SetAtime, s.Atime, now), setTime(s.SetMtime, s.Mtime, now)); err != nil {
			return err
		}
	}
	return nil
}

func setTime(how uint32, tv types.TimeVal, now time.Time) time.Time {
	switch how {
	case types.SetToServerTime:
		return now
	case types.SetToClientTime:
		return xdr.TimeValToTime(tv)
	}
	return time.Time{}
}

// setOwner gives a newly created object the caller's identity. Explicit
// uid/gid in the create attributes win. Failures are logged only: an
// unprivileged daemon cannot chown and still serves the request.
func (h *Handler) setOwner(p string, id registry.Identity, exp *registry.Export, s *types.SetAttrs) {
	if exp.Identity.SingleUser {
		return
	}
	uid, gid := int(id.UID), int(id.GID)
	if s != nil && s.SetUID {
		uid = int(s.UID)
	}
	if s != nil && s.SetGID {
		gid = int(s.GID)
	}
	if err := h.Backend.Lchown(p, uid, gid); err != nil {
		logger.Debug("chown after create failed: path=%s uid=%d gid=%d error=%v", p, uid, gid, err)
	}
}

// createMode returns the permission bits for a new object.
func createMode(s *types.SetAttrs, def uint32) uint32 {
	if s != nil && s.SetMode {
		return s.Mode & 07777
	}
	return def
}
