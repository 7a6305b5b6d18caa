package handlers

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// CreateRequest is CREATE3args.
type CreateRequest struct {
	DirHandle []byte
	Filename  string

	// Mode is types.CreateUnchecked, CreateGuarded or CreateExclusive.
	Mode uint32

	// Attr is set for UNCHECKED and GUARDED.
	Attr *types.SetAttrs

	// Verf is set for EXCLUSIVE.
	Verf [8]byte
}

// CreateResponse is CREATE3res. The same layout is used by MKDIR, SYMLINK
// and MKNOD.
type CreateResponse struct {
	NFSResponseBase
	FileHandle []byte
	Attr       *types.NFSFileAttr
	DirBefore  *types.WccAttr
	DirAfter   *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Create makes a regular file (RFC 1813 Section 3.3.8).
//
// Creation modes:
//   - UNCHECKED: an existing file is reused and the attributes are applied
//   - GUARDED:   an existing file yields NFS3ERR_EXIST
//   - EXCLUSIVE: the client verifier is stored in the file's atime and
//     mtime. A retransmitted request with the same verifier succeeds on the
//     file it already created; a different verifier yields NFS3ERR_EXIST.
//
// New files are owned by the caller's mapped identity.
func (h *Handler) Create(ctx *NFSHandlerContext, req *CreateRequest) (*CreateResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("CREATE: name='%s' dir=%x mode=%d client=%s", req.Filename, req.DirHandle, req.Mode, clientIP)

	if ctx.cancelled() {
		return &CreateResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	dir, before, status := h.prepareCreate(ctx, req.DirHandle, req.Filename, "CREATE")
	if status != types.NFS3OK {
		return h.createFailed(status, dir, before), nil
	}
	p := childPath(dir.path, req.Filename)

	var err error
	switch req.Mode {
	case types.CreateUnchecked, types.CreateGuarded:
		err = h.createFile(ctx, dir, p, req)
	case types.CreateExclusive:
		err = h.createExclusive(ctx, dir, p, req.Verf)
	default:
		err = backend.NewError("create", p, backend.ErrInvalid)
	}
	if err != nil {
		return h.createFailed(xdr.MapBackendErrorToNFSStatus(err, clientIP, "CREATE"), dir, before), nil
	}

	logger.Info("CREATE successful: path=%s client=%s", p, clientIP)
	return h.created(dir, before, req.Filename), nil
}

func (h *Handler) createFile(ctx *NFSHandlerContext, dir *object, p string, req *CreateRequest) error {
	existing, err := h.Backend.Lstat(p)
	switch {
	case err == nil && req.Mode == types.CreateGuarded:
		return backend.NewError("create", p, backend.ErrExist)
	case err == nil:
		// UNCHECKED on an existing object behaves like SETATTR.
		if existing.Type == backend.TypeDirectory {
			return backend.NewError("create", p, backend.ErrIsDir)
		}
		if req.Attr != nil {
			return h.applySetAttrs(p, existing, req.Attr)
		}
		return nil
	case !errors.Is(err, backend.ErrNotExist):
		return err
	}

	f, err := h.Backend.Open(p, os.O_CREATE|os.O_EXCL|os.O_RDWR, createMode(req.Attr, 0644))
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return backend.FromOS("close", p, err)
	}
	h.setOwner(p, h.identity(ctx, dir), dir.export, req.Attr)

	if req.Attr == nil {
		return nil
	}
	rest := *req.Attr
	rest.SetMode, rest.SetUID, rest.SetGID = false, false, false
	if rest.SetSize || rest.SetAtime != types.DontChange || rest.SetMtime != types.DontChange {
		attr, err := h.Backend.Lstat(p)
		if err != nil {
			return err
		}
		return h.applySetAttrs(p, attr, &rest)
	}
	return nil
}

// verfTimes splits an exclusive-create verifier into the two timestamps it
// is stored in.
func verfTimes(verf [8]byte) (atime, mtime time.Time) {
	return time.Unix(int64(binary.BigEndian.Uint32(verf[0:4])), 0),
		time.Unix(int64(binary.BigEndian.Uint32(verf[4:8])), 0)
}

func (h *Handler) createExclusive(ctx *NFSHandlerContext, dir *object, p string, verf [8]byte) error {
	atime, mtime := verfTimes(verf)

	existing, err := h.Backend.Lstat(p)
	if err == nil {
		if existing.Type == backend.TypeRegular &&
			existing.Atime.Unix() == atime.Unix() && existing.Mtime.Unix() == mtime.Unix() {
			logger.Debug("CREATE: exclusive retransmission matched: path=%s", p)
			return nil
		}
		return backend.NewError("create", p, backend.ErrExist)
	}
	if !errors.Is(err, backend.ErrNotExist) {
		return err
	}

	f, err := h.Backend.Open(p, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return backend.FromOS("close", p, err)
	}
	h.setOwner(p, h.identity(ctx, dir), dir.export, nil)
	return h.Backend.Chtimes(p, atime, mtime)
}

// ============================================================================
// Shared helpers for CREATE, MKDIR, SYMLINK and MKNOD
// ============================================================================

// prepareCreate resolves the parent directory of a new object and runs the
// checks every create-style procedure shares. dir and before may be nil
// when the status is not NFS3OK.
func (h *Handler) prepareCreate(ctx *NFSHandlerContext, raw []byte, name, op string) (*object, *types.WccAttr, uint32) {
	dir, status := h.resolve(ctx, raw, op)
	if status != types.NFS3OK {
		return nil, nil, status
	}
	before := xdr.CaptureWccAttr(dir.attr)

	if status := requireDir(dir); status != types.NFS3OK {
		return dir, before, status
	}
	if status := checkWritable(dir); status != types.NFS3OK {
		return dir, before, status
	}
	if status := validateName(name, true); status != types.NFS3OK {
		return dir, before, status
	}
	return dir, before, types.NFS3OK
}

func (h *Handler) createFailed(status uint32, dir *object, before *types.WccAttr) *CreateResponse {
	resp := &CreateResponse{NFSResponseBase: NFSResponseBase{Status: status}, DirBefore: before}
	if dir != nil {
		resp.DirAfter = h.postOpAttr(dir.path)
	}
	return resp
}

// created builds the success reply for a new object called name in dir.
// Failing to build a handle is not an error: post_op_fh3 is optional and
// the client falls back to LOOKUP.
func (h *Handler) created(dir *object, before *types.WccAttr, name string) *CreateResponse {
	resp := &CreateResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		DirBefore:       before,
		DirAfter:        h.postOpAttr(dir.path),
	}
	handle, attr, err := h.Handles.Compose(dir.handle, dir.path, name)
	if err != nil {
		logger.Debug("no handle for new object: path=%s error=%v", childPath(dir.path, name), err)
		return resp
	}
	resp.FileHandle = handle[:]
	resp.Attr = xdr.ToNFSAttr(attr)
	return resp
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeCreateRequest decodes CREATE3args:
//
//	diropargs3 where
//	createhow3 how: UNCHECKED/GUARDED → sattr3, EXCLUSIVE → createverf3
func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	reader := bytes.NewReader(data)

	handle, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, err
	}
	mode, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode create mode: %w", err)
	}

	req := &CreateRequest{DirHandle: handle, Filename: name, Mode: mode}
	switch mode {
	case types.CreateUnchecked, types.CreateGuarded:
		if req.Attr, err = xdr.DecodeSetAttrs(reader); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	case types.CreateExclusive:
		if _, err := io.ReadFull(reader, req.Verf[:]); err != nil {
			return nil, fmt.Errorf("decode verifier: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid create mode %d", mode)
	}
	return req, nil
}

// Encode serializes CREATE3res (and MKDIR3res, SYMLINK3res, MKNOD3res).
func (resp *CreateResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeOptionalOpaque(&buf, resp.FileHandle); err != nil {
			return nil, fmt.Errorf("encode handle: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode dir wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
