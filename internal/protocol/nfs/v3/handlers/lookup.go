package handlers

import (
	"bytes"
	"fmt"
	"path"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
)

// LookupRequest is LOOKUP3args: a directory handle and the name to find.
type LookupRequest struct {
	DirHandle []byte
	Filename  string
}

// LookupResponse is LOOKUP3res.
type LookupResponse struct {
	NFSResponseBase

	// FileHandle and Attr describe the object found. Only sent on success.
	FileHandle []byte
	Attr       *types.NFSFileAttr

	// DirAttr is the directory's post-op attributes, sent in both cases.
	DirAttr *types.NFSFileAttr
}

// Lookup resolves a name inside a directory to a file handle
// (RFC 1813 Section 3.3.3).
//
// "." returns the directory itself. ".." returns the parent, except at the
// root of an export where it returns the export root: clients never see a
// handle for anything above the export they mounted.
func (h *Handler) Lookup(ctx *NFSHandlerContext, req *LookupRequest) (*LookupResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("LOOKUP: name='%s' dir=%x client=%s", req.Filename, req.DirHandle, clientIP)

	if ctx.cancelled() {
		return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	dir, status := h.resolve(ctx, req.DirHandle, "LOOKUP")
	if status != types.NFS3OK {
		return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}
	dirAttr := xdr.ToNFSAttr(dir.attr)

	fail := func(status uint32) (*LookupResponse, error) {
		return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: status}, DirAttr: dirAttr}, nil
	}

	if status := requireDir(dir); status != types.NFS3OK {
		return fail(status)
	}
	if status := validateName(req.Filename, false); status != types.NFS3OK {
		return fail(status)
	}

	var (
		handle fhcache.Handle
		attr   *backend.Attr
		err    error
	)
	switch req.Filename {
	case ".":
		handle, attr = dir.handle, dir.attr
	case "..":
		if dir.path == dir.export.Path {
			handle, attr = dir.handle, dir.attr
		} else {
			handle, attr, err = h.Handles.HandleFor(path.Dir(dir.path))
		}
	default:
		handle, attr, err = h.Handles.Compose(dir.handle, dir.path, req.Filename)
	}
	if err != nil {
		return fail(xdr.MapBackendErrorToNFSStatus(err, clientIP, "LOOKUP"))
	}

	logger.Debug("LOOKUP successful: path=%s ino=%d client=%s", childPath(dir.path, req.Filename), attr.Ino, clientIP)
	return &LookupResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		FileHandle:      handle[:],
		Attr:            xdr.ToNFSAttr(attr),
		DirAttr:         dirAttr,
	}, nil
}

// DecodeLookupRequest decodes LOOKUP3args (a diropargs3).
func DecodeLookupRequest(data []byte) (*LookupRequest, error) {
	handle, name, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &LookupRequest{DirHandle: handle, Filename: name}, nil
}

// Encode serializes LOOKUP3res.
//
//	NFS3_OK:   nfs_fh3 object, post_op_attr obj_attributes, post_op_attr dir_attributes
//	otherwise: post_op_attr dir_attributes
func (resp *LookupResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	if resp.Status == types.NFS3OK {
		if err := xdr.WriteOpaque(&buf, resp.FileHandle); err != nil {
			return nil, fmt.Errorf("write handle: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode object attributes: %w", err)
		}
	}

	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode directory attributes: %w", err)
	}
	return buf.Bytes(), nil
}
