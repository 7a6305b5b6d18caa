package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// LinkRequest is LINK3args.
type LinkRequest struct {
	FileHandle []byte
	DirHandle  []byte
	Name       string
}

// LinkResponse is LINK3res.
type LinkResponse struct {
	NFSResponseBase
	FileAttr  *types.NFSFileAttr
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Link creates a hard link to an existing file (RFC 1813 Section 3.3.15).
// Directories cannot be linked and links cannot cross exports.
func (h *Handler) Link(ctx *NFSHandlerContext, req *LinkRequest) (*LinkResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("LINK: file=%x name='%s' dir=%x client=%s", req.FileHandle, req.Name, req.DirHandle, clientIP)

	if ctx.cancelled() {
		return &LinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	file, status := h.resolve(ctx, req.FileHandle, "LINK")
	if status != types.NFS3OK {
		return &LinkResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	dir, before, status := h.prepareCreate(ctx, req.DirHandle, req.Name, "LINK")
	done := func(status uint32) (*LinkResponse, error) {
		resp := &LinkResponse{
			NFSResponseBase: NFSResponseBase{Status: status},
			FileAttr:        h.postOpAttr(file.path),
			DirBefore:       before,
		}
		if dir != nil {
			resp.DirAfter = h.postOpAttr(dir.path)
		}
		return resp, nil
	}
	if status != types.NFS3OK {
		return done(status)
	}

	if file.attr.Type == backend.TypeDirectory {
		return done(types.NFS3ErrIsDir)
	}
	if file.export.Path != dir.export.Path {
		return done(types.NFS3ErrXDev)
	}

	p := childPath(dir.path, req.Name)
	if err := h.Backend.Link(file.path, p); err != nil {
		return done(xdr.MapBackendErrorToNFSStatus(err, clientIP, "LINK"))
	}

	logger.Info("LINK successful: %s -> %s client=%s", p, file.path, clientIP)
	return done(types.NFS3OK)
}

// DecodeLinkRequest decodes LINK3args: nfs_fh3 file, diropargs3 link.
func DecodeLinkRequest(data []byte) (*LinkRequest, error) {
	reader := bytes.NewReader(data)
	file, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	dir, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode link: %w", err)
	}
	return &LinkRequest{FileHandle: file, DirHandle: dir, Name: name}, nil
}

// Encode serializes LINK3res.
func (resp *LinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.FileAttr); err != nil {
		return nil, fmt.Errorf("encode file attributes: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode dir wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
