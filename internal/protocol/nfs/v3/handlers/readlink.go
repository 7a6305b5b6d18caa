package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// ReadLinkRequest is READLINK3args.
type ReadLinkRequest struct {
	Handle []byte
}

// ReadLinkResponse is READLINK3res.
type ReadLinkResponse struct {
	NFSResponseBase
	Attr   *types.NFSFileAttr
	Target string
}

// ReadLink returns the target of a symbolic link (RFC 1813 Section 3.3.5).
// Any other object type yields NFS3ERR_INVAL.
func (h *Handler) ReadLink(ctx *NFSHandlerContext, req *ReadLinkRequest) (*ReadLinkResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READLINK: handle=%x client=%s", req.Handle, clientIP)

	if ctx.cancelled() {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "READLINK")
	if status != types.NFS3OK {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}
	attr := xdr.ToNFSAttr(obj.attr)

	if obj.attr.Type != backend.TypeSymlink {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrInval}, Attr: attr}, nil
	}

	target, err := h.Backend.Readlink(obj.path)
	if err != nil {
		status := xdr.MapBackendErrorToNFSStatus(err, clientIP, "READLINK")
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: status}, Attr: attr}, nil
	}

	return &ReadLinkResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            attr,
		Target:          target,
	}, nil
}

// DecodeReadLinkRequest decodes READLINK3args.
func DecodeReadLinkRequest(data []byte) (*ReadLinkRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &ReadLinkRequest{Handle: handle}, nil
}

// Encode serializes READLINK3res.
func (resp *ReadLinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status == types.NFS3OK {
		if err := xdr.WriteString(&buf, resp.Target); err != nil {
			return nil, fmt.Errorf("write target: %w", err)
		}
	}
	return buf.Bytes(), nil
}
