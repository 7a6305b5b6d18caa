package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// CommitRequest is COMMIT3args. The range is advisory: the whole file is
// made durable regardless of Offset and Count.
type CommitRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
}

// CommitResponse is COMMIT3res.
type CommitResponse struct {
	NFSResponseBase
	AttrBefore *types.WccAttr
	AttrAfter  *types.NFSFileAttr
	Verifier   [8]byte
}

// Commit makes previously UNSTABLE writes durable (RFC 1813 Section 3.3.21).
//
// The returned verifier is the same one WRITE returned. A client that sees
// a different verifier knows the server restarted and resends its
// uncommitted data.
//
// Committing a non-regular object is a no-op that succeeds.
func (h *Handler) Commit(ctx *NFSHandlerContext, req *CommitRequest) (*CommitResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("COMMIT: handle=%x offset=%d count=%d client=%s", req.Handle, req.Offset, req.Count, clientIP)

	if ctx.cancelled() {
		return &CommitResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "COMMIT")
	if status != types.NFS3OK {
		return &CommitResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	before := xdr.CaptureWccAttr(obj.attr)

	if obj.attr.Type == backend.TypeRegular {
		if err := h.Files.Sync(obj.attr.Identity(), obj.path); err != nil {
			status := xdr.MapBackendErrorToNFSStatus(err, clientIP, "COMMIT")
			return &CommitResponse{
				NFSResponseBase: NFSResponseBase{Status: status},
				AttrBefore:      before,
				AttrAfter:       h.postOpAttr(obj.path),
			}, nil
		}
	}

	logger.Debug("COMMIT successful: path=%s client=%s", obj.path, clientIP)
	return &CommitResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		AttrBefore:      before,
		AttrAfter:       h.postOpAttr(obj.path),
		Verifier:        h.Verifier,
	}, nil
}

// DecodeCommitRequest decodes COMMIT3args: nfs_fh3, offset3, count3.
func DecodeCommitRequest(data []byte) (*CommitRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode offset: %w", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode count: %w", err)
	}
	return &CommitRequest{Handle: handle, Offset: offset, Count: count}, nil
}

// Encode serializes COMMIT3res. The verifier is only sent on success.
func (resp *CommitResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.AttrBefore, resp.AttrAfter); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	if resp.Status == types.NFS3OK {
		buf.Write(resp.Verifier[:])
	}
	return buf.Bytes(), nil
}
