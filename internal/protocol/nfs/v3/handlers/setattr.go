package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// SetAttrRequest is SETATTR3args.
type SetAttrRequest struct {
	Handle []byte

	// NewAttr holds the attributes to change. Unset fields are left alone.
	NewAttr *types.SetAttrs

	// Guard, when Check is set, makes the call fail with NFS3ERR_NOT_SYNC
	// unless the object's ctime equals Guard.Time.
	Guard types.TimeGuard
}

// SetAttrResponse is SETATTR3res. WCC data is sent on success and failure.
type SetAttrResponse struct {
	NFSResponseBase
	AttrBefore *types.WccAttr
	AttrAfter  *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// SetAttr changes one or more attributes of an object
// (RFC 1813 Section 3.3.2).
//
// Changes are applied in the order size, mode, ownership, times. A failure
// part way through leaves the earlier changes in place; the reply's WCC data
// shows the client what actually happened.
//
// A size change on anything other than a regular file fails with
// NFS3ERR_INVAL. Cached descriptors of the file are flushed and closed
// before it is truncated.
func (h *Handler) SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) (*SetAttrResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("SETATTR: handle=%x size=%v mode=%v uid=%v gid=%v client=%s",
		req.Handle, req.NewAttr.SetSize, req.NewAttr.SetMode, req.NewAttr.SetUID, req.NewAttr.SetGID, clientIP)

	if ctx.cancelled() {
		return &SetAttrResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "SETATTR")
	if status != types.NFS3OK {
		return &SetAttrResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	before := xdr.CaptureWccAttr(obj.attr)

	if status := checkWritable(obj); status != types.NFS3OK {
		return &SetAttrResponse{
			NFSResponseBase: NFSResponseBase{Status: status},
			AttrBefore:      before,
			AttrAfter:       xdr.ToNFSAttr(obj.attr),
		}, nil
	}

	if req.Guard.Check {
		ctime := xdr.TimeToTimeVal(obj.attr.Ctime)
		if ctime != req.Guard.Time {
			logger.Debug("SETATTR: guard mismatch: handle=%x have=%d.%d want=%d.%d",
				req.Handle, ctime.Seconds, ctime.Nseconds, req.Guard.Time.Seconds, req.Guard.Time.Nseconds)
			return &SetAttrResponse{
				NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSync},
				AttrBefore:      before,
				AttrAfter:       xdr.ToNFSAttr(obj.attr),
			}, nil
		}
	}

	if err := h.applySetAttrs(obj.path, obj.attr, req.NewAttr); err != nil {
		status := xdr.MapBackendErrorToNFSStatus(err, clientIP, "SETATTR")
		return &SetAttrResponse{
			NFSResponseBase: NFSResponseBase{Status: status},
			AttrBefore:      before,
			AttrAfter:       h.postOpAttr(obj.path),
		}, nil
	}

	logger.Debug("SETATTR successful: path=%s client=%s", obj.path, clientIP)
	return &SetAttrResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		AttrBefore:      before,
		AttrAfter:       h.postOpAttr(obj.path),
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeSetAttrRequest decodes SETATTR3args:
//
//	nfs_fh3     object
//	sattr3      new_attributes
//	sattrguard3 guard
func DecodeSetAttrRequest(data []byte) (*SetAttrRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}

	attrs, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode new attributes: %w", err)
	}

	check, err := xdr.DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("decode guard: %w", err)
	}

	req := &SetAttrRequest{Handle: handle, NewAttr: attrs}
	if check {
		tv, err := xdr.DecodeTimeVal(reader)
		if err != nil {
			return nil, fmt.Errorf("decode guard time: %w", err)
		}
		req.Guard = types.TimeGuard{Check: true, Time: tv}
	}
	return req, nil
}

// Encode serializes SETATTR3res.
func (resp *SetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.AttrBefore, resp.AttrAfter); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	return buf.Bytes(), nil
}
