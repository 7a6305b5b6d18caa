package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// WriteRequest is WRITE3args.
type WriteRequest struct {
	Handle []byte
	Offset uint64

	// Count is the number of bytes of Data to write. It must not exceed
	// len(Data).
	Count uint32

	// Stable is one of types.WriteUnstable, WriteDataSync, WriteFileSync.
	Stable uint32

	Data []byte
}

// WriteResponse is WRITE3res.
type WriteResponse struct {
	NFSResponseBase
	AttrBefore *types.WccAttr
	AttrAfter  *types.NFSFileAttr

	Count     uint32
	Committed uint32
	Verifier  [8]byte
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Write stores data into a regular file (RFC 1813 Section 3.3.7).
//
// UNSTABLE writes go to the cached write descriptor and are acknowledged
// before they are durable; the client must COMMIT them and compare the
// returned verifier. DATA_SYNC and FILE_SYNC writes are synced before the
// reply and are always reported as FILE_SYNC.
//
// The reply carries the server's write verifier. It changes only when the
// server restarts, which tells clients that uncommitted data may be lost.
func (h *Handler) Write(ctx *NFSHandlerContext, req *WriteRequest) (*WriteResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("WRITE: handle=%x offset=%d count=%d stable=%d client=%s",
		req.Handle, req.Offset, req.Count, req.Stable, clientIP)

	if ctx.cancelled() {
		return &WriteResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "WRITE")
	if status != types.NFS3OK {
		return &WriteResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	before := xdr.CaptureWccAttr(obj.attr)
	fail := func(status uint32) (*WriteResponse, error) {
		return &WriteResponse{
			NFSResponseBase: NFSResponseBase{Status: status},
			AttrBefore:      before,
			AttrAfter:       h.postOpAttr(obj.path),
		}, nil
	}

	if status := checkWritable(obj); status != types.NFS3OK {
		return fail(status)
	}
	if err := validateWriteRequest(req, obj.attr); err != nil {
		logger.Warn("WRITE validation failed: path=%s client=%s error=%v", obj.path, clientIP, err)
		return fail(err.nfsStatus)
	}

	data := req.Data[:req.Count]
	id := obj.attr.Identity()

	d, err := h.Files.AcquireForWrite(id, obj.path)
	if err != nil {
		return fail(xdr.MapBackendErrorToNFSStatus(err, clientIP, "WRITE"))
	}
	n, err := d.WriteAt(data, int64(req.Offset))
	h.Files.Release(d)
	if err != nil {
		return fail(xdr.MapBackendErrorToNFSStatus(backend.FromOS("write", obj.path, err), clientIP, "WRITE"))
	}

	committed := uint32(types.WriteUnstable)
	if req.Stable != types.WriteUnstable {
		if err := h.Files.Sync(id, obj.path); err != nil {
			return fail(xdr.MapBackendErrorToNFSStatus(err, clientIP, "WRITE"))
		}
		committed = types.WriteFileSync
	}

	logger.Debug("WRITE successful: path=%s written=%d committed=%d client=%s", obj.path, n, committed, clientIP)
	return &WriteResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		AttrBefore:      before,
		AttrAfter:       h.postOpAttr(obj.path),
		Count:           uint32(n),
		Committed:       committed,
		Verifier:        h.Verifier,
	}, nil
}

// ============================================================================
// Request Validation
// ============================================================================

// writeValidationError represents a WRITE request the server refuses.
type writeValidationError struct {
	message   string
	nfsStatus uint32
}

func (e *writeValidationError) Error() string {
	return e.message
}

func validateWriteRequest(req *WriteRequest, attr *backend.Attr) *writeValidationError {
	switch attr.Type {
	case backend.TypeRegular:
	case backend.TypeDirectory:
		return &writeValidationError{message: "target is a directory", nfsStatus: types.NFS3ErrIsDir}
	default:
		return &writeValidationError{message: fmt.Sprintf("target is a %s", attr.Type), nfsStatus: types.NFS3ErrInval}
	}

	if int(req.Count) > len(req.Data) {
		return &writeValidationError{
			message:   fmt.Sprintf("count %d exceeds data length %d", req.Count, len(req.Data)),
			nfsStatus: types.NFS3ErrInval,
		}
	}
	if req.Count > types.MaxWriteSize {
		return &writeValidationError{
			message:   fmt.Sprintf("count %d exceeds maximum %d", req.Count, types.MaxWriteSize),
			nfsStatus: types.NFS3ErrFBig,
		}
	}
	if req.Offset > ^uint64(0)-uint64(req.Count) {
		return &writeValidationError{
			message:   fmt.Sprintf("offset + count overflow: offset=%d count=%d", req.Offset, req.Count),
			nfsStatus: types.NFS3ErrFBig,
		}
	}
	if req.Stable > types.WriteFileSync {
		return &writeValidationError{
			message:   fmt.Sprintf("invalid stable_how %d", req.Stable),
			nfsStatus: types.NFS3ErrInval,
		}
	}
	return nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeWriteRequest decodes WRITE3args:
//
//	nfs_fh3     file
//	offset3     offset
//	count3      count
//	stable_how  stable
//	opaque      data<>
func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
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
	stable, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode stable: %w", err)
	}
	payload, err := xdr.DecodeOpaque(reader)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}

	return &WriteRequest{
		Handle: handle,
		Offset: offset,
		Count:  count,
		Stable: stable,
		Data:   payload,
	}, nil
}

// Encode serializes WRITE3res.
func (resp *WriteResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.AttrBefore, resp.AttrAfter); err != nil {
		return nil, fmt.Errorf("encode wcc data: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint32(&buf, resp.Count); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.Committed); err != nil {
		return nil, fmt.Errorf("write committed: %w", err)
	}
	buf.Write(resp.Verifier[:])
	return buf.Bytes(), nil
}
