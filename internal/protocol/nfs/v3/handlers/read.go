package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// ReadRequest is READ3args.
type ReadRequest struct {
	Handle []byte
	Offset uint64

	// Count is the number of bytes requested. Counts above
	// types.MaxReadSize are clamped.
	Count uint32
}

// ReadResponse is READ3res.
type ReadResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr

	// Count is len(Data); EOF is set when the read reached end of file.
	Count uint32
	EOF   bool
	Data  []byte
}

// ============================================================================
// Protocol Handler
// ============================================================================

// readReplyOverhead is the READ3resok encoding without its data: status,
// post_op_attr, count, eof and the opaque length.
const readReplyOverhead = 4 + (4 + 84) + 4 + 4 + 4

// Read returns data from a regular file (RFC 1813 Section 3.3.6).
//
// Reads go through the descriptor cache: the first READ of a file opens
// it and later READs reuse the same descriptor until it goes idle. Data
// written with UNSTABLE and not yet committed is visible to readers.
//
// A short read is not an error. EOF is reported when fewer bytes than
// requested were returned or the read ended at or beyond the file size.
func (h *Handler) Read(ctx *NFSHandlerContext, req *ReadRequest) (*ReadResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READ: handle=%x offset=%d count=%d client=%s", req.Handle, req.Offset, req.Count, clientIP)

	if ctx.cancelled() {
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "READ")
	if status != types.NFS3OK {
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	switch obj.attr.Type {
	case backend.TypeRegular:
	case backend.TypeDirectory:
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIsDir}, Attr: xdr.ToNFSAttr(obj.attr)}, nil
	default:
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrInval}, Attr: xdr.ToNFSAttr(obj.attr)}, nil
	}

	count := ctx.fit(min(req.Count, types.MaxReadSize), readReplyOverhead)
	if count != req.Count {
		logger.Debug("READ: clamping count %d to %d", req.Count, count)
	}

	id := obj.attr.Identity()
	d, err := h.Files.AcquireForRead(id, obj.path)
	if err != nil {
		status := xdr.MapBackendErrorToNFSStatus(err, clientIP, "READ")
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: status}, Attr: xdr.ToNFSAttr(obj.attr)}, nil
	}
	defer h.Files.Release(d)

	data := make([]byte, count)
	n, err := d.ReadAt(data, int64(req.Offset))
	if err != nil && !errors.Is(err, io.EOF) {
		status := xdr.MapBackendErrorToNFSStatus(backend.FromOS("read", obj.path, err), clientIP, "READ")
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: status}, Attr: h.postOpAttr(obj.path)}, nil
	}
	data = data[:n]

	attr := h.postOpAttr(obj.path)
	size := obj.attr.Size
	if attr != nil {
		size = attr.Size
	}
	eof := uint32(n) < count || req.Offset+uint64(n) >= size

	logger.Debug("READ successful: path=%s read=%d eof=%v client=%s", obj.path, n, eof, clientIP)
	return &ReadResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            attr,
		Count:           uint32(n),
		EOF:             eof,
		Data:            data,
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeReadRequest decodes READ3args:
//
//	nfs_fh3 file
//	offset3 offset (uint64)
//	count3  count  (uint32)
func DecodeReadRequest(data []byte) (*ReadRequest, error) {
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

	return &ReadRequest{Handle: handle, Offset: offset, Count: count}, nil
}

// Encode serializes READ3res.
func (resp *ReadResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(16 + 88 + len(resp.Data))

	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint32(&buf, resp.Count); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	if err := xdr.WriteBool(&buf, resp.EOF); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	if err := xdr.WriteOpaque(&buf, resp.Data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}
	return buf.Bytes(), nil
}
