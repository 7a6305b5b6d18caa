package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// FsStatRequest is FSSTAT3args.
type FsStatRequest struct {
	Handle []byte
}

// FsStatResponse is FSSTAT3res.
type FsStatResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr

	Tbytes uint64
	Fbytes uint64
	Abytes uint64
	Tfiles uint64
	Ffiles uint64
	Afiles uint64

	// Invarsec is 0: the numbers can change at any time.
	Invarsec uint32
}

// FsStat returns dynamic file system capacity (RFC 1813 Section 3.3.18).
func (h *Handler) FsStat(ctx *NFSHandlerContext, req *FsStatRequest) (*FsStatResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("FSSTAT: handle=%x client=%s", req.Handle, clientIP)

	if ctx.cancelled() {
		return &FsStatResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "FSSTAT")
	if status != types.NFS3OK {
		return &FsStatResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}
	attr := xdr.ToNFSAttr(obj.attr)

	st, err := h.Backend.StatFS(obj.path)
	if err != nil {
		status := xdr.MapBackendErrorToNFSStatus(err, clientIP, "FSSTAT")
		return &FsStatResponse{NFSResponseBase: NFSResponseBase{Status: status}, Attr: attr}, nil
	}

	return &FsStatResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            attr,
		Tbytes:          st.TotalBytes,
		Fbytes:          st.FreeBytes,
		Abytes:          st.AvailBytes,
		Tfiles:          st.TotalFiles,
		Ffiles:          st.FreeFiles,
		Afiles:          st.AvailFiles,
	}, nil
}

// DecodeFsStatRequest decodes FSSTAT3args.
func DecodeFsStatRequest(data []byte) (*FsStatRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &FsStatRequest{Handle: handle}, nil
}

// Encode serializes FSSTAT3res.
func (resp *FsStatResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	for _, v := range []uint64{resp.Tbytes, resp.Fbytes, resp.Abytes, resp.Tfiles, resp.Ffiles, resp.Afiles} {
		if err := xdr.WriteUint64(&buf, v); err != nil {
			return nil, fmt.Errorf("write counters: %w", err)
		}
	}
	if err := xdr.WriteUint32(&buf, resp.Invarsec); err != nil {
		return nil, fmt.Errorf("write invarsec: %w", err)
	}
	return buf.Bytes(), nil
}
