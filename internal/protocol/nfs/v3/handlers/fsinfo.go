package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// FsInfoRequest is FSINFO3args.
type FsInfoRequest struct {
	Handle []byte
}

// FsInfoResponse is FSINFO3res.
type FsInfoResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr

	Rtmax       uint32
	Rtpref      uint32
	Rtmult      uint32
	Wtmax       uint32
	Wtpref      uint32
	Wtmult      uint32
	Dtpref      uint32
	Maxfilesize uint64
	TimeDelta   types.TimeVal
	Properties  uint32
}

// FsInfo returns the static limits of the server (RFC 1813 Section 3.3.19).
// The values do not depend on the export or the backend; the transfer
// sizes shrink for UDP callers.
func (h *Handler) FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) (*FsInfoResponse, error) {
	logger.Debug("FSINFO: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if ctx.cancelled() {
		return &FsInfoResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "FSINFO")
	if status != types.NFS3OK {
		return &FsInfoResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	// Over UDP a full-sized READ reply or WRITE call would not fit in
	// one datagram.
	rtmax := ctx.fit(types.MaxReadSize, readReplyOverhead) &^ 4095
	wtmax := uint32(types.MaxWriteSize)
	if ctx.ReplyBudget != 0 {
		wtmax = rtmax
	}

	return &FsInfoResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            xdr.ToNFSAttr(obj.attr),
		Rtmax:           rtmax,
		Rtpref:          min(types.PrefSize, rtmax),
		Rtmult:          4096,
		Wtmax:           wtmax,
		Wtpref:          min(types.PrefSize, wtmax),
		Wtmult:          4096,
		Dtpref:          types.DirPrefSize,
		Maxfilesize:     1<<63 - 1,
		TimeDelta:       types.TimeVal{Seconds: 0, Nseconds: 1},
		Properties:      types.FSFLink | types.FSFSymlink | types.FSFHomogeneous | types.FSFCanSetTime,
	}, nil
}

// DecodeFsInfoRequest decodes FSINFO3args.
func DecodeFsInfoRequest(data []byte) (*FsInfoRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &FsInfoRequest{Handle: handle}, nil
}

// Encode serializes FSINFO3res.
func (resp *FsInfoResponse) Encode() ([]byte, error) {
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

	for _, v := range []uint32{resp.Rtmax, resp.Rtpref, resp.Rtmult, resp.Wtmax, resp.Wtpref, resp.Wtmult, resp.Dtpref} {
		if err := xdr.WriteUint32(&buf, v); err != nil {
			return nil, fmt.Errorf("write limits: %w", err)
		}
	}
	if err := xdr.WriteUint64(&buf, resp.Maxfilesize); err != nil {
		return nil, fmt.Errorf("write maxfilesize: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.TimeDelta.Seconds); err != nil {
		return nil, fmt.Errorf("write time delta: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.TimeDelta.Nseconds); err != nil {
		return nil, fmt.Errorf("write time delta: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.Properties); err != nil {
		return nil, fmt.Errorf("write properties: %w", err)
	}
	return buf.Bytes(), nil
}
