package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// PathConfRequest is PATHCONF3args.
type PathConfRequest struct {
	Handle []byte
}

// PathConfResponse is PATHCONF3res.
type PathConfResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr

	Linkmax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

// PathConf returns POSIX pathconf information (RFC 1813 Section 3.3.20).
// Long names are rejected with NFS3ERR_NAMETOOLONG rather than truncated.
func (h *Handler) PathConf(ctx *NFSHandlerContext, req *PathConfRequest) (*PathConfResponse, error) {
	logger.Debug("PATHCONF: handle=%x client=%s", req.Handle, ctx.ClientAddr)

	if ctx.cancelled() {
		return &PathConfResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	obj, status := h.resolve(ctx, req.Handle, "PATHCONF")
	if status != types.NFS3OK {
		return &PathConfResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	return &PathConfResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            xdr.ToNFSAttr(obj.attr),
		Linkmax:         0xFFFFFFFF,
		NameMax:         types.NameMax,
		NoTrunc:         true,
		ChownRestricted: true,
		CaseInsensitive: false,
		CasePreserving:  true,
	}, nil
}

// DecodePathConfRequest decodes PATHCONF3args.
func DecodePathConfRequest(data []byte) (*PathConfRequest, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &PathConfRequest{Handle: handle}, nil
}

// Encode serializes PATHCONF3res.
func (resp *PathConfResponse) Encode() ([]byte, error) {
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

	if err := xdr.WriteUint32(&buf, resp.Linkmax); err != nil {
		return nil, fmt.Errorf("write linkmax: %w", err)
	}
	if err := xdr.WriteUint32(&buf, resp.NameMax); err != nil {
		return nil, fmt.Errorf("write name_max: %w", err)
	}
	for _, b := range []bool{resp.NoTrunc, resp.ChownRestricted, resp.CaseInsensitive, resp.CasePreserving} {
		if err := xdr.WriteBool(&buf, b); err != nil {
			return nil, fmt.Errorf("write flags: %w", err)
		}
	}
	return buf.Bytes(), nil
}
