package handlers

import (
	"bytes"
	"fmt"
	"path"

	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/souravgh/unfs2go/internal/logger"
)

// UmountRequest is the dirpath argument of MOUNTPROC_UMNT.
type UmountRequest struct {
	DirPath string
}

// UmountResponse is void.
type UmountResponse struct {
	MountResponseBase
}

// Umnt removes the caller's mount entry for a directory
// (RFC 1813 Appendix I.4.3). Removing an unknown entry is not an error.
func (h *Handler) Umnt(ctx *MountHandlerContext, req *UmountRequest) (*UmountResponse, error) {
	host := ctx.clientHost()
	dir := path.Clean(req.DirPath)

	if h.Registry.RemoveMount(host, dir) {
		logger.Info("UMNT: path=%s client=%s", dir, host)
	} else {
		logger.Debug("UMNT: no mount of %s by %s", dir, host)
	}
	return &UmountResponse{}, nil
}

// DecodeUmountRequest decodes a dirpath.
func DecodeUmountRequest(data []byte) (*UmountRequest, error) {
	req := &UmountRequest{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal umount request: %w", err)
	}
	if len(req.DirPath) > MaxPathLen {
		return nil, fmt.Errorf("dirpath too long: %d", len(req.DirPath))
	}
	return req, nil
}

// Encode returns an empty body.
func (resp *UmountResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
