package handlers

import "github.com/souravgh/unfs2go/internal/logger"

// UmountAllRequest is the empty argument of MOUNTPROC_UMNTALL.
type UmountAllRequest struct{}

// UmountAllResponse is void.
type UmountAllResponse struct {
	MountResponseBase
}

// UmntAll removes every mount entry of the caller
// (RFC 1813 Appendix I.4.4).
func (h *Handler) UmntAll(ctx *MountHandlerContext, req *UmountAllRequest) (*UmountAllResponse, error) {
	host := ctx.clientHost()
	n := h.Registry.RemoveAllMounts(host)
	logger.Info("UMNTALL: client=%s removed=%d", host, n)
	return &UmountAllResponse{}, nil
}

// DecodeUmountAllRequest ignores any argument bytes.
func DecodeUmountAllRequest(data []byte) (*UmountAllRequest, error) {
	return &UmountAllRequest{}, nil
}

// Encode returns an empty body.
func (resp *UmountAllResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
