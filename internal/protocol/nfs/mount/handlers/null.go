package handlers

import "github.com/souravgh/unfs2go/internal/logger"

// NullRequest is the empty argument of MOUNTPROC_NULL.
type NullRequest struct{}

// NullResponse is the empty result of MOUNTPROC_NULL.
type NullResponse struct {
	MountResponseBase
}

// MountNull does nothing; it lets clients check the service is up.
func (h *Handler) MountNull(ctx *MountHandlerContext, req *NullRequest) (*NullResponse, error) {
	logger.Debug("MOUNT NULL: client=%s", ctx.clientHost())
	return &NullResponse{}, nil
}

// DecodeNullRequest ignores any argument bytes.
func DecodeNullRequest(data []byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Encode returns an empty body.
func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
