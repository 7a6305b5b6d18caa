package handlers

import (
	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// NullRequest is the empty argument of NFSPROC3_NULL.
type NullRequest struct{}

// NullResponse is the empty result of NFSPROC3_NULL.
type NullResponse struct {
	NFSResponseBase
}

// Null does nothing. Clients use it to probe that the server is alive and
// to measure round-trip time (RFC 1813 Section 3.3.0).
//
// NULL touches neither the backend nor any cache.
func (h *Handler) Null(ctx *NFSHandlerContext, req *NullRequest) (*NullResponse, error) {
	logger.Debug("NULL: client=%s", xdr.ExtractClientIP(ctx.ClientAddr))
	return &NullResponse{}, nil
}

// DecodeNullRequest accepts any argument body. NULL takes no arguments and
// trailing bytes are ignored.
func DecodeNullRequest(data []byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Encode returns an empty body. NULL replies carry no status.
func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}
