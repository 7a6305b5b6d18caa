package handlers

import (
	"context"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/pkg/registry"
)

// NFSHandlerContext is the unified context used by all NFS v3 procedure handlers.
//
// It carries everything the dispatcher knows about the caller: where the
// request came from and the AUTH_UNIX credentials, if any. Identity mapping
// is applied later, per export, once the handle has been resolved.
type NFSHandlerContext struct {
	// Context carries cancellation signals and deadlines.
	Context context.Context

	// ClientAddr is the network address of the client ("IP:port").
	ClientAddr string

	// AuthFlavor indicates the RPC authentication method (AUTH_NULL,
	// AUTH_UNIX, ...).
	AuthFlavor uint32

	// UID, GID and GIDs come from AUTH_UNIX credentials. UID and GID are
	// nil for any other flavor.
	UID  *uint32
	GID  *uint32
	GIDs []uint32

	// ReplyBudget bounds the encoded result body in bytes. Zero means the
	// transport imposes no limit (TCP).
	ReplyBudget uint32
}

// fit shrinks count so that a result carrying count payload bytes plus
// overhead stays within the reply budget. The result is a multiple of 4
// so XDR padding cannot push it over.
func (c *NFSHandlerContext) fit(count, overhead uint32) uint32 {
	if c.ReplyBudget == 0 {
		return count
	}
	if c.ReplyBudget <= overhead {
		return 0
	}
	if room := (c.ReplyBudget - overhead) &^ 3; count > room {
		return room
	}
	return count
}

// GetContext returns the Go context for cancellation handling.
func (c *NFSHandlerContext) GetContext() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

// Credentials returns the caller identity before export mapping.
func (c *NFSHandlerContext) Credentials() registry.Credentials {
	if c.AuthFlavor != rpc.AuthUnix || c.UID == nil || c.GID == nil {
		return registry.Credentials{Anonymous: true}
	}
	return registry.Credentials{UID: *c.UID, GID: *c.GID, GIDs: c.GIDs}
}

// cancelled reports whether the request context is done.
func (c *NFSHandlerContext) cancelled() bool {
	select {
	case <-c.GetContext().Done():
		return true
	default:
		return false
	}
}
