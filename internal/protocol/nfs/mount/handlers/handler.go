package handlers

import (
	"context"
	"net"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
)

// Handler implements the MOUNT procedures.
//
// MNT is the only procedure that consults the file system: it checks the
// requested directory and hands out its file handle. The other procedures
// only read or update the registry's export list and mount table.
type Handler struct {
	Registry *registry.Registry
	Handles  *fhcache.Cache
	Backend  backend.Backend
}

// MountHandlerContext carries the caller information the dispatcher
// extracted from the RPC call.
type MountHandlerContext struct {
	Context    context.Context
	ClientAddr string
	AuthFlavor uint32

	// UnixAuth is set for AUTH_UNIX calls.
	UnixAuth *rpc.UnixAuth
}

// clientHost returns the address the mount table records for the caller.
func (c *MountHandlerContext) clientHost() string {
	host, _, err := net.SplitHostPort(c.ClientAddr)
	if err != nil {
		return c.ClientAddr
	}
	return host
}

func (c *MountHandlerContext) cancelled() bool {
	if c.Context == nil {
		return false
	}
	select {
	case <-c.Context.Done():
		return true
	default:
		return false
	}
}
