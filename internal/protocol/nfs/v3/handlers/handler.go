package handlers

import (
	"sync/atomic"

	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fdcache"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/souravgh/unfs2go/pkg/verifier"
)

// Handler implements the NFSv3 procedures (RFC 1813 Section 3.3).
//
// Every procedure follows the same shape:
//  1. Resolve the file handle through the handle cache
//  2. Check the export the object lives in (client access, read-only)
//  3. Call the backend, through the descriptor cache for READ/WRITE/COMMIT
//  4. Return a response carrying an nfsstat3; Go errors are reserved for
//     failures that should become an RPC-level SYSTEM_ERR
//
// Handler is driven from the server loop, one request at a time.
type Handler struct {
	Backend  backend.Backend
	Handles  *fhcache.Cache
	Files    *fdcache.Cache
	Registry *registry.Registry

	// Verifier is returned by WRITE and COMMIT. It is fixed for the life of
	// the process.
	Verifier verifier.Verifier

	// Cookies stamps READDIR cookies with the current epoch.
	Cookies *CookieEpoch
}

// CookieEpoch is the high half of every READDIR cookie. The server loop
// advances it periodically; cookies minted in an older epoch are refused
// with NFS3ERR_BAD_COOKIE so clients restart the listing.
type CookieEpoch struct {
	epoch atomic.Uint32
}

// NewCookieEpoch starts counting at 1 so that no cookie but the initial
// 0 has an all-zero high half.
func NewCookieEpoch() *CookieEpoch {
	c := &CookieEpoch{}
	c.epoch.Store(1)
	return c
}

// Advance starts a new epoch.
func (c *CookieEpoch) Advance() uint32 {
	return c.epoch.Add(1)
}

// Current returns the active epoch.
func (c *CookieEpoch) Current() uint32 {
	return c.epoch.Load()
}

func makeCookie(epoch uint32, index int) uint64 {
	return uint64(epoch)<<32 | uint64(uint32(index+1))
}

// splitCookie returns the epoch of a cookie and the index of the first
// entry after it.
func splitCookie(cookie uint64) (epoch uint32, next int) {
	return uint32(cookie >> 32), int(uint32(cookie))
}
