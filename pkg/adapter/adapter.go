package adapter

import (
	"context"
)

// Adapter is a network transport managed by the server lifecycle.
//
// Adapters only move bytes. Every decoded request is handed to the server's
// event loop, which owns all protocol state; the adapter never touches the
// caches or the backend.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and the loop's
//     request channel
//  2. Listen: sockets are bound while the server is Starting, so bind
//     errors abort startup and ephemeral ports are known before the
//     portmapper is told about them
//  3. Serve: blocks reading requests until the context is cancelled
//  4. Stop: closes the sockets and waits for reader goroutines
//
// Thread safety:
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Listen binds every socket the adapter serves on.
	Listen() error

	// Serve reads requests until ctx is cancelled or a socket fails.
	//
	// Returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop closes all sockets and waits for the readers to exit, or for
	// ctx to expire, whichever comes first.
	Stop(ctx context.Context) error

	// Protocol returns the name used in logs, e.g. "NFS".
	Protocol() string

	// Port returns the bound port of the primary service, or 0 before
	// Listen.
	Port() int
}
