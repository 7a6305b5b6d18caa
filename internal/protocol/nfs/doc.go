// Package nfs routes ONC RPC calls to the NFSv3 and MOUNT procedure
// handlers.
//
// # Layout
//
//   - rpc: call header decoding, reply encoding, record marking, portmap
//   - xdr: NFS-specific XDR helpers and backend error mapping
//   - types: protocol constants and wire structures
//   - v3/handlers: the 22 NFSv3 procedures (RFC 1813)
//   - mount/handlers: the MOUNT v1/v3 procedures (RFC 1813 Appendix I)
//
// # Dispatch
//
// Dispatcher.Dispatch takes one complete RPC call message and returns the
// reply message. Table lookups replace a procedure switch; each entry binds
// a request decoder to a handler method:
//
//	call            reply
//	----            -----
//	not RPC v2      MSG_DENIED / RPC_MISMATCH
//	rate limited    SYSTEM_ERR
//	unknown prog    PROG_UNAVAIL
//	bad version     PROG_MISMATCH (NFS 3-3, MOUNT 1-3)
//	unknown proc    PROC_UNAVAIL, arguments not decoded
//	bad arguments   GARBAGE_ARGS, handler not invoked
//	handler error   SYSTEM_ERR
//	otherwise       SUCCESS carrying the encoded result
//
// Dispatch is not safe for concurrent use. The server loop calls it for
// one request at a time.
package nfs
