package rpc

// RPCCallMessage represents an RPC call (request) header.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (transaction identifier)
//   - MsgType:    4 bytes (must be 0 for CALL)
//   - RPCVersion: 4 bytes (must be 2)
//   - Program:    4 bytes
//   - Version:    4 bytes
//   - Procedure:  4 bytes
//   - Cred:       variable (opaque_auth)
//   - Verf:       variable (opaque_auth)
//   - [procedure-specific parameters follow]
//
// Reference: RFC 5531 Section 9
type RPCCallMessage struct {
	// XID is echoed back in the reply so the client can match it to the
	// request. UDP clients also use it to detect retransmissions.
	XID uint32

	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32

	// Cred carries the caller's credentials (AUTH_NULL or AUTH_UNIX here).
	Cred OpaqueAuth

	// Verf is the caller's verifier, AUTH_NULL for the flavors we accept.
	Verf OpaqueAuth
}

// RPCReplyMessage is the header of an accepted reply.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (echoed from call)
//   - MsgType:    4 bytes (1 = REPLY)
//   - ReplyState: 4 bytes (0 = MSG_ACCEPTED)
//   - Verf:       variable
//   - AcceptStat: 4 bytes
//   - [results, or the version range for PROG_MISMATCH]
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// RPCDeniedReply is the header of a MSG_DENIED reply with RPC_MISMATCH.
type RPCDeniedReply struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	RejectStat uint32
	Low        uint32
	High       uint32
}

// VersionRange follows a PROG_MISMATCH accept status.
type VersionRange struct {
	Low  uint32
	High uint32
}

// OpaqueAuth represents authentication credentials or verifiers.
//
// Reference: RFC 5531 Section 8
type OpaqueAuth struct {
	Flavor uint32

	// Body is at most 400 bytes per RFC 5531. The xdr:"opaque" tag makes
	// it a variable-length opaque on the wire.
	Body []byte `xdr:"opaque"`
}

// GetAuthFlavor returns the authentication flavor from the call credentials.
func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

// GetAuthBody returns the raw credential body. For AUTH_UNIX, decode it
// with ParseUnixAuth.
func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}
