package rpc

// RPC Program Numbers
//
// Reference: RFC 5531, RFC 1813, RFC 1833
const (
	// ProgramPortmap is the port mapper program number (RFC 1833).
	// The portmapper runs on port 111 and maps program/version/protocol
	// triples to the port a service listens on.
	ProgramPortmap = 100000

	// ProgramNFS is the NFS program number (RFC 1813).
	ProgramNFS = 100003

	// ProgramMount is the MOUNT program number (RFC 1813 Appendix I).
	// Clients use it to obtain the root file handle of an export.
	ProgramMount = 100005
)

// Program versions served by the daemon.
const (
	NFSVersion3 = 3

	MountVersion1 = 1
	MountVersion3 = 3

	PortmapVersion2 = 2

	// RPCVersion2 is the only RPC protocol version this server speaks.
	RPCVersion2 = 2
)

// RPC Message Types
//
// Reference: RFC 5531 Section 9
const (
	RPCCall  = 0
	RPCReply = 1
)

// RPC Reply States
//
// Reference: RFC 5531 Section 9
const (
	// RPCMsgAccepted indicates the server recognised the call and attempted
	// to run it. The accept_stat says how that went.
	RPCMsgAccepted = 0

	// RPCMsgDenied indicates the call was rejected before dispatch, either
	// because of an RPC version mismatch or an authentication failure.
	RPCMsgDenied = 1
)

// RPC Accept Status
//
// Reference: RFC 5531 Section 9
const (
	// RPCSuccess indicates successful RPC execution.
	RPCSuccess = 0

	// RPCProgUnavail indicates the program is not served here.
	RPCProgUnavail = 1

	// RPCProgMismatch indicates the program exists but not in the requested
	// version. The reply carries the lowest and highest supported versions.
	RPCProgMismatch = 2

	// RPCProcUnavail indicates the procedure number is not implemented.
	RPCProcUnavail = 3

	// RPCGarbageArgs indicates the procedure arguments could not be decoded.
	RPCGarbageArgs = 4

	// RPCSystemErr indicates a server-side failure unrelated to the
	// arguments, such as rate limiting or an unexpected handler error.
	RPCSystemErr = 5
)

// RPC Reject Status (MSG_DENIED)
const (
	RPCMismatch  = 0
	RPCAuthError = 1
)

// Authentication flavors.
//
// Reference: RFC 5531 Section 8
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// Record marking.
//
// Reference: RFC 5531 Section 11
const (
	// LastFragmentBit marks the final fragment of a TCP record.
	LastFragmentBit = 0x80000000

	// MaxRecordSize bounds a reassembled TCP record. The largest legitimate
	// request is a WRITE carrying MaxData bytes plus headers.
	MaxRecordSize = 1<<20 + 4096

	// MaxUDPPacket is the largest datagram accepted or produced on UDP.
	MaxUDPPacket = 65507

	// ReplyHeaderSize is the length of an accepted reply header with an
	// AUTH_NULL verifier: xid, msg_type, reply_stat, verifier flavor and
	// length, accept_stat.
	ReplyHeaderSize = 6 * 4
)

// AuthFlavorName returns a human readable flavor name for logging.
func AuthFlavorName(flavor uint32) string {
	switch flavor {
	case AuthNull:
		return "AUTH_NULL"
	case AuthUnix:
		return "AUTH_UNIX"
	case AuthShort:
		return "AUTH_SHORT"
	case AuthDES:
		return "AUTH_DES"
	default:
		return "UNKNOWN"
	}
}
