package metrics

import "time"

// NFSMetrics observes the RPC dispatcher and the transports.
//
// Implementations must be safe for concurrent use: request metrics are
// recorded from the server loop, connection metrics from the TCP acceptor.
type NFSMetrics interface {
	// RecordRequest records a completed call.
	//
	// Parameters:
	//   - program: "NFS" or "MOUNT"
	//   - procedure: procedure name (e.g. "LOOKUP", "MNT")
	//   - status: nfsstat3/mountstat3 name, or the RPC accept_stat name when
	//     the call never reached a handler
	//   - duration: time spent decoding, handling and encoding
	RecordRequest(program, procedure, status string, duration time.Duration)

	// RecordBytesTransferred records payload bytes moved by READ ("read")
	// and WRITE ("write").
	RecordBytesTransferred(direction string, bytes int64)

	// RecordRateLimited counts a call refused by the per-client limiter.
	RecordRateLimited()

	// SetActiveConnections updates the current TCP connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted TCP connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed TCP connections counter.
	RecordConnectionClosed()
}

// NewNoopNFSMetrics returns an NFSMetrics that records nothing.
func NewNoopNFSMetrics() NFSMetrics {
	return noopNFSMetrics{}
}

type noopNFSMetrics struct{}

func (noopNFSMetrics) RecordRequest(string, string, string, time.Duration) {}
func (noopNFSMetrics) RecordBytesTransferred(string, int64)                 {}
func (noopNFSMetrics) RecordRateLimited()                                   {}
func (noopNFSMetrics) SetActiveConnections(int32)                           {}
func (noopNFSMetrics) RecordConnectionAccepted()                            {}
func (noopNFSMetrics) RecordConnectionClosed()                              {}
