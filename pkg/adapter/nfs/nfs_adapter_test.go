package nfs

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connMetrics struct {
	accepted atomic.Int32
	closed   atomic.Int32
	active   atomic.Int32
}

func (m *connMetrics) RecordRequest(string, string, string, time.Duration) {}
func (m *connMetrics) RecordBytesTransferred(string, int64)                {}
func (m *connMetrics) RecordRateLimited()                                  {}
func (m *connMetrics) SetActiveConnections(n int32)                        { m.active.Store(n) }
func (m *connMetrics) RecordConnectionAccepted()                           { m.accepted.Add(1) }
func (m *connMetrics) RecordConnectionClosed()                             { m.closed.Add(1) }

// testServer runs an adapter on loopback with ephemeral ports and a loop
// that answers every request through respond.
type testServer struct {
	adapter   *NFSAdapter
	metrics   *connMetrics
	served    chan error
	cancel    context.CancelFunc
	replyErrs chan error
}

func echo(msg []byte) []byte {
	return append([]byte("re:"), msg...)
}

func startServer(t *testing.T, config NFSConfig) *testServer {
	t.Helper()
	return startServerWith(t, config, echo)
}

func startServerWith(t *testing.T, config NFSConfig, respond func([]byte) []byte) *testServer {
	t.Helper()
	config.BindAddress = "127.0.0.1"

	requests := make(chan *Request, 16)
	m := &connMetrics{}
	a, err := New(config, requests, m)
	require.NoError(t, err)
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		adapter:   a,
		metrics:   m,
		served:    make(chan error, 1),
		cancel:    cancel,
		replyErrs: make(chan error, 16),
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-requests:
				ts.replyErrs <- req.Reply(respond(req.Message))
			}
		}
	}()
	go func() { ts.served <- a.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.served:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return ts
}

func (ts *testServer) addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func TestNewValidation(t *testing.T) {
	requests := make(chan *Request)

	_, err := New(NFSConfig{NFSPort: 70000}, requests, nil)
	assert.Error(t, err)

	_, err = New(NFSConfig{MaxConnections: -1}, requests, nil)
	assert.Error(t, err)

	_, err = New(NFSConfig{}, nil, nil)
	assert.Error(t, err)

	a, err := New(NFSConfig{}, requests, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, a.config.ShutdownTimeout)
	assert.Equal(t, 0, a.Port())
}

func TestUDPRoundTrip(t *testing.T) {
	ts := startServer(t, NFSConfig{})

	conn, err := net.Dial("udp", ts.addr(ts.adapter.Port()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("call"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "re:call", string(buf[:n]))
}

func TestTCPRoundTrip(t *testing.T) {
	ts := startServer(t, NFSConfig{})

	conn, err := net.Dial("tcp", ts.addr(ts.adapter.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	t.Run("single fragment", func(t *testing.T) {
		require.NoError(t, rpc.WriteRecord(conn, []byte("one")))
		reply, err := rpc.ReadRecord(conn, rpc.MaxRecordSize)
		require.NoError(t, err)
		assert.Equal(t, "re:one", string(reply))
	})

	t.Run("fragments are reassembled", func(t *testing.T) {
		frag := func(last bool, data string) []byte {
			h := uint32(len(data))
			if last {
				h |= rpc.LastFragmentBit
			}
			out := binary.BigEndian.AppendUint32(nil, h)
			return append(out, data...)
		}
		_, err := conn.Write(append(frag(false, "two-"), frag(true, "parts")...))
		require.NoError(t, err)

		reply, err := rpc.ReadRecord(conn, rpc.MaxRecordSize)
		require.NoError(t, err)
		assert.Equal(t, "re:two-parts", string(reply))
	})
}

func TestSharedEndpoint(t *testing.T) {
	ts := startServer(t, NFSConfig{TCPOnly: true})

	// Both ports are ephemeral and equal in the config, so one endpoint
	// serves both programs.
	assert.Equal(t, ts.adapter.Port(), ts.adapter.MountPort())
	assert.Len(t, ts.adapter.endpoints, 1)
	assert.Nil(t, ts.adapter.endpoints[0].udp)
	assert.False(t, ts.adapter.UDP())
}

func TestOversizedUDPReply(t *testing.T) {
	assert.Error(t, NewRequest(nil, "127.0.0.1:1", "udp", nil).Reply([]byte("x")))

	ts := startServerWith(t, NFSConfig{}, func([]byte) []byte {
		return make([]byte, rpc.MaxUDPPacket+1)
	})

	conn, err := net.Dial("udp", ts.addr(ts.adapter.Port()))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("big"))
	require.NoError(t, err)

	select {
	case err := <-ts.replyErrs:
		assert.ErrorContains(t, err, "exceeds UDP limit")
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the loop")
	}
}

func TestConnectionTracking(t *testing.T) {
	ts := startServer(t, NFSConfig{})

	conn, err := net.Dial("tcp", ts.addr(ts.adapter.Port()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ts.adapter.GetActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), ts.metrics.accepted.Load())
	assert.Equal(t, int32(1), ts.metrics.active.Load())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return ts.adapter.GetActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), ts.metrics.closed.Load())
	assert.Equal(t, int32(0), ts.metrics.active.Load())
}

func TestConnectionLimiting(t *testing.T) {
	ts := startServer(t, NFSConfig{MaxConnections: 1})
	addr := ts.addr(ts.adapter.Port())

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return ts.adapter.GetActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The kernel completes the handshake, but the second connection is not
	// accepted while the first is open.
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), ts.adapter.GetActiveConnections())

	require.NoError(t, first.Close())
	require.NoError(t, second.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, rpc.WriteRecord(second, []byte("late")))
	reply, err := rpc.ReadRecord(second, rpc.MaxRecordSize)
	require.NoError(t, err)
	assert.Equal(t, "re:late", string(reply))
}

func TestShutdownInterruptsIdleConnections(t *testing.T) {
	ts := startServer(t, NFSConfig{ShutdownTimeout: 2 * time.Second})

	conn, err := net.Dial("tcp", ts.addr(ts.adapter.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return ts.adapter.GetActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	ts.cancel()

	select {
	case err := <-ts.served:
		assert.NoError(t, err)
		ts.served <- nil
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Less(t, time.Since(start), 2*time.Second, "idle reader should not hold up shutdown")
	assert.Equal(t, int32(0), ts.adapter.GetActiveConnections())

	// The client sees the connection closed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	ts := startServer(t, NFSConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- ts.adapter.Stop(ctx) }()
	}
	for i := 0; i < 3; i++ {
		assert.NoError(t, <-errs)
	}

	// Sockets are closed.
	_, err := net.DialTimeout("tcp", ts.addr(ts.adapter.Port()), 200*time.Millisecond)
	assert.Error(t, err)
}
