package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	nfsadapter "github.com/souravgh/unfs2go/pkg/adapter/nfs"
)

// loop is the single goroutine that touches protocol state. It returns
// when ctx is cancelled, a terminating signal arrives or the transport
// fails.
func (s *Server) loop(ctx context.Context, signals <-chan os.Signal, served <-chan error) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown requested: %v", context.Cause(ctx))
			return nil

		case err := <-served:
			if err != nil {
				logger.Error("Transport failed: %v", err)
				return fmt.Errorf("transport: %w", err)
			}
			return nil

		case sig := <-signals:
			if s.handleSignal(sig) {
				return nil
			}

		case req := <-s.requests:
			s.serve(ctx, req)

		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// serve dispatches one request and sends the reply. Failures are logged;
// the loop keeps going.
func (s *Server) serve(ctx context.Context, req *nfsadapter.Request) {
	maxReply := 0
	if req.Transport == "udp" {
		maxReply = rpc.MaxUDPPacket
	}
	reply, err := s.dispatcher.DispatchLimited(ctx, req.Message, req.ClientAddr, maxReply)
	if err != nil {
		logger.Debug("Dropping %s message from %s: %v", req.Transport, req.ClientAddr, err)
	}
	if reply == nil {
		return
	}
	if err := req.Reply(reply); err != nil {
		logger.Warn("Reply to %s over %s failed: %v", req.ClientAddr, req.Transport, err)
	}
}

// tick runs the periodic housekeeping.
func (s *Server) tick(now time.Time) {
	closed, err := s.files.CloseIdle(s.config.FDIdleTimeout)
	if err != nil {
		logger.Warn("Closing idle descriptors: %v", err)
	}
	if closed > 0 {
		logger.Debug("Closed %d idle descriptor(s)", closed)
	}

	if iv := s.config.CookieEpochInterval; iv > 0 && now.Sub(s.lastEpoch) >= iv {
		epoch := s.cookies.Advance()
		s.lastEpoch = now
		logger.Debug("READDIR cookie epoch advanced to %d", epoch)
	}

	if n := s.limiter.Prune(); n > 0 {
		logger.Debug("Pruned %d idle rate limit bucket(s)", n)
	}
}
