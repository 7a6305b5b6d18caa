package server

import (
	"os"
	"os/signal"

	"github.com/souravgh/unfs2go/internal/logger"
	"golang.org/x/sys/unix"
)

// notifySignals subscribes to the operator signals. The returned function
// unsubscribes.
func notifySignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGHUP, unix.SIGUSR1, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT, unix.SIGSEGV)
	return ch, func() { signal.Stop(ch) }
}

// handleSignal acts on sig and reports whether the server should drain.
//
//   - SIGHUP reloads exports, identity mapping and rate limits
//   - SIGUSR1 logs the cache statistics
//   - SIGINT, SIGTERM, SIGQUIT and SIGSEGV terminate
func (s *Server) handleSignal(sig os.Signal) bool {
	switch sig {
	case unix.SIGHUP:
		s.reloadConfig()
		return false

	case unix.SIGUSR1:
		s.logStats()
		return false

	case unix.SIGSEGV:
		logger.Error("Segmentation fault signal received, shutting down")
		return true
	}

	logger.Info("Received %v, shutting down", sig)
	return true
}

func (s *Server) reloadConfig() {
	if s.reload == nil {
		logger.Info("SIGHUP: no configuration source to reload")
		return
	}

	cfg, err := s.reload()
	if err != nil {
		logger.Error("SIGHUP: reload failed, keeping current configuration: %v", err)
		return
	}

	if err := s.registry.Reload(cfg.Exports); err != nil {
		logger.Error("SIGHUP: invalid exports, keeping current table: %v", err)
		return
	}
	if s.limiter != nil {
		s.limiter.SetLimit(cfg.RateLimit, cfg.RateBurst)
	}
	logger.Info("SIGHUP: configuration reloaded (%d exports)", s.registry.Count())
}

// logStats writes the counters in the daemon's traditional stats format.
func (s *Server) logStats() {
	snap := s.Snapshot()
	if snap.FHAccesses > 0 {
		logger.Info("fh entries %d access %d hit %d miss %d",
			snap.FHEntries, snap.FHAccesses, snap.FHHits, snap.FHMisses)
	} else {
		logger.Info("fh cache unused")
	}
	logger.Info("open file descriptors: read %d, write %d", snap.FDRead, snap.FDWrite)
}
