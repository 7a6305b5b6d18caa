//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	nfsadapter "github.com/souravgh/unfs2go/pkg/adapter/nfs"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/souravgh/unfs2go/pkg/server"
)

// TestContext is one running server plus a kernel NFS mount of its only
// export.
type TestContext struct {
	T          *testing.T
	Config     *TestConfig
	Server     *server.Server
	Registry   *registry.Registry
	Backend    backend.Backend
	ExportPath string
	MountPath  string
	Port       int

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	runErr     error
	closeIndex func() error
	tempDirs   []string
	mounted    bool
}

// NewTestContext starts a server for config and mounts it.
func NewTestContext(t *testing.T, config *TestConfig) *TestContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TestContext{
		T:      t,
		Config: config,
		ctx:    ctx,
		cancel: cancel,
		Port:   findFreePort(t),
	}

	tc.startServer()
	tc.mountNFS()

	return tc
}

// startServer builds the backend and starts the server on one TCP port
// shared by NFS and MOUNT.
func (tc *TestContext) startServer() {
	tc.T.Helper()

	logger.SetLevel("ERROR")

	var err error
	tc.Backend, tc.ExportPath, err = tc.Config.CreateBackend(tc.ctx, tc)
	if err != nil {
		tc.T.Fatalf("Failed to create backend: %v", err)
	}

	index, closeIndex, err := tc.Config.CreateHandleIndex(tc)
	if err != nil {
		tc.T.Fatalf("Failed to create handle index: %v", err)
	}
	tc.closeIndex = closeIndex

	tc.Registry, err = registry.New([]registry.Export{{Path: tc.ExportPath}}, nil)
	if err != nil {
		tc.T.Fatalf("Failed to create registry: %v", err)
	}

	tc.Server, err = server.New(server.Config{
		NFS: nfsadapter.NFSConfig{
			BindAddress:     "127.0.0.1",
			NFSPort:         tc.Port,
			MountPort:       tc.Port,
			TCPOnly:         true,
			IdleTimeout:     5 * time.Minute,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}, server.Options{
		Backend:     tc.Backend,
		Registry:    tc.Registry,
		HandleIndex: index,
	})
	if err != nil {
		tc.T.Fatalf("Failed to create server: %v", err)
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		tc.runErr = tc.Server.Run(tc.ctx)
	}()

	tc.waitForServer()
}

// waitForServer waits for the server loop to reach the running state
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			tc.T.Fatal("Timeout waiting for server to start")
		case <-ticker.C:
			switch tc.Server.State() {
			case server.StateRunning:
				return
			case server.StateStopped:
				tc.wg.Wait()
				tc.T.Fatalf("Server stopped during startup: %v", tc.runErr)
			}
		}
	}
}

// mountOptions returns the mount(8) options for the shared NFS/MOUNT port.
func (tc *TestContext) mountOptions() string {
	opts := fmt.Sprintf("nfsvers=3,tcp,port=%d,mountport=%d,mountproto=tcp", tc.Port, tc.Port)
	switch runtime.GOOS {
	case "darwin":
		return opts + ",resvport"
	case "linux":
		return opts + ",nolock"
	}
	tc.T.Skipf("NFS mounts are not exercised on %s", runtime.GOOS)
	return ""
}

// mountNFS mounts the export on a fresh temporary directory. The client
// occasionally races the listener, so a failed mount is retried twice.
func (tc *TestContext) mountNFS() {
	tc.T.Helper()

	tc.MountPath = tc.CreateTempDir("unfsd-e2e-mount-*")
	args := []string{"-t", "nfs", "-o", tc.mountOptions(), "127.0.0.1:" + tc.ExportPath, tc.MountPath}

	var (
		out []byte
		err error
	)
	for attempt := 1; attempt <= 3; attempt++ {
		if out, err = exec.Command("mount", args...).CombinedOutput(); err == nil {
			tc.mounted = true
			return
		}
		tc.T.Logf("mount attempt %d: %v", attempt, err)
		time.Sleep(time.Second)
	}
	tc.T.Fatalf("mount %v: %v\n%s", args, err, out)
}

// Cleanup unmounts the export, drains the server, and removes temporary files
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	if tc.mounted {
		tc.unmountNFS()
	}

	if tc.cancel != nil {
		tc.cancel()
	}
	tc.wg.Wait()

	if tc.runErr != nil {
		tc.T.Logf("Server error: %v", tc.runErr)
	}
	if tc.closeIndex != nil {
		_ = tc.closeIndex()
	}

	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
}

// unmountNFS unmounts the export
func (tc *TestContext) unmountNFS() {
	tc.T.Helper()

	if tc.MountPath == "" {
		return
	}

	output, err := exec.Command("umount", tc.MountPath).CombinedOutput()
	if err != nil {
		tc.T.Logf("Failed to unmount NFS export: %v\nOutput: %s", err, string(output))
		_ = exec.Command("umount", "-f", tc.MountPath).Run()
	}

	tc.mounted = false
}

// Path returns the absolute path for a relative path within the mount
func (tc *TestContext) Path(relativePath string) string {
	return filepath.Join(tc.MountPath, relativePath)
}

// CreateTempDir creates a temporary directory and registers it for cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()

	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// GetConfig returns the test configuration
func (tc *TestContext) GetConfig() *TestConfig {
	return tc.Config
}

// GetPort returns the server port
func (tc *TestContext) GetPort() int {
	return tc.Port
}

// findFreePort asks the kernel for an unused loopback port.
func findFreePort(t *testing.T) int {
	t.Helper()

	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}
