//go:build e2e

package e2e

import (
	"bytes"
	"crypto/rand"
	"os"
	"testing"
)

// runOnAllConfigs runs testFunc once per local configuration, each with
// its own server and mount.
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, config := range AllConfigurations() {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// runOnS3Configs runs testFunc against each S3-backed configuration, or
// skips when Localstack is not reachable.
func runOnS3Configs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	ls := dialLocalstack(t)
	if ls == nil {
		t.Skip("Localstack not available, skipping S3 tests")
	}
	defer ls.drop()

	for _, config := range S3Configurations() {
		t.Run(config.Name, func(t *testing.T) {
			ls.prepare(config)

			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// randomBytes returns n bytes of random data.
func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("Failed to generate data: %v", err)
	}
	return buf
}

// assertFileContent fails unless the file at path holds want.
func assertFileContent(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Content mismatch for %s: got %d bytes, want %d", path, len(got), len(want))
	}
}
