package config

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

func TestCreateBackend_Memory(t *testing.T) {
	cfg := &BackendConfig{
		Type: "memory",
		Memory: map[string]any{
			"dirs":           "/a,/b",
			"capacity_bytes": "4096",
		},
	}

	be, err := CreateBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create memory backend: %v", err)
	}
	defer func() { _ = be.Shutdown() }()

	for _, dir := range []string{"/a", "/b"} {
		if _, err := be.Lstat(dir); err != nil {
			t.Errorf("Expected %s to exist: %v", dir, err)
		}
	}
}

func TestCreateBackend_Local(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("local backend needs linux")
	}

	be, err := CreateBackend(context.Background(), &BackendConfig{
		Type:  "local",
		Local: map[string]any{"generations": "false"},
	})
	if err != nil {
		t.Fatalf("Failed to create local backend: %v", err)
	}
	_ = be.Shutdown()
}

func TestCreateBackend_UnknownType(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{Type: "ftp"})
	if err == nil || !strings.Contains(err.Error(), "unknown backend type") {
		t.Fatalf("Expected unknown backend type error, got %v", err)
	}
}

func TestCreateBackend_S3RequiresBucket(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{
		Type: "s3",
		S3:   map[string]any{"region": "us-east-1"},
	})
	if err == nil || !strings.Contains(err.Error(), "bucket is required") {
		t.Fatalf("Expected bucket error, got %v", err)
	}
}

func TestDecodeOptions_RejectsWrongType(t *testing.T) {
	var out struct {
		Dirs []string `mapstructure:"dirs"`
	}
	if err := decodeOptions(map[string]any{"dirs": map[string]any{"x": 1}}, &out); err == nil {
		t.Fatal("Expected decode error")
	}
}
