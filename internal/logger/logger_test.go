package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	SetFormat("text")
	defer SetLevel("INFO")

	SetLevel("warn")
	Info("dropped %d", 1)
	Warn("kept %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "dropped 1")
	assert.Contains(t, out, "kept 2")
	assert.Equal(t, LevelWarn, GetLevel())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	SetFormat("json")
	defer SetFormat("text")
	SetLevel("DEBUG")
	defer SetLevel("INFO")

	Debug("handle=%x client=%s", []byte{0xab}, "127.0.0.1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "handle=ab client=127.0.0.1", line["msg"])
	assert.Equal(t, "debug", line["level"])
}

func TestUnknownLevelIsIgnored(t *testing.T) {
	SetLevel("ERROR")
	SetLevel("verbose")
	assert.Equal(t, LevelError, GetLevel())
	SetLevel("INFO")
}
