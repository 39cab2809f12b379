//go:build cgo

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCmd_AlreadyInstalled(t *testing.T) {
	setupCLI(t)
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	t.Setenv("ONNX_PATH", lib)

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Equal(t, "ONNX runtime already installed at: "+lib+"\nUse --force to re-download.\n", out)
}
