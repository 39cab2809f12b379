//go:build cgo

package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlatformArchive(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"linux", "amd64", "linux-x64", false},
		{"linux", "arm64", "linux-aarch64", false},
		{"darwin", "amd64", "osx-x86_64", false},
		{"darwin", "arm64", "osx-arm64", false},
		{"windows", "amd64", "", true},
		{"linux", "riscv64", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := getPlatformArchive(tt.goos, tt.goarch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedPlatform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetLibraryName(t *testing.T) {
	assert.Equal(t, "libonnxruntime.so", getLibraryName("linux"))
	assert.Equal(t, "libonnxruntime.dylib", getLibraryName("darwin"))
	assert.Equal(t, "libonnxruntime.so", getLibraryName("plan9"))
}

func TestBuildDownloadURL(t *testing.T) {
	assert.Equal(t,
		"https://github.com/microsoft/onnxruntime/releases/download/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz",
		buildDownloadURL("1.23.0", "linux-x64"))
}

type tarEntry struct {
	name     string
	body     string
	linkname string
}

func buildTarGz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644}
		if e.linkname != "" {
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.linkname
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.linkname == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func runtimeArchive(t *testing.T, version, platform string) []byte {
	lib := getLibraryName(runtime.GOOS)
	prefix := "onnxruntime-" + platform + "-" + version + "/"
	return buildTarGz(t, []tarEntry{
		{name: prefix + "README.md", body: "readme"},
		{name: prefix + "lib/" + lib + "." + version, body: "ELF"},
		{name: prefix + "lib/" + lib, linkname: lib + "." + version},
		{name: prefix + "lib/escape.so", linkname: "../../etc/passwd"},
	})
}

func TestExtractTarGz(t *testing.T) {
	dest := t.TempDir()
	lib := getLibraryName(runtime.GOOS)

	err := extractTarGz(bytes.NewReader(runtimeArchive(t, "1.23.0", "linux-x64")), dest, "1.23.0", "linux-x64")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dest, lib+".1.23.0"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(content))

	target, err := os.Readlink(filepath.Join(dest, lib))
	require.NoError(t, err)
	assert.Equal(t, lib+".1.23.0", target)

	_, err = os.Lstat(filepath.Join(dest, "escape.so"))
	assert.True(t, os.IsNotExist(err), "symlinks leaving the directory must be skipped")

	_, err = os.Stat(filepath.Join(dest, "README.md"))
	assert.True(t, os.IsNotExist(err), "only lib/ is extracted")
}

func TestExtractTarGz_MissingLibrary(t *testing.T) {
	archive := buildTarGz(t, []tarEntry{{name: "onnxruntime-linux-x64-1.23.0/lib/other.so", body: "x"}})
	err := extractTarGz(bytes.NewReader(archive), t.TempDir(), "1.23.0", "linux-x64")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in archive")
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	err := extractTarGz(bytes.NewReader([]byte("plain text")), t.TempDir(), "1.23.0", "linux-x64")
	assert.Error(t, err)
}

func TestDownloadONNXRuntimeTo(t *testing.T) {
	archive := runtimeArchive(t, "1.23.0", "linux-x64")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runtime.tgz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "lib")

	t.Run("success", func(t *testing.T) {
		err := downloadONNXRuntimeTo(context.Background(), srv.URL+"/runtime.tgz", "1.23.0", "linux-x64", dest)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dest, getLibraryName(runtime.GOOS)+".1.23.0"))
	})

	t.Run("not found", func(t *testing.T) {
		err := downloadONNXRuntimeTo(context.Background(), srv.URL+"/missing.tgz", "1.23.0", "linux-x64", dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestGetONNXLibraryPath_EnvOverride(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", GetONNXLibraryPath())
	assert.True(t, ONNXRuntimeExists())
}

func TestEnsureONNXRuntime_ExistingInstall(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")

	var exported string
	orig := setONNXPathEnv
	setONNXPathEnv = func(path string) error {
		exported = path
		return nil
	}
	t.Cleanup(func() { setONNXPathEnv = orig })

	path, err := EnsureONNXRuntime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", path)
	assert.Equal(t, path, exported)
}
