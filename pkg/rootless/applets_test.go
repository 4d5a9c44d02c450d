package rootless

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	p := Payload{
		Mounts:     []MountSpec{{Kind: MountProc, Target: "/proc"}},
		NextApplet: "init",
		NextArgv:   []string{"--holdpkg"},
	}

	require.NoError(t, WritePayload(&buf, p))

	got, err := ReadPayload(&buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRmRfRemovesTreeWithNoExecBitDir(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "blocked")
	require.NoError(t, os.Mkdir(blocked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "f"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(blocked, 0o600))

	require.NoError(t, RmRf(root))

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestRmRfToleratesMissingPath(t *testing.T) {
	assert.NoError(t, RmRf(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestWriteAndReadPkgbuildPaths(t *testing.T) {
	var buf bytes.Buffer

	paths := []string{"/sources/PKGBUILD/a", "/sources/PKGBUILD/b"}
	require.NoError(t, WritePkgbuildPaths(&buf, paths))

	got, err := ReadPkgbuildPaths(&buf)
	require.NoError(t, err)
	assert.Equal(t, paths, got)
}
