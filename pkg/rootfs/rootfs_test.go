package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseRootCreatesSkeleton(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "base")

	base, err := NewBaseRoot(dir)
	require.NoError(t, err)

	for _, d := range []string{"proc", "sys", "dev/pts", "dev/shm", "etc/pacman.d", "var/lib/pacman"} {
		assert.DirExists(t, filepath.Join(base.Path, d))
	}
}

func TestBootstrapCreatesWorkdirSkeleton(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "base")

	base, err := NewBaseRoot(dir)
	require.NoError(t, err)

	_, err = base.Bootstrap("builder")
	require.NoError(t, err)

	for _, d := range []string{"build", "pkgs", "sources", "home/builder"} {
		assert.DirExists(t, filepath.Join(base.Path, d))
	}
}

func TestNewOverlayRootCreatesUpperWorkMerged(t *testing.T) {
	roots := t.TempDir()

	base, err := NewBaseRoot(filepath.Join(roots, "base"))
	require.NoError(t, err)

	overlay, err := NewOverlayRoot(roots, "example-pkg", base)
	require.NoError(t, err)

	for _, d := range []string{"upper", "work", "merged"} {
		assert.DirExists(t, filepath.Join(overlay.Root, d))
	}

	assert.Equal(t, filepath.Join(overlay.Root, "merged"), overlay.Merged())
}

func TestOverlayMountIncludesOverlayAndCanonicalSet(t *testing.T) {
	roots := t.TempDir()

	base, err := NewBaseRoot(filepath.Join(roots, "base"))
	require.NoError(t, err)

	overlay, err := NewOverlayRoot(roots, "example-pkg", base)
	require.NoError(t, err)

	payload := overlay.Mount(BindOptions{Username: "builder"})

	var sawOverlay, sawProc bool

	for _, m := range payload.Mounts {
		if m.Target == overlay.Merged() {
			sawOverlay = true
			assert.Contains(t, m.Data, "lowerdir="+base.Path)
		}

		if m.Target == filepath.Join(overlay.Merged(), "proc") {
			sawProc = true
		}
	}

	assert.True(t, sawOverlay)
	assert.True(t, sawProc)
}

func TestTeardownRemovesTreeWithNoMounts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "base")
	require.NoError(t, os.MkdirAll(root, 0o755))

	require.NoError(t, Teardown(root))

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}
