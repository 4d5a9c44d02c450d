package release

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSwapsTempDirAndLinksTrees(t *testing.T) {
	pkgsRoot := t.TempDir()
	temp := filepath.Join(pkgsRoot, "foo-abc123.temp")
	require.NoError(t, os.MkdirAll(temp, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "foo-1.0-1-x86_64.pkg.tar.zst"), []byte("pkg"), 0o644))

	require.NoError(t, Publish(pkgsRoot, "foo-abc123", temp, ""))

	canonical := filepath.Join(pkgsRoot, "foo-abc123")
	assert.DirExists(t, canonical)
	assert.NoDirExists(t, temp)

	for _, tree := range []string{"updated", "latest"} {
		link := filepath.Join(pkgsRoot, tree, "foo-1.0-1-x86_64.pkg.tar.zst")
		target, err := os.Readlink(link)
		require.NoError(t, err)
		assert.Contains(t, target, "foo-abc123")
	}
}

func TestPublishReplacesStaleCanonicalDir(t *testing.T) {
	pkgsRoot := t.TempDir()
	canonical := filepath.Join(pkgsRoot, "foo-abc123")
	require.NoError(t, os.MkdirAll(canonical, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(canonical, "stale.pkg.tar.zst"), []byte("old"), 0o644))

	temp := filepath.Join(pkgsRoot, "foo-abc123.temp")
	require.NoError(t, os.MkdirAll(temp, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "fresh.pkg.tar.zst"), []byte("new"), 0o644))

	require.NoError(t, Publish(pkgsRoot, "foo-abc123", temp, ""))

	entries, err := os.ReadDir(canonical)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh.pkg.tar.zst", entries[0].Name())
}

func TestPurgeUnusedKeepsListedAndReservedDirs(t *testing.T) {
	pkgsRoot := t.TempDir()
	for _, name := range []string{"keep-me", "drop-me", "updated", "latest", "cache"} {
		require.NoError(t, os.MkdirAll(filepath.Join(pkgsRoot, name), 0o755))
	}

	require.NoError(t, PurgeUnused(pkgsRoot, map[string]struct{}{"keep-me": {}}))

	assert.DirExists(t, filepath.Join(pkgsRoot, "keep-me"))
	assert.DirExists(t, filepath.Join(pkgsRoot, "updated"))
	assert.DirExists(t, filepath.Join(pkgsRoot, "latest"))
	assert.DirExists(t, filepath.Join(pkgsRoot, "cache"))
	assert.NoDirExists(t, filepath.Join(pkgsRoot, "drop-me"))
}

func TestPacmanConfRoundTripPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacman.conf")
	body := "[options]\nHoldPkg = pacman\nArchitecture = auto\n\n[core]\nInclude = /etc/pacman.d/mirrorlist\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	conf, err := ParsePacmanConf(path)
	require.NoError(t, err)
	require.Len(t, conf.Sections, 2)
	assert.Equal(t, "options", conf.Sections[0].Name)
	assert.Equal(t, "core", conf.Sections[1].Name)

	conf.InjectLocalRepo("/home/me/pkgs", "pkgs/cache")

	out := filepath.Join(t.TempDir(), "pacman.conf")
	require.NoError(t, conf.Write(out))

	reparsed, err := ParsePacmanConf(out)
	require.NoError(t, err)
	require.Len(t, reparsed.Sections, 3)
	assert.Equal(t, internalSection, reparsed.Sections[2].Name)
}

func TestParsePacmanConfRejectsValueBeforeSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacman.conf")
	require.NoError(t, os.WriteFile(path, []byte("HoldPkg = pacman\n"), 0o644))

	_, err := ParsePacmanConf(path)
	require.Error(t, err)
}
