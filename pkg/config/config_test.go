package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "arb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadExpandsShorthandURLsAndDefaults(t *testing.T) {
	path := writeConfig(t, `
pkgbuilds:
  yay: AUR
  paru: GITHUB/Morganamilo/
  somecli: GITHUB/acme
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://aur.archlinux.org/yay.git", cfg.Pkgbuilds["yay"].URL)
	assert.Equal(t, "https://github.com/Morganamilo/paru.git", cfg.Pkgbuilds["paru"].URL)
	assert.Equal(t, "https://github.com/acme.git", cfg.Pkgbuilds["somecli"].URL)
	assert.Equal(t, []string{"base-devel"}, cfg.BasePkgs)
	assert.Equal(t, "/etc/pacman.conf", cfg.Paconf)
	assert.Equal(t, DephashNone, cfg.Dephash)
}

func TestLoadAppliesAliasKeys(t *testing.T) {
	path := writeConfig(t, `
lazyint: true
proxy_after: 3
home_binds: ["/home/me/.ssh"]
dephash_strategy: strict
pkgbuilds:
  foo:
    url: https://example.com/foo.git
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.SkipInt)
	assert.Equal(t, uint(3), cfg.LazyProxy)
	assert.Equal(t, []string{"/home/me/.ssh"}, cfg.HomeBinds)
	assert.Equal(t, DephashStrict, cfg.Dephash)
}

func TestLoadRejectsEmptyPkgbuilds(t *testing.T) {
	path := writeConfig(t, "holdpkg: true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PKGBUILDs")
}

func TestLoadRejectsInvalidDephash(t *testing.T) {
	path := writeConfig(t, `
dephash: bogus
pkgbuilds:
  foo: AUR
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestPkgbuildRecordForm(t *testing.T) {
	path := writeConfig(t, `
pkgbuilds:
  foo:
    url: https://example.com/foo.git
    branch: main
    deps: ["glibc"]
    home_binds: ["/home/me/.cache"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	foo := cfg.Pkgbuilds["foo"]
	assert.Equal(t, "main", foo.Branch)
	assert.Equal(t, []string{"glibc"}, foo.Deps)
	assert.Equal(t, []string{"/home/me/.cache"}, foo.HomeBinds)
}
