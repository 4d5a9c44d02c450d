package gitrepo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyIsSixteenHexDigits(t *testing.T) {
	key := CacheKey("https://example.com/pkg.git")
	assert.Len(t, key, 16)
}

func TestCacheKeyStableForSameURL(t *testing.T) {
	a := CacheKey("https://example.com/pkg.git")
	b := CacheKey("https://example.com/pkg.git")
	assert.Equal(t, a, b)
}

func TestPathForNamedPKGBUILDRepo(t *testing.T) {
	m := NewManager("/sources")
	path := m.pathFor(Source{Name: "example-pkgbase"})
	assert.Equal(t, filepath.Join("/sources", "PKGBUILD", "example-pkgbase"), path)
}

func TestPathForContentAddressedMirror(t *testing.T) {
	m := NewManager("/sources")
	src := Source{URL: "https://example.com/pkg.git"}
	path := m.pathFor(src)
	assert.Equal(t, filepath.Join("/sources", "git", CacheKey(src.URL)), path)
}

func TestDefaultRefSpecsNarrowsToBranches(t *testing.T) {
	specs := defaultRefSpecs([]string{"main", "release/1.0"})
	assert.Len(t, specs, 2)
	assert.Contains(t, specs[0].String(), "main")
}

func TestDefaultRefSpecsMirrorsAllWhenEmpty(t *testing.T) {
	specs := defaultRefSpecs(nil)
	assert.Len(t, specs, 2)
}

func TestMirrorURLForJoinsHostAndPath(t *testing.T) {
	mirrored, err := mirrorURLFor("https://gmr.example.com", "https://github.com/foo/bar.git")
	assert.NoError(t, err)
	assert.Equal(t, "https://gmr.example.com/github.com/foo/bar.git", mirrored)
}
