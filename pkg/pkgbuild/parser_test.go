package pkgbuild

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arch-repo-builder/arb/pkg/checksum"
)

const singlePackageRecord = `[PKGBUILD]
base:example
name:example
dep:glibc
makedep:git
provide:example-lib
source:example-1.0.tar.gz
sha256:abc123
b2:def456
pkgver_func:n

`

func fakeRunner(output string) ScriptRunner {
	return func(context.Context, string, []string) (string, error) {
		return output, nil
	}
}

func TestParseSinglePackage(t *testing.T) {
	entries, err := Parse(context.Background(), fakeRunner(singlePackageRecord), []string{"/sources/PKGBUILD/example"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	p := entries[0]
	assert.Equal(t, "example", p.Pkgbase)
	assert.Equal(t, []string{"glibc"}, p.Depends)
	assert.Equal(t, []string{"git"}, p.MakeDepends)
	assert.Equal(t, []string{"example-lib"}, p.Provides)
	require.Len(t, p.Sources, 1)
	assert.Equal(t, "abc123", p.Sources[0].Checksums[checksum.SHA256])
	assert.Equal(t, "def456", p.Sources[0].Checksums[checksum.Blake2b512])
	assert.False(t, p.HasPkgver)
}

const splitPackageRecord = `[PKGBUILD]
base:split-example
name:split-example
name:split-example-libs
dep_split-example-libs:glibc
provide_split-example-libs:libsplit.so
pkgver_func:y

`

func TestParseSplitPackageSections(t *testing.T) {
	entries, err := Parse(context.Background(), fakeRunner(splitPackageRecord), []string{"/sources/PKGBUILD/split-example"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	p := entries[0]
	assert.Equal(t, "split-example", p.Pkgbase)
	require.Len(t, p.Subpkgs, 1)
	assert.Equal(t, "split-example-libs", p.Subpkgs[0].Name)
	assert.Equal(t, []string{"glibc"}, p.Subpkgs[0].Depends)
	assert.Equal(t, []string{"libsplit.so"}, p.Subpkgs[0].Provides)
	assert.True(t, p.HasPkgver)
}

func TestParseFailsOnRecordCountMismatch(t *testing.T) {
	_, err := Parse(context.Background(), fakeRunner(singlePackageRecord),
		[]string{"/sources/PKGBUILD/example", "/sources/PKGBUILD/other"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "records")
}

func TestParseEmptyPathsReturnsNil(t *testing.T) {
	entries, err := Parse(context.Background(), fakeRunner(""), nil)
	require.NoError(t, err)
	assert.Nil(t, entries)
}
