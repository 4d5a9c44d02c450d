package sourcecache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arch-repo-builder/arb/pkg/checksum"
)

func TestStoreWriteFromAndHealthy(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	payload := []byte("tarball contents")
	digest, err := checksum.Sum(checksum.SHA256, bytes.NewReader(payload))
	require.NoError(t, err)

	cf, err := store.WriteFrom(checksum.SHA256, digest, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.FileExists(t, cf.Path)

	found, healthy, err := store.Healthy(checksum.SHA256, digest, false)
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.Equal(t, cf.Path, found.Path)
}

func TestStoreLinkFromAliasesAcrossKinds(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	payload := []byte("tarball contents")
	sha256Digest, err := checksum.Sum(checksum.SHA256, bytes.NewReader(payload))
	require.NoError(t, err)

	donor, err := store.WriteFrom(checksum.SHA256, sha256Digest, bytes.NewReader(payload))
	require.NoError(t, err)

	md5Digest, err := checksum.Sum(checksum.MD5, bytes.NewReader(payload))
	require.NoError(t, err)

	aliased, err := store.LinkFrom(donor, checksum.MD5, md5Digest)
	require.NoError(t, err)
	assert.FileExists(t, aliased.Path)

	donorInfo, err := os.Stat(donor.Path)
	require.NoError(t, err)

	aliasedInfo, err := os.Stat(aliased.Path)
	require.NoError(t, err)

	assert.True(t, os.SameFile(donorInfo, aliasedInfo), "expected hard-link, got distinct inodes")
}

func TestStorePathForUsesKindDirectory(t *testing.T) {
	store := NewStore("/sources")
	path := store.PathFor(checksum.Blake2b512, []byte{0xAB, 0xCD})
	assert.Equal(t, filepath.Join("/sources", "file-b2", "abcd"), path)
}
