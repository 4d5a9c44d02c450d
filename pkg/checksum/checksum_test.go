package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumAndVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(path, []byte("hello arb"), 0o600))

	for _, kind := range Kinds {
		digest, err := SumFile(kind, path)
		require.NoError(t, err, "kind=%s", kind)
		assert.NotEmpty(t, digest, "kind=%s", kind)

		ok, err := Verify(path, kind, digest)
		require.NoError(t, err)
		assert.True(t, ok, "kind=%s should verify", kind)
	}
}

func TestVerifyMismatchDeletesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(path, []byte("hello arb"), 0o600))

	ok, err := Verify(path, SHA256, []byte("not the right digest"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCksumMatchesKnownVector(t *testing.T) {
	// cksum(1) on an empty input reports "4294967295 0".
	digest, err := sumCksum(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, "4294967295", CksumDecimal(digest))
}

func TestHexFixedWidthCRC32(t *testing.T) {
	digest, err := sumCksum(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.Len(t, Hex(CRC32, digest), 8)
}
