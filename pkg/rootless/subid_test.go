package rootless

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSubid(t *testing.T, lines string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "subuid")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	return path
}

func TestReadSubidRangeAcceptsWideRange(t *testing.T) {
	u, err := user.Current()
	require.NoError(t, err)

	path := writeSubid(t, u.Username+":100000:65536\n")

	r, err := ReadSubidRange(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(100000), r.Start)
	assert.Equal(t, uint32(65536), r.Count)
}

func TestReadSubidRangeRejectsNarrowRange(t *testing.T) {
	u, err := user.Current()
	require.NoError(t, err)

	path := writeSubid(t, u.Username+":100000:1000\n")

	_, err = ReadSubidRange(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1000")
}

func TestReadSubidRangeMissingUser(t *testing.T) {
	path := writeSubid(t, "someoneelse:100000:65536\n")

	_, err := ReadSubidRange(path)
	require.Error(t, err)
}
