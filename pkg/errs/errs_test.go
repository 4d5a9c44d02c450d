package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	e := New(Integrity, "checksum mismatch")
	assert.Equal(t, "integrity: checksum mismatch", e.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(cause, IO, "writing cache file")
	require.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "disk full")
}

func TestIsComparesByKind(t *testing.T) {
	a := New(Mount, "umount failed")
	b := New(Mount, "mount failed")
	c := New(Logic, "cycle detected")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestChildErrorCarriesPidAndExitCode(t *testing.T) {
	e := ChildError("makepkg", 4242, 1, nil)
	assert.Equal(t, Child, e.Kind)
	assert.Equal(t, 4242, e.PID)
	assert.Equal(t, 1, e.ExitCode)
}
