package alpm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDB = `%NAME%
zlib
%VERSION%
1.3-1
%SHA256SUM%
deadbeef

%NAME%
libfoo
%VERSION%
2.0-1
%PROVIDES%
foo=2.0-1
%MD5SUM%
cafebabe

`

func TestParseDBAndExactMatch(t *testing.T) {
	db, err := ParseDB("core", strings.NewReader(sampleDB))
	require.NoError(t, err)

	pkg := db.Pkg("zlib")
	require.NotNil(t, pkg)
	assert.Equal(t, "1.3-1", pkg.Version)
}

func TestFindSatisfierByProvides(t *testing.T) {
	db, err := ParseDB("core", strings.NewReader(sampleDB))
	require.NoError(t, err)

	pkg := db.FindSatisfier("foo")
	require.NotNil(t, pkg)
	assert.Equal(t, "libfoo", pkg.Name)
}

func TestResolveDetectsAmbiguousProvides(t *testing.T) {
	dbA, err := ParseDB("a", strings.NewReader("%NAME%\nx\n%VERSION%\n1-1\n%PROVIDES%\nfoo\n\n"))
	require.NoError(t, err)

	dbB, err := ParseDB("b", strings.NewReader("%NAME%\ny\n%VERSION%\n1-1\n%PROVIDES%\nfoo\n\n"))
	require.NoError(t, err)

	_, err = Resolve([]*DB{dbA, dbB}, []string{"foo"}, nil, Strict)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestResolveHashPolicies(t *testing.T) {
	db, err := ParseDB("core", strings.NewReader(sampleDB))
	require.NoError(t, err)

	resStrict, err := Resolve([]*DB{db}, []string{"zlib"}, []string{"foo"}, Strict)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zlib", "libfoo"}, resStrict.Needs)
	assert.NotZero(t, resStrict.Hash)

	resLoose, err := Resolve([]*DB{db}, []string{"zlib"}, []string{"foo"}, Loose)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zlib", "libfoo"}, resLoose.Needs)
	assert.NotEqual(t, resStrict.Hash, resLoose.Hash)

	resNone, err := Resolve([]*DB{db}, []string{"zlib"}, []string{"foo"}, None)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), resNone.Hash)
}
