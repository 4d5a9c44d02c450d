// Package checksum computes and verifies the eight checksum kinds a
// PKGBUILD source may declare, and derives the content-addressed path
// fragment the source cache stores each kind under.
package checksum

import (
	"crypto/md5"  //nolint:gosec // one of the declared PKGBUILD checksum kinds, not used for security
	"crypto/sha1" //nolint:gosec // same: PKGBUILD sha1sum compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// Kind is one of the eight checksum algorithms a PKGBUILD source may
// declare. The string value doubles as the cache directory suffix
// (sources/file-<kind>/<hex>).
type Kind string

const (
	CRC32      Kind = "crc32"
	MD5        Kind = "md5"
	SHA1       Kind = "sha1"
	SHA224     Kind = "sha224"
	SHA256     Kind = "sha256"
	SHA384     Kind = "sha384"
	SHA512     Kind = "sha512"
	Blake2b512 Kind = "b2"
)

// Kinds lists every supported kind in the order a PKGBUILD record
// presents them.
var Kinds = []Kind{CRC32, MD5, SHA1, SHA224, SHA256, SHA384, SHA512, Blake2b512}

// bufferSize is the minimum streaming buffer the spec requires.
const bufferSize = 1 << 20 // 1 MiB

// newHash returns a fresh hash.Hash for every kind except CRC32, which
// uses the Unix cksum variant implemented below rather than hash.Hash32.
func newHash(kind Kind) (hash.Hash, error) {
	switch kind {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case Blake2b512:
		h, err := blake2b.New512(nil)
		if err != nil {
			return nil, errs.Wrap(err, errs.Logic, "constructing blake2b-512 hash")
		}

		return h, nil
	case CRC32:
		return nil, errs.New(errs.Logic, "crc32 is computed via SumCksum, not newHash")
	default:
		return nil, errs.Newf(errs.Config, "unknown checksum kind %q", kind)
	}
}

// Sum streams r through the given checksum kind using a fixed ≥1MiB
// buffer and returns the raw digest bytes.
func Sum(kind Kind, r io.Reader) ([]byte, error) {
	if kind == CRC32 {
		return sumCksum(r)
	}

	h, err := newHash(kind)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return nil, errs.Wrap(err, errs.IO, "streaming checksum input")
	}

	return h.Sum(nil), nil
}

// SumFile opens path and computes its digest under the given kind.
func SumFile(kind Kind, path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator/PKGBUILD supplied, not request-controlled
	if err != nil {
		return nil, errs.Wrap(err, errs.IO, "opening file for checksum")
	}
	defer f.Close()

	return Sum(kind, f)
}

// Hex renders digest as lowercase hex, fixed-width per kind. CRC32 uses
// an 8-hex-digit big-endian form to match its %08x path convention.
func Hex(kind Kind, digest []byte) string {
	if kind == CRC32 && len(digest) == 4 {
		return fmt.Sprintf("%08x", crc32BytesToUint(digest))
	}

	return hex.EncodeToString(digest)
}

// CksumDecimal renders a CRC32 digest in the decimal string form the
// PKGBUILD extractor and cksum(1) itself use for text I/O.
func CksumDecimal(digest []byte) string {
	return strconv.FormatUint(uint64(crc32BytesToUint(digest)), 10)
}

// Verify recomputes path's digest under kind and compares it to
// expected. On mismatch it deletes path (an unhealthy CachedFile is
// never left in the store) and returns false.
func Verify(path string, kind Kind, expected []byte) (bool, error) {
	actual, err := SumFile(kind, path)
	if err != nil {
		return false, err
	}

	if constantTimeEqual(actual, expected) {
		return true, nil
	}

	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return false, errs.Wrap(rmErr, errs.IO, "removing unhealthy cached file")
	}

	return false, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	diff := byte(0)
	for i := range a {
		diff |= a[i] ^ b[i]
	}

	return diff == 0
}

func crc32BytesToUint(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
