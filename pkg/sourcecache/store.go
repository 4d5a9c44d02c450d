package sourcecache

import (
	"io"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/arch-repo-builder/arb/pkg/checksum"
	"github.com/arch-repo-builder/arb/pkg/errs"
)

// CachedFile is the content-addressed object backing one checksum kind
// of one source: sources/file-<kind>/<hex(checksum)>.
type CachedFile struct {
	Kind   checksum.Kind
	Digest []byte
	Path   string
}

// Store roots the content-addressed file cache at sources/file-<kind>/.
type Store struct {
	root string
}

// NewStore roots a Store at the given sources directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// PathFor returns the deterministic path for a given kind/digest pair,
// without checking whether it exists.
func (s *Store) PathFor(kind checksum.Kind, digest []byte) string {
	return filepath.Join(s.root, "file-"+string(kind), checksum.Hex(kind, digest))
}

// Healthy reports whether the CachedFile for kind/digest exists and
// verifies, deleting it if it exists but is corrupt.
func (s *Store) Healthy(kind checksum.Kind, digest []byte, skipInt bool) (*CachedFile, bool, error) {
	path := s.PathFor(kind, digest)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, errs.Wrap(err, errs.IO, "statting cached file")
	}

	if skipInt {
		return &CachedFile{Kind: kind, Digest: digest, Path: path}, true, nil
	}

	ok, err := checksum.Verify(path, kind, digest)
	if err != nil {
		return nil, false, err
	}

	if !ok {
		return nil, false, nil
	}

	return &CachedFile{Kind: kind, Digest: digest, Path: path}, true, nil
}

// LinkFrom materializes dst by hard-linking from donor, falling back to
// a byte copy if the link fails (e.g. cross-device).
func (s *Store) LinkFrom(donor *CachedFile, kind checksum.Kind, digest []byte) (*CachedFile, error) {
	dst := s.PathFor(kind, digest)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, errs.Wrap(err, errs.IO, "creating cached file directory")
	}

	if err := os.Link(donor.Path, dst); err == nil {
		return &CachedFile{Kind: kind, Digest: digest, Path: dst}, nil
	}

	if err := copyFile(donor.Path, dst); err != nil {
		return nil, errs.Wrap(err, errs.IO, "copying cached file as hard-link fallback")
	}

	return &CachedFile{Kind: kind, Digest: digest, Path: dst}, nil
}

func copyFile(src, dst string) error {
	return copy.Copy(src, dst)
}

// WriteFrom streams r into the CachedFile path for kind/digest,
// creating parent directories as needed.
func (s *Store) WriteFrom(kind checksum.Kind, digest []byte, r io.Reader) (*CachedFile, error) {
	dst := s.PathFor(kind, digest)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, errs.Wrap(err, errs.IO, "creating cached file directory")
	}

	f, err := os.Create(dst) //nolint:gosec // dst is derived from a verified checksum hex digest
	if err != nil {
		return nil, errs.Wrap(err, errs.IO, "creating cached file")
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()

		return nil, errs.Wrap(err, errs.IO, "writing cached file")
	}

	if err := f.Close(); err != nil {
		return nil, errs.Wrap(err, errs.IO, "closing cached file")
	}

	return &CachedFile{Kind: kind, Digest: digest, Path: dst}, nil
}
