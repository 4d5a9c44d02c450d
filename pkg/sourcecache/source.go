// Package sourcecache fetches and content-addresses the netfile and git
// sources a Pkgbuild declares. It generalizes the teacher's single-path
// download helpers into a multi-target, cross-hash-aliased file store
// with per-domain bounded concurrency.
package sourcecache

import (
	"net/url"
	"strings"

	"github.com/arch-repo-builder/arb/pkg/checksum"
)

// Protocol is a source's transport kind.
type Protocol string

const (
	ProtocolFile  Protocol = "file"
	ProtocolFTP   Protocol = "ftp"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolRsync Protocol = "rsync"
	ProtocolSCP   Protocol = "scp"
)

// NetfileSource is a non-VCS source declared by a Pkgbuild.
type NetfileSource struct {
	// Name is the logical filename inside the build's srcdir.
	Name string
	// Protocol is the transport used to fetch URL.
	Protocol Protocol
	// URL is the fully qualified source location.
	URL string
	// Checksums holds every checksum kind the PKGBUILD declared for
	// this source, keyed by kind.
	Checksums map[checksum.Kind][]byte
}

// Domain returns the host portion of the source URL, used to bucket
// fetches into the per-domain worker pool.
func (s NetfileSource) Domain() string {
	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" {
		return "local"
	}

	return strings.ToLower(u.Hostname())
}

// HasChecksum reports whether the source declares at least one
// checksum, required for anything routed through the cache.
func (s NetfileSource) HasChecksum() bool {
	return len(s.Checksums) > 0
}
