package pkgbuild

import "strings"

// SourceKind is the transport class a declared source falls into, per
// spec.md §3's Source definition.
type SourceKind string

const (
	KindLocal SourceKind = "local"
	KindFile  SourceKind = "file"
	KindFTP   SourceKind = "ftp"
	KindHTTP  SourceKind = "http"
	KindHTTPS SourceKind = "https"
	KindRsync SourceKind = "rsync"
	KindSCP   SourceKind = "scp"
	KindGit   SourceKind = "git"
	KindOther SourceKind = "other" // bzr/fossil/hg/svn: dropped with a warning
)

var vcsPrefixes = map[string]SourceKind{
	"git":    KindGit,
	"bzr":    KindOther,
	"fossil": KindOther,
	"hg":     KindOther,
	"svn":    KindOther,
}

// Classify parses a makepkg source[] entry of the form
// "[name::][proto+]url" and returns the logical name, transport kind,
// and bare URL (the name:: prefix and proto+ tag stripped).
func Classify(raw string) (name string, kind SourceKind, url string) {
	rest := raw

	if before, after, ok := strings.Cut(rest, "::"); ok {
		name = before
		rest = after
	}

	if proto, after, ok := strings.Cut(rest, "+"); ok {
		if k, isVCS := vcsPrefixes[proto]; isVCS {
			kind = k
			rest = after

			if name == "" {
				name = baseName(rest)
			}

			return name, kind, rest
		}
	}

	if name == "" {
		name = baseName(rest)
	}

	switch {
	case strings.HasPrefix(rest, "https://"):
		kind = KindHTTPS
	case strings.HasPrefix(rest, "http://"):
		kind = KindHTTP
	case strings.HasPrefix(rest, "ftp://"):
		kind = KindFTP
	case strings.HasPrefix(rest, "rsync://"):
		kind = KindRsync
	case strings.HasPrefix(rest, "scp://"):
		kind = KindSCP
	case strings.HasPrefix(rest, "file://"):
		kind = KindFile
	case strings.Contains(rest, "://"):
		kind = KindOther
	default:
		kind = KindLocal
	}

	return name, kind, rest
}

func baseName(url string) string {
	if i := strings.LastIndexByte(url, '/'); i != -1 {
		return url[i+1:]
	}

	return url
}
