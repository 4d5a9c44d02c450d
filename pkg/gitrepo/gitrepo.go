// Package gitrepo maintains a cache of bare git mirrors keyed by the
// 64-bit xxhash of their upstream URL, generalizing the teacher's
// single clone-on-demand pkg/git helper into a persistent mirror store
// with mirror-first fetch and branch/tag refspec narrowing.
package gitrepo

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	ggit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

var gitLog = logger.WithComponent("gitrepo")

// Source describes one git source a Pkgbuild declares.
type Source struct {
	// Name identifies a PKGBUILD's own repository ("sources/PKGBUILD/<name>")
	// rather than a content-addressed mirror; empty for ordinary sources.
	Name string
	URL  string
	// Branches narrows the default "all heads and tags" fetch to the
	// declared set; empty means mirror everything.
	Branches []string
}

// Domain returns the URL's host, used to bucket fetches into the
// per-domain worker pool the same way netfile sources are bucketed.
func (s Source) Domain() string {
	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" {
		return "local"
	}

	return strings.ToLower(u.Hostname())
}

// Repo is a handle to a synced bare mirror.
type Repo struct {
	Path string
	URL  string
}

// SyncOptions configures one Sync call.
type SyncOptions struct {
	HoldGit bool
	// Mirror is a gmr-style URL prefix tried before URL; empty to skip.
	Mirror string
	Proxy  string
}

// Manager roots the bare-repo cache at root's sources/git directory.
type Manager struct {
	root string
}

// NewManager roots a Manager at root (typically the sources/ directory).
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// CacheKey returns the 16-hex-digit xxhash identity for a mirror URL.
func CacheKey(rawURL string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(rawURL))
}

// pathFor returns the bare repo directory for src: a named PKGBUILD
// repo lives at sources/PKGBUILD/<name>, everything else is addressed
// by the xxhash of its URL at sources/git/<hex>.
func (m *Manager) pathFor(src Source) string {
	if src.Name != "" {
		return filepath.Join(m.root, "PKGBUILD", src.Name)
	}

	return filepath.Join(m.root, "git", CacheKey(src.URL))
}

// Sync opens (initializing if absent) the bare mirror for src and fetches
// it, narrowing refspecs to the declared branches, trying a mirror prefix
// first when configured, and setting local HEAD to the remote's HEAD.
func (m *Manager) Sync(ctx context.Context, src Source, opts SyncOptions) (*Repo, error) {
	path := m.pathFor(src)

	repo, created, err := openOrInit(path)
	if err != nil {
		return nil, err
	}

	if opts.HoldGit && !created && headPeelsToCommit(repo) {
		gitLog.Debug("holding git source, HEAD already peelable", "path", path)

		return &Repo{Path: path, URL: src.URL}, nil
	}

	remoteURL := src.URL
	if opts.Mirror != "" {
		mirrorURL, mErr := mirrorURLFor(opts.Mirror, src.URL)
		if mErr == nil {
			if fetchErr := fetch(ctx, repo, mirrorURL, src.Branches); fetchErr == nil {
				if err := syncHead(repo, remoteURL); err != nil {
					return nil, err
				}

				return &Repo{Path: path, URL: src.URL}, nil
			}

			gitLog.Warn("mirror fetch failed, falling back to origin", "mirror", mirrorURL, "url", src.URL)
		}
	}

	if err := fetch(ctx, repo, remoteURL, src.Branches); err != nil {
		return nil, errs.Wrapf(err, errs.IO, "fetching git source %s", src.URL)
	}

	if err := syncHead(repo, remoteURL); err != nil {
		return nil, err
	}

	return &Repo{Path: path, URL: src.URL}, nil
}

func openOrInit(path string) (*ggit.Repository, bool, error) {
	repo, err := ggit.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, errs.Wrap(err, errs.IO, "creating bare repo directory")
	}

	repo, err = ggit.PlainInit(path, true)
	if err != nil {
		return nil, false, errs.Wrap(err, errs.IO, "initializing bare repo")
	}

	return repo, true, nil
}

func headPeelsToCommit(repo *ggit.Repository) bool {
	head, err := repo.Head()
	if err != nil {
		return false
	}

	_, err = repo.CommitObject(head.Hash())

	return err == nil
}

func mirrorURLFor(prefix, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.Wrap(err, errs.Config, "parsing source URL for mirror prefix")
	}

	return strings.TrimRight(prefix, "/") + "/" + u.Host + u.Path, nil
}

// fetch runs a bare-mirror fetch against remoteURL, narrowing refspecs
// to the declared branches when non-empty.
func fetch(ctx context.Context, repo *ggit.Repository, remoteURL string, branches []string) error {
	remoteName := "origin"

	if _, err := repo.Remote(remoteName); err != nil {
		_, err := repo.CreateRemote(&config.RemoteConfig{
			Name: remoteName,
			URLs: []string{remoteURL},
		})
		if err != nil {
			return errs.Wrap(err, errs.IO, "creating origin remote")
		}
	}

	refSpecs := defaultRefSpecs(branches)

	err := repo.FetchContext(ctx, &ggit.FetchOptions{
		RemoteName: remoteName,
		RemoteURL:  remoteURL,
		RefSpecs:   refSpecs,
		Force:      true,
		Tags:       ggit.AllTags,
	})

	if err != nil && err != ggit.NoErrAlreadyUpToDate {
		return err
	}

	return nil
}

func defaultRefSpecs(branches []string) []config.RefSpec {
	if len(branches) == 0 {
		return []config.RefSpec{
			"+refs/heads/*:refs/heads/*",
			"+refs/tags/*:refs/tags/*",
		}
	}

	specs := make([]config.RefSpec, 0, len(branches))
	for _, b := range branches {
		specs = append(specs, config.RefSpec(
			fmt.Sprintf("+refs/heads/%s:refs/heads/%s", b, b)))
	}

	return specs
}

// syncHead sets the local bare repo's HEAD symref to match the remote's
// HEAD target after a successful fetch.
func syncHead(repo *ggit.Repository, remoteURL string) error {
	remoteRefs, err := listRemoteHead(repo, remoteURL)
	if err != nil {
		return errs.Wrap(err, errs.IO, "resolving remote HEAD")
	}

	if remoteRefs == "" {
		return nil
	}

	target := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.ReferenceName(remoteRefs))

	return repo.Storer.SetReference(target)
}

func listRemoteHead(repo *ggit.Repository, remoteURL string) (string, error) {
	remote := ggit.NewRemote(repo.Storer, &config.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})

	refs, err := remote.List(&ggit.ListOptions{})
	if err != nil {
		return "", err
	}

	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			return ref.Target().String(), nil
		}
	}

	return "", nil
}
