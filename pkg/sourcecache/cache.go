package sourcecache

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/arch-repo-builder/arb/pkg/checksum"
	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/gitrepo"
	"github.com/arch-repo-builder/arb/pkg/workerpool"
)

const (
	defaultDomainCapacity = 10
	aurDomain             = "aur.archlinux.org"
	aurDomainCapacity     = 1
)

// Config carries the policy knobs cache_all accepts.
type Config struct {
	// Root is the sources/ directory.
	Root string
	// Identity names the PKGBUILD this call is fetching for; the cache
	// itself does not read it.
	Identity string
	// HoldGit skips a git source whose HEAD already peels to a commit.
	HoldGit bool
	// SkipInt treats any existing CachedFile as healthy without
	// recomputing its digest.
	SkipInt bool
	// Proxy is the fallback HTTP(S) proxy URL, used only after the
	// unproxied retry budget is exhausted.
	Proxy string
	// Gmr is the git-mirrorer URL prefix, tried before the real git URL.
	Gmr string
}

// Result summarizes one cache_all invocation.
type Result struct {
	Files []*CachedFile
	Repos []*gitrepo.Repo
	Errs  []error
}

// Cache fetches and content-addresses netfile and git sources, bounding
// concurrency per source domain.
type Cache struct {
	store *Store
	pools *workerpool.Registry
	repos *gitrepo.Manager
}

// New creates a Cache rooted at root's sources/ directory.
func New(root string) *Cache {
	return &Cache{
		store: NewStore(root),
		pools: workerpool.NewRegistry(defaultDomainCapacity, map[string]int{
			aurDomain: aurDomainCapacity,
		}),
		repos: gitrepo.NewManager(root),
	}
}

// CacheAll fetches every netfile and git source, isolating per-source
// failures: the overall call fails iff at least one source failed, but
// every other source still runs to completion.
func (c *Cache) CacheAll(
	ctx context.Context, netfiles []NetfileSource, gitSources []gitrepo.Source, cfg Config,
) *Result {
	result := &Result{}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, src := range netfiles {
		src := src

		wg.Add(1)

		pool := c.pools.PoolFor(src.Domain())

		err := pool.Submit(ctx, func(workCtx context.Context) error {
			defer wg.Done()

			files, err := c.cacheNetfile(workCtx, src, cfg)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Errs = append(result.Errs, err)

				return nil
			}

			result.Files = append(result.Files, files...)

			return nil
		})
		if err != nil {
			wg.Done()

			mu.Lock()
			result.Errs = append(result.Errs, err)
			mu.Unlock()
		}
	}

	for _, gs := range gitSources {
		gs := gs

		wg.Add(1)

		pool := c.pools.PoolFor(gs.Domain())

		err := pool.Submit(ctx, func(workCtx context.Context) error {
			defer wg.Done()

			repo, err := c.repos.Sync(workCtx, gs, gitrepo.SyncOptions{
				HoldGit: cfg.HoldGit,
				Mirror:  cfg.Gmr,
				Proxy:   cfg.Proxy,
			})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Errs = append(result.Errs, err)

				return nil
			}

			result.Repos = append(result.Repos, repo)

			return nil
		})
		if err != nil {
			wg.Done()

			mu.Lock()
			result.Errs = append(result.Errs, err)
			mu.Unlock()
		}
	}

	wg.Wait()

	return result
}

// cacheNetfile materializes every declared checksum kind's CachedFile
// for src, downloading once and hard-linking the rest from whichever
// target is already healthy.
func (c *Cache) cacheNetfile(ctx context.Context, src NetfileSource, cfg Config) ([]*CachedFile, error) {
	if src.Protocol == ProtocolFile {
		return nil, nil
	}

	var donor *CachedFile

	missing := make([]checksum.Kind, 0, len(src.Checksums))

	for kind, digest := range src.Checksums {
		cf, healthy, err := c.store.Healthy(kind, digest, cfg.SkipInt)
		if err != nil {
			return nil, err
		}

		if healthy {
			donor = cf

			continue
		}

		missing = append(missing, kind)
	}

	if donor == nil {
		var err error

		donor, missing, err = c.download(ctx, src, cfg)
		if err != nil {
			return nil, err
		}
	}

	files := []*CachedFile{donor}

	for _, kind := range missing {
		digest := src.Checksums[kind]

		cf, err := c.store.LinkFrom(donor, kind, digest)
		if err != nil {
			return nil, err
		}

		files = append(files, cf)
	}

	return files, nil
}

// download fetches src into a temp dir, verifies it against the first
// declared checksum kind to establish the donor, and reports the
// remaining kinds still needing a hard-link alias.
func (c *Cache) download(ctx context.Context, src NetfileSource, cfg Config) (*CachedFile, []checksum.Kind, error) {
	tmpDir, err := os.MkdirTemp("", "arb-fetch-*")
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.IO, "creating fetch temp dir")
	}
	defer os.RemoveAll(tmpDir)

	path, err := fetchToTemp(ctx, src, tmpDir, cfg.Proxy)
	if err != nil {
		return nil, nil, err
	}

	kinds := make([]checksum.Kind, 0, len(src.Checksums))
	for kind := range src.Checksums {
		kinds = append(kinds, kind)
	}

	if len(kinds) == 0 {
		return nil, nil, errs.Newf(errs.Integrity, "netfile source %s declares no checksum", src.URL)
	}

	first := kinds[0]

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.IO, "opening fetched file")
	}

	digest, err := checksum.Sum(first, f)

	closeErr := f.Close()
	if err != nil {
		return nil, nil, err
	}

	if closeErr != nil {
		return nil, nil, errs.Wrap(closeErr, errs.IO, "closing fetched file")
	}

	if !equalDigest(digest, src.Checksums[first]) {
		return nil, nil, errs.Newf(errs.Integrity, "checksum mismatch for %s", src.URL)
	}

	reopened, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.IO, "reopening fetched file")
	}
	defer reopened.Close()

	donor, err := c.store.WriteFrom(first, src.Checksums[first], reopened)
	if err != nil {
		return nil, nil, err
	}

	return donor, kinds[1:], nil
}

func equalDigest(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
