// Package alpm models the ALPM sync-database records and dependency
// resolution the teacher's pkg/pacman emits in reverse: where pacman.go
// renders repo-add-style metadata for output, this package parses the
// same "desc" record format for input, and resolves PKGBUILD dependency
// tokens against it.
package alpm

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

var alpmLog = logger.WithComponent("alpm")

// Package is one parsed %NAME%-delimited record from a sync DB "desc" file.
type Package struct {
	Name      string
	Version   string
	Provides  []string
	Base64Sig string
	SHA256    string
	MD5Sum    string
	BuildDate string
}

// DB is one open sync repository: an ordered set of Packages plus a
// name and provides index for fast lookup.
type DB struct {
	Repo      string
	byName    map[string]*Package
	byProvide map[string][]*Package
	order     []*Package
}

// ParseDB parses a sync DB's concatenated desc records (as extracted
// from the repo's tarball) into a DB keyed by repo.
func ParseDB(repo string, r io.Reader) (*DB, error) {
	db := &DB{
		Repo:      repo,
		byName:    map[string]*Package{},
		byProvide: map[string][]*Package{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		cur   *Package
		field string
	)

	flush := func() {
		if cur == nil || cur.Name == "" {
			return
		}

		db.byName[cur.Name] = cur
		db.order = append(db.order, cur)

		for _, p := range cur.Provides {
			provideName, _, _ := strings.Cut(p, "=")
			db.byProvide[provideName] = append(db.byProvide[provideName], cur)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%"):
			field = strings.ToUpper(strings.Trim(line, "%"))

			if field == "NAME" {
				flush()
				cur = &Package{}
			}
		case line == "":
			field = ""
		case cur != nil:
			switch field {
			case "NAME":
				cur.Name = line
			case "VERSION":
				cur.Version = line
			case "PROVIDES":
				cur.Provides = append(cur.Provides, line)
			case "BASE64_SIG", "PGPSIG":
				cur.Base64Sig = line
			case "SHA256SUM":
				cur.SHA256 = line
			case "MD5SUM":
				cur.MD5Sum = line
			case "BUILDDATE":
				cur.BuildDate = line
			}
		}
	}

	flush()

	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(err, errs.IO, "scanning sync db desc records")
	}

	return db, nil
}

// Pkg returns the package named exactly name, or nil.
func (db *DB) Pkg(name string) *Package {
	return db.byName[name]
}

// FindSatisfier returns the first package providing token (by name
// match first, then provides match), or nil if none satisfies it.
func (db *DB) FindSatisfier(token string) *Package {
	name, _, _ := strings.Cut(token, ">=")
	name, _, _ = strings.Cut(name, "=")
	name, _, _ = strings.Cut(name, "<")
	name = strings.TrimSpace(name)

	if p := db.byName[name]; p != nil {
		return p
	}

	if ps := db.byProvide[name]; len(ps) > 0 {
		return ps[0]
	}

	return nil
}

// HashPolicy selects which of a Pkgbuild's dependency tokens feed its
// dephash, per spec.md §4.6.
type HashPolicy string

const (
	// Strict hashes deps ∪ makedeps.
	Strict HashPolicy = "strict"
	// Loose hashes deps only; makedeps still resolve into Needs.
	Loose HashPolicy = "loose"
	// None always hashes to zero.
	None HashPolicy = "none"
)

// Resolution is the outcome of resolving one Pkgbuild's dependency tokens.
type Resolution struct {
	Needs []string
	Hash  uint64
}

// Resolve queries dbs in declaration order for every token in deps and
// makedeps (exact match, then provides match), deduplicates the
// satisfying package names into sorted Needs, and computes the dephash
// per policy.
func Resolve(dbs []*DB, deps, makedeps []string, policy HashPolicy) (Resolution, error) {
	needSet := map[string]struct{}{}

	resolveAll := func(tokens []string) ([]string, error) {
		resolved := make([]string, 0, len(tokens))

		for _, token := range tokens {
			pkg, satisfiers := findAcrossDBs(dbs, token)

			if len(satisfiers) > 1 {
				names := make([]string, 0, len(satisfiers))
				for _, s := range satisfiers {
					names = append(names, s.Name)
				}

				return nil, errs.Newf(errs.Logic,
					"dependency token %q is ambiguous: satisfied by %s", token, strings.Join(names, ", "))
			}

			if pkg == nil {
				alpmLog.Warn("dependency token unsatisfied by any sync db", "token", token)

				continue
			}

			needSet[pkg.Name] = struct{}{}
			resolved = append(resolved, pkg.Name)
		}

		return resolved, nil
	}

	resolvedDeps, err := resolveAll(deps)
	if err != nil {
		return Resolution{}, err
	}

	resolvedMakedeps, err := resolveAll(makedeps)
	if err != nil {
		return Resolution{}, err
	}

	needs := make([]string, 0, len(needSet))
	for name := range needSet {
		needs = append(needs, name)
	}

	sort.Strings(needs)

	var hashInput []string

	switch policy {
	case Strict:
		hashInput = append(append([]string{}, resolvedDeps...), resolvedMakedeps...)
	case Loose:
		hashInput = resolvedDeps
	case None:
		hashInput = nil
	}

	return Resolution{Needs: needs, Hash: hashDeps(dbs, hashInput)}, nil
}

// findAcrossDBs queries dbs in order, returning the first satisfier and
// the full set of distinct-package satisfiers found (for ambiguity
// detection across repos with overlapping provides).
func findAcrossDBs(dbs []*DB, token string) (*Package, []*Package) {
	seen := map[string]*Package{}

	for _, db := range dbs {
		if pkg := db.FindSatisfier(token); pkg != nil {
			seen[pkg.Name] = pkg
		}
	}

	if len(seen) == 0 {
		return nil, nil
	}

	all := make([]*Package, 0, len(seen))
	for _, pkg := range seen {
		all = append(all, pkg)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return all[0], all
}

// hashDeps feeds a stable per-package record (base64 sig, else sha256,
// else md5, else name∥version∥build_date) into sha256 over the sorted
// token list and folds the digest into a uint64.
func hashDeps(dbs []*DB, names []string) uint64 {
	if len(names) == 0 {
		return 0
	}

	sorted := append([]string{}, names...)
	sort.Strings(sorted)

	h := sha256.New()

	for _, name := range sorted {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(recordFor(dbs, name)))
		h.Write([]byte{0})
	}

	sum := h.Sum(nil)

	return binary.BigEndian.Uint64(sum[:8])
}

func recordFor(dbs []*DB, name string) string {
	for _, db := range dbs {
		pkg := db.byName[name]
		if pkg == nil {
			continue
		}

		switch {
		case pkg.Base64Sig != "":
			return pkg.Base64Sig
		case pkg.SHA256 != "":
			return pkg.SHA256
		case pkg.MD5Sum != "":
			return pkg.MD5Sum
		default:
			return pkg.Name + "|" + pkg.Version + "|" + pkg.BuildDate
		}
	}

	return name
}
