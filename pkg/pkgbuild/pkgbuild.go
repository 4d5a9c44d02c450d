// Package pkgbuild models one logical Arch package definition and the
// sub-package sections a PKGBUILD may declare, generalizing the
// teacher's multi-distro PKGBUILD struct (which carried deb/rpm/apk
// descriptor fields side by side with pacman ones) down to upstream
// Arch PKGBUILD semantics: a single pkgbase, optional split packages,
// and the checksum/source/dependency fields spec.md §3 names.
package pkgbuild

import (
	"sort"

	"github.com/arch-repo-builder/arb/pkg/checksum"
)

// SubPackage is one binary package a split PKGBUILD declares beyond its
// pkgbase section.
type SubPackage struct {
	Name     string
	Depends  []string
	Provides []string
}

// Source is one declared PKGBUILD source entry: a netfile or git URL
// plus whichever checksum kinds the PKGBUILD provided for it.
type Source struct {
	Raw       string
	Checksums map[checksum.Kind]string
}

// Pkgbuild is one logical package definition, built by the parser and
// mutated in stages by the resolver, pkgver pass, and builder, per
// spec.md §3's lifecycle.
type Pkgbuild struct {
	Pkgbase string
	Subpkgs []SubPackage

	Depends     []string
	MakeDepends []string
	Provides    []string
	Sources     []Source
	HasPkgver   bool

	GitURL     string
	GitBranch  string
	GitSubtree string

	// CommitOrTree is the commit hash the synced repo's HEAD resolved to
	// when this Pkgbuild was parsed; a subtree checkout also gets the
	// commit hash, not a tree id.
	CommitOrTree string

	// Dephash is filled by the resolver (pkg/alpm); Needs is its
	// deduplicated, sorted dependency closure.
	Dephash uint64
	Needs   []string

	// DynamicPkgver is filled by the pkgver() evaluation pass when
	// HasPkgver is true.
	DynamicPkgver string

	NeedBuild bool
	Extracted bool

	BuildPath string
	PkgPath   string
}

// Pkgnames returns the full set of binary package names this pkgbase
// produces: itself plus every sub-package, used by buildplan to resolve
// "A depends on B" edges against B's outputs.
func (p *Pkgbuild) Pkgnames() []string {
	names := []string{p.Pkgbase}
	for _, sub := range p.Subpkgs {
		names = append(names, sub.Name)
	}

	return names
}

// AllProvides returns the pkgbase-level provides plus every
// sub-package's provides, deduplicated.
func (p *Pkgbuild) AllProvides() []string {
	seen := map[string]struct{}{}

	var out []string

	add := func(items []string) {
		for _, item := range items {
			if _, ok := seen[item]; ok {
				continue
			}

			seen[item] = struct{}{}

			out = append(out, item)
		}
	}

	add(p.Provides)

	for _, sub := range p.Subpkgs {
		add(sub.Provides)
	}

	return out
}

// PkgID computes the pkgid per spec.md §4.8:
// {pkgbase}-{commit-or-tree}-{dephash:016x}[-{pkgver}], omitting the
// dephash segment when policy is None (Dephash == 0 and no deps/makedeps
// were ever hashed — callers pass sawHash=false for that case since a
// coincidental zero hash under Strict/Loose must still appear).
func (p *Pkgbuild) PkgID(sawHash bool) string {
	id := p.Pkgbase + "-" + p.CommitOrTree

	if sawHash {
		id += "-" + hex16(p.Dephash)
	}

	if p.HasPkgver && p.DynamicPkgver != "" {
		id += "-" + p.DynamicPkgver
	}

	return id
}

func hex16(v uint64) string {
	const hexDigits = "0123456789abcdef"

	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}

	return string(buf)
}

// SortedNeeds returns Needs sorted, satisfying the Depends invariant
// that Needs is always sorted-unique.
func (p *Pkgbuild) SortedNeeds() []string {
	out := append([]string{}, p.Needs...)
	sort.Strings(out)

	return out
}
