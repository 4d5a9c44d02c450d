package pkgbuild

import (
	"bufio"
	"context"
	"strings"

	"github.com/arch-repo-builder/arb/pkg/checksum"
	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

var parserLog = logger.WithComponent("pkgbuild")

// ScriptRunner executes the extractor script with the given argv
// appended and returns its combined stdout. The orchestrator's runners
// execute it with host bash, outside any secured root; tests inject an
// in-memory stand-in.
type ScriptRunner func(ctx context.Context, script string, args []string) (string, error)

// checksumFields maps each recognised "ck"/"md5"/... record key to its
// checksum.Kind, in the declaration order spec.md §4.5 lists them.
var checksumFields = map[string]checksum.Kind{
	"ck":     checksum.CRC32,
	"md5":    checksum.MD5,
	"sha1":   checksum.SHA1,
	"sha224": checksum.SHA224,
	"sha256": checksum.SHA256,
	"sha384": checksum.SHA384,
	"sha512": checksum.SHA512,
	"b2":     checksum.Blake2b512,
}

// Parse runs the bash extractor through run over every path in
// paths and decodes its key:value record stream into one Pkgbuild per
// path. A mismatch between len(paths) and the number of parsed records
// is a fatal Logic error, per spec.md §4.5's contract.
func Parse(ctx context.Context, run ScriptRunner, paths []string) ([]*Pkgbuild, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	output, err := run(ctx, extractorScript, paths)
	if err != nil {
		return nil, errs.Wrap(err, errs.Child, "running PKGBUILD extractor script")
	}

	entries, err := decodeRecords(output)
	if err != nil {
		return nil, err
	}

	if len(entries) != len(paths) {
		return nil, errs.Newf(errs.Logic,
			"extractor produced %d records for %d PKGBUILD paths", len(entries), len(paths))
	}

	parserLog.Debug("parsed PKGBUILDs", "count", len(entries))

	return entries, nil
}

// decodeRecords splits output on "[PKGBUILD]" markers and decodes each
// section's key:value lines, terminated by a blank line or EOF. Within
// a section, curSubName tracks which sub-package (by name) unqualified
// "dep"/"provide" records attach to; "" means they attach to the
// pkgbase itself. Every sub-package, once named, lives in p.Subpkgs
// immediately (not in a side buffer), so dep_<name>/provide_<name>
// records and unqualified ones that follow a "name" record always
// mutate the same slice entry.
func decodeRecords(output string) ([]*Pkgbuild, error) {
	var (
		entries    []*Pkgbuild
		cur        *Pkgbuild
		curSubName string
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "[PKGBUILD]":
			if cur != nil {
				entries = append(entries, cur)
			}

			cur = &Pkgbuild{}
			curSubName = ""

			continue
		case line == "":
			continue
		case cur == nil:
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		applyRecord(cur, &curSubName, key, value)
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(err, errs.IO, "scanning extractor output")
	}

	if cur != nil {
		entries = append(entries, cur)
	}

	return entries, nil
}

func applyRecord(p *Pkgbuild, curSubName *string, key, value string) {
	if kind, ok := checksumFields[key]; ok {
		applyChecksum(p, kind, value)

		return
	}

	switch {
	case key == "base":
		p.Pkgbase = value
	case key == "name":
		if p.Pkgbase == "" {
			p.Pkgbase = value
		}

		if value == p.Pkgbase {
			*curSubName = ""
		} else {
			ensureSubpackage(p, value)
			*curSubName = value
		}
	case key == "dep":
		if *curSubName != "" {
			addToSubpackage(p, *curSubName, func(s *SubPackage) { s.Depends = append(s.Depends, value) })
		} else {
			p.Depends = append(p.Depends, value)
		}
	case key == "makedep":
		p.MakeDepends = append(p.MakeDepends, value)
	case key == "provide":
		if *curSubName != "" {
			addToSubpackage(p, *curSubName, func(s *SubPackage) { s.Provides = append(s.Provides, value) })
		} else {
			p.Provides = append(p.Provides, value)
		}
	case key == "source":
		p.Sources = append(p.Sources, Source{Raw: value, Checksums: map[checksum.Kind]string{}})
	case key == "pkgver_func":
		p.HasPkgver = value == "y"
	case strings.HasPrefix(key, "dep_"):
		name := strings.TrimPrefix(key, "dep_")
		addToSubpackage(p, name, func(s *SubPackage) { s.Depends = append(s.Depends, value) })
	case strings.HasPrefix(key, "provide_"):
		name := strings.TrimPrefix(key, "provide_")
		addToSubpackage(p, name, func(s *SubPackage) { s.Provides = append(s.Provides, value) })
	}
}

func ensureSubpackage(p *Pkgbuild, name string) {
	for i := range p.Subpkgs {
		if p.Subpkgs[i].Name == name {
			return
		}
	}

	p.Subpkgs = append(p.Subpkgs, SubPackage{Name: name})
}

// applyChecksum attaches value to the earliest-declared source
// that doesn't yet have an entry for kind, matching makepkg's
// positional pairing of source[] with <kind>sums[].
func applyChecksum(p *Pkgbuild, kind checksum.Kind, value string) {
	if value == "SKIP" || value == "" {
		return
	}

	for i := range p.Sources {
		if _, has := p.Sources[i].Checksums[kind]; !has {
			p.Sources[i].Checksums[kind] = value

			return
		}
	}
}

func addToSubpackage(p *Pkgbuild, name string, mutate func(*SubPackage)) {
	for i := range p.Subpkgs {
		if p.Subpkgs[i].Name == name {
			mutate(&p.Subpkgs[i])

			return
		}
	}

	sub := SubPackage{Name: name}
	mutate(&sub)
	p.Subpkgs = append(p.Subpkgs, sub)
}
