// Package release turns a built PKGBUILD's temp pkgdir into the
// canonical, signed, symlinked repository tree spec.md §4.8/§6
// describes, generalizing the teacher's pkg/pacman (which called
// plain `makepkg`/`pacman -U` via pkg/shell.Exec) from a one-shot
// build+install helper into incremental repo maintenance: sign, swap
// in the canonical pkgdir, and relink the `updated`/`latest` trees.
package release

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
	"github.com/arch-repo-builder/arb/pkg/shell"
)

var releaseLog = logger.WithComponent("release")

// Publish signs (if signKey is non-empty), swaps tempDir in as the
// canonical pkgdir for pkgid, and relinks pkgs/updated and pkgs/latest
// to point at the new artefacts, per spec.md §4.8's "Building → Built"
// transition.
func Publish(pkgsRoot, pkgid, tempDir, signKey string) error {
	if signKey != "" {
		if err := signArtifacts(tempDir, signKey); err != nil {
			return err
		}
	}

	canonical := filepath.Join(pkgsRoot, pkgid)

	if err := os.RemoveAll(canonical); err != nil {
		return errs.Wrap(err, errs.IO, "removing stale canonical pkgdir").WithOperation(canonical)
	}

	if err := os.Rename(tempDir, canonical); err != nil {
		return errs.Wrap(err, errs.IO, "renaming temp pkgdir to canonical").WithOperation(canonical)
	}

	artifacts, err := listArtifacts(canonical)
	if err != nil {
		return err
	}

	for _, tree := range []string{"updated", "latest"} {
		if err := relinkTree(pkgsRoot, tree, canonical, artifacts); err != nil {
			return err
		}
	}

	releaseLog.Info("published package", "pkgid", pkgid, "artifacts", len(artifacts))

	return nil
}

// signArtifacts runs `gpg --detach-sign` over every non-.sig file in
// dir using the host's gpg binary, the way the teacher shells out to
// makepkg/pacman rather than linking a Go OpenPGP implementation: gpg
// already owns the operator's keyring and agent, which a library
// reimplementation would have to rebuild from scratch.
func signArtifacts(dir, signKey string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs.Wrap(err, errs.IO, "listing pkgdir for signing").WithOperation(dir)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".sig") {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if err := shell.ExecWithContext(context.Background(), true, dir, "gpg",
			"--batch", "--yes", "--local-user", signKey,
			"--detach-sign", "--output", path+".sig", path); err != nil {
			return errs.Wrap(err, errs.Child, "signing artifact").WithOperation(path)
		}
	}

	return nil
}

func listArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(err, errs.IO, "listing pkgdir artifacts").WithOperation(dir)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

// relinkTree replaces pkgsRoot/tree's link for each name in artifacts
// with one relative symlink pointing into canonical. Links in the tree
// for names not in artifacts are left in place.
func relinkTree(pkgsRoot, tree, canonical string, artifacts []string) error {
	treeDir := filepath.Join(pkgsRoot, tree)

	if err := os.MkdirAll(treeDir, 0o755); err != nil {
		return errs.Wrap(err, errs.IO, "creating symlink tree").WithOperation(treeDir)
	}

	rel, err := filepath.Rel(treeDir, canonical)
	if err != nil {
		return errs.Wrap(err, errs.IO, "computing relative symlink target").WithOperation(treeDir)
	}

	for _, name := range artifacts {
		link := filepath.Join(treeDir, name)
		target := filepath.Join(rel, name)

		_ = os.Remove(link)

		if err := os.Symlink(target, link); err != nil {
			return errs.Wrap(err, errs.IO, "creating symlink").WithOperation(link)
		}
	}

	return nil
}

// PurgeUnused removes every pkgs/<pkgid> directory not named in keep,
// the way a full build run prunes pkgids produced by PKGBUILDs that
// were dropped from the config or superseded by a newer pkgver.
func PurgeUnused(pkgsRoot string, keep map[string]struct{}) error {
	entries, err := os.ReadDir(pkgsRoot)
	if err != nil {
		return errs.Wrap(err, errs.IO, "listing pkgs root").WithOperation(pkgsRoot)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == "updated" || name == "latest" || name == "cache" {
			continue
		}

		if _, ok := keep[name]; ok {
			continue
		}

		path := filepath.Join(pkgsRoot, name)
		releaseLog.Info("purging unused pkgid", "path", path)

		if err := os.RemoveAll(path); err != nil {
			return errs.Wrap(err, errs.IO, "purging unused pkgdir").WithOperation(path)
		}
	}

	return nil
}
