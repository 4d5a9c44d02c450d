// Package rootfs manages the base root and per-PKGBUILD overlay root
// filesystem trees: skeleton population (grounded on the teacher's
// otiai10/copy-based config/host-file copying pattern), mount/umount via
// the broker payload in pkg/rootless, and teardown totality checked
// against /proc/self/mountinfo the way spec.md §4.4 requires.
package rootfs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"
	"github.com/otiai10/copy"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
	"github.com/arch-repo-builder/arb/pkg/rootless"
)

var rootfsLog = logger.WithComponent("rootfs")

// baseSkeleton is the minimum directory tree a base root needs before
// any mount or pacman invocation, per spec.md §4.4.
var baseSkeleton = []string{
	"boot",
	"dev/pts",
	"dev/shm",
	"etc/pacman.d",
	"proc",
	"run",
	"sys",
	"tmp",
	"var/cache/pacman/pkg",
	"var/lib/pacman",
	"var/log",
}

// hostFiles are copied from the host into a base root's /etc so pacman
// and the invoking user resolve identically inside the root.
var hostFiles = []string{"passwd", "group", "shadow", "makepkg.conf"}

// BaseRoot is the handle to the roots/base filesystem tree.
type BaseRoot struct {
	Path string
}

// NewBaseRoot creates the skeleton directories for a base root rooted at
// path (typically "<workdir>/roots/base") without mounting or
// provisioning it; call Bootstrap for that.
func NewBaseRoot(path string) (*BaseRoot, error) {
	for _, dir := range baseSkeleton {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return nil, errs.Wrapf(err, errs.IO, "creating base root skeleton dir %s", dir)
		}
	}

	return &BaseRoot{Path: path}, nil
}

// Bootstrap copies host identity files in and creates the builder workdir
// skeleton (build, pkgs, sources) plus the invoking user's home, then
// returns the payload that self-binds the root and mounts the canonical
// proc/sys/dev/run/tmp set; the caller applies it.
func (b *BaseRoot) Bootstrap(username string) (rootless.Payload, error) {
	mounts := []rootless.MountSpec{
		{Kind: rootless.MountBind, Source: b.Path, Target: b.Path},
		{Kind: rootless.MountProc, Target: filepath.Join(b.Path, "proc")},
		{Kind: rootless.MountSys, Target: filepath.Join(b.Path, "sys"), ReadOnly: true},
		{Kind: rootless.MountDev, Target: filepath.Join(b.Path, "dev")},
		{Kind: rootless.MountDevpts, Target: filepath.Join(b.Path, "dev/pts")},
		{Kind: rootless.MountShm, Target: filepath.Join(b.Path, "dev/shm")},
		{Kind: rootless.MountRun, Target: filepath.Join(b.Path, "run")},
		{Kind: rootless.MountTmp, Target: filepath.Join(b.Path, "tmp")},
	}

	for _, name := range hostFiles {
		src := filepath.Join("/etc", name)
		if _, err := os.Stat(src); err != nil {
			continue
		}

		if err := copy.Copy(src, filepath.Join(b.Path, "etc", name)); err != nil {
			return rootless.Payload{}, errs.Wrapf(err, errs.IO, "copying host %s into base root", name)
		}
	}

	for _, dir := range []string{"build", "pkgs", "sources"} {
		if err := os.MkdirAll(filepath.Join(b.Path, dir), 0o755); err != nil {
			return rootless.Payload{}, errs.Wrapf(err, errs.IO, "creating builder workdir %s", dir)
		}
	}

	if username != "" {
		if err := os.MkdirAll(filepath.Join(b.Path, "home", username), 0o755); err != nil {
			return rootless.Payload{}, errs.Wrap(err, errs.IO, "creating user home in base root")
		}
	}

	return rootless.Payload{Mounts: mounts}, nil
}

// OverlayRoot is one per-PKGBUILD overlay instance at
// roots/overlay-<pkgbase>/{upper,work,merged}.
type OverlayRoot struct {
	Pkgbase string
	Root    string // roots/overlay-<pkgbase>
	Base    *BaseRoot
}

// NewOverlayRoot creates the upper/work/merged skeleton for pkgbase
// rooted under rootsDir, layered on base.
func NewOverlayRoot(rootsDir, pkgbase string, base *BaseRoot) (*OverlayRoot, error) {
	root := filepath.Join(rootsDir, "overlay-"+pkgbase)

	for _, dir := range []string{"upper", "work", "merged"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, errs.Wrapf(err, errs.IO, "creating overlay dir %s for %s", dir, pkgbase)
		}
	}

	return &OverlayRoot{Pkgbase: pkgbase, Root: root, Base: base}, nil
}

// BindOptions configures the extra binds an overlay build needs beyond
// the canonical mount set, per spec.md §4.4.
type BindOptions struct {
	Username   string
	NeedsGo    bool
	NeedsCargo bool
	NoNet      bool
	HomeBinds  []string
}

// Merged is the merged view's filesystem path: where makepkg runs.
func (o *OverlayRoot) Merged() string {
	return filepath.Join(o.Root, "merged")
}

// Mount builds the mount payload for this overlay: the lowerdir=base
// overlay mount onto merged, the canonical mount set inside merged, and
// conditional tool-cache/network binds.
func (o *OverlayRoot) Mount(opts BindOptions) rootless.Payload {
	merged := o.Merged()

	mounts := []rootless.MountSpec{
		{
			Kind:   rootless.MountOverlay,
			Target: merged,
			Data: "lowerdir=" + o.Base.Path +
				",upperdir=" + filepath.Join(o.Root, "upper") +
				",workdir=" + filepath.Join(o.Root, "work"),
		},
		{Kind: rootless.MountProc, Target: filepath.Join(merged, "proc")},
		{Kind: rootless.MountSys, Target: filepath.Join(merged, "sys"), ReadOnly: true},
		{Kind: rootless.MountDev, Target: filepath.Join(merged, "dev")},
		{Kind: rootless.MountDevpts, Target: filepath.Join(merged, "dev/pts")},
		{Kind: rootless.MountShm, Target: filepath.Join(merged, "dev/shm")},
		{Kind: rootless.MountRun, Target: filepath.Join(merged, "run")},
		{Kind: rootless.MountTmp, Target: filepath.Join(merged, "tmp")},
		bindInto(merged, "build", filepath.Join(merged, "build")),
		bindInto(merged, "pkgs", filepath.Join(merged, "pkgs")),
		bindInto(merged, "sources", filepath.Join(merged, "sources")),
	}

	if opts.NeedsGo {
		mounts = append(mounts, homeCacheBind(merged, opts.Username, ".cache/go-build"))
		mounts = append(mounts, homeCacheBind(merged, opts.Username, "go"))
	}

	if opts.NeedsCargo {
		mounts = append(mounts, homeCacheBind(merged, opts.Username, ".cargo"))
	}

	for _, bind := range opts.HomeBinds {
		mounts = append(mounts, homeCacheBind(merged, opts.Username, bind))
	}

	if !opts.NoNet {
		if _, err := os.Stat("/etc/resolv.conf"); err == nil {
			mounts = append(mounts, rootless.MountSpec{
				Kind: rootless.MountBind, Source: "/etc/resolv.conf",
				Target: filepath.Join(merged, "etc/resolv.conf"),
			})
		}
	}

	return rootless.Payload{Mounts: mounts}
}

func bindInto(mergedRoot, hostRel, target string) rootless.MountSpec {
	return rootless.MountSpec{
		Kind:   rootless.MountBind,
		Source: filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(mergedRoot))), hostRel),
		Target: target,
	}
}

func homeCacheBind(merged, username, rel string) rootless.MountSpec {
	home := filepath.Join("/home", username, rel)

	return rootless.MountSpec{
		Kind:   rootless.MountBind,
		Source: home,
		Target: filepath.Join(merged, "home", username, rel),
	}
}

// Teardown enumerates the /proc/self/mountinfo entries whose mount point
// starts with root and unmounts them deepest mount point first (longest
// path first), iterating until none remain or a pass unmounts nothing,
// then removes the directory tree. A failure is logged; Teardown
// never panics, matching spec.md §4.4's drop invariant.
func Teardown(root string) error {
	for {
		mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter(root))
		if err != nil {
			rootfsLog.Warn("failed to enumerate mountinfo during teardown", "root", root, "error", err)

			break
		}

		if len(mounts) == 0 {
			break
		}

		sort.Slice(mounts, func(i, j int) bool {
			return len(mounts[i].Mountpoint) > len(mounts[j].Mountpoint)
		})

		progressed := false

		for _, m := range mounts {
			if err := unmount(m.Mountpoint); err != nil {
				rootfsLog.Warn("umount failed, will retry", "mountpoint", m.Mountpoint, "error", err)

				continue
			}

			progressed = true
		}

		if !progressed {
			rootfsLog.Error("teardown could not unmount any remaining entry under root", "root", root)

			break
		}
	}

	if err := os.RemoveAll(root); err != nil {
		rootfsLog.Error("failed to remove root directory tree after teardown", "root", root, "error", err)

		return errs.Wrapf(err, errs.IO, "removing root tree %s", root)
	}

	return nil
}

// StillMounted reports whether any mountinfo entry remains under root,
// the assertion invariants 4 in spec.md §8 exercises directly.
func StillMounted(root string) (bool, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter(root))
	if err != nil {
		return false, errs.Wrap(err, errs.Mount, "enumerating mountinfo")
	}

	for _, m := range mounts {
		if strings.HasPrefix(m.Mountpoint, root) {
			return true, nil
		}
	}

	return false, nil
}
