package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/arch-repo-builder/arb/pkg/checksum"
	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/gitrepo"
	"github.com/arch-repo-builder/arb/pkg/logger"
	"github.com/arch-repo-builder/arb/pkg/pkgbuild"
	"github.com/arch-repo-builder/arb/pkg/rootfs"
	"github.com/arch-repo-builder/arb/pkg/rootless"
	"github.com/arch-repo-builder/arb/pkg/shell"
	"github.com/arch-repo-builder/arb/pkg/sourcecache"
)

// buildJob implements buildstate.Actions for one Pkgbuild, closing over
// the Driver's shared handles the way the teacher's Pacman struct
// closes over its *pkgbuild.PKGBUILD.
type buildJob struct {
	driver *Driver
	pb     *pkgbuild.Pkgbuild

	overlay *rootfs.OverlayRoot
	tempDir string
}

// Extract fetches pkgbase's sources into the content-addressed cache
// and syncs any git sources, the "Extracting" transition.
func (j *buildJob) Extract(ctx context.Context, pkgbase string) error {
	var (
		netfiles   []sourcecache.NetfileSource
		gitSources []gitrepo.Source
	)

	for _, src := range j.pb.Sources {
		name, kind, url := pkgbuild.Classify(src.Raw)

		switch kind {
		case pkgbuild.KindLocal:
			continue
		case pkgbuild.KindGit:
			// Name is left empty so this is cache-keyed by URL hash under
			// sources/git/, distinct from the sources/PKGBUILD/<pkgbase>
			// namespace reserved for the PKGBUILD's own repo.
			gitSources = append(gitSources, gitrepo.Source{URL: url})
		case pkgbuild.KindOther:
			driverLog.Warn("dropping unsupported VCS source, only git is fetched", "pkgbase", pkgbase, "source", src.Raw)

			continue
		default:
			digests, err := decodeDigests(src.Checksums)
			if err != nil {
				return err
			}

			netfiles = append(netfiles, sourcecache.NetfileSource{
				Name: name, Protocol: sourcecache.Protocol(kind), URL: url, Checksums: digests,
			})
		}
	}

	cfg := sourcecache.Config{
		Root:     filepath.Join(j.driver.WorkDir, "sources"),
		Identity: pkgbase,
		HoldGit:  j.driver.Config.HoldGit,
		SkipInt:  j.driver.Config.SkipInt,
		Proxy:    j.driver.Config.Proxy,
		Gmr:      j.driver.Config.Gmr,
	}

	result := j.driver.Sources.CacheAll(ctx, netfiles, gitSources, cfg)
	if len(result.Errs) > 0 {
		return errs.Wrap(result.Errs[0], errs.Child, "caching sources").WithOperation(pkgbase)
	}

	j.pb.Extracted = true

	return nil
}

// Bootstrap mounts a fresh overlay root for pkgbase layered on the
// shared base root and installs its resolved Needs, the "Bootstrapping"
// transition.
func (j *buildJob) Bootstrap(ctx context.Context, pkgbase string) error {
	overlay, err := rootfs.NewOverlayRoot(filepath.Join(j.driver.WorkDir, "roots"), pkgbase, j.driver.Base)
	if err != nil {
		return err
	}

	username, err := rootless.CurrentUserName()
	if err != nil {
		return err
	}

	payload := overlay.Mount(rootfs.BindOptions{
		Username:  username,
		NoNet:     j.driver.Config.NoNet,
		HomeBinds: j.driver.Config.HomeBinds,
	})

	if err := applyPayload(ctx, payload); err != nil {
		return err
	}

	if len(j.pb.Needs) > 0 {
		args := append([]string{"-U", "--noconfirm", "--root", overlay.Merged()}, j.pb.Needs...)
		if err := shell.ExecWithContext(ctx, !logger.IsVerbose(), overlay.Merged(), "pacman", args...); err != nil {
			return errs.Wrap(err, errs.Child, "installing resolved dependencies").WithOperation(pkgbase)
		}
	}

	j.overlay = overlay

	return nil
}

// Build spawns makepkg inside the mounted overlay, the "Building"
// transition; output is tee'd to a per-PKGBUILD log file under logs/.
func (j *buildJob) Build(ctx context.Context, pkgbase string) error {
	tempDir := filepath.Join(j.driver.WorkDir, "pkgs", j.pb.PkgID(j.driver.Config.Dephash != "none")+".temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return errs.Wrap(err, errs.IO, "creating temp pkgdir").WithOperation(pkgbase)
	}

	cmd := exec.CommandContext(ctx, "makepkg",
		"--holdver", "--nodeps", "--noextract", "--ignorearch", "--nosign")
	cmd.Dir = filepath.Join(j.overlay.Merged(), "build", pkgbase)
	cmd.Env = append(os.Environ(), "PKGDEST="+tempDir)

	logPath, logFile, err := openBuildLog(j.driver.WorkDir, pkgbase)
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		return errs.ChildError("makepkg", pidOf(cmd), exitCodeOf(err), err).WithOperation(logPath)
	}

	j.tempDir = tempDir

	return nil
}

// Finish publishes the built artifacts and tears down the overlay, the
// "Built" transition.
func (j *buildJob) Finish(ctx context.Context, pkgbase string) error {
	pkgid := j.pb.PkgID(j.driver.Config.Dephash != "none")

	if err := j.driver.publish(pkgid, j.tempDir); err != nil {
		return err
	}

	if !j.driver.Config.NoClean {
		if err := rootfs.Teardown(j.overlay.Root); err != nil {
			return err
		}
	}

	_ = ctx

	return nil
}

func decodeDigests(in map[checksum.Kind]string) (map[checksum.Kind][]byte, error) {
	out := make(map[checksum.Kind][]byte, len(in))

	for kind, hexOrDecimal := range in {
		if kind == checksum.CRC32 {
			n, err := strconv.ParseUint(hexOrDecimal, 10, 32)
			if err != nil {
				return nil, errs.Wrap(err, errs.Config, "parsing crc32 checksum")
			}

			out[kind] = []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}

			continue
		}

		digest, err := hex.DecodeString(hexOrDecimal)
		if err != nil {
			return nil, errs.Wrapf(err, errs.Config, "parsing %s checksum", kind)
		}

		out[kind] = digest
	}

	return out, nil
}

func openBuildLog(workDir, pkgbase string) (string, *os.File, error) {
	dir := filepath.Join(workDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, errs.Wrap(err, errs.IO, "creating logs dir")
	}

	path := filepath.Join(dir, logName("build", pkgbase))

	f, err := os.Create(path) //nolint:gosec // path is built from a fixed dir + sanitized components
	if err != nil {
		return "", nil, errs.Wrap(err, errs.IO, "creating build log").WithOperation(path)
	}

	return path, f, nil
}

func pidOf(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return -1
	}

	return cmd.Process.Pid
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// logName builds a "<YYYYMMDD_HHMMSS>-<kind>-<pkg>-<7-rand>.log" name
// per spec.md §6's on-disk layout.
func logName(kind, pkgbase string) string {
	stamp := time.Now().Format("20060102_150405")

	return fmt.Sprintf("%s-%s-%s-%s.log", stamp, kind, pkgbase, randSuffix(7))
}

func randSuffix(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "0000000"[:n]
	}

	return hex.EncodeToString(buf)[:n]
}
