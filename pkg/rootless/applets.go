package rootless

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// RunBroker unshares the mount namespace, reads one Payload from stdin,
// applies its mounts, then execs NextApplet with NextArgv, per spec.md
// §4.3's broker bullet. With an empty NextApplet it returns nil once the
// mounts are applied; otherwise it does not return on success (exec
// replaces the process image) and an error return means the unshare,
// the payload read, a mount or the exec failed.
func RunBroker(stdin io.Reader) error {
	if err := unshareMountNS(); err != nil {
		return errs.Wrap(err, errs.Mount, "broker unshare failed")
	}

	payload, err := ReadPayload(stdin)
	if err != nil {
		return err
	}

	if err := ApplyMounts(payload.Mounts); err != nil {
		return err
	}

	if payload.NextApplet == "" {
		return nil
	}

	next, err := exec.LookPath(payload.NextApplet)
	if err != nil {
		self, selfErr := os.Executable()
		if selfErr != nil {
			return errs.Wrap(err, errs.Environment, "locating next applet "+payload.NextApplet)
		}

		next = self
	}

	argv := append([]string{payload.NextApplet}, payload.NextArgv...)

	return errs.Wrap(syscall.Exec(next, argv, os.Environ()), errs.Child, "exec of next applet failed")
}

// RunInit becomes PID 1 of the new PID namespace and reaps children
// endlessly, propagating the direct child's exit code once no children
// remain, per spec.md §4.3's init bullet.
func RunInit(directChild *exec.Cmd) (int, error) {
	if err := directChild.Start(); err != nil {
		return -1, errs.Wrap(err, errs.Child, "starting init's direct child")
	}

	directPID := directChild.Process.Pid
	directExit := 0

	for {
		var status syscall.WaitStatus

		pid, err := syscall.Wait4(-1, &status, 0, nil)
		if err == syscall.ECHILD {
			break
		}

		if err != nil {
			return -1, errs.Wrap(err, errs.Child, "waiting for reaped child")
		}

		if pid == directPID {
			directExit = status.ExitStatus()
		}
	}

	return directExit, nil
}

// ReadPkgbuildPaths reads a length-prefixed list of PKGBUILD paths from
// stdin for the read-pkgbuilds sub-action (the parsing itself is done by
// pkg/pkgbuild; this only implements the wire framing).
func ReadPkgbuildPaths(r io.Reader) ([]string, error) {
	payload, err := ReadPayload(r)
	if err != nil {
		return nil, err
	}

	return payload.NextArgv, nil
}

// WritePkgbuildPaths frames a list of PKGBUILD paths for the
// read-pkgbuilds sub-action's stdin.
func WritePkgbuildPaths(w io.Writer, paths []string) error {
	return WritePayload(w, Payload{NextArgv: paths})
}

// RmRf recursively removes path, tolerating directories whose execute
// bit is clear on children (os.RemoveAll alone fails there) by manually
// chmod-ing before descending, per spec.md §4.3's rm-rf bullet.
func RmRf(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return errs.Wrapf(err, errs.IO, "stat %s", path)
	}

	if info.IsDir() && info.Mode().Perm()&0o100 == 0 {
		if chmodErr := os.Chmod(path, info.Mode().Perm()|0o700); chmodErr != nil {
			return errs.Wrapf(chmodErr, errs.IO, "restoring execute bit on %s", path)
		}
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return errs.Wrapf(err, errs.IO, "reading directory %s", path)
		}

		for _, entry := range entries {
			if err := RmRf(filepath.Join(path, entry.Name())); err != nil {
				return err
			}
		}
	}

	if err := os.Remove(path); err != nil {
		return errs.Wrapf(err, errs.IO, "removing %s", path)
	}

	return nil
}

// DispatchApplet selects the rootless sub-action to run from name
// (argv[0] basename or subcommand), per the closed set in spec.md §6.
func DispatchApplet(name string, args []string) error {
	switch name {
	case "broker":
		return RunBroker(os.Stdin)
	case "rm-rf":
		for _, p := range args {
			if err := RmRf(p); err != nil {
				return err
			}
		}

		return nil
	case "map-assert":
		return unshareMapAssertChild()
	default:
		return errs.Newf(errs.Config, "unrecognized rootless applet %q", name)
	}
}

func unshareMapAssertChild() error {
	if err := unshareUserMountPID(); err != nil {
		return errs.Wrap(err, errs.Mount, "map-assert unshare failed")
	}

	fmt.Fprintln(os.Stderr, "map-assert: namespaces unshared, awaiting id map")

	select {}
}
