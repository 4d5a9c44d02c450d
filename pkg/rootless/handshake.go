package rootless

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"time"

	"github.com/moby/sys/userns"
	"golang.org/x/sys/unix"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

var rootlessLog = logger.WithComponent("rootless")

// AssertUnprivileged refuses to proceed if the current real, effective,
// or saved uid/gid is 0, per spec.md §4.3 step 1. The check is skipped
// when the process already runs inside a user namespace.
func AssertUnprivileged() error {
	if userns.RunningInUserNS() {
		return nil
	}

	ruid, euid, suid := getresuid()
	rgid, egid, sgid := getresgid()

	if ruid == 0 || euid == 0 || suid == 0 || rgid == 0 || egid == 0 || sgid == 0 {
		return errs.New(errs.Environment, "refusing to run as root: real/effective/saved uid or gid is 0")
	}

	return nil
}

func getresuid() (ruid, euid, suid int) {
	var r, e, s int

	unix.Getresuid(&r, &e, &s)

	return r, e, s
}

func getresgid() (rgid, egid, sgid int) {
	var r, e, s int

	unix.Getresgid(&r, &e, &s)

	return r, e, s
}

// IDMapping is the {0->self, 1..count->start..start+count-1} mapping the
// parent process installs with newuidmap/newgidmap once the child's user
// namespace is visible.
type IDMapping struct {
	Self  int
	Start uint32
	Count uint32
}

const (
	handshakePollInterval = 10 * time.Millisecond
	handshakeTimeout      = 10 * time.Second
)

// MapAssert self-execs the current binary with the map-assert applet
// name, then polls (every 10ms, up to 10s) until the child's user
// namespace link differs from the parent's and newuidmap/newgidmap have
// resolved its ids to 0, per spec.md §4.3 step 3.
func MapAssert(uidRange, gidRange SubidRange) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, errs.Wrap(err, errs.Environment, "resolving own executable path")
	}

	cmd := exec.Command(self, "map-assert")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = childNamespaceAttr()

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(err, errs.Environment, "starting map-assert child")
	}

	parentUserNS, err := os.Readlink(fmt.Sprintf("/proc/%d/ns/user", os.Getpid()))
	if err != nil {
		return nil, errs.Wrap(err, errs.Environment, "reading parent user namespace link")
	}

	deadline := time.Now().Add(handshakeTimeout)

	for time.Now().Before(deadline) {
		childUserNS, err := os.Readlink(fmt.Sprintf("/proc/%d/ns/user", cmd.Process.Pid))
		if err != nil {
			time.Sleep(handshakePollInterval)

			continue
		}

		if childUserNS == parentUserNS {
			time.Sleep(handshakePollInterval)

			continue
		}

		if err := installIDMaps(cmd.Process.Pid, uidRange, gidRange); err != nil {
			rootlessLog.Warn("id map install attempt failed, retrying", "error", err)
			time.Sleep(handshakePollInterval)

			continue
		}

		if childResolvesToRoot(cmd.Process.Pid) {
			return cmd, nil
		}

		time.Sleep(handshakePollInterval)
	}

	_ = cmd.Process.Kill()

	return nil, errs.New(errs.Environment, "map-assert handshake timed out after 10s")
}

func installIDMaps(pid int, uidRange, gidRange SubidRange) error {
	pidStr := strconv.Itoa(pid)

	uidArgs := []string{pidStr, "0", strconv.Itoa(os.Getuid()), "1",
		"1", strconv.Itoa(int(uidRange.Start)), strconv.Itoa(int(uidRange.Count))}
	if err := exec.Command("newuidmap", uidArgs...).Run(); err != nil {
		return errs.Wrap(err, errs.Environment, "newuidmap failed")
	}

	gidArgs := []string{pidStr, "0", strconv.Itoa(os.Getgid()), "1",
		"1", strconv.Itoa(int(gidRange.Start)), strconv.Itoa(int(gidRange.Count))}
	if err := exec.Command("newgidmap", gidArgs...).Run(); err != nil {
		return errs.Wrap(err, errs.Environment, "newgidmap failed")
	}

	return nil
}

// childResolvesToRoot polls the child's resolved uid/gid from outside by
// reading its /proc/<pid>/status Uid/Gid lines.
func childResolvesToRoot(pid int) bool {
	u, errU := procIDLine(pid, "Uid")
	g, errG := procIDLine(pid, "Gid")

	return errU == nil && errG == nil && u == 0 && g == 0
}

func procIDLine(pid int, field string) (int, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return -1, err
	}

	lines := splitLines(data)
	for _, line := range lines {
		if len(line) > len(field) && line[:len(field)] == field {
			fields := splitFields(line)
			if len(fields) >= 2 {
				return atoi(fields[1])
			}
		}
	}

	return -1, errs.Newf(errs.IO, "field %s not found in /proc/%d/status", field, pid)
}

func splitLines(b []byte) []string {
	var lines []string

	start := 0

	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}

	return lines
}

func splitFields(s string) []string {
	var fields []string

	cur := ""

	for _, r := range s {
		if r == ' ' || r == '\t' || r == ':' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}

			continue
		}

		cur += string(r)
	}

	if cur != "" {
		fields = append(fields, cur)
	}

	return fields
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1, err
	}

	return n, nil
}

// CurrentUserName returns the login name of the process owner, used to
// seed the builder's HOME inside the base/overlay root.
func CurrentUserName() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", errs.Wrap(err, errs.Environment, "resolving current user")
	}

	return u.Username, nil
}
