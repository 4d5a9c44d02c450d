// Package rootless implements the map-assert handshake and the broker,
// init, read-pkgbuilds, and rm-rf sub-actions the driver runs as a
// namespaced unprivileged user. No example repo exposes a narrow
// /etc/subuid parser as a standalone library (the teacher builds inside
// an already-namespaced container, not by mapping subids itself), so
// this file is deliberately stdlib-only; see DESIGN.md.
package rootless

import (
	"bufio"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

// SubidRange is one parsed /etc/subuid or /etc/subgid entry.
type SubidRange struct {
	Owner string
	Start uint32
	Count uint32
}

// minSubidRange is the smallest delegated range the handler will accept
// (spec.md §4.3 step 2 and Scenario E: a range of 1000 must be rejected).
const minSubidRange = 65535

// ReadSubidRange reads path (/etc/subuid or /etc/subgid) and returns the
// first entry belonging to the current user (matched by login name, then
// by uid) whose delegated range is at least minSubidRange wide.
func ReadSubidRange(path string) (SubidRange, error) {
	u, err := user.Current()
	if err != nil {
		return SubidRange{}, errs.Wrap(err, errs.Environment, "resolving current user")
	}

	file, err := os.Open(path)
	if err != nil {
		return SubidRange{}, errs.Wrapf(err, errs.Config, "opening %s", path)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Warn("failed to close subid file", "path", path, "error", closeErr)
		}
	}()

	var candidates []SubidRange

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			continue
		}

		if fields[0] != u.Username && fields[0] != u.Uid {
			continue
		}

		start, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}

		count, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}

		candidates = append(candidates, SubidRange{Owner: fields[0], Start: uint32(start), Count: uint32(count)})
	}

	if err := scanner.Err(); err != nil {
		return SubidRange{}, errs.Wrapf(err, errs.IO, "reading %s", path)
	}

	for _, c := range candidates {
		if c.Count >= minSubidRange {
			return c, nil
		}
	}

	if len(candidates) > 0 {
		largest := candidates[0].Count
		for _, c := range candidates[1:] {
			if c.Count > largest {
				largest = c.Count
			}
		}

		return SubidRange{}, errs.Newf(errs.Config,
			"%s has no range >= %d for user %s (largest is %d)", path, minSubidRange, u.Username, largest)
	}

	return SubidRange{}, errs.Newf(errs.Config, "%s has no entry for user %s", path, u.Username)
}
