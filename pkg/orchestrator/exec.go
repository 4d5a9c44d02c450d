package orchestrator

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// ShellCapture runs script through the host's bash with args appended
// to "$@" and returns its captured stdout. The PKGBUILD extractor
// script (pkg/pkgbuild.extractorScript) relies on bash-only constructs
// (declare -p, mapfile-free array introspection) mvdan.cc/sh does not
// fully emulate, so this runs a real bash rather than the in-process
// interpreter pkg/pkgbuild.EvaluatePkgver uses for the narrower
// pkgver() case. Exported so cmd/arb's read-pkgbuilds applet can reuse
// it outside a Driver.
func ShellCapture(ctx context.Context, script string, args []string) (string, error) {
	cmdArgs := append([]string{"-s", "--"}, args...)

	cmd := exec.CommandContext(ctx, "bash", cmdArgs...)
	cmd.Stdin = bytes.NewReader([]byte(script))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errs.Wrap(err, errs.Child, "running extractor script: "+stderr.String())
	}

	return stdout.String(), nil
}
