package command

import (
	"context"
	"encoding/json"
	"io"

	"github.com/arch-repo-builder/arb/pkg/orchestrator"
	"github.com/arch-repo-builder/arb/pkg/pkgbuild"
)

// RunReadPkgbuilds parses every PKGBUILD in paths via the bash extractor
// and writes the result as JSON to w, the read-pkgbuilds applet's half
// of the broker-hop path (the in-process orchestrator.Driver instead
// calls pkgbuild.Parse directly for single-user runs).
func RunReadPkgbuilds(paths []string, w io.Writer) error {
	entries, err := pkgbuild.Parse(context.Background(), orchestrator.ShellCapture, paths)
	if err != nil {
		return err
	}

	return json.NewEncoder(w).Encode(entries)
}
