package pkgbuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// EvaluatePkgver runs `srcdir=<srcdir> source PKGBUILD; pkgver` in an
// in-process mvdan.cc/sh interpreter whose working directory is the
// PKGBUILD's own directory (srcdir is only set as a shell variable).
// The driver calls it before dependency resolution without extracting
// sources first, and it needs no live base root.
func EvaluatePkgver(ctx context.Context, pkgbuildPath, srcdir string) (string, error) {
	script := "srcdir=" + syntax.Quote(srcdir, syntax.LangBash) + "\n" +
		"source " + syntax.Quote(pkgbuildPath, syntax.LangBash) + "\n" +
		"pkgver\n"

	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(bytes.NewReader([]byte(script)), "pkgver-eval")
	if err != nil {
		return "", errs.Wrap(err, errs.Logic, "parsing pkgver evaluation script")
	}

	var stdout bytes.Buffer

	runner, err := interp.New(
		interp.Dir(filepath.Dir(pkgbuildPath)),
		interp.StdIO(os.Stdin, &stdout, os.Stderr),
	)
	if err != nil {
		return "", errs.Wrap(err, errs.Logic, "constructing pkgver interpreter")
	}

	if err := runner.Run(ctx, file); err != nil {
		return "", errs.Wrap(err, errs.Child, "evaluating pkgver()")
	}

	return firstLine(stdout.String()), nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}

	return s
}
