// Package shell runs host subprocesses the orchestrator shells out to
// (pacman, gpg, rsync/scp-style transfer tools) with a package-prefixed
// writer for the verbose case and captured stderr for the quiet one, so
// a failure always carries the command's own diagnostics instead of
// just an exit code.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/arch-repo-builder/arb/pkg/logger"
)

const timestampFormat = "2006-01-02 15:04:05"

// PackageDecoratedWriter prefixes each output line with a package name
// and timestamp, the way concurrent pacman/gpg invocations stay
// attributable on a shared terminal.
type PackageDecoratedWriter struct {
	writer      io.Writer
	packageName string
	buffer      []byte
}

// NewPackageDecoratedWriter creates a new PackageDecoratedWriter instance.
func NewPackageDecoratedWriter(writer io.Writer, packageName string) *PackageDecoratedWriter {
	return &PackageDecoratedWriter{
		writer:      writer,
		packageName: packageName,
		buffer:      make([]byte, 0, 1024),
	}
}

func (pdw *PackageDecoratedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	pdw.buffer = append(pdw.buffer, p...)

	for {
		lineEnd := bytes.IndexByte(pdw.buffer, '\n')
		if lineEnd == -1 {
			break
		}

		line := pdw.buffer[:lineEnd+1]
		pdw.buffer = pdw.buffer[lineEnd+1:]

		if err := pdw.writeLine(line); err != nil {
			return originalLen, err
		}
	}

	return originalLen, nil
}

func (pdw *PackageDecoratedWriter) writeLine(line []byte) error {
	lineContent := strings.TrimRight(string(line), "\n\r")

	if strings.TrimSpace(lineContent) == "" {
		_, err := pdw.writer.Write(line)
		return err
	}

	timestamp := time.Now().Format(timestampFormat)

	var decoratedLine string
	if logger.IsColorDisabled() {
		decoratedLine = fmt.Sprintf("%s  [%s] %s\n", timestamp, pdw.packageName, lineContent)
	} else {
		decoratedLine = pterm.Sprintf("%s  %s %s\n",
			pterm.FgGray.Sprint(timestamp),
			pterm.FgYellow.Sprintf("[%s]", pdw.packageName),
			lineContent,
		)
	}

	_, err := pdw.writer.Write([]byte(decoratedLine))

	return err
}

// Exec runs a command in the given directory, discarding its output
// unless excludeStdout is false.
func Exec(excludeStdout bool, dir, name string, args ...string) error {
	return ExecWithContext(context.Background(), excludeStdout, dir, name, args...)
}

// ExecWithContext runs a command with context for cancellation control.
// When excludeStdout is false (the verbose build/install path) output is
// streamed live through a PackageDecoratedWriter named after dir; either
// way stderr is always captured so a failure's error carries the
// command's own diagnostics, not just its exit code.
func ExecWithContext(
	ctx context.Context, excludeStdout bool, dir, name string, args ...string,
) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if !excludeStdout {
		decoratedWriter := NewPackageDecoratedWriter(logger.MultiPrinter.Writer, packageLabel(dir, name))
		cmd.Stdout = decoratedWriter
		cmd.Stderr = io.MultiWriter(&stderr, decoratedWriter)
	}

	if dir != "" {
		cmd.Dir = dir
	}

	logger.Debug("executing command", "command", name, "args", args, "dir", dir)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		logger.Error("command execution failed",
			"command", name,
			"args", args,
			"dir", dir,
			"duration", duration,
			"error", err)

		return errors.Wrapf(err, "failed to execute command %s: %s", name, strings.TrimSpace(stderr.String()))
	}

	logger.Debug("command execution completed",
		"command", name,
		"duration", duration)

	return nil
}

// packageLabel derives a short origin label for decorated output from
// the command's working directory, falling back to the command name.
func packageLabel(dir, name string) string {
	if dir == "" {
		return name
	}

	return dir[strings.LastIndexByte(dir, '/')+1:]
}
