// Package main is the arb entry point. It dispatches by argv[0]'s
// basename (or argv[1] subcommand) to one of the rootless sub-actions
// before cobra ever parses a flag, since those sub-actions are re-execs
// of this same binary with a deliberately minimal, flag-free argv, per
// spec.md §4.11/§6.
package main

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/arch-repo-builder/arb/cmd/arb/command"
	"github.com/arch-repo-builder/arb/pkg/rootless"
)

// sub-actions that re-exec this binary rather than going through cobra;
// everything else falls through to the driver CLI.
var applets = map[string]bool{
	"broker":         true,
	"rm-rf":          true,
	"map-assert":     true,
	"init":           true,
	"read-pkgbuilds": true,
	"pkgreader":      true,
}

func main() {
	name := filepath.Base(os.Args[0])
	args := os.Args[1:]

	if !applets[name] && len(os.Args) > 1 && applets[os.Args[1]] {
		name = os.Args[1]
		args = os.Args[2:]
	}

	if applets[name] {
		os.Exit(runApplet(name, args))
	}

	command.Execute()
}

func runApplet(name string, args []string) int {
	switch name {
	case "init":
		return runInitApplet(args)
	case "read-pkgbuilds", "pkgreader":
		return runReadPkgbuildsApplet()
	default:
		if err := rootless.DispatchApplet(name, args); err != nil {
			rootlessFatal(err)
			return 1
		}

		return 0
	}
}

// runInitApplet becomes PID 1 of its namespace and execs args as its
// direct child, reaping every other descendant until none remain, per
// spec.md §4.3's init bullet.
func runInitApplet(args []string) int {
	if len(args) == 0 {
		rootlessFatal(nil)
		return 1
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	exit, err := rootless.RunInit(cmd)
	if err != nil {
		rootlessFatal(err)
		return 1
	}

	return exit
}

// runReadPkgbuildsApplet reads a length-prefixed path list from stdin,
// runs the extractor over each, and writes the parsed entries to stdout
// as plain JSON (no length prefix) for a parent process to decode.
// orchestrator.Driver does not invoke this applet; it parses through its
// own runExtractor.
func runReadPkgbuildsApplet() int {
	paths, err := rootless.ReadPkgbuildPaths(os.Stdin)
	if err != nil {
		rootlessFatal(err)
		return 1
	}

	if err := command.RunReadPkgbuilds(paths, os.Stdout); err != nil {
		rootlessFatal(err)
		return 1
	}

	return 0
}

func rootlessFatal(err error) {
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
	} else {
		os.Stderr.WriteString("init applet requires a child command\n")
	}
}
