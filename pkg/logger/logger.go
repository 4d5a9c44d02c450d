// Package logger provides structured, concurrency-safe logging for the
// builder. It wraps pterm's logger so concurrent source-cache workers
// and build stages can each own a line of output on a shared terminal
// without interleaving garbled text, and so every message carries
// key/value fields an operator can grep for (pkgbase, stage, domain, pid).
package logger

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
)

var (
	// MultiPrinter is the shared printer backing every component logger
	// and pkg/shell's package-prefixed child output, so concurrent writers
	// cooperate on one terminal.
	MultiPrinter = pterm.DefaultMultiPrinter

	ptermLogger = pterm.DefaultLogger.
			WithLevel(pterm.LogLevelInfo).
			WithWriter(MultiPrinter.Writer).
			WithCaller(false).
			WithTime(true).
			WithKeyStyles(map[string]pterm.Style{
			"pkgbase":   *pterm.NewStyle(pterm.FgGreen),
			"pkgid":     *pterm.NewStyle(pterm.FgGreen),
			"version":   *pterm.NewStyle(pterm.FgGreen),
			"stage":     *pterm.NewStyle(pterm.FgBlue),
			"domain":    *pterm.NewStyle(pterm.FgBlue),
			"attempt":   *pterm.NewStyle(pterm.FgBlue),
			"count":     *pterm.NewStyle(pterm.FgBlue),
			"path":      *pterm.NewStyle(pterm.FgLightBlue),
			"url":       *pterm.NewStyle(pterm.FgLightBlue),
			"repo":      *pterm.NewStyle(pterm.FgLightBlue),
			"pid":       *pterm.NewStyle(pterm.FgCyan),
			"exit_code": *pterm.NewStyle(pterm.FgCyan),
			"state":     *pterm.NewStyle(pterm.FgCyan),
			"error":     *pterm.NewStyle(pterm.FgRed),
		})

	verboseEnabled = false
	colorDisabled  = false

	// Logger is the global, unscoped component logger.
	Logger = &Component{name: "arb"}
)

// Component scopes log lines to a subsystem (e.g. "sourcecache",
// "rootless", "buildstate"), the way every package in the builder
// names its own origin in operator-facing output.
type Component struct {
	name string
}

// WithComponent returns a logger prefixed with the given subsystem name.
func WithComponent(name string) *Component {
	return &Component{name: name}
}

func toLoggerArgs(kv []any) []pterm.LoggerArgument {
	if len(kv) == 0 {
		return nil
	}

	args := make([]pterm.LoggerArgument, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		args = append(args, pterm.LoggerArgument{
			Key:   fmt.Sprintf("%v", kv[i]),
			Value: kv[i+1],
		})
	}

	return args
}

func (c *Component) prefix(msg string) string {
	if c.name == "" {
		return msg
	}

	return fmt.Sprintf("[%s] %s", c.name, msg)
}

// Debug logs at debug level; a no-op unless SetVerbose(true) was called.
func (c *Component) Debug(msg string, kv ...any) {
	if !verboseEnabled {
		return
	}

	ptermLogger.Debug(c.prefix(msg), toLoggerArgs(kv))
}

// Info logs at info level.
func (c *Component) Info(msg string, kv ...any) {
	ptermLogger.Info(c.prefix(msg), toLoggerArgs(kv))
}

// Warn logs a degraded-but-continuing condition.
func (c *Component) Warn(msg string, kv ...any) {
	ptermLogger.Warn(c.prefix(msg), toLoggerArgs(kv))
}

// Error logs an actionable failure.
func (c *Component) Error(msg string, kv ...any) {
	ptermLogger.Error(c.prefix(msg), toLoggerArgs(kv))
}

// Fatal logs and terminates the process.
func (c *Component) Fatal(msg string, kv ...any) {
	ptermLogger.Fatal(c.prefix(msg), toLoggerArgs(kv))
}

// Tips prints an operator hint outside the leveled log stream.
func (c *Component) Tips(msg string, kv ...any) {
	pterm.Info.WithPrefix(pterm.Prefix{
		Text:  "TIP",
		Style: pterm.NewStyle(pterm.FgMagenta),
	}).Println(c.prefix(msg))
}

// SetVerbose toggles debug-level output globally.
func SetVerbose(verbose bool) {
	verboseEnabled = verbose
	if verbose {
		ptermLogger = ptermLogger.WithLevel(pterm.LogLevelTrace)
	} else {
		ptermLogger = ptermLogger.WithLevel(pterm.LogLevelInfo)
	}
}

// SetColorDisabled enables or disables ANSI color output.
func SetColorDisabled(disabled bool) {
	colorDisabled = disabled
	if disabled {
		pterm.DisableColor()
	} else {
		pterm.EnableColor()
	}
}

// IsVerbose reports whether SetVerbose(true) is currently in effect, so
// callers can gate streaming child-process output on the same flag that
// gates debug logging.
func IsVerbose() bool {
	return verboseEnabled
}

// IsColorDisabled reports whether the environment asks for plain output,
// honoring NO_COLOR and a dumb/unset terminal the way most CLIs do.
func IsColorDisabled() bool {
	if colorDisabled {
		return true
	}

	if os.Getenv("NO_COLOR") != "" {
		return true
	}

	if os.Getenv("TERM") == "dumb" {
		return true
	}

	return os.Getenv("COLORTERM") == "" && os.Getenv("TERM") == ""
}

// Package-level convenience wrappers over the global Logger, used by
// call sites that don't need their own component scope.
func Debug(msg string, kv ...any) { Logger.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Logger.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Logger.Warn(msg, kv...) }
func Error(msg string, kv ...any) { Logger.Error(msg, kv...) }
func Fatal(msg string, kv ...any) { Logger.Fatal(msg, kv...) }
func Tips(msg string, kv ...any)  { Logger.Tips(msg, kv...) }
