// Package errs provides the error taxonomy shared across the builder: a
// closed set of categories, a structured carrier type, and helpers for
// attaching a failed child process's pid/exit code.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the closed categories of errors the builder can produce.
type Kind string

const (
	// Config covers missing/invalid YAML, ambiguous dep providers, no
	// PKGBUILDs defined, and missing subuid/subgid maps.
	Config Kind = "config"
	// Environment covers running as root and failures to unshare or map.
	Environment Kind = "environment"
	// IO covers filesystem errors from read/write/create/remove/rename/symlink.
	IO Kind = "io"
	// Child covers a spawned process exiting non-zero or failing to spawn.
	Child Kind = "child"
	// Thread covers a worker goroutine recovering from a panic.
	Thread Kind = "thread"
	// Integrity covers a download that failed checksum verification.
	Integrity Kind = "integrity"
	// Mount covers mount/umount/unshare syscall failures.
	Mount Kind = "mount"
	// Logic covers impossible states: duplicated domain keys, parser
	// count mismatches, ambiguous provides, dependency cycles.
	Logic Kind = "logic"
)

// E is the structured error carrier. All core packages return *E (or wrap
// a *E) rather than bare errors so that callers can branch on Kind.
type E struct {
	Kind      Kind
	Message   string
	Cause     error
	Operation string
	// PID and ExitCode are populated for Kind == Child.
	PID      int
	ExitCode int
}

func (e *E) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *E) Unwrap() error {
	return e.Cause
}

// Is compares by Kind, the way callers are expected to test these errors:
// errors.Is(err, &errs.E{Kind: errs.Integrity}).
func (e *E) Is(target error) bool {
	var other *E
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}

	return false
}

// New creates a bare *E of the given kind.
func New(kind Kind, message string) *E {
	return &E{Kind: kind, Message: message}
}

// Newf creates a bare *E with a formatted message.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing cause.
func Wrap(cause error, kind Kind, message string) *E {
	return &E{Kind: kind, Message: message, Cause: cause}
}

// Wrapf attaches a kind and formatted message to an existing cause.
func Wrapf(cause error, kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ChildError builds a Kind==Child error carrying the pid and exit code of a
// spawned process, per the rootless handler's sub-action error contract.
func ChildError(op string, pid, exitCode int, cause error) *E {
	return &E{
		Kind:      Child,
		Message:   "child process exited abnormally",
		Operation: op,
		PID:       pid,
		ExitCode:  exitCode,
		Cause:     cause,
	}
}

// WithOperation annotates the error with the operation that produced it.
func (e *E) WithOperation(op string) *E {
	e.Operation = op
	return e
}
