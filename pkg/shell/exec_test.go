package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arch-repo-builder/arb/pkg/logger"
)

func TestNewPackageDecoratedWriter(t *testing.T) {
	var buf bytes.Buffer

	writer := NewPackageDecoratedWriter(&buf, "test-package")

	if writer == nil {
		t.Fatal("NewPackageDecoratedWriter should not return nil")
	}

	if writer.packageName != "test-package" {
		t.Fatalf("Expected package name 'test-package', got '%s'", writer.packageName)
	}
}

func TestPackageDecoratedWriterWrite(t *testing.T) {
	var buf bytes.Buffer

	writer := NewPackageDecoratedWriter(&buf, "test-package")

	testLine := "This is a test line\n"

	n, err := writer.Write([]byte(testLine))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if n != len(testLine) {
		t.Fatalf("Expected to write %d bytes, wrote %d", len(testLine), n)
	}

	output := buf.String()
	if !strings.Contains(output, "test-package") {
		t.Fatal("Output should contain package name")
	}

	if !strings.Contains(output, "This is a test line") {
		t.Fatal("Output should contain the original line content")
	}
}

func TestPackageDecoratedWriterWriteEmptyLine(t *testing.T) {
	var buf bytes.Buffer

	writer := NewPackageDecoratedWriter(&buf, "test-package")

	emptyLine := "\n"

	n, err := writer.Write([]byte(emptyLine))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if n != len(emptyLine) {
		t.Fatalf("Expected to write %d bytes, wrote %d", len(emptyLine), n)
	}

	output := buf.String()
	if output != emptyLine {
		t.Fatalf("Empty line should be written as-is, got: %q", output)
	}
}

func TestPackageDecoratedWriterWritePartialLine(t *testing.T) {
	var buf bytes.Buffer

	writer := NewPackageDecoratedWriter(&buf, "test-package")

	partialLine := "This is a partial"

	n, err := writer.Write([]byte(partialLine))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if n != len(partialLine) {
		t.Fatalf("Expected to write %d bytes, wrote %d", len(partialLine), n)
	}

	output := buf.String()
	if output != "" {
		t.Fatalf("Expected no output for partial line, got: %q", output)
	}

	completion := " line\n"

	_, err = writer.Write([]byte(completion))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	output = buf.String()
	if !strings.Contains(output, "This is a partial line") {
		t.Fatal("Output should contain the complete line")
	}
}

func TestExec(t *testing.T) {
	err := Exec(true, "", "echo", "test")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
}

func TestExecWithContext(t *testing.T) {
	ctx := context.Background()

	err := ExecWithContext(ctx, true, "", "echo", "test")
	if err != nil {
		t.Fatalf("ExecWithContext failed: %v", err)
	}
}

func TestExecWithContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := ExecWithContext(ctx, true, "", "sleep", "1")
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestExecInvalidCommand(t *testing.T) {
	err := Exec(true, "", "non-existent-command-xyz")
	if err == nil {
		t.Fatal("Expected error for non-existent command, got nil")
	}
}

func TestExecCapturesStderrOnFailure(t *testing.T) {
	ctx := context.Background()

	err := ExecWithContext(ctx, true, "", "sh", "-c", "echo boom >&2; exit 1")
	if err == nil {
		t.Fatal("Expected error for failing command, got nil")
	}

	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Expected error to carry captured stderr, got: %v", err)
	}
}

func TestExecVerbosePathStreamsOutput(t *testing.T) {
	var buf bytes.Buffer

	original := logger.MultiPrinter.Writer
	logger.MultiPrinter.Writer = &buf

	defer func() { logger.MultiPrinter.Writer = original }()

	ctx := context.Background()

	err := ExecWithContext(ctx, false, "", "echo", "verbose output")
	if err != nil {
		t.Fatalf("ExecWithContext failed: %v", err)
	}

	if !strings.Contains(buf.String(), "verbose output") {
		t.Fatalf("Expected decorated output in multi-printer writer, got: %q", buf.String())
	}
}

func TestPackageLabel(t *testing.T) {
	if got := packageLabel("", "pacman"); got != "pacman" {
		t.Fatalf("Expected fallback to command name, got %q", got)
	}

	if got := packageLabel("/work/roots/foo-1.0", "pacman"); got != "foo-1.0" {
		t.Fatalf("Expected last path component, got %q", got)
	}
}
