package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archives"
)

// makeFixtureArchive builds a tar.zst fixture the way mholt/archives
// itself would, independent of this package's own Extract code path.
func makeFixtureArchive(t *testing.T, sourceDir, outputFile string) {
	t.Helper()

	ctx := context.Background()

	files, err := archives.FilesFromDisk(ctx, &archives.FromDiskOptions{FollowSymlinks: false},
		map[string]string{sourceDir + string(os.PathSeparator): ""})
	if err != nil {
		t.Fatalf("building fixture file list: %v", err)
	}

	out, err := os.Create(filepath.Clean(outputFile))
	if err != nil {
		t.Fatalf("creating fixture archive: %v", err)
	}
	defer out.Close()

	format := archives.CompressedArchive{
		Compression: archives.Zstd{},
		Archival:    archives.Tar{},
	}

	if err := format.Archive(ctx, out, files); err != nil {
		t.Fatalf("archiving fixture: %v", err)
	}
}

func TestExtract(t *testing.T) {
	tempDir := t.TempDir()
	sourceDir := filepath.Join(tempDir, "source")
	archiveFile := filepath.Join(tempDir, "test.tar.zst")
	extractDir := filepath.Join(tempDir, "extract")

	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		t.Fatalf("Failed to create source directory: %v", err)
	}

	testFile := filepath.Join(sourceDir, "test.txt")

	if err := os.WriteFile(testFile, []byte("test content"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	makeFixtureArchive(t, sourceDir, archiveFile)

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		t.Fatalf("Failed to create extract directory: %v", err)
	}

	if err := Extract(archiveFile, extractDir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	extractedFile := filepath.Join(extractDir, "test.txt")
	if _, err := os.Stat(extractedFile); os.IsNotExist(err) {
		t.Fatalf("Extracted file was not found")
	}

	content, err := os.ReadFile(extractedFile)
	if err != nil {
		t.Fatalf("Failed to read extracted file: %v", err)
	}

	if string(content) != "test content" {
		t.Fatalf("Extracted file content mismatch. Got: %s, Expected: test content", string(content))
	}
}

func TestExtractSkipsAlreadyExtractedFileOfSameSize(t *testing.T) {
	tempDir := t.TempDir()
	sourceDir := filepath.Join(tempDir, "source")
	archiveFile := filepath.Join(tempDir, "test.tar.zst")
	extractDir := filepath.Join(tempDir, "extract")

	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		t.Fatalf("Failed to create source directory: %v", err)
	}

	testFile := filepath.Join(sourceDir, "test.txt")

	if err := os.WriteFile(testFile, []byte("test content"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	makeFixtureArchive(t, sourceDir, archiveFile)

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		t.Fatalf("Failed to create extract directory: %v", err)
	}

	if err := Extract(archiveFile, extractDir); err != nil {
		t.Fatalf("first Extract failed: %v", err)
	}

	// Second extraction should hit the size-match skip path, not fail.
	if err := Extract(archiveFile, extractDir); err != nil {
		t.Fatalf("second Extract failed: %v", err)
	}
}

func TestExtractInvalidArchive(t *testing.T) {
	tempDir := t.TempDir()
	extractDir := filepath.Join(tempDir, "extract")
	invalidArchive := "/non/existent/archive.tar.zst"

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		t.Fatalf("Failed to create extract directory: %v", err)
	}

	if err := Extract(invalidArchive, extractDir); err == nil {
		t.Fatal("Expected error for invalid archive file, got nil")
	}
}
