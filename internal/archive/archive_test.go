package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := t.TempDir()

	if err := os.MkdirAll(filepath.Join(src, "usr", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "usr", "bin", "python3"), []byte("#!fake\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "usr", "bin", "README"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("python3", filepath.Join(src, "usr", "bin", "python")); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(t.TempDir(), "layer.tar.zst")
	if err := Export(src, archivePath); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dest := t.TempDir()
	if err := Import(archivePath, dest); err != nil {
		t.Fatalf("Import: %v", err)
	}

	info, err := os.Stat(filepath.Join(dest, "usr", "bin", "python3"))
	if err != nil {
		t.Fatalf("stat imported python3: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("imported python3 mode = %v, want executable bit preserved", info.Mode())
	}

	content, err := os.ReadFile(filepath.Join(dest, "usr", "bin", "README"))
	if err != nil {
		t.Fatalf("read imported README: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("README content = %q, want %q", content, "hello\n")
	}

	target, err := os.Readlink(filepath.Join(dest, "usr", "bin", "python"))
	if err != nil {
		t.Fatalf("readlink imported python: %v", err)
	}
	if target != "python3" {
		t.Errorf("symlink target = %q, want python3", target)
	}
}

func TestExportRejectsMissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.tar.zst")
	if err := Export(filepath.Join(t.TempDir(), "does-not-exist"), dest); err == nil {
		t.Fatal("Export: want error for missing source directory")
	}
}
