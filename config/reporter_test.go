package config

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open report archive: %v", err)
	}
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		r, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open archive entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("failed to read archive entry %s: %v", f.Name, err)
		}
		out[f.Name] = string(data)
	}
	return out
}

func TestReportFinalize(t *testing.T) {
	tmpDir := t.TempDir()

	stored := filepath.Join(tmpDir, "stored.txt")
	if err := os.WriteFile(stored, []byte("stored content"), 0644); err != nil {
		t.Fatalf("failed to write stored file: %v", err)
	}

	conf := &ReporterConfig{Destination: filepath.Join(tmpDir, "report.zip")}
	r, err := conf.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Store("stored.txt", stored)
	r.StoreData("data.txt", []byte("binary payload"))

	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := readArchive(t, conf.Destination)

	manifest, ok := entries["MANIFEST"]
	if !ok {
		t.Fatal("expected MANIFEST entry in report archive")
	}
	for _, name := range []string{"stored.txt", "data.txt"} {
		if !strings.Contains(manifest, name) {
			t.Fatalf("expected manifest to mention %s, got %q", name, manifest)
		}
	}
	if got := entries["stored.txt"]; got != "stored content" {
		t.Fatalf("expected %q, got %q", "stored content", got)
	}
	if got := entries["data.txt"]; got != "binary payload" {
		t.Fatalf("expected %q, got %q", "binary payload", got)
	}
}

func TestReportStoreDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	src := filepath.Join(tmpDir, "css")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatalf("failed to create source dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "local.css"), []byte("p{}"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	conf := &ReporterConfig{Destination: filepath.Join(tmpDir, "report.zip")}
	r, err := conf.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Store("styles", src)
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := readArchive(t, conf.Destination)
	if got := entries["styles/local.css"]; got != "p{}" {
		t.Fatalf("expected %q, got %q", "p{}", got)
	}
}

func TestReportStoreCopySnapshots(t *testing.T) {
	tmpDir := t.TempDir()

	src := filepath.Join(tmpDir, "volatile.txt")
	if err := os.WriteFile(src, []byte("before"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	conf := &ReporterConfig{Destination: filepath.Join(tmpDir, "report.zip")}
	r, err := conf.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.StoreCopy("volatile.txt", src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// change the original after the copy was taken
	if err := os.WriteFile(src, []byte("after"), 0644); err != nil {
		t.Fatalf("failed to overwrite source file: %v", err)
	}
	if err := r.StoreCopy("volatile.txt", src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := readArchive(t, conf.Destination)
	if got := entries["volatile.txt"]; got != "before" {
		t.Fatalf("expected snapshot %q, got %q", "before", got)
	}
	var versioned int
	for name, content := range entries {
		if strings.HasPrefix(name, "volatile.txt-") {
			versioned++
			if content != "after" {
				t.Fatalf("expected second snapshot %q, got %q", "after", content)
			}
		}
	}
	if versioned != 1 {
		t.Fatalf("expected 1 versioned entry, got %d", versioned)
	}
}

func TestReportStoreSamePathTwice(t *testing.T) {
	r := &Report{}

	r.Store("name", "/some/path")
	// same name and path is allowed
	r.Store("name", "/some/path")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when overwriting report entry with different path")
		}
	}()
	r.Store("name", "/another/path")
}

func TestReportNilReceivers(t *testing.T) {
	var r *Report

	// none of these should panic or error
	r.Store("a", "b")
	r.StoreData("c", []byte("d"))
	if err := r.StoreCopy("e", "f"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := r.Name(); n != "" {
		t.Fatalf("expected empty name, got %q", n)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReportCloseWithoutFile(t *testing.T) {
	r := &Report{}
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
