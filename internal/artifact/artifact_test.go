package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

func openTest(t *testing.T) (*Store, string) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	root := t.TempDir()
	return New(db, root), root
}

func writeSourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func TestStoreFileCopiesAndRecords(t *testing.T) {
	s, root := openTest(t)
	ctx := context.Background()

	src := writeSourceFile(t, t.TempDir(), "result.png", "fake-png-bytes")
	a, err := s.StoreFile(ctx, TypeScreenshot, src, 1, nil, "post-deploy check", nil, "")
	if err != nil {
		t.Fatalf("store file: %v", err)
	}
	if a.Checksum == "" {
		t.Fatal("expected a non-empty checksum")
	}
	if a.SizeBytes != int64(len("fake-png-bytes")) {
		t.Fatalf("unexpected size: %d", a.SizeBytes)
	}

	storedPath := filepath.Join(root, a.StoredPath)
	data, err := os.ReadFile(storedPath)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "fake-png-bytes" {
		t.Fatalf("unexpected stored content: %q", data)
	}
}

func TestGetRoundTrips(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	src := writeSourceFile(t, t.TempDir(), "test.log", "log contents")
	feature := 4
	stored, err := s.StoreFile(ctx, TypeLog, src, 2, &feature, "test run log", map[string]any{"exit_code": float64(1)}, "")
	if err != nil {
		t.Fatalf("store file: %v", err)
	}

	got, err := s.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "test run log" || got.FeatureIndex == nil || *got.FeatureIndex != 4 {
		t.Fatalf("unexpected artifact: %+v", got)
	}
	if got.Metadata["exit_code"] != float64(1) {
		t.Fatalf("expected metadata to round-trip, got %+v", got.Metadata)
	}
}

func TestListForFeatureFiltersByFeature(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()
	dir := t.TempDir()

	f0 := 0
	f1 := 1
	src1 := writeSourceFile(t, dir, "a.png", "a")
	src2 := writeSourceFile(t, dir, "b.png", "b")

	if _, err := s.StoreFile(ctx, TypeScreenshot, src1, 1, &f0, "", nil, ""); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := s.StoreFile(ctx, TypeScreenshot, src2, 1, &f1, "", nil, ""); err != nil {
		t.Fatalf("store: %v", err)
	}

	found, err := s.ListForFeature(ctx, 0)
	if err != nil {
		t.Fatalf("list for feature: %v", err)
	}
	if len(found) != 1 || found[0].OriginalName != "a.png" {
		t.Fatalf("expected exactly the feature-0 artifact, got %+v", found)
	}
}

func TestStoreFileMissingSourceErrors(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	if _, err := s.StoreFile(ctx, TypeLog, "/nonexistent/path.log", 1, nil, "", nil, ""); err == nil {
		t.Fatal("expected an error for a missing source file")
	}
}
