package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arcadiaforge/arcadiaforge/internal/feature"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

func TestOpenStoreErrorsWhenNoProjectExists(t *testing.T) {
	dir := t.TempDir()
	if _, err := openStore(dir); err == nil {
		t.Fatal("expected an error for a directory with no .arcadia/project.db")
	}
}

func initProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".arcadia"), 0o755); err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(dbPath(dir))
	if err != nil {
		t.Fatalf("create project store: %v", err)
	}
	db.Close()
	c, err := openComponents(dir)
	if err != nil {
		t.Fatalf("openComponents on a fresh project: %v", err)
	}
	defer c.DB.Close()
	return dir
}

func TestOpenComponentsCreatesWorkingStore(t *testing.T) {
	dir := initProject(t)

	c, err := openComponents(dir)
	if err != nil {
		t.Fatalf("openComponents: %v", err)
	}
	defer c.DB.Close()

	if _, err := c.Features.Add(context.Background(), "does a thing", nil, feature.CategoryFunctional); err != nil {
		t.Fatalf("Features.Add: %v", err)
	}
	features, err := c.Features.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("Features.List: %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}
}

func TestOpenInjectionScopesToSessionZero(t *testing.T) {
	dir := initProject(t)

	c, err := openComponents(dir)
	if err != nil {
		t.Fatalf("openComponents: %v", err)
	}
	defer c.DB.Close()

	iface, err := openInjection(c.DB)
	if err != nil {
		t.Fatalf("openInjection: %v", err)
	}
	pending, err := iface.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending points on a fresh project, got %d", len(pending))
	}
}

func TestDbPathIsUnderArcadiaDir(t *testing.T) {
	got := dbPath("/tmp/proj")
	want := filepath.Join("/tmp/proj", ".arcadia", "project.db")
	if got != want {
		t.Fatalf("dbPath = %q, want %q", got, want)
	}
}

func TestIndexArgRejectsNonNumeric(t *testing.T) {
	if _, err := indexArg("abc"); err == nil {
		t.Fatal("expected an error for a non-numeric feature index")
	}
	idx, err := indexArg("42")
	if err != nil {
		t.Fatalf("indexArg: %v", err)
	}
	if idx != 42 {
		t.Fatalf("indexArg = %d, want 42", idx)
	}
}

func TestCategoryFlagEmptyMeansNoFilter(t *testing.T) {
	if categoryFlag("") != nil {
		t.Fatal("expected nil for an empty category flag")
	}
	c := categoryFlag("style")
	if c == nil || *c != feature.CategoryStyle {
		t.Fatalf("categoryFlag(%q) = %v, want %v", "style", c, feature.CategoryStyle)
	}
}
