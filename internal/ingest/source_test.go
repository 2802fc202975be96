package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
)

func TestLoadSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# hello\ncontent"), 0644); err != nil {
		t.Fatal(err)
	}

	text, err := LoadSource(path)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if text != "# hello\ncontent" {
		t.Fatalf("unexpected content: %q", text)
	}
}

func TestLoadSourceRejectsUnsupportedType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadSource(path)
	if err == nil {
		t.Fatal("expected error for pdf source")
	}
	if !apperr.Is(err, apperr.KindSource) {
		t.Fatalf("expected source kind, got %q", apperr.KindOf(err))
	}
}

func TestListSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.md", "sub/c.md", "skip.pdf"} {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := ListSources(dir)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expect 3 sources, got %d: %v", len(paths), paths)
	}
}
