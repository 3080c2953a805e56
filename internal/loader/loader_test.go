package loader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"lib", "util.aoc", filepath.Join("lib", "util.aoc")},
		{"lib", "../main.aoc", "main.aoc"},
		{".", "x.aoc", "x.aoc"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.base, tt.path); got != tt.want {
			t.Errorf("Resolve(%q, %q): got %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.aoc")
	if err := os.WriteFile(path, []byte("1 + 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := (FileLoader{}).Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if src != "1 + 1" {
		t.Errorf("got %q", src)
	}
	if _, err := (FileLoader{}).Load(filepath.Join(dir, "missing.aoc")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMapLoader(t *testing.T) {
	ld := MapLoader{"a.aoc": "1"}
	if src, err := ld.Load("a.aoc"); err != nil || src != "1" {
		t.Errorf("got %q, %v", src, err)
	}
	if _, err := ld.Load("b.aoc"); err == nil {
		t.Error("expected error for unknown path")
	}
}
