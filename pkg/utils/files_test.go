package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetPathInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.lua")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	full, parent, err := GetPathInfo(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != path || parent != dir {
		t.Errorf("Expected %s in %s, got %s in %s", path, dir, full, parent)
	}

	if _, _, err := GetPathInfo(dir); err == nil {
		t.Errorf("Expected error for a directory")
	}
	if _, _, err := GetPathInfo(filepath.Join(dir, "missing.lua")); err == nil {
		t.Errorf("Expected error for a missing file")
	}
}

func TestSnapshotPath(t *testing.T) {
	tests := map[string]string{
		"fw.lua":          "fw.zip",
		"/a/b/robot.lua":  "/a/b/robot.zip",
		"noext":           "noext.zip",
		"dir.v2/firmware": "dir.v2/firmware.zip",
	}
	for in, want := range tests {
		if got := SnapshotPath(in); got != want {
			t.Errorf("SnapshotPath(%q) = %q, want %q", in, got, want)
		}
	}
}
