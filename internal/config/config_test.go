package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Mode != ModeRelease {
		t.Errorf("default mode = %q", cfg.Mode)
	}
	if cfg.LibraryMode || cfg.ForceLibraryMode {
		t.Error("defaults should not enable library modes")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cil2cpp.yaml")
	content := `mode: debug
libraryMode: true
extraFilteredNamespaces:
  - My.Native
dumpIR: out.json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDebug {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if !cfg.LibraryMode {
		t.Error("libraryMode not parsed")
	}
	if len(cfg.ExtraFilteredNamespaces) != 1 || cfg.ExtraFilteredNamespaces[0] != "My.Native" {
		t.Errorf("filters = %v", cfg.ExtraFilteredNamespaces)
	}
	if cfg.DumpIR != "out.json" {
		t.Errorf("dumpIR = %q", cfg.DumpIR)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("mode: turbo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown mode must be rejected")
	}
}
