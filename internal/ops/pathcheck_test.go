package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/errors"
)

func exportConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StorageRoot = t.TempDir()
	return cfg
}

func TestValidateExportPath_Rejections(t *testing.T) {
	cfg := exportConfig(t)
	exports := cfg.ExportsDir()

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"parent traversal", "../backup.jsonl"},
		{"hidden traversal", filepath.Join(exports, "..", "..", "etc", "shadow.jsonl")},
		{"no extension", filepath.Join(exports, "backup")},
		{"wrong extension", filepath.Join(exports, "backup.json")},
		{"outside allowed dirs", filepath.Join(t.TempDir(), "backup.jsonl")},
		{"nested in exports", filepath.Join(exports, "sub", "backup.jsonl")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateExportPath(tc.path, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidateExportPath_DefaultDirAccepted(t *testing.T) {
	cfg := exportConfig(t)
	if err := ValidateExportPath(filepath.Join(cfg.ExportsDir(), "out.jsonl"), cfg); err != nil {
		t.Errorf("expected success in exports dir, got: %v", err)
	}
}

func TestValidateExportPath_AllowedPaths(t *testing.T) {
	cfg := exportConfig(t)
	allowed := t.TempDir()
	cfg.AllowedPaths = []string{allowed, "relative/ignored"}

	if err := ValidateExportPath(filepath.Join(allowed, "out.jsonl"), cfg); err != nil {
		t.Errorf("expected success for path in AllowedPaths, got: %v", err)
	}
	if err := ValidateExportPath(filepath.Join("relative", "ignored", "out.jsonl"), cfg); err == nil {
		t.Error("relative allowed_paths entries should be ignored")
	}
}

func TestValidateExportPath_SymlinkFileRejected(t *testing.T) {
	cfg := exportConfig(t)
	allowed := t.TempDir()
	cfg.AllowedPaths = []string{allowed}

	target := filepath.Join(t.TempDir(), "secret.jsonl")
	if err := os.WriteFile(target, []byte("{}"), 0600); err != nil {
		t.Fatalf("failed to create target file: %v", err)
	}
	link := filepath.Join(allowed, "out.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	err := ValidateExportPath(link, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestContainsTraversal(t *testing.T) {
	tests := []struct {
		path     string
		contains bool
	}{
		{"/home/user/file.txt", false},
		{"../file.txt", true},
		{"/home/../etc/passwd", true},
		{"./file.txt", false},
		{"/home/user/.hidden/file.txt", false},
		{"file..name.txt", false}, // .. not as path component
		{"/tmp/a/b/../c.jsonl", true},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := containsTraversal(tc.path); got != tc.contains {
				t.Errorf("containsTraversal(%q) = %v, want %v", tc.path, got, tc.contains)
			}
		})
	}
}
