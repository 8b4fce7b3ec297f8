package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "polls.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `[
		{"name": "checkout", "url": "https://example.com/health", "interval": "30s", "min": "5s", "max": "5m", "variance": 0.1}
	]`)

	specs, err := loadManifest(path)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("len(specs) = %d, want 1", len(specs))
	}
	spec := specs[0]
	if spec.Name != "checkout" || spec.URL != "https://example.com/health" {
		t.Errorf("spec = %+v, want checkout/https://example.com/health", spec)
	}
	if spec.Interval != 30*time.Second || spec.Min != 5*time.Second || spec.Max != 5*time.Minute {
		t.Errorf("durations = %+v, want 30s/5s/5m", spec)
	}
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	path := writeManifest(t, `[]`)
	if _, err := loadManifest(path); err == nil {
		t.Fatal("expected an error for an empty manifest")
	}
}

func TestLoadManifestRejectsDuplicateNames(t *testing.T) {
	path := writeManifest(t, `[
		{"name": "checkout", "url": "https://a", "interval": "30s", "min": "5s", "max": "5m"},
		{"name": "checkout", "url": "https://b", "interval": "30s", "min": "5s", "max": "5m"}
	]`)
	if _, err := loadManifest(path); err == nil {
		t.Fatal("expected an error for duplicate poll names")
	}
}

func TestLoadManifestRejectsMissingURL(t *testing.T) {
	path := writeManifest(t, `[{"name": "checkout", "interval": "30s", "min": "5s", "max": "5m"}]`)
	if _, err := loadManifest(path); err == nil {
		t.Fatal("expected an error for a poll with no url")
	}
}

func TestLoadManifestRejectsBadDuration(t *testing.T) {
	path := writeManifest(t, `[{"name": "checkout", "url": "https://a", "interval": "not-a-duration", "min": "5s", "max": "5m"}]`)
	if _, err := loadManifest(path); err == nil {
		t.Fatal("expected an error for an invalid interval")
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := loadManifest(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing manifest file")
	}
}
