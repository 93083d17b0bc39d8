package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.NumWorkers < 1 {
		t.Errorf("Expected at least one worker, got %d", cfg.Processing.NumWorkers)
	}
	if cfg.Fit.MaxEvaluations != 5000 {
		t.Errorf("Expected 5000 evaluations, got %d", cfg.Fit.MaxEvaluations)
	}
	if cfg.Locator.Statistic != "median" {
		t.Errorf("Expected median statistic, got %s", cfg.Locator.Statistic)
	}
	if len(cfg.ROI.IdentityKeys) != 3 {
		t.Errorf("Expected 3 identity keys, got %v", cfg.ROI.IdentityKeys)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.ROI.RoiSuffix != "rois" {
		t.Errorf("Expected default roi suffix, got %s", cfg.ROI.RoiSuffix)
	}
}

func TestSaveLoadKeepsStandards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "qarprep.yaml")

	a, b := 1.5, 30.0
	cfg := DefaultConfig()
	cfg.Standards["H3"] = []*float64{&a, nil, &b}
	cfg.Processing.Rotate = 3

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Processing.Rotate != 3 {
		t.Errorf("Expected rotate 3, got %d", loaded.Processing.Rotate)
	}

	table := NewActivityTable(loaded.Standards)
	acts, err := table.Activities("H3")
	if err != nil {
		t.Fatalf("Activities failed: %v", err)
	}
	if len(acts) != 2 || acts[0] != 1.5 || acts[1] != 30 {
		t.Errorf("Expected [1.5 30] after dropping nulls, got %v", acts)
	}
}

func TestLoadActivityTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standards.yaml")
	content := "C14: [0.0, 10.5, 100.0]\nH3: [1.0, null]\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write table: %v", err)
	}

	table, err := LoadActivityTable(path)
	if err != nil {
		t.Fatalf("LoadActivityTable failed: %v", err)
	}

	c14, _ := table.Activities("C14")
	if len(c14) != 3 {
		t.Errorf("Expected 3 C14 activities, got %v", c14)
	}
	h3, _ := table.Activities("H3")
	if len(h3) != 1 {
		t.Errorf("Expected 1 H3 activity, got %v", h3)
	}
	if _, err := table.Activities("I125"); err == nil {
		t.Error("Expected error for unknown isotope")
	}
}

func TestDefaultStandardsRequired(t *testing.T) {
	table := NewActivityTable(DefaultConfig().Standards)
	if _, err := table.Activities("C14"); !errors.Is(err, ErrNoStandards) {
		t.Errorf("Expected ErrNoStandards, got %v", err)
	}

	table = NewActivityTable(map[string][]*float64{"H3": nil})
	if _, err := table.Activities("C14"); err == nil || errors.Is(err, ErrNoStandards) {
		t.Errorf("Expected unknown isotope error, got %v", err)
	}
}
