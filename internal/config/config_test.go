package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_ResolvesDurations(t *testing.T) {
	cfg := Default()
	if cfg.AskUserDeadlineSecs != 55 || cfg.PermissionDeadlineSecs != 120 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AskUserDeadline.Seconds() != 55 {
		t.Fatalf("expected resolved duration, got %v", cfg.AskUserDeadline)
	}
}

func TestSaveAndLoad_ProjectOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".agent-runtime", "runtime.jsonc")

	cfg := Default()
	cfg.DefaultModel = "custom-model"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DefaultModel != "custom-model" {
		t.Fatalf("expected project config to override default, got %q", loaded.DefaultModel)
	}
}

func TestLoad_TemplatesDocumentOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".agent-runtime", "templates.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	doc := "worker: |\n  Always write __output.json.\nchecker: |\n  Be strict.\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerPromptTemplate != "Always write __output.json.\n" {
		t.Fatalf("unexpected worker template: %q", cfg.WorkerPromptTemplate)
	}
	if cfg.CheckerPromptTemplate != "Be strict.\n" {
		t.Fatalf("unexpected checker template: %q", cfg.CheckerPromptTemplate)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RUNTIME_DEFAULT_MODEL", "env-model")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != "env-model" {
		t.Fatalf("expected env override, got %q", cfg.DefaultModel)
	}
}
