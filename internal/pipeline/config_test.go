package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesMissingPathIsNoop(t *testing.T) {
	o, err := LoadOverrides("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o != (Overrides{}) {
		t.Fatalf("expected zero value, got %+v", o)
	}
}

func TestLoadOverridesParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := "step_timeout_seconds: 120\noverall_timeout_seconds: 900\ndisable_audit: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.StepTimeoutSeconds != 120 || o.OverallTimeoutSeconds != 900 || !o.DisableAudit {
		t.Fatalf("unexpected overrides: %+v", o)
	}
}

func TestOverridesApplyLayersNonZeroFields(t *testing.T) {
	cfg := Config{StepTimeout: 5 * time.Minute, OverallTimeout: 30 * time.Minute}
	o := Overrides{StepTimeoutSeconds: 60, DisableDocker: true}

	o.Apply(&cfg)

	if cfg.StepTimeout != time.Minute {
		t.Fatalf("expected step timeout overridden to 1m, got %s", cfg.StepTimeout)
	}
	if cfg.OverallTimeout != 30*time.Minute {
		t.Fatalf("expected overall timeout untouched, got %s", cfg.OverallTimeout)
	}
	if !cfg.DisableDocker {
		t.Fatal("expected DisableDocker to be applied")
	}
}
