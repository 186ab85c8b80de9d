package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overrides is the optional PIPELINE_CONFIG YAML document, letting an
// operator tune per-step timeouts and the audit/docker toggles without
// rebuilding (spec §4.4's enabled/disabled flags, plus the Open
// Question on configurable defaults). The fixed step sequence itself
// is never configurable.
type Overrides struct {
	StepTimeoutSeconds    int  `yaml:"step_timeout_seconds"`
	OverallTimeoutSeconds int  `yaml:"overall_timeout_seconds"`
	DisableAudit          bool `yaml:"disable_audit"`
	DisableDocker         bool `yaml:"disable_docker"`
}

// LoadOverrides reads and parses a PIPELINE_CONFIG YAML file. A missing
// path is not an error — callers pass the empty string to skip loading.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	return o, nil
}

// Apply layers non-zero override fields onto cfg.
func (o Overrides) Apply(cfg *Config) {
	if o.StepTimeoutSeconds > 0 {
		cfg.StepTimeout = time.Duration(o.StepTimeoutSeconds) * time.Second
	}
	if o.OverallTimeoutSeconds > 0 {
		cfg.OverallTimeout = time.Duration(o.OverallTimeoutSeconds) * time.Second
	}
	if o.DisableAudit {
		cfg.DisableAudit = true
	}
	if o.DisableDocker {
		cfg.DisableDocker = true
	}
}
