package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ApplyProfile overlays a yaml profile file onto cfg. Only fields present
// in the file are touched.
func ApplyProfile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse profile %s: %w", path, err)
	}
	return nil
}
