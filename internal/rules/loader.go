package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk rule set shape.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads and validates a rule set from a yaml file. Rules are loaded
// once at startup and never mutated at runtime.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}
	if err := Validate(f.Rules); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return f.Rules, nil
}

// LoadOrDefault loads rules from path, or returns the built-in set when no
// path is configured.
func LoadOrDefault(path string) ([]Rule, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
