package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajramos/mailsweep/internal/services"
)

// LoadCriteria reads triage criteria from a YAML file
func LoadCriteria(path string) (*services.TriageCriteria, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty criteria path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria file: %w", err)
	}
	return ParseCriteria(data)
}

// ParseCriteria decodes and validates YAML triage criteria
func ParseCriteria(data []byte) (*services.TriageCriteria, error) {
	var criteria services.TriageCriteria
	if err := yaml.Unmarshal(data, &criteria); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	if len(criteria.Labels) == 0 {
		return nil, fmt.Errorf("criteria define no labels")
	}
	seen := make(map[string]struct{}, len(criteria.Labels))
	for i, label := range criteria.Labels {
		name := strings.TrimSpace(label.Name)
		if name == "" {
			return nil, fmt.Errorf("label %d has no name", i)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate label %q", name)
		}
		seen[key] = struct{}{}
		criteria.Labels[i].Name = name
	}
	return &criteria, nil
}
