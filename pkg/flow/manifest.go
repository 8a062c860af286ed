package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadManifest reads a flow definition from a YAML file.
func LoadManifest(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flow manifest %s: %w", path, err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
