package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses an entity definition from a YAML file.
func ParseFile(path string) (Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entity{}, fmt.Errorf("read file %s: %w", path, err)
	}

	ent, err := Parse(data)
	if err != nil {
		return Entity{}, fmt.Errorf("%s: %w", path, err)
	}
	return ent, nil
}

// Parse parses and validates an entity definition from YAML bytes.
func Parse(data []byte) (Entity, error) {
	var ent Entity
	if err := yaml.Unmarshal(data, &ent); err != nil {
		return Entity{}, fmt.Errorf("parse yaml: %w", err)
	}

	if err := ent.Validate(); err != nil {
		return Entity{}, err
	}

	return ent, nil
}

// ParseDir parses all entity definitions from a directory, including
// subdirectories. Non-YAML files are skipped.
func ParseDir(dir string) ([]Entity, error) {
	var entities []Entity

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			entities = append(entities, sub...)
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		ent, err := ParseFile(path)
		if err != nil {
			return nil, err
		}

		entities = append(entities, ent)
	}

	return entities, nil
}
