package metadata

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LoadAll reads every *.json entity definition in dir and populates the
// registry. Definitions are validated before registration; one bad file
// fails the whole load.
func LoadAll(dir string, reg *Registry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read metadata dir: %w", err)
	}

	var entities []*Entity
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		entity, err := loadEntityFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		entities = append(entities, entity)
	}

	reg.Load(entities)
	log.Printf("Loaded %d entities into registry", len(entities))
	return nil
}

func loadEntityFile(path string) (*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entity Entity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	if err := validateEntity(&entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func validateEntity(e *Entity) error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if e.Table == "" {
		e.Table = e.Name
	}
	if e.PrimaryKey.Field == "" {
		return fmt.Errorf("entity %s: primary key field is required", e.Name)
	}
	if !e.HasField(e.PrimaryKey.Field) {
		return fmt.Errorf("entity %s: primary key field %s is not defined", e.Name, e.PrimaryKey.Field)
	}
	if e.Ownership != "" && !e.HasField(e.Ownership) {
		return fmt.Errorf("entity %s: ownership field %s is not defined", e.Name, e.Ownership)
	}

	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %s: field with empty name", e.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("entity %s: duplicate field %s", e.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
