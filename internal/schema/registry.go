package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/querykit/internal/domain"
)

// Registry holds the entity descriptors executors validate requests against.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	entities map[string]domain.EntityDescriptor
}

type registryFile struct {
	Entities []domain.EntityDescriptor `yaml:"entities"`
}

// NewRegistry validates the descriptors and indexes them by name.
func NewRegistry(descriptors ...domain.EntityDescriptor) (*Registry, error) {
	r := &Registry{entities: make(map[string]domain.EntityDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("entity descriptor without name")
		}
		if _, dup := r.entities[d.Name]; dup {
			return nil, fmt.Errorf("entity %s declared twice", d.Name)
		}
		r.entities[d.Name] = d
	}
	for _, name := range r.Names() {
		if err := r.validateDescriptor(r.entities[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Parse reads a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return NewRegistry(file.Entities...)
}

// LoadFile reads a YAML registry from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return Parse(data)
}

// Entity returns the descriptor registered under name.
func (r *Registry) Entity(name string) (domain.EntityDescriptor, bool) {
	d, ok := r.entities[name]
	return d, ok
}

// Names returns registered entity names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) validateDescriptor(d domain.EntityDescriptor) error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("entity %s declares no fields", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Fields)+len(d.Relations))
	for _, f := range d.Fields {
		if f.Name == "" || f.Name == "pk" {
			return fmt.Errorf("entity %s: invalid field name %q", d.Name, f.Name)
		}
		if strings.Contains(f.Name, "__") {
			return fmt.Errorf("entity %s: field %s cannot contain \"__\"", d.Name, f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("entity %s: duplicate field %s", d.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if _, ok := d.Field(d.PrimaryKeyField()); !ok {
		return fmt.Errorf("entity %s: primary key %s is not a declared field", d.Name, d.PrimaryKeyField())
	}

	for _, rel := range d.Relations {
		if rel.Name == "" || strings.Contains(rel.Name, "__") {
			return fmt.Errorf("entity %s: invalid relation name %q", d.Name, rel.Name)
		}
		if _, dup := seen[rel.Name]; dup {
			return fmt.Errorf("entity %s: relation %s collides with another field or relation", d.Name, rel.Name)
		}
		seen[rel.Name] = struct{}{}

		target, ok := r.entities[rel.Target]
		if !ok {
			return fmt.Errorf("entity %s: relation %s targets unknown entity %s", d.Name, rel.Name, rel.Target)
		}
		switch rel.Kind {
		case domain.RelationOne:
			if _, ok := fieldByColumn(d, rel.Column); !ok {
				return fmt.Errorf("entity %s: relation %s column %s is not a field of %s", d.Name, rel.Name, rel.Column, d.Name)
			}
		case domain.RelationMany:
			if _, ok := fieldByColumn(target, rel.Column); !ok {
				return fmt.Errorf("entity %s: relation %s column %s is not a field of %s", d.Name, rel.Name, rel.Column, target.Name)
			}
		default:
			return fmt.Errorf("entity %s: relation %s has unknown kind %q", d.Name, rel.Name, rel.Kind)
		}
	}
	return nil
}

func fieldByColumn(d domain.EntityDescriptor, column string) (domain.FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.ColumnName() == column {
			return f, true
		}
	}
	return domain.FieldDefinition{}, false
}
