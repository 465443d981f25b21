package domain

import (
	"strings"
)

// FieldType represents the storage type of an entity field
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
)

// RelationKind distinguishes single-valued from multi-valued relations.
type RelationKind string

const (
	// RelationOne is a forward foreign key: the source row stores the target's primary key.
	RelationOne RelationKind = "one"
	// RelationMany is a reverse foreign key: target rows store the source's primary key.
	RelationMany RelationKind = "many"
)

// FieldDefinition describes one column of an entity.
type FieldDefinition struct {
	Name   string    `yaml:"name" json:"name"`
	Column string    `yaml:"column,omitempty" json:"column,omitempty"`
	Type   FieldType `yaml:"type" json:"type"`
}

// ColumnName returns the column backing the field, defaulting to the field name.
func (f FieldDefinition) ColumnName() string {
	if strings.TrimSpace(f.Column) != "" {
		return f.Column
	}
	return f.Name
}

// RelationDefinition describes a navigable relation between two entities.
//
// For RelationOne, Column is the foreign key on the source table. For
// RelationMany, Column is the foreign key on the target table.
type RelationDefinition struct {
	Name   string       `yaml:"name" json:"name"`
	Kind   RelationKind `yaml:"kind" json:"kind"`
	Target string       `yaml:"target" json:"target"`
	Column string       `yaml:"column" json:"column"`
}

// EntityDescriptor is the schema knowledge executors use to validate and
// translate a query against one entity.
type EntityDescriptor struct {
	Name       string               `yaml:"name" json:"name"`
	Table      string               `yaml:"table" json:"table"`
	PrimaryKey string               `yaml:"primaryKey" json:"primaryKey"`
	Fields     []FieldDefinition    `yaml:"fields" json:"fields"`
	Relations  []RelationDefinition `yaml:"relations,omitempty" json:"relations,omitempty"`
}

// PrimaryKeyField returns the primary key field name, defaulting to "id".
func (d EntityDescriptor) PrimaryKeyField() string {
	if d.PrimaryKey == "" {
		return "id"
	}
	return d.PrimaryKey
}

// TableName returns the backing table, defaulting to the entity name.
func (d EntityDescriptor) TableName() string {
	if d.Table == "" {
		return d.Name
	}
	return d.Table
}

// Field looks up a field by name. "pk" resolves to the primary key field.
func (d EntityDescriptor) Field(name string) (FieldDefinition, bool) {
	if name == "pk" {
		name = d.PrimaryKeyField()
	}
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Relation looks up a relation by name.
func (d EntityDescriptor) Relation(name string) (RelationDefinition, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationDefinition{}, false
}

// FieldNames returns field names in declaration order.
func (d EntityDescriptor) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}
