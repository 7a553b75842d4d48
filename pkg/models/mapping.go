package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Promoted field coercions.
const (
	PromoteInteger = "integer"
	PromoteKeyword = "keyword"
	PromoteText    = "text"
)

// MappingSchema represents the root of a collection mapping file.
type MappingSchema struct {
	Collections []CollectionMapping `json:"collections" yaml:"collections"`
}

// CollectionMapping lists the payload fields promoted onto the document
// root for records of one collection.
type CollectionMapping struct {
	Name    string       `json:"name" yaml:"name"`
	Address string       `json:"address" yaml:"address"`
	Fields  []FieldConfig `json:"fields" yaml:"fields"`
}

// FieldConfig promotes the payload property Source to the document field
// Name using the coercion in Type.
type FieldConfig struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Type   string `json:"type" yaml:"type"`
}

// SourceKey returns the payload property read for this field.
func (f FieldConfig) SourceKey() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// Validate checks every collection has an address and every field a known type.
func (m *MappingSchema) Validate() error {
	for i, c := range m.Collections {
		if strings.TrimSpace(c.Address) == "" {
			return fmt.Errorf("collection %d (%q): missing address", i, c.Name)
		}
		for _, f := range c.Fields {
			if f.Name == "" {
				return fmt.Errorf("collection %q: field without name", c.Name)
			}
			switch f.Type {
			case PromoteInteger, PromoteKeyword, PromoteText:
			default:
				return fmt.Errorf("collection %q field %q: unknown type %q", c.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}

// Lookup returns the collection mapping for a token address, matched
// case-insensitively.
func (m *MappingSchema) Lookup(address string) (*CollectionMapping, bool) {
	if m == nil || address == "" {
		return nil, false
	}
	for i := range m.Collections {
		if strings.EqualFold(m.Collections[i].Address, address) {
			return &m.Collections[i], true
		}
	}
	return nil, false
}

// LoadMapping parses a JSON mapping document.
func LoadMapping(data []byte) (*MappingSchema, error) {
	var m MappingSchema
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
