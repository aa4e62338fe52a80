package param

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Set is the ordered descriptor table of one operator type.
type Set struct {
	descs  []*Descriptor
	byName map[string]*Descriptor
}

// NewSet resolves every field; excluded operator-owned fields are skipped.
func NewSet(operatorOwned bool, fields ...Field) (*Set, error) {
	s := &Set{byName: make(map[string]*Descriptor, len(fields))}
	for _, f := range fields {
		d, err := NewDescriptor(f, operatorOwned)
		if err != nil {
			return nil, err
		}
		if d == nil {
			continue
		}
		for _, key := range []string{d.name, d.alias} {
			if key == "" {
				continue
			}
			if _, dup := s.byName[key]; dup {
				return nil, &ConstructionError{Field: d.name, Step: "name", Err: fmt.Errorf("duplicate name or alias %q", key)}
			}
			s.byName[key] = d
		}
		s.descs = append(s.descs, d)
	}
	return s, nil
}

// MustSet is NewSet for static tables; it panics on a declaration error.
func MustSet(operatorOwned bool, fields ...Field) *Set {
	s, err := NewSet(operatorOwned, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup finds a descriptor by name or alias.
func (s *Set) Lookup(key string) *Descriptor {
	if s == nil {
		return nil
	}
	return s.byName[key]
}

// Descriptors returns the descriptors in declaration order.
func (s *Set) Descriptors() []*Descriptor {
	if s == nil {
		return nil
	}
	return append([]*Descriptor(nil), s.descs...)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.descs)
}

// LoadFields reads a YAML list of field declarations.
func LoadFields(r io.Reader) ([]Field, error) {
	var fields []Field
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
