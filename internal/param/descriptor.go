// Package param describes operator configuration fields and binds external
// values to them.
//
// A Field is the declarative record an operator type registers for each
// configurable value. NewDescriptor resolves it once into an immutable
// Descriptor; Bind then converts and validates raw values against a Set of
// descriptors.
package param

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

// Meta holds the optional declarations of a field.
type Meta struct {
	Label            string   `yaml:"label,omitempty" json:"label,omitempty"`
	Alias            string   `yaml:"alias,omitempty" json:"alias,omitempty"`
	ItemAlias        string   `yaml:"itemAlias,omitempty" json:"itemAlias,omitempty"`
	Unit             string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	Description      string   `yaml:"description,omitempty" json:"description,omitempty"`
	NotNull          bool     `yaml:"notNull,omitempty" json:"notNull,omitempty"`
	NotEmpty         bool     `yaml:"notEmpty,omitempty" json:"notEmpty,omitempty"`
	Pattern          string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Interval         string   `yaml:"interval,omitempty" json:"interval,omitempty"`
	ValueSet         []string `yaml:"valueSet,omitempty" json:"valueSet,omitempty"`
	DefaultValue     string   `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Format           string   `yaml:"format,omitempty" json:"format,omitempty"`
	ItemsInlined     bool     `yaml:"itemsInlined,omitempty" json:"itemsInlined,omitempty"`
	ValidatorType    string   `yaml:"validatorType,omitempty" json:"validatorType,omitempty"`
	ConverterType    string   `yaml:"converterType,omitempty" json:"converterType,omitempty"`
	DomConverterType string   `yaml:"domConverterType,omitempty" json:"domConverterType,omitempty"`
}

// Field declares one configurable value. A nil Meta on an operator-owned
// field marks internal state that is not configuration.
type Field struct {
	Name string `yaml:"name"`
	Type Kind   `yaml:"type"`
	Meta *Meta  `yaml:"parameter,omitempty"`
}

// Descriptor is the resolved, immutable form of a Field. It carries no
// per-instance state and is safe to share between concurrent binds.
type Descriptor struct {
	name         string
	kind         Kind
	label        string
	alias        string
	itemAlias    string
	unit         string
	description  string
	format       string
	notNull      bool
	notEmpty     bool
	itemsInlined bool

	pattern    *regexp.Regexp
	interval   *Interval
	valueSet   []any
	defaultVal any
	hasDefault bool
	converter  Converter
	domConv    DomConverter
	validator  Validator
}

// NewDescriptor resolves a field declaration. It returns (nil, nil) for an
// operator-owned field without metadata.
func NewDescriptor(f Field, operatorOwned bool) (*Descriptor, error) {
	if operatorOwned && f.Meta == nil {
		return nil, nil
	}
	if f.Name == "" {
		return nil, &ConstructionError{Field: f.Name, Step: "name", Err: errors.New("name is required")}
	}
	if !f.Type.valid() {
		return nil, &ConstructionError{Field: f.Name, Step: "type", Err: fmt.Errorf("invalid type %v", f.Type)}
	}
	d := &Descriptor{name: f.Name, kind: f.Type, label: f.Name}
	if f.Meta == nil {
		d.converter = defaultConverter(d.kind)
		return d, nil
	}
	m := f.Meta
	fail := func(step string, err error) (*Descriptor, error) {
		return nil, &ConstructionError{Field: f.Name, Step: step, Err: err}
	}

	if m.ValidatorType != "" {
		v, err := newValidator(m.ValidatorType)
		if err != nil {
			return fail("validator", err)
		}
		d.validator = v
	}
	if m.DomConverterType != "" {
		c, err := newDomConverter(m.DomConverterType)
		if err != nil {
			return fail("dom converter", err)
		}
		d.domConv = c
	}
	if m.ConverterType != "" {
		c, err := newConverter(m.ConverterType)
		if err != nil {
			return fail("converter", err)
		}
		d.converter = c
	}

	if m.Label != "" {
		d.label = m.Label
	}
	d.alias = m.Alias
	d.itemAlias = m.ItemAlias
	d.unit = m.Unit
	d.description = m.Description

	d.notNull = m.NotNull
	d.notEmpty = m.NotEmpty
	d.itemsInlined = m.ItemsInlined

	if m.Pattern != "" {
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return fail("pattern", err)
		}
		d.pattern = re
	}
	if m.Interval != "" {
		if !d.kind.IsNumeric() {
			return fail("interval", fmt.Errorf("interval needs a numeric type, have %s", d.kind))
		}
		iv, err := ParseInterval(m.Interval)
		if err != nil {
			return fail("interval", err)
		}
		d.interval = &iv
	}
	d.format = m.Format

	if d.converter == nil {
		d.converter = defaultConverter(d.kind)
	}

	if len(m.ValueSet) > 0 {
		conv := d.itemConverter()
		if conv == nil {
			return fail("value set", fmt.Errorf("no converter for %s", d.kind))
		}
		for _, s := range m.ValueSet {
			v, err := conv.Parse(s)
			if err != nil {
				return fail("value set", err)
			}
			d.valueSet = append(d.valueSet, v)
		}
	}
	if m.DefaultValue != "" {
		if d.converter == nil {
			return fail("default value", fmt.Errorf("no converter for %s", d.kind))
		}
		v, err := d.converter.Parse(m.DefaultValue)
		if err != nil {
			return fail("default value", err)
		}
		if verr := d.check(v); verr != nil {
			return fail("default value", verr.Err)
		}
		d.defaultVal = v
		d.hasDefault = true
	}
	return d, nil
}

func (d *Descriptor) itemConverter() Converter {
	if ic, ok := d.converter.(itemConverter); ok {
		return ic.Items()
	}
	return d.converter
}

func (d *Descriptor) Name() string               { return d.name }
func (d *Descriptor) Type() Kind                 { return d.kind }
func (d *Descriptor) Label() string              { return d.label }
func (d *Descriptor) Alias() string              { return d.alias }
func (d *Descriptor) ItemAlias() string          { return d.itemAlias }
func (d *Descriptor) Unit() string               { return d.unit }
func (d *Descriptor) Description() string        { return d.description }
func (d *Descriptor) DisplayFormat() string      { return d.format }
func (d *Descriptor) NotNull() bool              { return d.notNull }
func (d *Descriptor) NotEmpty() bool             { return d.notEmpty }
func (d *Descriptor) ItemsInlined() bool         { return d.itemsInlined }
func (d *Descriptor) Converter() Converter       { return d.converter }
func (d *Descriptor) DomConverter() DomConverter { return d.domConv }
func (d *Descriptor) Validator() Validator       { return d.validator }

func (d *Descriptor) Pattern() string {
	if d.pattern == nil {
		return ""
	}
	return d.pattern.String()
}

func (d *Descriptor) Interval() (Interval, bool) {
	if d.interval == nil {
		return Interval{}, false
	}
	return *d.interval, true
}

func (d *Descriptor) ValueSet() []any {
	return append([]any(nil), d.valueSet...)
}

// Default returns a copy of the converted default value.
func (d *Descriptor) Default() (any, bool) {
	if !d.hasDefault {
		return nil, false
	}
	return cloneValue(d.defaultVal), true
}

// check runs the constraint chain in its fixed order: not-null, not-empty,
// pattern, interval, value set, custom validator.
func (d *Descriptor) check(v any) *ValidationError {
	if v == nil {
		if d.notNull {
			return invalid(d.name, ErrNull, "")
		}
		return nil
	}
	if d.notEmpty && isEmpty(v) {
		return invalid(d.name, ErrEmpty, "")
	}
	items := []any{v}
	if d.kind.IsList() {
		if l, err := listItems(v); err == nil {
			items = l
		}
	}
	if d.pattern != nil {
		for _, it := range items {
			text, err := d.text(it)
			if err != nil {
				return invalid(d.name, ErrConversion, "%v", err)
			}
			if !d.pattern.MatchString(text) {
				return invalid(d.name, ErrPattern, "%q does not match %s", text, d.pattern)
			}
		}
	}
	if d.interval != nil {
		for _, it := range items {
			f, err := toFloat(it)
			if err != nil {
				return invalid(d.name, ErrConversion, "%v", err)
			}
			if !d.interval.Contains(f) {
				return invalid(d.name, ErrInterval, "%v not in %s", it, d.interval)
			}
		}
	}
	if len(d.valueSet) > 0 {
		for _, it := range items {
			if !d.inValueSet(it) {
				return invalid(d.name, ErrValueSet, "%v not one of %v", it, d.valueSet)
			}
		}
	}
	if d.validator != nil {
		if err := d.validator.Validate(d, v); err != nil {
			return &ValidationError{Param: d.name, Err: fmt.Errorf("%w: %w", ErrValidator, err)}
		}
	}
	return nil
}

func (d *Descriptor) text(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	conv := d.itemConverter()
	if conv == nil {
		return fmt.Sprint(v), nil
	}
	return conv.Format(v)
}

func (d *Descriptor) inValueSet(v any) bool {
	for _, allowed := range d.valueSet {
		if reflect.DeepEqual(allowed, v) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []int:
		return len(t) == 0
	case []float64:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	}
	return false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	}
	return v
}
