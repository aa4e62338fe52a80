package param

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Converter turns text into a typed value and back.
type Converter interface {
	Parse(text string) (any, error)
	Format(v any) (string, error)
}

// DomConverter binds a structured (YAML node) value.
type DomConverter interface {
	ConvertDom(n *yaml.Node) (any, error)
	ToDom(v any) (*yaml.Node, error)
}

// Validator runs after all declarative checks have passed.
type Validator interface {
	Validate(d *Descriptor, v any) error
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(d *Descriptor, v any) error

func (f ValidatorFunc) Validate(d *Descriptor, v any) error { return f(d, v) }

// itemConverter is implemented by list converters so that value sets and
// per-item checks can reuse the element conversion.
type itemConverter interface {
	Items() Converter
}

type stringConverter struct{}

func (stringConverter) Parse(s string) (any, error) { return s, nil }
func (stringConverter) Format(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", v)
	}
	return s, nil
}

type boolConverter struct{}

func (boolConverter) Parse(s string) (any, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse bool %q: %w", s, err)
	}
	return b, nil
}

func (boolConverter) Format(v any) (string, error) {
	b, ok := v.(bool)
	if !ok {
		return "", fmt.Errorf("want bool, got %T", v)
	}
	return strconv.FormatBool(b), nil
}

type intConverter struct{}

func (intConverter) Parse(s string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse int %q: %w", s, err)
	}
	return n, nil
}

func (intConverter) Format(v any) (string, error) {
	n, ok := v.(int)
	if !ok {
		return "", fmt.Errorf("want int, got %T", v)
	}
	return strconv.Itoa(n), nil
}

type floatConverter struct{}

func (floatConverter) Parse(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("parse float %q: %w", s, err)
	}
	return f, nil
}

func (floatConverter) Format(v any) (string, error) {
	f, ok := v.(float64)
	if !ok {
		return "", fmt.Errorf("want float64, got %T", v)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

// listConverter handles comma separated lists of a scalar kind.
type listConverter struct {
	kind Kind
	item Converter
}

func (c listConverter) Items() Converter { return c.item }

func (c listConverter) Parse(s string) (any, error) {
	s = strings.TrimSpace(s)
	var parts []string
	if s != "" {
		parts = strings.Split(s, ",")
	}
	items := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := c.item.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return makeList(c.kind, items)
}

func (c listConverter) Format(v any) (string, error) {
	items, err := listItems(v)
	if err != nil {
		return "", err
	}
	out := make([]string, len(items))
	for i, it := range items {
		s, err := c.item.Format(it)
		if err != nil {
			return "", err
		}
		out[i] = s
	}
	return strings.Join(out, ","), nil
}

func defaultConverter(k Kind) Converter {
	switch k {
	case String:
		return stringConverter{}
	case Bool:
		return boolConverter{}
	case Int:
		return intConverter{}
	case Float64:
		return floatConverter{}
	case Strings, Ints, Float64s:
		return listConverter{kind: k, item: defaultConverter(k.Item())}
	}
	return nil
}

func makeList(k Kind, items []any) (any, error) {
	switch k {
	case Strings:
		out := make([]string, len(items))
		for i, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: want string, got %T", i, it)
			}
			out[i] = s
		}
		return out, nil
	case Ints:
		out := make([]int, len(items))
		for i, it := range items {
			n, err := toInt(it)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case Float64s:
		out := make([]float64, len(items))
		for i, it := range items {
			f, err := toFloat(it)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s is not a list kind", k)
}

// listItems flattens the typed list representations into []any.
func listItems(v any) ([]any, error) {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, nil
	case []int:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, nil
	case []float64:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, nil
	case []any:
		return t, nil
	}
	return nil, fmt.Errorf("want list, got %T", v)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%g is not an integer", n)
		}
		return int(n), nil
	case float32:
		if n != float32(int(n)) {
			return 0, fmt.Errorf("%g is not an integer", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("want int, got %T", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}
