package param

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the declared value type of a parameter.
type Kind int

const (
	String Kind = iota + 1
	Bool
	Int
	Float64
	Strings
	Ints
	Float64s
	// Any values need a custom converter to be bound from text.
	Any
)

var kindNames = map[Kind]string{
	String:   "string",
	Bool:     "bool",
	Int:      "int",
	Float64:  "float64",
	Strings:  "[]string",
	Ints:     "[]int",
	Float64s: "[]float64",
	Any:      "any",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) IsList() bool { return k == Strings || k == Ints || k == Float64s }

func (k Kind) IsNumeric() bool { return k == Int || k == Float64 || k == Ints || k == Float64s }

// Item is the element kind of a list kind, or k itself.
func (k Kind) Item() Kind {
	switch k {
	case Strings:
		return String
	case Ints:
		return Int
	case Float64s:
		return Float64
	}
	return k
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	switch s {
	case "integer":
		return Int, nil
	case "float", "double", "number":
		return Float64, nil
	case "boolean":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown parameter type %q", s)
}

func (k *Kind) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := ParseKind(n.Value)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kind) MarshalYAML() (any, error) { return k.String(), nil }

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
