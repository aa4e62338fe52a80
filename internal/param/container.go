package param

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

type BindOptions struct {
	// Strict makes unknown keys fail the bind instead of being ignored.
	Strict bool
}

// Container is the live binding of a descriptor set to one operator
// instance. It is mutable until Values is taken for initialization.
type Container struct {
	set *Set

	mu     sync.RWMutex
	values map[string]any
}

// Bind converts and validates raw values against set. Keys may be names or
// aliases. Values may be strings, *yaml.Node or native Go values.
func Bind(set *Set, raw map[string]any, opts BindOptions) (*Container, error) {
	c := &Container{set: set, values: make(map[string]any, set.Len())}

	if opts.Strict {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if set.Lookup(k) == nil {
				return nil, invalid(k, ErrUnknownParameter, "")
			}
		}
	}

	for _, d := range set.Descriptors() {
		rv, ok := raw[d.name]
		if !ok && d.alias != "" {
			rv, ok = raw[d.alias]
		}
		if !ok {
			if def, has := d.Default(); has {
				c.values[d.name] = def
				continue
			}
			if d.notNull {
				return nil, invalid(d.name, ErrMissing, "")
			}
			continue
		}
		v, err := d.convert(rv)
		if err != nil {
			return nil, invalid(d.name, ErrConversion, "%v", err)
		}
		if verr := d.check(v); verr != nil {
			return nil, verr
		}
		c.values[d.name] = v
	}
	return c, nil
}

// Set replaces one value after conversion and validation. The container is
// left unchanged on error.
func (c *Container) Set(key string, raw any) error {
	d := c.set.Lookup(key)
	if d == nil {
		return invalid(key, ErrUnknownParameter, "")
	}
	v, err := d.convert(raw)
	if err != nil {
		return invalid(d.name, ErrConversion, "%v", err)
	}
	if verr := d.check(v); verr != nil {
		return verr
	}
	c.mu.Lock()
	c.values[d.name] = v
	c.mu.Unlock()
	return nil
}

func (c *Container) Descriptors() *Set { return c.set }

// Values returns an immutable snapshot of the bound values.
func (c *Container) Values() Values {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]any, len(c.values))
	for k, v := range c.values {
		m[k] = cloneValue(v)
	}
	return Values{m: m}
}

// Text renders a bound value, honouring the descriptor's display format.
func (c *Container) Text(key string) (string, error) {
	d := c.set.Lookup(key)
	if d == nil {
		return "", invalid(key, ErrUnknownParameter, "")
	}
	c.mu.RLock()
	v, ok := c.values[d.name]
	c.mu.RUnlock()
	if !ok || v == nil {
		return "", nil
	}
	if d.format != "" && !d.kind.IsList() {
		return fmt.Sprintf(d.format, v), nil
	}
	if d.converter == nil {
		return fmt.Sprint(v), nil
	}
	return d.converter.Format(v)
}

// Node renders the bound values as a YAML mapping in declaration order.
func (c *Container) Node() (*yaml.Node, error) {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, d := range c.set.Descriptors() {
		c.mu.RLock()
		v, ok := c.values[d.name]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		var vn *yaml.Node
		if d.domConv != nil {
			n, err := d.domConv.ToDom(v)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", d.name, err)
			}
			vn = n
		} else {
			vn = &yaml.Node{}
			if err := vn.Encode(v); err != nil {
				return nil, fmt.Errorf("parameter %q: %w", d.name, err)
			}
		}
		out.Content = append(out.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.name}, vn)
	}
	return out, nil
}

// convert turns a raw value into the descriptor's typed representation.
func (d *Descriptor) convert(raw any) (any, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case *yaml.Node:
		return d.convertNode(t)
	case string:
		if d.converter == nil {
			return t, nil
		}
		return d.converter.Parse(t)
	}
	return d.coerce(raw)
}

func (d *Descriptor) convertNode(n *yaml.Node) (any, error) {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}
	if d.domConv != nil {
		return d.domConv.ConvertDom(n)
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil, nil
		}
		if d.converter == nil {
			var v any
			if err := n.Decode(&v); err != nil {
				return nil, err
			}
			return v, nil
		}
		return d.converter.Parse(n.Value)
	case yaml.SequenceNode:
		if !d.kind.IsList() {
			break
		}
		return d.convertItems(n.Content)
	case yaml.MappingNode:
		// {itemAlias: [a, b]} wraps a list under its item alias
		if d.kind.IsList() && d.itemAlias != "" && len(n.Content) == 2 && n.Content[0].Value == d.itemAlias {
			item := n.Content[1]
			if item.Kind == yaml.SequenceNode {
				return d.convertItems(item.Content)
			}
			return d.convertItems([]*yaml.Node{item})
		}
	}
	if d.kind == Any {
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("cannot bind yaml node (line %d) to %s", n.Line, d.kind)
}

func (d *Descriptor) convertItems(nodes []*yaml.Node) (any, error) {
	conv := d.itemConverter()
	items := make([]any, 0, len(nodes))
	for _, it := range nodes {
		if it.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("list item at line %d is not a scalar", it.Line)
		}
		v, err := conv.Parse(it.Value)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return makeList(d.kind, items)
}

func (d *Descriptor) coerce(raw any) (any, error) {
	switch d.kind {
	case Any:
		return raw, nil
	case Bool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case Int:
		return toInt(raw)
	case Float64:
		return toFloat(raw)
	case Strings, Ints, Float64s:
		items, err := listItems(raw)
		if err != nil {
			return nil, err
		}
		return makeList(d.kind, items)
	}
	return nil, fmt.Errorf("cannot bind %T to %s", raw, d.kind)
}

// Values is the finalized parameter mapping handed to an operator.
// Getters return the zero value for absent names.
type Values struct {
	m map[string]any
}

func (v Values) Get(name string) (any, bool) {
	x, ok := v.m[name]
	return x, ok
}

func (v Values) Has(name string) bool {
	x, ok := v.m[name]
	return ok && x != nil
}

func (v Values) Names() []string {
	out := make([]string, 0, len(v.m))
	for k := range v.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (v Values) String(name string) string {
	s, _ := v.m[name].(string)
	return s
}

func (v Values) Bool(name string) bool {
	b, _ := v.m[name].(bool)
	return b
}

func (v Values) Int(name string) int {
	n, _ := v.m[name].(int)
	return n
}

func (v Values) Float64(name string) float64 {
	f, _ := v.m[name].(float64)
	return f
}

func (v Values) Strings(name string) []string {
	s, _ := v.m[name].([]string)
	return s
}

func (v Values) Ints(name string) []int {
	s, _ := v.m[name].([]int)
	return s
}

func (v Values) Float64s(name string) []float64 {
	s, _ := v.m[name].([]float64)
	return s
}
