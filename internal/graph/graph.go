// Package graph reads processing graph documents.
//
//	nodes:
//	  - id: scene
//	    operator: redis_reader
//	    parameters: {product: s2}
//	  - id: ndvi
//	    operator: band_maths
//	    sources:
//	      - {name: source, node: scene}
//	    parameters:
//	      a: nir
//	      b: red
package graph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrUnknownNode   = errors.New("unknown node")
	ErrCycle         = errors.New("graph contains a cycle")
)

type Source struct {
	Name string `yaml:"name"`
	Node string `yaml:"node"`
}

type Node struct {
	ID       string   `yaml:"id"`
	Operator string   `yaml:"operator"`
	Sources  []Source `yaml:"sources,omitempty"`
	// Parameters keep their YAML form so structured values reach the
	// descriptor's DOM converter untouched.
	Parameters map[string]yaml.Node `yaml:"parameters,omitempty"`
}

// RawParameters returns the parameters in the shape param.Bind accepts.
func (n *Node) RawParameters() map[string]any {
	out := make(map[string]any, len(n.Parameters))
	for k, v := range n.Parameters {
		vv := v
		out[k] = &vv
	}
	return out
}

type Graph struct {
	Nodes []*Node `yaml:"nodes"`
}

func Parse(b []byte) (*Graph, error) {
	return Load(bytes.NewReader(b))
}

func Load(r io.Reader) (*Graph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var g Graph
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return &g, nil
		}
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &g, nil
}

func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Validate checks structural soundness; operator types and parameters are
// checked when a run is initialized.
func (g *Graph) Validate() error {
	_, err := g.Order()
	return err
}

// Order returns the nodes sources first. Nodes without a dependency between
// them keep their document order.
func (g *Graph) Order() ([]*Node, error) {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node #%d: id is required", i)
		}
		if n.Operator == "" {
			return nil, fmt.Errorf("node %q: operator is required", n.ID)
		}
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("%w %q", ErrDuplicateNode, n.ID)
		}
		index[n.ID] = i
	}

	indeg := make([]int, len(g.Nodes))
	users := make([][]int, len(g.Nodes))
	for i, n := range g.Nodes {
		seen := map[string]bool{}
		for _, s := range n.Sources {
			if s.Name == "" {
				return nil, fmt.Errorf("node %q: source name is required", n.ID)
			}
			if seen[s.Name] {
				return nil, fmt.Errorf("node %q: source %q declared twice", n.ID, s.Name)
			}
			seen[s.Name] = true
			j, ok := index[s.Node]
			if !ok {
				return nil, fmt.Errorf("node %q source %q: %w %q", n.ID, s.Name, ErrUnknownNode, s.Node)
			}
			indeg[i]++
			users[j] = append(users[j], i)
		}
	}

	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]*Node, 0, len(g.Nodes))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, g.Nodes[i])
		var next []int
		for _, u := range users[i] {
			indeg[u]--
			if indeg[u] == 0 {
				next = append(next, u)
			}
		}
		ready = append(ready, next...)
		sort.Ints(ready)
	}
	if len(out) != len(g.Nodes) {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.Nodes[i].ID)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, stuck)
	}
	return out, nil
}
