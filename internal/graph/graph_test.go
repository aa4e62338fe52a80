package graph

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const doc = `
nodes:
  - id: ndvi
    operator: BandMaths
    sources:
      - {name: a, node: nir}
      - {name: b, node: red}
  - id: red
    operator: Ramp
    parameters:
      width: 64
      scale: [1, 2]
  - id: nir
    operator: Ramp
`

func ids(ns []*Node) string {
	var s []string
	for _, n := range ns {
		s = append(s, n.ID)
	}
	return strings.Join(s, ",")
}

func TestParseAndOrder(t *testing.T) {
	g, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if got := ids(order); got != "red,nir,ndvi" {
		t.Fatalf("order=%s want red,nir,ndvi", got)
	}
	red := g.Node("red")
	raw := red.RawParameters()
	if len(raw) != 2 || red.Parameters["width"].Value != "64" {
		t.Fatalf("parameters not kept as nodes: %v", raw)
	}
	scale, ok := raw["scale"].(*yaml.Node)
	if !ok || scale.Kind != yaml.SequenceNode || len(scale.Content) != 2 {
		t.Fatalf("scale=%#v want a two item sequence node", raw["scale"])
	}
	// each call hands out its own copies
	scale.Content = nil
	if again := red.RawParameters()["scale"].(*yaml.Node); len(again.Content) != 2 {
		t.Fatalf("RawParameters shares node storage")
	}
	if g.Node("nope") != nil {
		t.Fatalf("unknown id must be nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"duplicate", "nodes:\n - {id: a, operator: X}\n - {id: a, operator: X}\n", ErrDuplicateNode},
		{"unknown source", "nodes:\n - id: a\n   operator: X\n   sources: [{name: s, node: b}]\n", ErrUnknownNode},
		{"cycle", "nodes:\n - id: a\n   operator: X\n   sources: [{name: s, node: b}]\n - id: b\n   operator: X\n   sources: [{name: s, node: a}]\n", ErrCycle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := Parse([]byte(tc.doc))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if err := g.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestLoad_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("nodes:\n - {id: a, operater: X}\n")); err == nil {
		t.Fatalf("misspelled key must fail")
	}
}

func TestLoad_Empty(t *testing.T) {
	g, err := Parse(nil)
	if err != nil || len(g.Nodes) != 0 {
		t.Fatalf("g=%v err=%v", g, err)
	}
}
