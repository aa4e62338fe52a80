package param

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"
)

func bindOne(t *testing.T, f Field, raw map[string]any) (*Container, error) {
	t.Helper()
	set, err := NewSet(true, f)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return Bind(set, raw, BindOptions{})
}

func TestBind_DefaultApplied(t *testing.T) {
	c, err := bindOne(t, Field{Name: "count", Type: Int, Meta: &Meta{DefaultValue: "10"}}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := c.Values().Int("count"); got != 10 {
		t.Fatalf("count=%d want 10", got)
	}
}

func TestBind_NotNullWithoutDefault(t *testing.T) {
	_, err := bindOne(t, Field{Name: "band", Type: String, Meta: &Meta{NotNull: true}}, map[string]any{})
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("err=%v want ErrMissing", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Param != "band" {
		t.Fatalf("err=%v must name the parameter", err)
	}

	_, err = bindOne(t, Field{Name: "band", Type: String, Meta: &Meta{NotNull: true}}, map[string]any{"band": nil})
	if !errors.Is(err, ErrNull) {
		t.Fatalf("err=%v want ErrNull for explicit null", err)
	}
}

func TestBind_Pattern(t *testing.T) {
	f := Field{Name: "code", Type: String, Meta: &Meta{Pattern: "^[A-Z]+$"}}
	if _, err := bindOne(t, f, map[string]any{"code": "abc"}); !errors.Is(err, ErrPattern) {
		t.Fatalf("err=%v want ErrPattern", err)
	}
	c, err := bindOne(t, f, map[string]any{"code": "ABC"})
	if err != nil {
		t.Fatalf("Bind ABC: %v", err)
	}
	if c.Values().String("code") != "ABC" {
		t.Fatalf("bound value lost")
	}
}

func TestBind_Interval(t *testing.T) {
	f := Field{Name: "level", Type: Int, Meta: &Meta{Interval: "[0,10]"}}
	if _, err := bindOne(t, f, map[string]any{"level": 15}); !errors.Is(err, ErrInterval) {
		t.Fatalf("err=%v want ErrInterval", err)
	}
	if _, err := bindOne(t, f, map[string]any{"level": "15"}); !errors.Is(err, ErrInterval) {
		t.Fatalf("text input: err=%v want ErrInterval", err)
	}
	c, err := bindOne(t, f, map[string]any{"level": 5})
	if err != nil || c.Values().Int("level") != 5 {
		t.Fatalf("level=5: c=%v err=%v", c, err)
	}
}

func TestBind_CheckOrder_FirstFailureWins(t *testing.T) {
	f := Field{Name: "name", Type: String, Meta: &Meta{
		NotEmpty: true, Pattern: "^x+$", ValueSet: []string{"xx", "xxx"},
	}}
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrEmpty},
		{"y", ErrPattern},
		{"x", ErrValueSet},
	}
	for _, tc := range cases {
		_, err := bindOne(t, f, map[string]any{"name": tc.in})
		if !errors.Is(err, tc.want) {
			t.Fatalf("in=%q err=%v want %v", tc.in, err, tc.want)
		}
	}
}

func TestBind_ConversionFailure(t *testing.T) {
	_, err := bindOne(t, Field{Name: "n", Type: Int, Meta: &Meta{}}, map[string]any{"n": "abc"})
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("err=%v want ErrConversion", err)
	}
	_, err = bindOne(t, Field{Name: "n", Type: Int, Meta: &Meta{}}, map[string]any{"n": 2.5})
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("non-integral float: err=%v want ErrConversion", err)
	}
}

func TestBind_StrictUnknownKeys(t *testing.T) {
	set := MustSet(true, Field{Name: "a", Type: Int, Meta: &Meta{Alias: "alpha"}})
	raw := map[string]any{"alpha": "3", "legacy": "x"}

	c, err := Bind(set, raw, BindOptions{Strict: false})
	if err != nil {
		t.Fatalf("lenient bind: %v", err)
	}
	if c.Values().Int("a") != 3 {
		t.Fatalf("alias not honoured")
	}
	_, err = Bind(set, raw, BindOptions{Strict: true})
	if !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("err=%v want ErrUnknownParameter", err)
	}
}

type evenValidator struct{}

func (evenValidator) Validate(_ *Descriptor, v any) error {
	if v.(int)%2 != 0 {
		return fmt.Errorf("%d is odd", v)
	}
	return nil
}

func TestBind_CustomValidatorRunsLast(t *testing.T) {
	RegisterValidator("test-even", func() (Validator, error) { return evenValidator{}, nil })
	f := Field{Name: "n", Type: Int, Meta: &Meta{Interval: "[0,10]", ValidatorType: "test-even"}}

	if _, err := bindOne(t, f, map[string]any{"n": 11}); !errors.Is(err, ErrInterval) {
		t.Fatalf("err=%v want ErrInterval before validator", err)
	}
	_, err := bindOne(t, f, map[string]any{"n": 3})
	if !errors.Is(err, ErrValidator) || !strings.Contains(err.Error(), "odd") {
		t.Fatalf("err=%v want validator failure", err)
	}
	if _, err := bindOne(t, f, map[string]any{"n": 4}); err != nil {
		t.Fatalf("n=4: %v", err)
	}
}

func TestBind_YAMLNodes(t *testing.T) {
	set := MustSet(true,
		Field{Name: "scale", Type: Float64, Meta: &Meta{}},
		Field{Name: "channels", Type: Strings, Meta: &Meta{ItemAlias: "channel", NotEmpty: true}},
		Field{Name: "weights", Type: Float64s, Meta: &Meta{Interval: "[0,1]"}},
	)
	var doc yaml.Node
	src := `
scale: 2
channels:
  channel: [red, nir]
weights: [0.25, 0.75]
`
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	m := doc.Content[0]
	raw := map[string]any{}
	for i := 0; i < len(m.Content); i += 2 {
		raw[m.Content[i].Value] = m.Content[i+1]
	}
	c, err := Bind(set, raw, BindOptions{Strict: true})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	v := c.Values()
	if v.Float64("scale") != 2 {
		t.Fatalf("scale=%g", v.Float64("scale"))
	}
	if got := v.Strings("channels"); len(got) != 2 || got[1] != "nir" {
		t.Fatalf("channels=%v", got)
	}
	if got := v.Float64s("weights"); len(got) != 2 || got[0] != 0.25 {
		t.Fatalf("weights=%v", got)
	}

	bad := &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "1.5"},
	}}
	if err := c.Set("weights", bad); !errors.Is(err, ErrInterval) {
		t.Fatalf("Set err=%v want ErrInterval", err)
	}
	if got := c.Values().Float64s("weights"); got[1] != 0.75 {
		t.Fatalf("failed Set must not modify container, got %v", got)
	}
}

type pairDom struct{}

func (pairDom) ConvertDom(n *yaml.Node) (any, error) {
	var p struct{ A, B int }
	if err := n.Decode(&p); err != nil {
		return nil, err
	}
	return [2]int{p.A, p.B}, nil
}

func (pairDom) ToDom(v any) (*yaml.Node, error) {
	p := v.([2]int)
	n := &yaml.Node{}
	err := n.Encode(map[string]int{"a": p[0], "b": p[1]})
	return n, err
}

func TestBind_DomConverter(t *testing.T) {
	RegisterDomConverter("test-pair", func() (DomConverter, error) { return pairDom{}, nil })
	set := MustSet(true, Field{Name: "pair", Type: Any, Meta: &Meta{DomConverterType: "test-pair"}})

	var n yaml.Node
	if err := yaml.Unmarshal([]byte("{a: 1, b: 2}"), &n); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	c, err := Bind(set, map[string]any{"pair": &n}, BindOptions{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, _ := c.Values().Get("pair")
	if got != [2]int{1, 2} {
		t.Fatalf("pair=%v", got)
	}
	out, err := c.Node()
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	b, _ := yaml.Marshal(out)
	if !strings.Contains(string(b), "a: 1") {
		t.Fatalf("rendered=%s", b)
	}
}

func TestContainer_Text(t *testing.T) {
	set := MustSet(true,
		Field{Name: "gain", Type: Float64, Meta: &Meta{Format: "%.2f", DefaultValue: "1.5"}},
		Field{Name: "bands", Type: Ints, Meta: &Meta{DefaultValue: "1,2,3"}},
	)
	c, err := Bind(set, nil, BindOptions{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if s, _ := c.Text("gain"); s != "1.50" {
		t.Fatalf("gain text=%q", s)
	}
	if s, _ := c.Text("bands"); s != "1,2,3" {
		t.Fatalf("bands text=%q", s)
	}
}

func TestBind_DefaultsAreNotShared(t *testing.T) {
	set := MustSet(true, Field{Name: "ids", Type: Ints, Meta: &Meta{DefaultValue: "1,2"}})
	a, _ := Bind(set, nil, BindOptions{})
	a.Values().Ints("ids")[0] = 99
	b, _ := Bind(set, nil, BindOptions{})
	if b.Values().Ints("ids")[0] != 1 {
		t.Fatalf("default slice leaked between containers")
	}
}

func TestBind_ConcurrentOnSharedSet(t *testing.T) {
	set := MustSet(true,
		Field{Name: "n", Type: Int, Meta: &Meta{Interval: "[0,1000]", DefaultValue: "7"}},
	)
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Bind(set, map[string]any{"n": i}, BindOptions{})
			if err != nil {
				errs <- err
				return
			}
			if c.Values().Int("n") != i {
				errs <- fmt.Errorf("n=%d want %d", c.Values().Int("n"), i)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestReason(t *testing.T) {
	_, err := bindOne(t, Field{Name: "n", Type: Int, Meta: &Meta{Interval: "[0,1]"}}, map[string]any{"n": 5})
	if Reason(err) != "interval" {
		t.Fatalf("reason=%q", Reason(err))
	}
}
