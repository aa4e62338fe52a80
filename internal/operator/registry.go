package operator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mohammed-shakir/tilegraph/internal/param"
)

// Spi provides one operator type: a constructor for fresh, uninitialized
// instances and the declared parameter schema.
type Spi struct {
	Type        string
	Description string
	Create      func() Operator
	Fields      []param.Field

	params *param.Set
}

// Params is the descriptor set compiled when the type was registered.
func (s *Spi) Params() *param.Set { return s.params }

type Registry struct {
	mu   sync.RWMutex
	spis map[string]*Spi
}

func NewRegistry() *Registry {
	return &Registry{spis: map[string]*Spi{}}
}

// Register compiles the schema once; a declaration mistake fails here,
// before any graph uses the type.
func (r *Registry) Register(spi Spi) error {
	if spi.Type == "" {
		return fmt.Errorf("register operator: type name is required")
	}
	if spi.Create == nil {
		return fmt.Errorf("register operator %q: constructor is required", spi.Type)
	}
	set, err := param.NewSet(true, spi.Fields...)
	if err != nil {
		return fmt.Errorf("register operator %q: %w", spi.Type, err)
	}
	spi.params = set

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.spis[spi.Type]; dup {
		return fmt.Errorf("register operator %q: already registered", spi.Type)
	}
	r.spis[spi.Type] = &spi
	return nil
}

func (r *Registry) MustRegister(spi Spi) {
	if err := r.Register(spi); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (*Spi, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spis[name]
	return s, ok
}

// New returns a fresh instance of the named type with its provider.
func (r *Registry) New(name string) (Operator, *Spi, error) {
	s, ok := r.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownOperator, name)
	}
	op := s.Create()
	if op == nil {
		return nil, nil, fmt.Errorf("operator %q: constructor returned nil", name)
	}
	return op, s, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.spis))
	for k := range r.spis {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default is the process-wide registry operator packages add themselves to
// from init.
var Default = NewRegistry()

func Register(spi Spi) { Default.MustRegister(spi) }
