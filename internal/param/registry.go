package param

import (
	"fmt"
	"sort"
	"sync"
)

// Named factories back the validatorType, converterType and
// domConverterType keys of a declaration.
type (
	ValidatorFactory    func() (Validator, error)
	ConverterFactory    func() (Converter, error)
	DomConverterFactory func() (DomConverter, error)
)

var types = struct {
	mu         sync.RWMutex
	validators map[string]ValidatorFactory
	converters map[string]ConverterFactory
	doms       map[string]DomConverterFactory
}{
	validators: map[string]ValidatorFactory{},
	converters: map[string]ConverterFactory{},
	doms:       map[string]DomConverterFactory{},
}

func RegisterValidator(name string, f ValidatorFactory) {
	types.mu.Lock()
	types.validators[name] = f
	types.mu.Unlock()
}

func RegisterConverter(name string, f ConverterFactory) {
	types.mu.Lock()
	types.converters[name] = f
	types.mu.Unlock()
}

func RegisterDomConverter(name string, f DomConverterFactory) {
	types.mu.Lock()
	types.doms[name] = f
	types.mu.Unlock()
}

// RegisteredTypes lists the names known to each registry, sorted.
func RegisteredTypes() (validators, converters, doms []string) {
	types.mu.RLock()
	defer types.mu.RUnlock()
	return sortedKeys(types.validators), sortedKeys(types.converters), sortedKeys(types.doms)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// instantiate runs a factory and turns a panic into an error, so a broken
// type surfaces as a construction failure.
func instantiate[T any](kind, name string, lookup func(string) (func() (T, error), bool)) (out T, err error) {
	f, ok := lookup(name)
	if !ok {
		return out, fmt.Errorf("%s type %q is not registered", kind, name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("create %s %q: panic: %v", kind, name, r)
		}
	}()
	out, err = f()
	if err != nil {
		return out, fmt.Errorf("create %s %q: %w", kind, name, err)
	}
	return out, nil
}

func newValidator(name string) (Validator, error) {
	return instantiate("validator", name, func(n string) (func() (Validator, error), bool) {
		types.mu.RLock()
		defer types.mu.RUnlock()
		f, ok := types.validators[n]
		return f, ok
	})
}

func newConverter(name string) (Converter, error) {
	return instantiate("converter", name, func(n string) (func() (Converter, error), bool) {
		types.mu.RLock()
		defer types.mu.RUnlock()
		f, ok := types.converters[n]
		return f, ok
	})
}

func newDomConverter(name string) (DomConverter, error) {
	return instantiate("dom converter", name, func(n string) (func() (DomConverter, error), bool) {
		types.mu.RLock()
		defer types.mu.RUnlock()
		f, ok := types.doms[n]
		return f, ok
	})
}
