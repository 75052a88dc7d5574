/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: registry.go
Description: Explicit registry of hypothesis generators and parsers. A registry is built per
run and handed to the inference engine; there is no global state.
*/

package plugin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kleascm/akaylee-infer/pkg/generator"
	"github.com/kleascm/akaylee-infer/pkg/hypothesis"
	"github.com/kleascm/akaylee-infer/pkg/parser"
)

// ErrDuplicate is returned when a name is registered twice
var ErrDuplicate = errors.New("plugin: duplicate registration")

// ErrNoParser is returned by ParserFor when nothing accepts a hypothesis
var ErrNoParser = errors.New("plugin: no parser for hypothesis")

// Registry holds generators and parsers in registration order
type Registry struct {
	mu         sync.RWMutex
	generators []generator.Generator
	parsers    []parser.Parser
	names      map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Default returns a registry holding every built-in generator and parser
func Default(config *generator.Config) *Registry {
	r := NewRegistry()
	for _, g := range generator.Defaults(config) {
		// Built-in names are distinct
		_ = r.RegisterGenerator(g)
	}
	for _, p := range []parser.Parser{
		parser.OpaqueParser{},
		parser.LengthPrefixParser{},
		parser.DelimiterParser{},
		parser.FixedHeaderParser{},
		parser.BitmapParser{},
		parser.TLVParser{},
		parser.VarintParser{},
	} {
		_ = r.RegisterParser(p)
	}
	return r
}

// RegisterGenerator appends a generator
func (r *Registry) RegisterGenerator(g generator.Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := "generator/" + g.Name()
	if r.names[key] {
		return fmt.Errorf("%w: generator %q", ErrDuplicate, g.Name())
	}
	r.names[key] = true
	r.generators = append(r.generators, g)
	return nil
}

// RegisterParser appends a parser
func (r *Registry) RegisterParser(p parser.Parser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := "parser/" + p.Name()
	if r.names[key] {
		return fmt.Errorf("%w: parser %q", ErrDuplicate, p.Name())
	}
	r.names[key] = true
	r.parsers = append(r.parsers, p)
	return nil
}

// Generators returns a snapshot of the registered generators
func (r *Registry) Generators() []generator.Generator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]generator.Generator(nil), r.generators...)
}

// Parsers returns a snapshot of the registered parsers
func (r *Registry) Parsers() []parser.Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]parser.Parser(nil), r.parsers...)
}

// ParserFor returns the first registered parser applicable to h
func (r *Registry) ParserFor(h hypothesis.Hypothesis) (parser.Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if p.Applicable(h) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoParser, h.Key())
}
