// Package params holds the typed, named parameter values of one asset
// instance. The schema is fixed at construction; values stay mutable.
package params

import (
	"fmt"
	"sort"
	"sync"

	"github.com/user/assetlink/internal/types"
)

// Type is the declared type of a parameter.
type Type string

const (
	Bool   Type = "bool"
	Int    Type = "int"
	Float  Type = "float"
	String Type = "string"
	Enum   Type = "enum"
)

// Definition declares one parameter. Enum values are stored as the index of
// the selected token. Min and Max only apply to Int and Float.
type Definition struct {
	Name    string
	Type    Type
	Default any
	Min     *float64
	Max     *float64
	Tokens  []string
}

// Store validates every write against the schema. While the owner is
// cooking, valid writes are queued and applied atomically by BeginCook.
type Store struct {
	mu      sync.Mutex
	defs    map[string]Definition
	order   []string
	values  map[string]any
	pending map[string]any
	cooking bool
}

// NewStore builds a store from the schema, seeding each parameter with its
// default (or the zero value of its type).
func NewStore(defs []Definition) (*Store, error) {
	s := &Store{
		defs:    make(map[string]Definition, len(defs)),
		values:  make(map[string]any, len(defs)),
		pending: make(map[string]any),
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("params: definition without a name")
		}
		if _, dup := s.defs[def.Name]; dup {
			return nil, fmt.Errorf("params: duplicate parameter %q", def.Name)
		}
		if def.Type == Enum && len(def.Tokens) == 0 {
			return nil, fmt.Errorf("params: enum %q declares no tokens", def.Name)
		}
		value := zero(def.Type)
		if def.Default != nil {
			v, err := coerce(def, def.Default)
			if err != nil {
				return nil, fmt.Errorf("params: default for %q: %w", def.Name, err)
			}
			value = v
		}
		s.defs[def.Name] = def
		s.order = append(s.order, def.Name)
		s.values[def.Name] = value
	}
	return s, nil
}

func (s *Store) SetBool(name string, v bool) error       { return s.set(name, Bool, v) }
func (s *Store) SetInt(name string, v int) error         { return s.set(name, Int, v) }
func (s *Store) SetFloat(name string, v float64) error   { return s.set(name, Float, v) }
func (s *Store) SetString(name string, v string) error   { return s.set(name, String, v) }
func (s *Store) SetEnum(name string, token string) error { return s.set(name, Enum, token) }

// SetEnumIndex selects an enum token by position.
func (s *Store) SetEnumIndex(name string, index int) error { return s.set(name, Enum, index) }

func (s *Store) set(name string, kind Type, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrParameterNotFound, name)
	}
	if def.Type != kind {
		return fmt.Errorf("%w: %q is %s, got %s", types.ErrParameterType, name, def.Type, kind)
	}
	value, err := coerce(def, v)
	if err != nil {
		return err
	}
	if s.cooking {
		s.pending[name] = value
		return nil
	}
	s.values[name] = value
	// A write made while idle supersedes anything queued by the last cook.
	delete(s.pending, name)
	return nil
}

// Get returns the committed value of a parameter.
func (s *Store) Get(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrParameterNotFound, name)
	}
	return v, nil
}

// Definitions returns the schema in declaration order.
func (s *Store) Definitions() []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Definition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.defs[name])
	}
	return out
}

// Snapshot returns a copy of the committed values.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValues(s.values)
}

// Pending returns a copy of the values queued for the next cook.
func (s *Store) Pending() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyValues(s.pending)
}

// PendingNames lists queued parameter names in sorted order.
func (s *Store) PendingNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeginCook applies queued values, marks the store as cooking and returns
// the snapshot the cook request must carry.
func (s *Store) BeginCook() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range s.pending {
		s.values[name] = v
	}
	s.pending = make(map[string]any)
	s.cooking = true
	return copyValues(s.values)
}

// EndCook returns the store to immediate-apply mode. Values queued during
// the cook stay queued until the next BeginCook unless an immediate write
// to the same parameter replaces them first.
func (s *Store) EndCook() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooking = false
}

// Cooking reports whether writes are currently being queued.
func (s *Store) Cooking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooking
}

func copyValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func zero(t Type) any {
	switch t {
	case Bool:
		return false
	case Int, Enum:
		return 0
	case Float:
		return 0.0
	default:
		return ""
	}
}

// coerce checks v against def and returns the stored representation.
func coerce(def Definition, v any) (any, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %q is %s, got %T", types.ErrParameterType, def.Name, def.Type, v)
	}
	switch def.Type {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch()
		}
		return b, nil
	case Int:
		n, ok := v.(int)
		if !ok {
			return nil, mismatch()
		}
		if err := checkRange(def, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case Float:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case int:
			// yaml decodes "default: 2" as an int
			f = float64(x)
		default:
			return nil, mismatch()
		}
		if err := checkRange(def, f); err != nil {
			return nil, err
		}
		return f, nil
	case String:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		return str, nil
	case Enum:
		switch x := v.(type) {
		case int:
			if x < 0 || x >= len(def.Tokens) {
				return nil, fmt.Errorf("%w: %q has no token at index %d", types.ErrParameterType, def.Name, x)
			}
			return x, nil
		case string:
			for i, tok := range def.Tokens {
				if tok == x {
					return i, nil
				}
			}
			return nil, fmt.Errorf("%w: %q has no token %q", types.ErrParameterType, def.Name, x)
		default:
			return nil, mismatch()
		}
	}
	return nil, fmt.Errorf("%w: %q has unknown type %q", types.ErrParameterType, def.Name, def.Type)
}

func checkRange(def Definition, f float64) error {
	if def.Min != nil && f < *def.Min {
		return fmt.Errorf("%w: %q below minimum %g", types.ErrParameterType, def.Name, *def.Min)
	}
	if def.Max != nil && f > *def.Max {
		return fmt.Errorf("%w: %q above maximum %g", types.ErrParameterType, def.Name, *def.Max)
	}
	return nil
}
