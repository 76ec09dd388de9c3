// Package serializer converts domain values to and from plain maps while
// enforcing that stored data has exactly the keys of the current schema.
//
// Any field added, removed or renamed in a schema changes its key set, which
// makes every previously stored payload fail to load with a schema mismatch
// instead of being partially accepted.
package serializer

import (
	"github.com/jrsteele09/go-identity-session/autherrors"
)

// Field names one key of the schema and how to extract its value.
type Field[T any] struct {
	Name    string
	Extract func(T) any
}

// Serializer dumps values of T into maps keyed by its schema.
type Serializer[T any] struct {
	fields []Field[T]
	keys   map[string]struct{}
}

func New[T any](fields ...Field[T]) *Serializer[T] {
	keys := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		keys[f.Name] = struct{}{}
	}
	return &Serializer[T]{fields: fields, keys: keys}
}

// Keys returns the schema keys in declaration order.
func (s *Serializer[T]) Keys() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	return names
}

// Dump applies every extractor to object.
func (s *Serializer[T]) Dump(object T) map[string]any {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = f.Extract(object)
	}
	return out
}

// LoadableHash returns the subset of raw covered by the schema. It fails with a
// SchemaMismatchError unless the key set of raw equals the schema key set.
func (s *Serializer[T]) LoadableHash(raw map[string]any) (map[string]any, error) {
	given := make([]string, 0, len(raw))
	match := len(raw) == len(s.keys)
	for k := range raw {
		given = append(given, k)
		if _, ok := s.keys[k]; !ok {
			match = false
		}
	}
	if !match {
		return nil, autherrors.NewSchemaMismatch(s.Keys(), given)
	}

	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = raw[f.Name]
	}
	return out, nil
}

// AsMap converts a nested payload value to a map. Stored payloads decode to
// map[string]any, but values built in process may still be typed maps.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]map[string]any:
		out := make(map[string]any, len(m))
		for k, inner := range m {
			out[k] = inner
		}
		return out, true
	default:
		return nil, false
	}
}
