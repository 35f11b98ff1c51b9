package engine

import (
	"encoding/json"
	"fmt"
)

// Get reads key into a T, returning def when the key is missing or its
// document does not decode as a T
func Get[T any](e *Engine, key string, def T) T {
	raw := e.Read(key, nil)
	if raw == nil {
		return def
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return def
	}
	return value
}

// Set encodes value and writes it under key
func Set[T any](e *Engine, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	e.Write(key, raw)
	return nil
}

// Decode returns the binding's current document as a T, or def when it
// does not decode
func Decode[T any](b *Binding, def T) T {
	raw := b.Value()
	if raw == nil {
		return def
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return def
	}
	return value
}

// Put encodes value and writes it through the binding
func Put[T any](b *Binding, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", b.key, err)
	}
	b.Write(raw)
	return nil
}
