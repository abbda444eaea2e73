// Package update provides a three-state partial-update value.
//
// Unlike a plain pointer/optional, an Update distinguishes "leave the
// field unchanged" from "clear the field" from "set the field to a
// value". It is used in partial-update commands and the events they
// produce, so the event log preserves the caller's intent rather than
// the merged result.
package update

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type state uint8

const (
	stateUnchanged state = iota
	stateEmpty
	stateValue
)

// Update is a tagged value over {Unchanged, Empty, Value(T)}.
// The zero value is Unchanged.
//
// On the wire only two of the three states are representable: a field
// that is present with null decodes as Empty, a field present with a
// value decodes as Value. Unchanged exists only as the in-memory
// default of a field the request did not mention; deserialization never
// produces it.
type Update[T any] struct {
	state state
	value T
}

// Unchanged returns an Update that leaves the target untouched.
func Unchanged[T any]() Update[T] {
	return Update[T]{}
}

// Empty returns an Update that clears the target.
func Empty[T any]() Update[T] {
	return Update[T]{state: stateEmpty}
}

// Value returns an Update that sets the target to v.
func Value[T any](v T) Update[T] {
	return Update[T]{state: stateValue, value: v}
}

// IsUnchanged reports whether the update leaves the target untouched.
func (u Update[T]) IsUnchanged() bool {
	return u.state == stateUnchanged
}

// IsChanged reports whether the update modifies the target, either by
// clearing it or by setting a value.
func (u Update[T]) IsChanged() bool {
	return u.state != stateUnchanged
}

// IsEmpty reports whether the update clears the target.
func (u Update[T]) IsEmpty() bool {
	return u.state == stateEmpty
}

// IsValue reports whether the update carries a value.
func (u Update[T]) IsValue() bool {
	return u.state == stateValue
}

// Get returns the carried value and whether one is present.
func (u Update[T]) Get() (T, bool) {
	return u.value, u.state == stateValue
}

// IsZero reports whether the update is Unchanged. encoding/json's
// omitzero option uses it to keep Unchanged fields off the wire
// entirely, which is the only way that state is (not) represented.
func (u Update[T]) IsZero() bool {
	return u.state == stateUnchanged
}

// ApplyTo folds the update into an optional target field:
// Value sets it, Empty clears it, Unchanged leaves it alone.
func (u Update[T]) ApplyTo(dst **T) {
	switch u.state {
	case stateValue:
		v := u.value
		*dst = &v
	case stateEmpty:
		*dst = nil
	}
}

// String implements fmt.Stringer for logging.
func (u Update[T]) String() string {
	switch u.state {
	case stateEmpty:
		return "Empty"
	case stateValue:
		return fmt.Sprintf("Value(%v)", u.value)
	default:
		return "Unchanged"
	}
}

// MarshalJSON encodes Value as the value itself and both Empty and
// Unchanged as null. Callers that need to keep Unchanged off the wire
// entirely must omit the field before marshaling.
func (u Update[T]) MarshalJSON() ([]byte, error) {
	if u.state == stateValue {
		return json.Marshal(u.value)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes null as Empty and any value as Value. It never
// yields Unchanged: an absent field is simply not passed through the
// unmarshaler and keeps its zero (Unchanged) state.
func (u *Update[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*u = Empty[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*u = Value(v)
	return nil
}
