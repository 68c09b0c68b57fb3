// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package attribute provides a type-safe container of custom attributes
// named Values. It is used to attach metadata to configured backends and to
// the addresses they resolve to. Custom attributes are declared using
// [NewKey] to create a strongly-typed key. The values can then be defined
// using the key's Value method.
//
// The following example declares a "zone" attribute and attaches it to a
// backend, so that the address a session connects to can be traced back to
// where it lives:
//
//	var Zone = attribute.NewKey[string]()
//
//	backend := upstream.Backend{
//		Pattern:    "api.example.com/",
//		Host:       "api-backend.internal",
//		Service:    "443",
//		Attributes: attribute.NewValues(Zone.Value("us-east1")),
//	}
//
// Values are read back in a type-safe way with [GetValue].
package attribute

// Values is a collection of type-safe custom metadata values.
// It contains a mapping of [Key] to value for any number of
// attribute keys. The zero value is an empty collection.
type Values struct {
	data map[any]any
}

// NewValues creates a new Values object with the provided values. If a key
// appears more than once, the last value wins.
//
// Use this function in tandem with [Key.Value], like this:
//
//	var testKey = attribute.NewKey[string]()
//	...
//	attribute.NewValues(testKey.Value("test"))
func NewValues(values ...Value) Values {
	data := make(map[any]any, len(values))
	for _, attr := range values {
		data[attr.key] = attr.value
	}
	return Values{
		data: data,
	}
}

// Len returns the number of attributes in v.
func (v Values) Len() int {
	return len(v.data)
}

// Merge returns a new Values holding the attributes of both v and other.
// Where both have a value for the same key, other's value wins. Neither v
// nor other is modified.
func (v Values) Merge(other Values) Values {
	if len(other.data) == 0 {
		return v
	}
	if len(v.data) == 0 {
		return other
	}
	data := make(map[any]any, len(v.data)+len(other.data))
	for key, value := range v.data {
		data[key] = value
	}
	for key, value := range other.data {
		data[key] = value
	}
	return Values{data: data}
}

// Key is an attribute key. Applications should use NewKey to create
// a new key for each distinct attribute. The type T is the type of
// values this attribute can have.
type Key[T any] struct {
	// can't be empty or else pointers won't be distinct
	_ bool
}

// NewKey returns a new key that can have values of type T. Each call
// to NewKey results in a distinct attribute key, even if multiple are
// created for the same type. (Keys are identified by their address.)
func NewKey[T any]() *Key[T] {
	return new(Key[T])
}

// Value constructs a new Value, which can be passed to [NewValues].
func (k *Key[T]) Value(value T) Value {
	return Value{key: k, value: value}
}

// Value is a single custom attribute, composed of a key and
// corresponding value.
type Value struct {
	key, value any
}

// GetValue retrieves a single value from the given Values. If the key is not
// present, the zero value and false will be returned instead.
func GetValue[T any](values Values, key *Key[T]) (value T, ok bool) {
	val, ok := values.data[key]
	if !ok {
		var zero T
		return zero, false
	}
	tval, ok := val.(T)
	return tval, ok
}
