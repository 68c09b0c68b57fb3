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

// Package dlist provides a doubly linked list whose elements live in a
// slice and are addressed by handles instead of pointers. Handles stay
// valid until their element is removed; a stale handle is detected rather
// than aliasing whatever element later reuses its slot.
package dlist

const none = -1

// Handle identifies an element of a List.
type Handle struct {
	index      int32
	generation uint32
}

// List is a doubly linked list of T. The zero value is an empty list ready
// to use. A List is not safe for concurrent use.
type List[T any] struct {
	entries []entry[T]
	// head and tail are offset by one so the zero value means none.
	head, tail int32
	free       []int32
	length     int
}

type entry[T any] struct {
	value      T
	prev, next int32
	generation uint32
	used       bool
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	return l.length
}

// PushBack appends value and returns its handle.
func (l *List[T]) PushBack(value T) Handle {
	var index int32
	if n := len(l.free); n > 0 {
		index = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.entries = append(l.entries, entry[T]{})
		index = int32(len(l.entries) - 1) //nolint:gosec
	}
	e := &l.entries[index]
	e.value = value
	e.used = true
	e.prev = l.tail - 1
	e.next = none
	if tail := l.tail - 1; tail != none {
		l.entries[tail].next = index
	} else {
		l.head = index + 1
	}
	l.tail = index + 1
	l.length++
	return Handle{index: index, generation: e.generation}
}

// Get returns the value for h. The second result is false if h does not
// refer to an element of the list.
func (l *List[T]) Get(h Handle) (T, bool) {
	if !l.valid(h) {
		var zero T
		return zero, false
	}
	return l.entries[h.index].value, true
}

// Remove unlinks the element for h and returns its value. The second
// result is false, and the list is unchanged, if h does not refer to an
// element of the list.
func (l *List[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !l.valid(h) {
		return zero, false
	}
	e := &l.entries[h.index]
	value := e.value
	if e.prev != none {
		l.entries[e.prev].next = e.next
	} else {
		l.head = e.next + 1
	}
	if e.next != none {
		l.entries[e.next].prev = e.prev
	} else {
		l.tail = e.prev + 1
	}
	e.value = zero
	e.used = false
	e.generation++
	l.free = append(l.free, h.index)
	l.length--
	return value, true
}

// Each calls fn for each element from front to back until fn returns false.
// fn must not modify the list.
func (l *List[T]) Each(fn func(Handle, T) bool) {
	for index := l.head - 1; index != none; index = l.entries[index].next {
		e := &l.entries[index]
		if !fn(Handle{index: index, generation: e.generation}, e.value) {
			return
		}
	}
}

// Drain removes every element and returns the values from front to back.
func (l *List[T]) Drain() []T {
	values := make([]T, 0, l.length)
	for l.head != 0 {
		index := l.head - 1
		value, _ := l.Remove(Handle{index: index, generation: l.entries[index].generation})
		values = append(values, value)
	}
	return values
}

func (l *List[T]) valid(h Handle) bool {
	return h.index >= 0 && int(h.index) < len(l.entries) &&
		l.entries[h.index].used && l.entries[h.index].generation == h.generation
}
