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

// Package strref provides the two string representations used for route
// patterns and connection host names: an owned, immutable [ImmutableString]
// and a non-owning [StringRef] view.
//
// Go strings are already immutable, so the distinction here is about
// ownership rather than mutability. An ImmutableString always holds its own
// copy of the bytes it was built from. A StringRef may alias memory that
// belongs to someone else (see [StringRefFromBytes]) and must not be used
// after that memory is modified or recycled.
package strref

import (
	"strings"
	"unsafe"
)

// ImmutableString is a string that owns its storage. It is intended for
// long-lived values, such as configured route patterns, that must not keep
// a larger caller buffer alive or observe later changes to it.
//
// The zero value is an empty string.
type ImmutableString struct {
	s string
}

// NewImmutableString returns an ImmutableString holding a private copy of s.
func NewImmutableString(s string) ImmutableString {
	return ImmutableString{s: strings.Clone(s)}
}

// ImmutableStringFromBytes returns an ImmutableString holding a copy of b.
func ImmutableStringFromBytes(b []byte) ImmutableString {
	return ImmutableString{s: string(b)}
}

// Len returns the length of the string in bytes.
func (s ImmutableString) Len() int {
	return len(s.s)
}

// Empty reports whether the string has zero length.
func (s ImmutableString) Empty() bool {
	return len(s.s) == 0
}

// String returns the contents as a Go string.
func (s ImmutableString) String() string {
	return s.s
}

// Ref returns a view of s. The view shares s's storage, which is safe since
// an ImmutableString never changes.
func (s ImmutableString) Ref() StringRef {
	return StringRef{s: s.s}
}

// StringRef is a read-only view of a string owned by something else: an
// ImmutableString, a Go string, or a caller-owned byte slice. Copying a
// StringRef never copies the underlying bytes.
//
// A StringRef created with StringRefFromBytes is only valid while the source
// slice is alive and unmodified.
//
// The zero value is an empty string.
type StringRef struct {
	s string
}

// NewStringRef returns a view of s.
func NewStringRef(s string) StringRef {
	return StringRef{s: s}
}

// StringRefFromBytes returns a view of b without copying. The caller must
// not modify b while the returned StringRef, or anything derived from it, is
// in use.
func StringRefFromBytes(b []byte) StringRef {
	if len(b) == 0 {
		return StringRef{}
	}
	return StringRef{s: unsafe.String(unsafe.SliceData(b), len(b))}
}

// Len returns the length of the view in bytes.
func (r StringRef) Len() int {
	return len(r.s)
}

// Empty reports whether the view has zero length.
func (r StringRef) Empty() bool {
	return len(r.s) == 0
}

// At returns the byte at index i. It panics if i is out of range.
func (r StringRef) At(i int) byte {
	return r.s[i]
}

// Slice returns the sub-view [i, j).
func (r StringRef) Slice(i, j int) StringRef {
	return StringRef{s: r.s[i:j]}
}

// IndexByte returns the index of the first c in r, or -1.
func (r StringRef) IndexByte(c byte) int {
	return strings.IndexByte(r.s, c)
}

// LastIndexByte returns the index of the last c in r, or -1.
func (r StringRef) LastIndexByte(c byte) int {
	return strings.LastIndexByte(r.s, c)
}

// IndexAny returns the index of the first byte of r that is in chars, or -1.
func (r StringRef) IndexAny(chars string) int {
	return strings.IndexAny(r.s, chars)
}

// HasPrefix reports whether r begins with prefix.
func (r StringRef) HasPrefix(prefix string) bool {
	return strings.HasPrefix(r.s, prefix)
}

// HasSuffix reports whether r ends with suffix.
func (r StringRef) HasSuffix(suffix string) bool {
	return strings.HasSuffix(r.s, suffix)
}

// Equal reports whether r and other hold the same bytes.
func (r StringRef) Equal(other StringRef) bool {
	return r.s == other.s
}

// EqualString reports whether r holds exactly the bytes of s.
func (r StringRef) EqualString(s string) bool {
	return r.s == s
}

// EqualFold reports whether r and s are equal under ASCII case folding.
// Non-ASCII bytes are compared exactly.
func (r StringRef) EqualFold(s string) bool {
	if len(r.s) != len(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if lowerASCII(r.s[i]) != lowerASCII(s[i]) {
			return false
		}
	}
	return true
}

// Str returns an owned copy of the viewed bytes. Use it when the value must
// outlive the source of the view.
func (r StringRef) Str() string {
	return strings.Clone(r.s)
}

// String implements fmt.Stringer. The result shares memory with the source
// of the view; use Str to retain it.
func (r StringRef) String() string {
	return r.s
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
