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

package strref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmutableStringOwnsBytes(t *testing.T) {
	t.Parallel()

	src := []byte("nghttp2.org/alpha/")
	owned := ImmutableStringFromBytes(src)
	src[0] = 'X'
	assert.Equal(t, "nghttp2.org/alpha/", owned.String())
	assert.Equal(t, len("nghttp2.org/alpha/"), owned.Len())
	assert.False(t, owned.Empty())

	var zero ImmutableString
	assert.True(t, zero.Empty())
	assert.Equal(t, "", zero.String())
	assert.True(t, zero.Ref().Empty())
}

func TestStringRefAliasesBytes(t *testing.T) {
	t.Parallel()

	buf := []byte("example.com")
	ref := StringRefFromBytes(buf)
	assert.True(t, ref.EqualString("example.com"))

	copied := ref.Str()
	buf[0] = 'E'
	// The view observes the change, the copy does not.
	assert.True(t, ref.EqualString("Example.com"))
	assert.Equal(t, "example.com", copied)

	assert.True(t, StringRefFromBytes(nil).Empty())
}

func TestStringRefOperations(t *testing.T) {
	t.Parallel()

	ref := NewStringRef("[::1]:8080")
	assert.Equal(t, 10, ref.Len())
	assert.Equal(t, byte('['), ref.At(0))
	assert.Equal(t, 4, ref.IndexByte(']'))
	assert.Equal(t, 5, ref.LastIndexByte(':'))
	assert.Equal(t, -1, ref.IndexByte('/'))
	assert.Equal(t, 1, ref.IndexAny(":/"))
	assert.True(t, ref.HasPrefix("["))
	assert.True(t, ref.HasSuffix("8080"))
	require.True(t, ref.Slice(0, 5).EqualString("[::1]"))

	assert.True(t, NewStringRef("abc").Equal(NewImmutableString("abc").Ref()))
	assert.False(t, NewStringRef("abc").Equal(NewStringRef("abd")))
	assert.True(t, NewStringRef("WWW.Example.com").EqualFold("www.example.COM"))
	assert.False(t, NewStringRef("www").EqualFold("wwww"))
	assert.Equal(t, "abc", NewStringRef("abc").String())
}
