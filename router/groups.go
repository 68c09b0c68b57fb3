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

package router

import (
	"strings"

	"github.com/bufbuild/upstream/strref"
)

// Group is a backend group as seen by the router: the pattern that selects
// it and its position in the configured sequence of groups.
type Group struct {
	Pattern strref.ImmutableString
	Index   int
}

// NewGroups returns one Group per pattern, normalized with NormalizePattern
// and indexed by position.
func NewGroups(patterns ...string) []Group {
	groups := make([]Group, len(patterns))
	for i, pattern := range patterns {
		groups[i] = Group{
			Pattern: strref.NewImmutableString(NormalizePattern(pattern)),
			Index:   i,
		}
	}
	return groups
}

// NewFromGroups builds a Router with a route for every group, added in
// order. If two groups share a pattern, the later one wins.
func NewFromGroups(groups []Group) *Router {
	r := New()
	for _, g := range groups {
		r.AddRoute(g.Pattern.Ref(), g.Index)
	}
	return r
}

// NewFromPatterns is a shorthand for NewFromGroups(NewGroups(patterns...)).
func NewFromPatterns(patterns ...string) (*Router, []Group) {
	groups := NewGroups(patterns...)
	return NewFromGroups(groups), groups
}

// NormalizePattern turns a configured "host/path" pattern into the form the
// router stores: the host part is lowercased and a bare host gets a "/" so
// that it matches every path.
func NormalizePattern(pattern string) string {
	slash := strings.IndexByte(pattern, '/')
	if slash < 0 {
		return lowerASCII(pattern) + "/"
	}
	return lowerASCII(pattern[:slash]) + pattern[slash:]
}

// normalizeHost strips the port from a request authority and lowercases the
// remaining host. It reports false for authorities that can never match.
func normalizeHost(hostport strref.StringRef) (string, bool) {
	if hostport.Empty() {
		return "", true
	}
	var host strref.StringRef
	if hostport.At(0) == '[' {
		end := hostport.IndexByte(']')
		if end < 0 {
			return "", false
		}
		if end+1 < hostport.Len() && hostport.At(end+1) != ':' {
			return "", false
		}
		host = hostport.Slice(0, end+1)
	} else {
		host = hostport
		if colon := hostport.LastIndexByte(':'); colon == 0 {
			return "", false
		} else if colon > 0 {
			host = hostport.Slice(0, colon)
		}
	}
	return lowerASCII(host.String()), true
}

// requestPath drops the query and fragment from a request path. A path that
// does not start with "/" is treated as the root.
func requestPath(raw strref.StringRef) string {
	path := raw
	if end := raw.IndexAny("?#"); end >= 0 {
		path = raw.Slice(0, end)
	}
	if path.Empty() || path.At(0) != '/' {
		return "/"
	}
	return path.String()
}

// lowerASCII lowercases ASCII letters only. It returns s itself when there
// is nothing to change.
func lowerASCII(s string) string {
	i := 0
	for i < len(s) && !('A' <= s[i] && s[i] <= 'Z') {
		i++
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if 'A' <= b[i] && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
