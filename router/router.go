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

// Package router selects a backend group for a request from its authority
// and path.
//
// Routes are registered as "host/path" patterns. A pattern whose path ends
// with "/" matches that path and everything below it; any other pattern only
// matches its path exactly. When several patterns match, the longest one
// wins. Host comparison is case-insensitive and ignores any port in the
// request authority, while path comparison is case-sensitive.
//
// A Router is built once and is then safe for concurrent use by multiple
// goroutines, as long as no further routes are added. To change the routes,
// build a new Router and swap it in.
package router

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bufbuild/upstream/strref"
)

// NoMatch is returned by Lookup when no route matches.
const NoMatch = -1

// Router is a compressed byte trie of route patterns. The zero value is not
// usable; create instances with New.
type Router struct {
	// nodes is the arena of trie nodes. nodes[0] is the root, which has an
	// empty label and never carries a route.
	nodes []node
}

type node struct {
	// label is the key fragment on the edge leading to this node.
	label string
	// index is the route index stored at this node, or NoMatch.
	index int
	// children is sorted by the first byte of each child's label.
	children []int32
}

// New returns an empty Router.
func New() *Router {
	return &Router{nodes: []node{{index: NoMatch}}}
}

// AddRoute registers pattern under the given group index. The pattern is
// stored as given, byte for byte; it is not validated or normalized (see
// NormalizePattern). Adding a pattern that is already present replaces its
// index. Empty patterns are ignored.
func (r *Router) AddRoute(pattern strref.StringRef, index int) {
	key := pattern.Str()
	if key == "" {
		return
	}
	var cur int32
	for i := 0; ; {
		next := r.child(cur, key[i])
		if next < 0 {
			r.addChild(cur, key[i:], index)
			return
		}
		cur = next
		label := r.nodes[cur].label
		rest := key[i:]
		j := commonPrefixLen(label, rest)
		if j == min(len(label), len(rest)) {
			if len(rest) == len(label) {
				r.nodes[cur].index = index
				return
			}
			if len(rest) > len(label) {
				i += j
				continue
			}
		}
		// The key diverges inside this node's label (or ends there), so
		// split the node at j. The tail keeps the old route and children.
		tail := r.alloc(node{
			label:    label[j:],
			index:    r.nodes[cur].index,
			children: r.nodes[cur].children,
		})
		r.nodes[cur].label = label[:j]
		r.nodes[cur].index = NoMatch
		r.nodes[cur].children = []int32{tail}
		if len(rest) == j {
			r.nodes[cur].index = index
			return
		}
		r.addChild(cur, rest[j:], index)
		return
	}
}

// Match returns the index of the most specific route for a request with the
// given authority and path, or defaultIndex if nothing matches.
//
// The host may carry a port ("example.com:8080") and may be a bracketed IPv6
// literal ("[::1]:8080"). The path may carry a query or fragment, which are
// ignored. A path that does not begin with "/", such as the "*" of an
// OPTIONS request, only matches a route for the root of the host.
//
// Malformed hosts never match: a host that contains "/", has nothing before
// its port separator, or is an unterminated or garbage-suffixed IPv6 literal.
func (r *Router) Match(host, path strref.StringRef, defaultIndex int) int {
	if host.IndexByte('/') >= 0 {
		return defaultIndex
	}
	normalized, ok := normalizeHost(host)
	if !ok {
		return defaultIndex
	}
	if idx := r.Lookup(normalized, requestPath(path)); idx != NoMatch {
		return idx
	}
	return defaultIndex
}

// Lookup matches an already normalized host and path against the trie. The
// host must be lowercase and carry no port, and the path must be non-empty.
// It returns NoMatch if no route matches.
func (r *Router) Lookup(host, path string) int {
	if path == "" {
		return NoMatch
	}
	cur, offset, ok := r.matchHost(host)
	if !ok {
		return NoMatch
	}
	found := r.matchPath(cur, offset, path)
	if found <= 0 {
		return NoMatch
	}
	return r.nodes[found].index
}

// matchHost walks the trie along all of host. On success it returns the
// node in which host ends and how many bytes of that node's label host
// consumed.
func (r *Router) matchHost(host string) (int32, int, bool) {
	var cur int32
	for host != "" {
		next := r.child(cur, host[0])
		if next < 0 {
			return 0, 0, false
		}
		cur = next
		label := r.nodes[cur].label
		n := min(len(label), len(host))
		if label[:n] != host[:n] {
			return 0, 0, false
		}
		host = host[n:]
		if host == "" {
			return cur, n, true
		}
	}
	return 0, 0, true
}

// matchPath continues the walk from cur, of which offset label bytes are
// already consumed, along path. It returns the best node found, or -1.
func (r *Router) matchPath(cur int32, offset int, path string) int32 {
	found := int32(-1)
	if offset > 0 {
		label := r.nodes[cur].label
		n := min(len(label)-offset, len(path))
		if label[offset:offset+n] != path[:n] {
			return -1
		}
		path = path[n:]
		if path == "" {
			if hit, ok := r.endsAt(cur, offset+n); ok {
				return hit
			}
			return -1
		}
		if r.isPrefixRoute(cur) {
			found = cur
		}
	}
	for {
		next := r.child(cur, path[0])
		if next < 0 {
			return found
		}
		cur = next
		label := r.nodes[cur].label
		n := min(len(label), len(path))
		if label[:n] != path[:n] {
			return found
		}
		path = path[n:]
		if path == "" {
			if hit, ok := r.endsAt(cur, n); ok {
				return hit
			}
			return found
		}
		if r.isPrefixRoute(cur) {
			found = cur
		}
	}
}

// endsAt handles a probe key that runs out after consumed bytes of cur's
// label. An exact route wins. Failing that, a route that is the probe plus a
// trailing "/" also matches, so "/foo" selects the pattern "/foo/".
func (r *Router) endsAt(cur int32, consumed int) (int32, bool) {
	nd := &r.nodes[cur]
	if consumed == len(nd.label) {
		if nd.index != NoMatch {
			return cur, true
		}
		slash := r.child(cur, '/')
		if slash >= 0 && r.nodes[slash].index != NoMatch && len(r.nodes[slash].label) == 1 {
			return slash, true
		}
		return -1, false
	}
	if nd.index != NoMatch && consumed+1 == len(nd.label) && nd.label[consumed] == '/' {
		return cur, true
	}
	return -1, false
}

func (r *Router) isPrefixRoute(n int32) bool {
	nd := &r.nodes[n]
	return nd.index != NoMatch && nd.label[len(nd.label)-1] == '/'
}

// Dump writes a human-readable listing of the trie to w, one node per line,
// indented by depth. It is meant for debugging only.
func (r *Router) Dump(w io.Writer) error {
	return r.dump(w, 0, 0)
}

func (r *Router) dump(w io.Writer, n int32, depth int) error {
	nd := &r.nodes[n]
	if n != 0 {
		if _, err := fmt.Fprintf(w, "%s%q index=%d\n", strings.Repeat("  ", depth-1), nd.label, nd.index); err != nil {
			return err
		}
	}
	for _, c := range nd.children {
		if err := r.dump(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) child(n int32, c byte) int32 {
	children := r.nodes[n].children
	i := sort.Search(len(children), func(i int) bool {
		return r.nodes[children[i]].label[0] >= c
	})
	if i < len(children) && r.nodes[children[i]].label[0] == c {
		return children[i]
	}
	return -1
}

func (r *Router) addChild(parent int32, label string, index int) {
	c := r.alloc(node{label: label, index: index})
	children := r.nodes[parent].children
	i := sort.Search(len(children), func(i int) bool {
		return r.nodes[children[i]].label[0] >= label[0]
	})
	children = append(children, 0)
	copy(children[i+1:], children[i:])
	children[i] = c
	r.nodes[parent].children = children
}

func (r *Router) alloc(nd node) int32 {
	r.nodes = append(r.nodes, nd)
	return int32(len(r.nodes) - 1)
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
