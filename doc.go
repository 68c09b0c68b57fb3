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

// Package upstream connects requests to the backends that serve them.
//
// A [Pool] is configured with a list of [Backend] values. Each backend has
// a pattern of the form "host/path" that selects the requests it serves:
//
//	pool := upstream.NewPool(tlsConfig, []upstream.Backend{
//	    {Pattern: "api.example.com/v1/", Host: "api-v1.internal", Service: "443"},
//	    {Pattern: "api.example.com/", Host: "api.internal", Service: "443"},
//	    {Pattern: "/", Host: "default.internal", Service: "443"},
//	})
//
// [Pool.Route] picks the backend with the longest matching pattern. Pattern
// paths ending in "/" match the whole subtree below them, other paths only
// match exactly, and the host part is compared without case and without a
// port. A pattern with an empty host, like "/" above, serves requests that
// carry no host.
//
// [Pool.Connect] routes a request and opens a TLS session to the matched
// backend: the backend's host is resolved, the resolved addresses are tried
// in order, and the handshake must verify the server's certificate for the
// backend's host and agree on HTTP/2. The established session can be used
// for raw reads and writes or handed to an HTTP/2 client connection:
//
//	conn, err := pool.Connect(ctx, req.Host, req.URL.RequestURI())
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	clientConn, err := conn.HTTP2ClientConn(nil)
//
// The routing and session layers are usable on their own, through the
// [router] and [session] packages.
//
// [router]: https://pkg.go.dev/github.com/bufbuild/upstream/router
// [session]: https://pkg.go.dev/github.com/bufbuild/upstream/session
package upstream
