// Package pgproto implements the client side of the core of the
// PostgreSQL v3 frontend/backend wire protocol: the extended-query
// executor (Parse/Bind/Describe/Execute/Sync), the simple-query,
// fastpath and COPY subprotocols, and the reclamation tracker that
// deallocates server-side prepared statements and portals once their
// client-side owners become unreachable.
//
// Connection establishment, authentication, SSL negotiation, result-set
// row materialisation and type coercion, connection pooling, and a
// top-level driver facade are explicitly out of scope; they are external
// collaborators reached through the interfaces in handler.go and conn.go.
package pgproto
