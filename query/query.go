// Package query holds the data model shared by the parser and the
// executor: a prepared Query (Simple or Composite), its ParameterList,
// and the Portal a Bind opens against it. Grounded in the teacher's own
// statement/portal shape (command.go's PreparedStatement and Portal
// types, pkg/types field layout for RowDescription/ParameterDescription)
// but read from the client's point of view: a Query is created by the
// parser, mutated only by the executor, and disowned by the caller.
package query

import (
	"strconv"

	"github.com/lib/pq/oid"
)

// Unspecified is the sentinel OID meaning "server may infer the type".
const Unspecified oid.Oid = 0

// Field describes one column of a described result set, mirroring the
// wire RowDescription fields (§6).
type Field struct {
	Name    string
	Table   oid.Oid
	Column  int16
	Type    oid.Oid
	TypeLen int16
	TypeMod int32
	Format  int16
}

// Simple is a single SQL statement: a fixed sequence of text fragments
// separated by parameter placeholders, plus whatever the Executor has
// learned about it from Parse/Describe so far.
type Simple struct {
	Fragments []string
	Name      string // assigned server-side statement name; "" if unassigned
	ParamOIDs []oid.Oid

	Fields             []Field
	StatementDescribed bool
	PortalDescribed    bool
}

// ParamCount returns the number of parameter placeholders in the
// statement: one less than the number of fragments.
func (s *Simple) ParamCount() int {
	if len(s.Fragments) == 0 {
		return 0
	}

	return len(s.Fragments) - 1
}

// Text reconstructs the original SQL text when the statement has no
// parameters (fragments join with nothing in between).
func (s *Simple) Text() string {
	out := ""
	for _, f := range s.Fragments {
		out += f
	}

	return out
}

// WithPlaceholders reconstructs the statement text using $1..$n in place
// of the original '?' markers — the form actually sent to the server.
func (s *Simple) WithPlaceholders() string {
	if len(s.Fragments) == 0 {
		return ""
	}

	out := s.Fragments[0]
	for i := 1; i < len(s.Fragments); i++ {
		out += "$" + strconv.Itoa(i) + s.Fragments[i]
	}

	return out
}

// KnownFields reports whether this statement's result columns have been
// described.
func (s *Simple) KnownFields() bool { return s.Fields != nil }

// Offset maps one flat caller-visible parameter index, in a Composite
// query, to its owning sub-query and local index within it.
type Offset struct {
	Sub   int
	Local int
}

// Query is either the empty sentinel, a Simple statement, or a Composite
// of several Simple sub-queries produced by splitting on top-level
// semicolons. It is created by the parser, mutated only by the Executor,
// and disowned by the caller — at which point its assigned server-side
// name(s), if any, must be reclaimed (see package reclaim).
type Query struct {
	statements []*Simple
	offsets    []Offset
}

// Empty returns the sentinel empty query (§4.1: empty input, or
// input that is only whitespace/semicolons, yields this).
func Empty() *Query { return &Query{} }

// NewSimple wraps a single statement as a Query.
func NewSimple(s *Simple) *Query { return &Query{statements: []*Simple{s}} }

// NewComposite wraps several statements and their parameter offset table
// as one Query.
func NewComposite(statements []*Simple, offsets []Offset) *Query {
	return &Query{statements: statements, offsets: offsets}
}

// IsEmpty reports whether this is the empty sentinel query.
func (q *Query) IsEmpty() bool { return len(q.statements) == 0 }

// IsComposite reports whether this query has more than one statement.
func (q *Query) IsComposite() bool { return len(q.statements) > 1 }

// Statements returns the ordered sub-queries; for a Simple query this is
// a single-element slice.
func (q *Query) Statements() []*Simple { return q.statements }

// ParamOffset resolves a flat parameter index to the sub-query and local
// index that owns it. For a Simple query the offset is always (0, flat).
func (q *Query) ParamOffset(flat int) Offset {
	if len(q.offsets) == 0 {
		return Offset{Sub: 0, Local: flat}
	}

	return q.offsets[flat]
}

// ParamCount returns the total number of parameter placeholders across
// every sub-query.
func (q *Query) ParamCount() int {
	total := 0
	for _, s := range q.statements {
		total += s.ParamCount()
	}

	return total
}
