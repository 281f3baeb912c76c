package pgproto

import (
	"github.com/pgexec/pgproto/parser"
	"github.com/pgexec/pgproto/query"
)

// CreateSimpleQuery tokenises sql with no parameter placeholders
// recognised (§6: "Query createSimpleQuery(sql)"), using this
// Stream's current standard_conforming_strings setting as learned from
// ParameterStatus.
func (s *Stream) CreateSimpleQuery(sql string) *query.Query {
	return parser.Parse(sql, false, s.GetStandardConformingStrings())
}

// CreateParameterizedQuery tokenises sql, splitting it into fragments at
// each bare '?' placeholder (§6: "Query
// createParameterizedQuery(sql)").
func (s *Stream) CreateParameterizedQuery(sql string) *query.Query {
	return parser.Parse(sql, true, s.GetStandardConformingStrings())
}
