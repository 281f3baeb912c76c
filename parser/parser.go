// Package parser tokenises a SQL source string into the fragments and
// parameter-offset table that make up a query.Query, honouring single
// quotes, standard-conforming-strings, double-quoted identifiers, dollar
// quoting, line/block comments, parenthesis depth and semicolon
// statement separators (§4.1). It never fails: invalid SQL is
// forwarded to the server untouched, exactly as an unparsed fragment.
//
// There is no teacher file that does this directly — the teacher is a
// protocol *server* and never needs to split client SQL into statements.
// The scan below is grounded in the character-wise, stateful-switch style
// the teacher uses throughout command.go and pkg/buffer (read one token,
// advance, repeat) rather than a lexer-generator or regex approach.
package parser

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/pgexec/pgproto/query"
)

// Parse tokenises sql into a query.Query. withParameters selects whether
// bare '?' characters are treated as parameter placeholders;
// standardConformingStrings mirrors the connection's current
// standard_conforming_strings setting and controls backslash-escape
// handling inside single-quoted literals.
func Parse(sql string, withParameters, standardConformingStrings bool) *query.Query {
	if cached, ok := cacheLookup(sql, withParameters, standardConformingStrings); ok {
		return materialize(cached)
	}

	entry := scan(sql, withParameters, standardConformingStrings)
	cacheStore(sql, withParameters, standardConformingStrings, entry)
	return materialize(entry)
}

// scanResult is the cacheable, immutable outcome of tokenising one SQL
// string: fragment arrays per kept statement, and the flat parameter
// offset table across all of them.
type scanResult struct {
	statements [][]string
	offsets    []query.Offset
}

func materialize(r scanResult) *query.Query {
	switch len(r.statements) {
	case 0:
		return query.Empty()
	case 1:
		return query.NewSimple(&query.Simple{Fragments: append([]string(nil), r.statements[0]...)})
	default:
		simples := make([]*query.Simple, len(r.statements))
		for i, frags := range r.statements {
			simples[i] = &query.Simple{Fragments: append([]string(nil), frags...)}
		}

		return query.NewComposite(simples, append([]query.Offset(nil), r.offsets...))
	}
}

func scan(sql string, withParameters, scs bool) scanResult {
	var (
		result     scanResult
		curFrags   []string
		fragStart  int
		localIdx   int
		inParen    int
	)

	n := len(sql)
	i := 0

	flush := func(end int) {
		curFrags = append(curFrags, sql[fragStart:end])
	}

	closeStatement := func(end int) {
		flush(end)

		keep := localIdx > 0
		if !keep {
			joined := strings.Join(curFrags, "")
			keep = strings.TrimSpace(joined) != ""
		}

		if keep {
			result.statements = append(result.statements, curFrags)
		}

		curFrags = nil
		localIdx = 0
	}

	for i < n {
		c := sql[i]
		switch c {
		case '\'':
			i = skipSingleQuoted(sql, i, scs)
			continue
		case '"':
			i = skipDoubleQuoted(sql, i)
			continue
		case '-':
			if i+1 < n && sql[i+1] == '-' {
				i = skipLineComment(sql, i)
				continue
			}
		case '/':
			if i+1 < n && sql[i+1] == '*' {
				i = skipBlockComment(sql, i)
				continue
			}
		case '$':
			if tag, ok := matchDollarTag(sql, i); ok {
				i = skipDollarQuoted(sql, i, tag)
				continue
			}
		case '(':
			inParen++
		case ')':
			inParen--
		case '?':
			if withParameters {
				flush(i)
				result.offsets = append(result.offsets, query.Offset{Sub: len(result.statements), Local: localIdx})
				localIdx++
				fragStart = i + 1
			}
		case ';':
			if inParen == 0 {
				closeStatement(i)
				fragStart = i + 1
			}
		}

		i++
	}

	closeStatement(n)
	return result
}

// skipSingleQuoted consumes a '...' literal starting at the opening
// quote, honouring backslash escapes only when standard-conforming
// strings is off, and '' doubling always. Returns the index just past
// the closing quote (or n if unterminated).
func skipSingleQuoted(sql string, i int, scs bool) int {
	n := len(sql)
	j := i + 1
	for j < n {
		switch sql[j] {
		case '\\':
			if !scs {
				j += 2
				continue
			}
			j++
		case '\'':
			if j+1 < n && sql[j+1] == '\'' {
				j += 2
				continue
			}
			return j + 1
		default:
			j++
		}
	}

	return n
}

// skipDoubleQuoted consumes a "..." identifier, where only "" doubling is
// internal (no backslash escapes).
func skipDoubleQuoted(sql string, i int) int {
	n := len(sql)
	j := i + 1
	for j < n {
		if sql[j] == '"' {
			if j+1 < n && sql[j+1] == '"' {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}

	return n
}

// skipLineComment consumes a -- comment up to (not including) the next
// newline, or end of input.
func skipLineComment(sql string, i int) int {
	n := len(sql)
	j := i + 2
	for j < n && sql[j] != '\n' {
		j++
	}

	return j
}

// skipBlockComment consumes a /* ... */ comment. Nesting is not
// supported, matching §4.1.
func skipBlockComment(sql string, i int) int {
	n := len(sql)
	if idx := strings.Index(sql[i+2:], "*/"); idx != -1 {
		return i + 2 + idx + 2
	}

	return n
}

// matchDollarTag reports whether sql[i:] opens a $tag$ dollar-quote,
// returning the full delimiter (including both '$' signs).
func matchDollarTag(sql string, i int) (string, bool) {
	n := len(sql)
	j := i + 1
	for j < n && isTagByte(sql[j]) {
		j++
	}

	if j < n && sql[j] == '$' {
		return sql[i : j+1], true
	}

	return "", false
}

func isTagByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_':
		return true
	default:
		return false
	}
}

// skipDollarQuoted consumes the body of a dollar-quoted string up to and
// including the matching closing tag.
func skipDollarQuoted(sql string, i int, tag string) int {
	n := len(sql)
	start := i + len(tag)
	if idx := strings.Index(sql[start:], tag); idx != -1 {
		return start + idx + len(tag)
	}

	return n
}

// --- parse cache (spec §4.11) ---

type cacheKey struct {
	hash       uint64
	withParams bool
	scs        bool
}

const maxCacheEntries = 256

var (
	cacheMu sync.Mutex
	cache   = make(map[cacheKey]scanResult)
)

func cacheLookup(sql string, withParameters, scs bool) (scanResult, bool) {
	key := cacheKey{hash: xxhash.Sum64String(sql), withParams: withParameters, scs: scs}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	r, ok := cache[key]
	return r, ok
}

func cacheStore(sql string, withParameters, scs bool, r scanResult) {
	key := cacheKey{hash: xxhash.Sum64String(sql), withParams: withParameters, scs: scs}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if len(cache) >= maxCacheEntries {
		// Bounded, not LRU: evict an arbitrary entry. Go map iteration
		// order is randomised per run, which is good enough to avoid a
		// pathological single hot key starving the rest.
		for k := range cache {
			delete(cache, k)
			break
		}
	}

	cache[key] = r
}
