package oceanbase

import (
	"strings"
)

// sqlKind is the shape of a statement, from its leading keyword.
type sqlKind int

const (
	sqlOther  sqlKind = iota
	sqlQuery          // SELECT, WITH, SHOW, ...
	sqlInsert         // INSERT, REPLACE
	sqlUpdate
	sqlDelete
	sqlMerge
	sqlCall
	sqlBlock // anonymous PL block
)

// returnsRows reports whether statements of kind k produce a result set.
func (k sqlKind) returnsRows() bool {
	return k == sqlQuery
}

// isDML reports whether statements of kind k produce an update count only.
func (k sqlKind) isDML() bool {
	switch k {
	case sqlInsert, sqlUpdate, sqlDelete, sqlMerge:
		return true
	}
	return false
}

// parsedSQL is the lexical structure of a statement the driver needs:
// placeholders, the VALUES tuple of an INSERT and the RETURNING INTO clause.
type parsedSQL struct {
	query string
	kind  sqlKind

	// byte offsets of the '?' placeholders
	params []int

	// the "(...)" tuple after VALUES of a single row INSERT that can be
	// repeated for batch rewriting; valuesStart is -1 otherwise
	valuesStart int
	valuesEnd   int

	// placeholders bound to the RETURNING ... INTO clause; they are the
	// last ones of params
	returning int

	// more than one statement
	multi bool
}

type sqlToken struct {
	typ   byte // 'w' word, '?' placeholder, or the punctuation byte
	start int
	end   int
	depth int // parenthesis depth
}

func (t sqlToken) is(query, word string) bool {
	return t.typ == 'w' && strings.EqualFold(query[t.start:t.end], word)
}

// scanSQL splits query into words, placeholders and punctuation; quoted
// strings, quoted identifiers and comments are skipped. With backslash,
// backslash escapes inside strings are honored.
func scanSQL(query string, backslash bool) []sqlToken {
	var (
		tokens []sqlToken
		depth  int
	)

	skipQuoted := func(i int, quote byte) int {
		for i++; i < len(query); i++ {
			switch ch := query[i]; {
			case ch == '\\' && backslash && quote != '`':
				i++
			case ch == quote:
				if i+1 < len(query) && query[i+1] == quote {
					i++
					continue
				}
				return i + 1
			}
		}
		return len(query)
	}

	for i := 0; i < len(query); {
		ch := query[i]

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			i = skipQuoted(i, ch)

		case ch == '-' && strings.HasPrefix(query[i:], "--") &&
			(!backslash || i+2 == len(query) || isSpace(query[i+2])):
			i = skipLine(query, i)

		case ch == '#' && backslash:
			i = skipLine(query, i)

		case ch == '/' && strings.HasPrefix(query[i:], "/*"):
			if end := strings.Index(query[i+2:], "*/"); end >= 0 {
				i += end + 4
			} else {
				i = len(query)
			}

		case isWordByte(ch):
			start := i
			for i < len(query) && isWordByte(query[i]) {
				i++
			}
			tokens = append(tokens, sqlToken{typ: 'w', start: start, end: i, depth: depth})

		case isSpace(ch):
			i++

		default:
			if ch == ')' && depth > 0 {
				depth--
			}
			tokens = append(tokens, sqlToken{typ: ch, start: i, end: i + 1, depth: depth})
			if ch == '(' {
				depth++
			}
			i++
		}
	}
	return tokens
}

func skipLine(query string, i int) int {
	if end := strings.IndexByte(query[i:], '\n'); end >= 0 {
		return i + end + 1
	}
	return len(query)
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isWordByte(ch byte) bool {
	return ch == '_' || ch == '$' || ch >= 0x80 ||
		('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9')
}

// parseSQL analyzes query. In Oracle mode backslashes are ordinary
// characters and '#' does not start a comment.
func parseSQL(query string, oracleMode bool) *parsedSQL {
	p := &parsedSQL{query: query, valuesStart: -1}

	tokens := scanSQL(query, !oracleMode)
	if len(tokens) == 0 {
		return p
	}

	p.kind = leadingKind(query, tokens)

	for i, t := range tokens {
		switch t.typ {
		case '?':
			p.params = append(p.params, t.start)
		case ';':
			if p.kind != sqlBlock && i+1 < len(tokens) {
				p.multi = true
			}
		}
	}

	switch p.kind {
	case sqlInsert:
		p.findValues(tokens)
		p.findReturning(tokens)
	case sqlUpdate, sqlDelete, sqlMerge:
		p.findReturning(tokens)
	}
	return p
}

func leadingKind(query string, tokens []sqlToken) sqlKind {
	first := tokens[0]
	if first.typ == '(' {
		return sqlQuery
	}
	if first.typ == '{' {
		return sqlCall
	}
	if first.typ != 'w' {
		return sqlOther
	}

	switch strings.ToUpper(query[first.start:first.end]) {
	case "SELECT", "WITH", "SHOW", "DESC", "DESCRIBE", "EXPLAIN", "VALUES", "TABLE":
		return sqlQuery
	case "INSERT", "REPLACE":
		return sqlInsert
	case "UPDATE":
		return sqlUpdate
	case "DELETE":
		return sqlDelete
	case "MERGE":
		return sqlMerge
	case "CALL":
		return sqlCall
	case "BEGIN", "DECLARE":
		// BEGIN alone starts a transaction in MySQL mode
		if len(tokens) > 1 && tokens[1].typ != ';' {
			return sqlBlock
		}
	}
	return sqlOther
}

// findValues locates the VALUES tuple of a single row INSERT whose other
// parts hold no placeholder.
func (p *parsedSQL) findValues(tokens []sqlToken) {
	for i, t := range tokens {
		if t.depth != 0 || t.typ != 'w' {
			continue
		}
		if t.is(p.query, "SELECT") {
			return
		}
		if !t.is(p.query, "VALUES") && !t.is(p.query, "VALUE") {
			continue
		}

		if i+1 >= len(tokens) || tokens[i+1].typ != '(' {
			return
		}
		open := i + 1

		close := -1
		for j := open + 1; j < len(tokens); j++ {
			if tokens[j].typ == ')' && tokens[j].depth == 0 {
				close = j
				break
			}
		}
		if close < 0 {
			return
		}

		// the rest: nothing, a trailing ';' or ON DUPLICATE KEY UPDATE
		// without placeholders
		for _, r := range tokens[close+1:] {
			switch {
			case r.typ == ',' && r.depth == 0:
				return
			case r.typ == '?':
				return
			case r.is(p.query, "RETURNING"):
				return
			}
		}
		for _, r := range tokens[:open] {
			if r.typ == '?' {
				return
			}
		}

		p.valuesStart = tokens[open].start
		p.valuesEnd = tokens[close].end
		return
	}
}

// findReturning counts the placeholders of a RETURNING ... INTO clause.
func (p *parsedSQL) findReturning(tokens []sqlToken) {
	for i, t := range tokens {
		if t.depth != 0 || !t.is(p.query, "RETURNING") {
			continue
		}
		for j := i + 1; j < len(tokens); j++ {
			if tokens[j].depth != 0 || !tokens[j].is(p.query, "INTO") {
				continue
			}
			for _, r := range tokens[j+1:] {
				if r.typ == '?' {
					p.returning++
				}
			}
			return
		}
		return
	}
}

// rewritable reports whether rows can be coalesced into one multi-value
// INSERT.
func (p *parsedSQL) rewritable() bool {
	return p.valuesStart >= 0 && p.returning == 0 && !p.multi
}
