package oceanbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSQLKinds(t *testing.T) {
	cases := []struct {
		query string
		kind  sqlKind
	}{
		{"select 1", sqlQuery},
		{"  /* hint */ WITH t AS (SELECT 1) SELECT * FROM t", sqlQuery},
		{"(SELECT 1) UNION (SELECT 2)", sqlQuery},
		{"show tables", sqlQuery},
		{"INSERT INTO t VALUES (?)", sqlInsert},
		{"replace into t values (1)", sqlInsert},
		{"UPDATE t SET a = ?", sqlUpdate},
		{"delete from t", sqlDelete},
		{"MERGE INTO t USING s ON (t.id = s.id) WHEN MATCHED THEN UPDATE SET t.a = s.a", sqlMerge},
		{"CALL p(?)", sqlCall},
		{"{call p(?)}", sqlCall},
		{"BEGIN p(1); END;", sqlBlock},
		{"DECLARE x NUMBER; BEGIN NULL; END;", sqlBlock},
		{"BEGIN", sqlOther},
		{"BEGIN;", sqlOther},
		{"SET autocommit = 0", sqlOther},
		{"", sqlOther},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.kind, parseSQL(tc.query, false).kind, tc.query)
	}

	assert.True(t, sqlQuery.returnsRows())
	assert.False(t, sqlCall.returnsRows())
	assert.True(t, sqlMerge.isDML())
	assert.False(t, sqlQuery.isDML())
}

func TestParseSQLPlaceholders(t *testing.T) {
	q := "SELECT '?', \"?\", `?`, ? /* ? */, ? -- ?\n, ?"
	p := parseSQL(q, false)
	assert.Len(t, p.params, 3)
	for _, off := range p.params {
		assert.Equal(t, byte('?'), q[off])
	}

	// a backslash escapes the quote in MySQL mode only; in Oracle mode
	// the doubled quote keeps the string open
	q = `SELECT '\'', ?`
	assert.Len(t, parseSQL(q, false).params, 1)
	assert.Len(t, parseSQL(q, true).params, 0)

	// '#' starts a comment in MySQL mode only
	q = "SELECT ? # ?\n"
	assert.Len(t, parseSQL(q, false).params, 1)
	assert.Len(t, parseSQL(q, true).params, 2)

	// doubled quotes stay inside the string
	assert.Len(t, parseSQL("SELECT 'a''?', ?", true).params, 1)
}

func TestParseSQLMulti(t *testing.T) {
	assert.False(t, parseSQL("SELECT 1;", false).multi)
	assert.True(t, parseSQL("SELECT 1; SELECT 2", false).multi)
	assert.False(t, parseSQL("SELECT ';'", false).multi)
	assert.False(t, parseSQL("BEGIN x := 1; y := 2; END;", true).multi)
}

func TestParseSQLValues(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES (?, now())"
	p := parseSQL(q, false)
	require.True(t, p.rewritable())
	assert.Equal(t, "(?, now())", q[p.valuesStart:p.valuesEnd])

	q = "insert into t value (?, ?) on duplicate key update b = 1"
	p = parseSQL(q, false)
	require.True(t, p.rewritable())
	assert.Equal(t, "(?, ?)", q[p.valuesStart:p.valuesEnd])

	for _, q := range []string{
		"INSERT INTO t VALUES (?), (?)",
		"INSERT INTO t SELECT ? FROM dual",
		"INSERT INTO t VALUES (?) ON DUPLICATE KEY UPDATE a = ?",
		"INSERT INTO t (a) VALUES (?); SELECT 1",
		"UPDATE t SET a = ?",
	} {
		assert.False(t, parseSQL(q, false).rewritable(), q)
	}
}

func TestParseSQLReturning(t *testing.T) {
	p := parseSQL("INSERT INTO t (a) VALUES (?) RETURNING id, a INTO ?, ?", true)
	assert.Len(t, p.params, 3)
	assert.Equal(t, 2, p.returning)
	assert.False(t, p.rewritable())

	p = parseSQL("UPDATE t SET a = ? WHERE id = ? RETURNING a INTO ?", true)
	assert.Equal(t, 1, p.returning)

	p = parseSQL("SELECT returning, into FROM t WHERE a = ?", true)
	assert.Equal(t, 0, p.returning)
}

func TestParseCallEscape(t *testing.T) {
	e, ok := parseCallEscape(" { call p(?, ?) } ")
	require.True(t, ok)
	assert.False(t, e.returns)
	assert.Equal(t, "p(?, ?)", e.call)
	assert.Equal(t, "CALL p(?, ?)", e.sql(false))
	assert.Equal(t, "BEGIN p(?, ?); END;", e.sql(true))

	e, ok = parseCallEscape("{?= CALL f(?)}")
	require.True(t, ok)
	assert.True(t, e.returns)
	assert.Equal(t, "SELECT f(?)", e.sql(false))
	assert.Equal(t, "BEGIN ? := f(?); END;", e.sql(true))

	for _, q := range []string{"call p()", "{callp()}", "{? call f()}", "{call }", "{select 1}"} {
		_, ok := parseCallEscape(q)
		assert.False(t, ok, q)
	}

	assert.Equal(t, "SELECT 1", translateEscapes("SELECT 1", false))
	assert.Equal(t, "CALL p()", translateEscapes("{call p()}", false))
}
