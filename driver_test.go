package oceanbase

import (
	"context"
	"database/sql"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFakeDB(t *testing.T, srv *fakeServer, options ...string) *sql.DB {
	db, err := sql.Open("oceanbase", srv.url(options...))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDriverQuery(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	db := openFakeDB(t, srv)

	rows, err := db.QueryContext(ctx, "SELECT id, name FROM t")
	require.NoError(t, err)

	types, err := rows.ColumnTypes()
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "BIGINT", types[0].DatabaseTypeName())
	assert.Equal(t, reflect.TypeOf(int64(0)), types[0].ScanType())
	nullable, ok := types[1].Nullable()
	assert.True(t, ok)
	assert.True(t, nullable)

	var (
		ids   []int64
		names []string
	)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		require.NoError(t, rows.Scan(&id, &name))
		ids = append(ids, id)
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	assert.Equal(t, "name5", names[4])

	var name string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT id, name FROM t WHERE id > ? AND name <> ?", 3, "x").Scan(new(int64), &name))
	assert.Equal(t, "name1", name)

	assert.Equal(t, []string{
		"SELECT id, name FROM t",
		"SELECT id, name FROM t WHERE id > 3 AND name <> 'x'",
	}, srv.queries())
}

func TestDriverExec(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	db := openFakeDB(t, srv)

	res, err := db.ExecContext(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 1, "a")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.EqualValues(t, 10, id)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	res, err = db.ExecContext(ctx, "UPDATE t SET name = 'x'")
	require.NoError(t, err)
	n, err = res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = db.ExecContext(ctx, "DELETE FROM missing")
	assert.True(t, IsErrorCode(err, 1146))

	_, err = db.ExecContext(ctx, "DELETE FROM t WHERE id = :id", sql.Named("id", 1))
	assert.True(t, IsErrorCode(err, ErrNotSupported))

	// statements without a result set give empty rows
	rows, err := db.QueryContext(ctx, "UPDATE t SET name = 'y'")
	require.NoError(t, err)
	assert.False(t, rows.Next())
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	assert.Equal(t, []string{
		"INSERT INTO t (id, name) VALUES (1, 'a')",
		"UPDATE t SET name = 'x'",
		"DELETE FROM missing",
		"UPDATE t SET name = 'y'",
	}, srv.queries())
}

func TestDriverPreparedStatement(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	db := openFakeDB(t, srv, "useServerPrepStmts=true")

	stmt, err := db.PrepareContext(ctx, "SELECT id, name FROM t WHERE id > ?")
	require.NoError(t, err)
	defer stmt.Close()

	for i := 0; i < 2; i++ {
		var count int
		rows, err := stmt.QueryContext(ctx, 0)
		require.NoError(t, err)
		for rows.Next() {
			count++
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())
		assert.Equal(t, 5, count)
	}

	assert.Len(t, srv.commands(_COM_STMT_PREPARE), 1)
	assert.Equal(t, []uint32{1, 1}, executedIDs(srv))
}

func TestDriverMultipleResultSets(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	db := openFakeDB(t, srv, "allowMultiQueries=true")

	rows, err := db.QueryContext(ctx, "SELECT id, name FROM t;UPDATE t SET name = 'x';SELECT id, name FROM t")
	require.NoError(t, err)
	defer rows.Close()

	sets := 0
	for {
		count := 0
		for rows.Next() {
			count++
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, 5, count)
		sets++

		if !rows.NextResultSet() {
			break
		}
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 2, sets)
}

func TestDriverTransactions(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	db := openFakeDB(t, srv)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "UPDATE t SET name = 'x'")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelReadCommitted})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelLinearizable})
	assert.True(t, IsErrorCode(err, ErrNotSupported))

	assert.Equal(t, []string{
		"START TRANSACTION",
		"UPDATE t SET name = 'x'",
		"COMMIT",
		"START TRANSACTION READ ONLY",
		"ROLLBACK",
	}, srv.queries())
	assert.Contains(t, srv.commands(_COM_QUERY), "SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED")
}

func TestDriverOpenInvalidURL(t *testing.T) {
	_, err := Driver{}.OpenConnector("jdbc:mysql://localhost/test")
	assert.Error(t, err)

	db, err := sql.Open("oceanbase", "jdbc:oceanbase://127.0.0.1:1/test?user=root&connectTimeout=100")
	require.NoError(t, err)
	defer db.Close()
	assert.Error(t, db.Ping())
}
