package oceanbase

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// preparedHandler answers server prepared statements on the table t. A
// SELECT returns its five rows in binary rows, or through a cursor when
// the execution asks for one.
func preparedHandler() func(s *fakeSession, cmd byte, data []byte) bool {
	var (
		queries = make(map[uint32]string)
		cols    = []fakeColumn{idColumn, nameColumn}
		rows    = testRows(5)
		sent    int // rows fetched from the open cursor
	)

	return func(s *fakeSession, cmd byte, data []byte) bool {
		switch cmd {
		case _COM_STMT_PREPARE:
			q := string(data)
			var defs []fakeColumn
			if strings.HasPrefix(q, "SELECT") {
				defs = cols
			}
			queries[s.writePrepareOK(strings.Count(q, "?"), defs)] = q

		case _COM_STMT_EXECUTE:
			q := queries[stmtIDOf(string(data))]
			switch {
			case !strings.HasPrefix(q, "SELECT"):
				s.writeOK(1, 0)
			case data[4]&_CURSOR_TYPE_READ_ONLY != 0:
				sent = 0
				s.write(appendLenencInt(nil, uint64(len(cols))))
				s.writeColumns(cols, s.status|_SERVER_STATUS_CURSOR_EXISTS)
			default:
				s.writeBinaryResult(cols, rows, s.status)
			}

		case _COM_STMT_FETCH:
			n := int(binary.LittleEndian.Uint32(data[4:8]))
			end := min(sent+n, len(rows))
			s.writeBinaryRows(rows[sent:end])
			sent = end

			status := s.status | _SERVER_STATUS_CURSOR_EXISTS
			if sent == len(rows) {
				status |= _SERVER_STATUS_LAST_ROW_SENT
			}
			s.writeEOF(status)

		default:
			return false
		}
		return true
	}
}

// executedIDs returns the statement ids of the COM_STMT_EXECUTE packets
// received by srv.
func executedIDs(srv *fakeServer) []uint32 {
	var ids []uint32
	for _, data := range srv.commands(_COM_STMT_EXECUTE) {
		ids = append(ids, stmtIDOf(data))
	}
	return ids
}

func TestClientPreparedStatement(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	c := connectFake(t, srv)

	ps, err := c.PrepareStatement(ctx, "INSERT INTO t (id, name) VALUES (?, ?)")
	require.NoError(t, err)
	assert.False(t, ps.ServerPrepared())
	assert.Equal(t, 2, ps.ParameterCount())

	require.NoError(t, ps.SetInt64(1, 1))
	_, err = ps.ExecuteUpdate(ctx)
	assert.True(t, IsErrorCode(err, ErrParamNotSet))
	assert.True(t, IsErrorCode(ps.SetString(3, "x"), ErrParamIndex))

	require.NoError(t, ps.SetString(2, "it's"))
	n, err := ps.ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []int64{10}, ps.GeneratedKeys())

	require.NoError(t, ps.SetNull(2, TypeVarchar))
	_, err = ps.ExecuteUpdate(ctx)
	require.NoError(t, err)

	assert.Empty(t, srv.commands(_COM_STMT_PREPARE))
	assert.Equal(t, []string{
		"INSERT INTO t (id, name) VALUES (1, 'it''s')",
		"INSERT INTO t (id, name) VALUES (1, NULL)",
	}, srv.queries())

	require.NoError(t, ps.Close())
	_, err = ps.ExecuteUpdate(ctx)
	assert.True(t, IsErrorCode(err, ErrStatementClosed))
}

func TestServerPreparedStatement(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	c := connectFake(t, srv, "useServerPrepStmts=true")

	const query = "SELECT id, name FROM t WHERE id > ?"
	ps, err := c.PrepareStatement(ctx, query)
	require.NoError(t, err)
	assert.True(t, ps.ServerPrepared())
	assert.Equal(t, 1, ps.ParameterCount())

	require.NoError(t, ps.SetInt64(1, 0))
	rs, err := ps.ExecuteQuery(ctx)
	require.NoError(t, err)

	ok, err := rs.Next()
	require.NoError(t, err)
	require.True(t, ok)
	name, err := rs.GetString(2)
	require.NoError(t, err)
	assert.Equal(t, "name1", name)
	assert.Equal(t, []int64{2, 3, 4, 5}, readIDs(t, rs))
	require.NoError(t, ps.Close())

	// the second statement with the same text reuses the cached one
	ps, err = c.PrepareStatement(ctx, query)
	require.NoError(t, err)
	require.NoError(t, ps.SetInt64(1, 0))
	rs, err = ps.ExecuteQuery(ctx)
	require.NoError(t, err)
	assert.Len(t, readIDs(t, rs), 5)

	assert.Equal(t, []string{query}, srv.commands(_COM_STMT_PREPARE))
	assert.Equal(t, []uint32{1, 1}, executedIDs(srv))
	assert.Equal(t, 1, c.psCache.Len())
	assert.Empty(t, srv.commands(_COM_STMT_CLOSE))
}

func TestServerPreparedWithoutCache(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	c := connectFake(t, srv, "useServerPrepStmts=true", "cachePrepStmts=false")

	for i := 0; i < 2; i++ {
		ps, err := c.PrepareStatement(ctx, "UPDATE t SET name = ?")
		require.NoError(t, err)
		require.NoError(t, ps.SetString(1, "x"))
		_, err = ps.ExecuteUpdate(ctx)
		require.NoError(t, err)
		require.NoError(t, ps.Close())
	}
	require.NoError(t, c.Ping(ctx))

	assert.Len(t, srv.commands(_COM_STMT_PREPARE), 2)
	closes := srv.commands(_COM_STMT_CLOSE)
	require.Len(t, closes, 2)
	assert.EqualValues(t, 1, stmtIDOf(closes[0]))
	assert.EqualValues(t, 2, stmtIDOf(closes[1]))
}

func TestChecksumMismatchPreparesAgain(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	c := connectFake(t, srv, "useServerPrepStmts=true")

	ps, err := c.PrepareStatement(ctx, "UPDATE t SET name = ? WHERE id = ?")
	require.NoError(t, err)
	require.NoError(t, ps.SetString(1, "x"))
	require.NoError(t, ps.SetInt64(2, 1))

	_, err = ps.ExecuteUpdate(ctx)
	require.NoError(t, err)

	// metadata drift since the statement was prepared
	ps.ss.checksum = ^ps.ss.checksum

	n, err := ps.ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Len(t, srv.commands(_COM_STMT_PREPARE), 2)
	closes := srv.commands(_COM_STMT_CLOSE)
	require.Len(t, closes, 1)
	assert.EqualValues(t, 1, stmtIDOf(closes[0]))
	assert.Equal(t, []uint32{1, 2}, executedIDs(srv))
}

func TestChecksumCheckDisabled(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	c := connectFake(t, srv, "useServerPrepStmts=true", "useServerPsStmtChecksum=false")

	ps, err := c.PrepareStatement(ctx, "UPDATE t SET name = ?")
	require.NoError(t, err)
	require.NoError(t, ps.SetString(1, "x"))

	ps.ss.checksum = ^ps.ss.checksum
	_, err = ps.ExecuteUpdate(ctx)
	require.NoError(t, err)

	assert.Len(t, srv.commands(_COM_STMT_PREPARE), 1)
	assert.Empty(t, srv.commands(_COM_STMT_CLOSE))
}

func TestCursorFetch(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	c := connectFake(t, srv, "useServerPrepStmts=true", "useCursorFetch=true")

	ps, err := c.PrepareStatement(ctx, "SELECT id, name FROM t")
	require.NoError(t, err)
	require.NoError(t, ps.SetFetchSize(2))

	rs, err := ps.ExecuteQuery(ctx)
	require.NoError(t, err)
	assert.Empty(t, srv.commands(_COM_STMT_FETCH))

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, readIDs(t, rs))

	fetches := srv.commands(_COM_STMT_FETCH)
	require.Len(t, fetches, 3)
	for _, f := range fetches {
		assert.EqualValues(t, 1, stmtIDOf(f))
		assert.EqualValues(t, 2, binary.LittleEndian.Uint32([]byte(f[4:8])))
	}

	// closing mid-fetch resets the cursor
	rs, err = ps.ExecuteQuery(ctx)
	require.NoError(t, err)
	ok, err := rs.Next()
	require.NoError(t, err)
	require.True(t, ok)

	id, err := rs.GetInt64(1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	require.NoError(t, rs.Close())
	resets := srv.commands(_COM_STMT_RESET)
	require.Len(t, resets, 1)
	assert.EqualValues(t, 1, stmtIDOf(resets[0]))

	require.NoError(t, c.Ping(ctx))
	assert.Len(t, srv.commands(_COM_STMT_RESET), 1)
}

func TestCursorSupersededByNextCommand(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, preparedHandler())
	c := connectFake(t, srv, "useServerPrepStmts=true", "useCursorFetch=true")

	ps, err := c.PrepareStatement(ctx, "SELECT id, name FROM t")
	require.NoError(t, err)
	require.NoError(t, ps.SetFetchSize(2))

	rs, err := ps.ExecuteQuery(ctx)
	require.NoError(t, err)
	ok, err := rs.Next()
	require.NoError(t, err)
	require.True(t, ok)

	update, err := c.PrepareStatement(ctx, "UPDATE t SET name = 'x'")
	require.NoError(t, err)
	n, err := update.ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.True(t, rs.IsClosed())
	_, err = rs.Next()
	assert.True(t, IsErrorCode(err, ErrCursor))

	// the cursor is reset before the new statement is prepared
	var order []byte
	for _, cmd := range srv.sent() {
		switch cmd {
		case _COM_STMT_PREPARE, _COM_STMT_EXECUTE, _COM_STMT_FETCH, _COM_STMT_RESET, _COM_STMT_CLOSE:
			order = append(order, cmd)
		}
	}
	assert.Equal(t, []byte{
		_COM_STMT_PREPARE, _COM_STMT_EXECUTE, _COM_STMT_FETCH,
		_COM_STMT_RESET, _COM_STMT_PREPARE, _COM_STMT_EXECUTE,
	}, order)

	require.NoError(t, rs.Close())
	assert.Len(t, srv.commands(_COM_STMT_RESET), 1)
}

func TestRewrittenBatch(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	c := connectFake(t, srv, "rewriteBatchedStatements=true")

	ps, err := c.PrepareStatement(ctx, "INSERT INTO t (id, name) VALUES (?, ?)")
	require.NoError(t, err)

	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, ps.SetInt(1, i+1))
		require.NoError(t, ps.SetString(2, name))
		require.NoError(t, ps.AddBatch())
	}
	counts, err := ps.ExecuteBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{SuccessNoInfo, SuccessNoInfo, SuccessNoInfo}, counts)
	assert.Equal(t, []int64{10, 11, 12}, ps.GeneratedKeys())
	assert.Equal(t, []string{"INSERT INTO t (id, name) VALUES (1, 'a'),(2, 'b'),(3, 'c')"}, srv.queries())

	// the batch was emptied
	counts, err = ps.ExecuteBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestRewrittenBatchChunks(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	c := connectFake(t, srv, "rewriteBatchedStatements=true", "maxBatchTotalParamsNum=4")

	ps, err := c.PrepareStatement(ctx, "INSERT INTO t (id, name) VALUES (?, ?)")
	require.NoError(t, err)

	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, ps.SetInt(1, i+1))
		require.NoError(t, ps.SetString(2, name))
		require.NoError(t, ps.AddBatch())
	}
	counts, err := ps.ExecuteBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{SuccessNoInfo, SuccessNoInfo, 1}, counts)
	assert.Equal(t, []string{
		"INSERT INTO t (id, name) VALUES (1, 'a'),(2, 'b')",
		"INSERT INTO t (id, name) VALUES (3, 'c')",
	}, srv.queries())
}

func TestPreparedBatchStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, tableHandler)
	c := connectFake(t, srv)

	ps, err := c.PrepareStatement(ctx, "DELETE FROM ? WHERE id = 1")
	require.NoError(t, err)

	for _, table := range []string{"t", "missing", "t"} {
		require.NoError(t, ps.SetString(1, table))
		require.NoError(t, ps.AddBatch())
	}
	_, err = ps.ExecuteBatch(ctx)

	var be *BatchUpdateError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Index)
	assert.Equal(t, []int64{0, ExecuteFailed, ExecuteFailed}, be.UpdateCounts)
	assert.True(t, IsErrorCode(err, 1146))
	assert.Len(t, srv.queries(), 2)
}

// returningHandler answers an UPDATE ... RETURNING INTO with the ids of the
// updated rows, sent before the update count.
func returningHandler(s *fakeSession, cmd byte, data []byte) bool {
	if cmd != _COM_STMT_EXECUTE {
		return false
	}
	status := s.status | _SERVER_MORE_RESULTS_EXISTS
	s.write(appendLenencInt(nil, 1))
	s.writeColumns([]fakeColumn{idColumn}, s.status)
	s.writeBinaryRows([][]interface{}{{int64(2)}, {int64(3)}, {int64(4)}})
	s.writeEOF(status)
	s.writeOK(3, 0)
	return true
}

func TestReturningInto(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, returningHandler)
	c := connectFake(t, srv)

	ps, err := c.PrepareStatement(ctx, "UPDATE t SET name = ? WHERE id > 1 RETURNING id INTO ?")
	require.NoError(t, err)
	defer ps.Close()

	_, err = ps.GetReturnResultSet()
	assert.True(t, IsErrorCode(err, ErrQueryReturnedNoResultSet))
	assert.True(t, IsErrorCode(ps.RegisterReturnParameter(1, TypeBigInt), ErrParamIndex))

	require.NoError(t, ps.SetString(1, "x"))
	require.NoError(t, ps.RegisterReturnParameter(2, TypeBigInt))

	n, err := ps.ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	rs, err := ps.GetReturnResultSet()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, readIDs(t, rs))

	// statements with RETURNING INTO are always prepared on the server
	assert.Equal(t, []string{"UPDATE t SET name = ? WHERE id > 1 RETURNING id INTO ?"}, srv.commands(_COM_STMT_PREPARE))
	assert.Empty(t, srv.queries())
}

func TestReturningIntoBatchNotSupported(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, returningHandler)
	c := connectFake(t, srv)

	ps, err := c.PrepareStatement(ctx, "DELETE FROM t WHERE id = ? RETURNING name INTO ?")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.SetInt64(1, 1))
	require.NoError(t, ps.RegisterReturnParameter(2, TypeVarchar))
	require.NoError(t, ps.AddBatch())

	_, err = ps.ExecuteBatch(ctx)
	assert.True(t, IsErrorCode(err, ErrNotSupported))
	assert.Empty(t, srv.commands(_COM_STMT_EXECUTE))
}
