package oceanbase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testXid(branch string) Xid {
	return Xid{FormatID: 1, GlobalTransactionID: []byte("gtrid-1"), BranchQualifier: []byte(branch)}
}

func TestXidStrings(t *testing.T) {
	x := Xid{FormatID: 7, GlobalTransactionID: []byte{0xab, 0x01}, BranchQualifier: []byte{0x02}}
	assert.Equal(t, "X'ab01',X'02',7", x.mysqlString())
	assert.Equal(t, "DBMS_XA_XID(7, HEXTORAW('ab01'), HEXTORAW('02'))", x.oracleString())
	assert.Equal(t, "Xid{7, ab01, 02}", x.String())
}

func TestXAFlagValidation(t *testing.T) {
	ctx := context.Background()
	r := (&Conn{}).XAResource()
	x := testXid("b1")

	assert.True(t, IsXAError(r.Start(ctx, x, TMSUCCESS), XAER_INVAL))
	assert.True(t, IsXAError(r.Start(ctx, x, TMJOIN), XAER_NOTA))
	assert.True(t, IsXAError(r.Start(ctx, x, TMRESUME), XAER_NOTA))
	assert.True(t, IsXAError(r.End(ctx, x, TMJOIN), XAER_PROTO))
	assert.True(t, IsXAError(r.End(ctx, x, TMSUCCESS), XAER_NOTA))

	_, err := r.Prepare(ctx, x)
	assert.True(t, IsXAError(err, XAER_NOTA))
	assert.True(t, IsXAError(r.Commit(ctx, x, true), XAER_NOTA))

	_, err = r.Recover(ctx, TMJOIN)
	assert.True(t, IsXAError(err, XAER_INVAL))
	xids, err := r.Recover(ctx, TMENDRSCAN)
	require.NoError(t, err)
	assert.Empty(t, xids)
}

func TestXAInvalidXid(t *testing.T) {
	ctx := context.Background()
	r := (&Conn{}).XAResource()

	assert.True(t, IsXAError(r.Start(ctx, Xid{FormatID: 1}, TMNOFLAGS), XAER_INVAL))

	long := make([]byte, _MAX_XID_PART+1)
	assert.True(t, IsXAError(r.Start(ctx, Xid{GlobalTransactionID: []byte("g"), BranchQualifier: long}, TMNOFLAGS), XAER_INVAL))
}

func TestXAStateValidation(t *testing.T) {
	ctx := context.Background()
	r := (&Conn{}).XAResource()
	x := testXid("b1")

	r.branches[x.key()] = xaActive
	assert.True(t, IsXAError(r.Start(ctx, x, TMNOFLAGS), XAER_DUPID))
	assert.True(t, IsXAError(r.Start(ctx, x, TMRESUME), XAER_PROTO))
	assert.True(t, IsXAError(r.Rollback(ctx, x), XAER_PROTO))
	_, err := r.Prepare(ctx, x)
	assert.True(t, IsXAError(err, XAER_PROTO))

	r.branches[x.key()] = xaIdle
	assert.True(t, IsXAError(r.Commit(ctx, x, false), XAER_PROTO))
	assert.True(t, IsXAError(r.End(ctx, x, TMSUCCESS), XAER_PROTO))
}

func TestXAErrorMapping(t *testing.T) {
	cases := map[uint16]int{
		1397: XAER_NOTA,
		1398: XAER_INVAL,
		1399: XAER_RMFAIL,
		1400: XAER_OUTSIDE,
		1401: XAER_RMERR,
		1402: XA_RBROLLBACK,
		1440: XAER_DUPID,
		1064: XAER_RMERR,
	}
	for code, xa := range cases {
		err := xaErrorFrom(serverError(code, "XAE00", "xa"))
		assert.True(t, IsXAError(err, xa), "server error %d", code)
		assert.True(t, IsErrorCode(err, code))
		assert.Equal(t, KindXA, ErrorKind(err))
	}

	assert.True(t, IsXAError(xaErrorFrom(myError(ErrRead, nil)), XAER_RMFAIL))
	assert.NoError(t, xaErrorFrom(nil))
	assert.Contains(t, newXAError(XAER_PROTO, nil).Error(), "XAER_PROTO (-6)")
}

func TestXATransactionTimeout(t *testing.T) {
	r := (&Conn{}).XAResource()
	ok, err := r.SetTransactionTimeout(30)
	require.NoError(t, err)
	assert.False(t, ok)

	r.c.oracleMode = true
	ok, err = r.SetTransactionTimeout(30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30, r.TransactionTimeout())

	_, err = r.SetTransactionTimeout(-1)
	assert.True(t, IsXAError(err, XAER_INVAL))
}

func xaHandler(s *fakeSession, cmd byte, data []byte) bool {
	if cmd != _COM_QUERY {
		return false
	}

	q := string(data)
	switch {
	case q == "XA RECOVER":
		cols := []fakeColumn{
			{name: "formatID", typ: _TYPE_LONG},
			{name: "gtrid_length", typ: _TYPE_LONG},
			{name: "bqual_length", typ: _TYPE_LONG},
			{name: "data", typ: _TYPE_VARSTRING},
		}
		s.writeTextResult(cols, [][]interface{}{{1, 7, 2, "gtrid-1b9"}}, s.status)
	case strings.HasPrefix(q, "XA START") && strings.Contains(q, "X'6232'"):
		s.writeErr(1440, "XAE08", "XAER_DUPID: The XID already exists")
	case strings.Contains(q, "X'6233'"):
		s.writeErr(1397, "XAE04", "XAER_NOTA: Unknown XID")
	default:
		return false
	}
	return true
}

func TestXATwoPhaseCommit(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, xaHandler)
	c := connectFake(t, srv)
	r := c.XAResource()
	x := testXid("b1")

	require.NoError(t, r.Start(ctx, x, TMNOFLAGS))
	require.NoError(t, r.End(ctx, x, TMSUSPEND))
	require.NoError(t, r.Start(ctx, x, TMRESUME))
	require.NoError(t, r.End(ctx, x, TMSUCCESS))
	result, err := r.Prepare(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, XA_OK, result)
	require.NoError(t, r.Commit(ctx, x, false))
	assert.True(t, IsXAError(r.Commit(ctx, x, true), XAER_NOTA))

	require.NoError(t, r.Start(ctx, x, TMNOFLAGS))
	require.NoError(t, r.End(ctx, x, TMSUCCESS))
	require.NoError(t, r.Commit(ctx, x, true))

	const id = "X'67747269642d31',X'6231',1"
	assert.Equal(t, []string{
		"XA START " + id,
		"XA END " + id + " SUSPEND",
		"XA START " + id + " RESUME",
		"XA END " + id,
		"XA PREPARE " + id,
		"XA COMMIT " + id,
		"XA START " + id,
		"XA END " + id,
		"XA COMMIT " + id + " ONE PHASE",
	}, srv.queries())
}

func TestXARecover(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, xaHandler)
	c := connectFake(t, srv)
	r := c.XAResource()

	err := r.Start(ctx, testXid("b2"), TMNOFLAGS)
	assert.True(t, IsXAError(err, XAER_DUPID))
	assert.True(t, IsErrorCode(err, 1440))

	xids, err := r.Recover(ctx, TMSTARTRSCAN|TMENDRSCAN)
	require.NoError(t, err)
	require.Len(t, xids, 1)
	assert.Equal(t, testXid("b9"), xids[0])

	// recovered branches can be completed
	require.NoError(t, r.Rollback(ctx, xids[0]))
	assert.Equal(t, "XA ROLLBACK X'67747269642d31',X'6239',1", srv.queries()[2])

	other := connectFake(t, srv)
	assert.True(t, r.IsSameRM(other.XAResource()))
	assert.True(t, r.IsSameRM(r))
	assert.False(t, r.IsSameRM(nil))
}

func TestXACompleteBranchOfOtherResource(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, xaHandler)
	r1 := connectFake(t, srv).XAResource()
	r2 := connectFake(t, srv).XAResource()
	x := testXid("b1")

	require.NoError(t, r1.Start(ctx, x, TMNOFLAGS))
	require.NoError(t, r1.End(ctx, x, TMSUCCESS))
	_, err := r1.Prepare(ctx, x)
	require.NoError(t, err)

	require.True(t, r2.IsSameRM(r1))
	require.NoError(t, r2.Commit(ctx, x, false))

	// the server decides about branches neither resource knows
	unknown := testXid("b3")
	assert.True(t, IsXAError(r2.Commit(ctx, unknown, false), XAER_NOTA))
	err = r2.Rollback(ctx, unknown)
	assert.True(t, IsXAError(err, XAER_NOTA))
	assert.True(t, IsErrorCode(err, 1397))

	const id = "X'67747269642d31',X'6231',1"
	const unknownID = "X'67747269642d31',X'6233',1"
	assert.Equal(t, []string{
		"XA START " + id,
		"XA END " + id,
		"XA PREPARE " + id,
		"XA COMMIT " + id,
		"XA COMMIT " + unknownID,
		"XA ROLLBACK " + unknownID,
	}, srv.queries())
}
