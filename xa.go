package oceanbase

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

// XA flags.
const (
	TMNOFLAGS    = 0x00000000
	TMJOIN       = 0x00200000
	TMENDRSCAN   = 0x00800000
	TMSTARTRSCAN = 0x01000000
	TMSUSPEND    = 0x02000000
	TMSUCCESS    = 0x04000000
	TMRESUME     = 0x08000000
	TMFAIL       = 0x20000000
	TMONEPHASE   = 0x40000000
)

// XA return and error codes.
const (
	XA_OK         = 0
	XA_RDONLY     = 3
	XA_RBROLLBACK = 100
	XAER_ASYNC    = -2
	XAER_RMERR    = -3
	XAER_NOTA     = -4
	XAER_INVAL    = -5
	XAER_PROTO    = -6
	XAER_RMFAIL   = -7
	XAER_DUPID    = -8
	XAER_OUTSIDE  = -9
)

const _ER_XA_RBROLLBACK = 1402

const _MAX_XID_PART = 64

// Xid identifies a transaction branch.
type Xid struct {
	FormatID            int32
	GlobalTransactionID []byte
	BranchQualifier     []byte
}

func (x Xid) key() string {
	return fmt.Sprintf("%d:%x:%x", x.FormatID, x.GlobalTransactionID, x.BranchQualifier)
}

func (x Xid) String() string {
	return fmt.Sprintf("Xid{%d, %x, %x}", x.FormatID, x.GlobalTransactionID, x.BranchQualifier)
}

func (x Xid) check() error {
	if len(x.GlobalTransactionID) == 0 || len(x.GlobalTransactionID) > _MAX_XID_PART ||
		len(x.BranchQualifier) > _MAX_XID_PART {
		return newXAError(XAER_INVAL, nil)
	}
	return nil
}

// mysqlString renders x for the XA statements of MySQL mode.
func (x Xid) mysqlString() string {
	return fmt.Sprintf("X'%s',X'%s',%d",
		hex.EncodeToString(x.GlobalTransactionID), hex.EncodeToString(x.BranchQualifier), x.FormatID)
}

// oracleString renders x as a DBMS_XA_XID constructor.
func (x Xid) oracleString() string {
	return fmt.Sprintf("DBMS_XA_XID(%d, HEXTORAW('%s'), HEXTORAW('%s'))",
		x.FormatID, hex.EncodeToString(x.GlobalTransactionID), hex.EncodeToString(x.BranchQualifier))
}

// XAError is an XA failure with its XA error code.
type XAError struct {
	Code int
	err  error
}

func newXAError(code int, err error) *XAError {
	return &XAError{Code: code, err: err}
}

func (e *XAError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("[oceanbase] XA error %s (%d): %v", xaCodeName(e.Code), e.Code, e.err)
	}
	return fmt.Sprintf("[oceanbase] XA error %s (%d)", xaCodeName(e.Code), e.Code)
}

// Kind returns KindXA.
func (e *XAError) Kind() Kind {
	return KindXA
}

func (e *XAError) Unwrap() error {
	return e.err
}

func xaCodeName(code int) string {
	switch code {
	case XA_RDONLY:
		return "XA_RDONLY"
	case XA_RBROLLBACK:
		return "XA_RBROLLBACK"
	case XAER_ASYNC:
		return "XAER_ASYNC"
	case XAER_RMERR:
		return "XAER_RMERR"
	case XAER_NOTA:
		return "XAER_NOTA"
	case XAER_INVAL:
		return "XAER_INVAL"
	case XAER_PROTO:
		return "XAER_PROTO"
	case XAER_RMFAIL:
		return "XAER_RMFAIL"
	case XAER_DUPID:
		return "XAER_DUPID"
	case XAER_OUTSIDE:
		return "XAER_OUTSIDE"
	}
	return "XA_UNKNOWN"
}

// IsXAError reports whether err carries the given XA code.
func IsXAError(err error, code int) bool {
	var e *XAError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// xaErrorFrom maps a server failure of an XA statement to an XAError.
func xaErrorFrom(err error) error {
	if err == nil {
		return nil
	}

	var xe *XAError
	if errors.As(err, &xe) {
		return err
	}

	var e *Error
	if !errors.As(err, &e) || e.kind != KindServer {
		return newXAError(XAER_RMFAIL, err)
	}

	switch e.code {
	case _ER_XAER_NOTA:
		return newXAError(XAER_NOTA, err)
	case _ER_XAER_INVAL:
		return newXAError(XAER_INVAL, err)
	case _ER_XAER_RMFAIL:
		return newXAError(XAER_RMFAIL, err)
	case _ER_XAER_OUTSIDE:
		return newXAError(XAER_OUTSIDE, err)
	case _ER_XAER_RMERR:
		return newXAError(XAER_RMERR, err)
	case _ER_XA_RBROLLBACK:
		return newXAError(XA_RBROLLBACK, err)
	case _ER_XAER_DUPID:
		return newXAError(XAER_DUPID, err)
	}
	return newXAError(XAER_RMERR, err)
}

type xaState int

const (
	xaActive xaState = iota + 1
	xaSuspended
	xaIdle // ended
	xaPrepared
)

// XAResource drives XA transaction branches over one connection. Flags and
// branch states are checked before anything is sent; the server stays the
// authority on the outcome.
type XAResource struct {
	c        *Conn
	branches map[string]xaState
	timeout  int
}

// XAResource returns the XA resource of the connection.
func (c *Conn) XAResource() *XAResource {
	if c.xa == nil {
		c.xa = &XAResource{c: c, branches: make(map[string]xaState)}
	}
	return c.xa
}

func (r *XAResource) state(xid Xid) (xaState, error) {
	if err := xid.check(); err != nil {
		return 0, err
	}
	st, ok := r.branches[xid.key()]
	if !ok {
		return 0, newXAError(XAER_NOTA, nil)
	}
	return st, nil
}

// Start starts work on behalf of the branch xid. flags is TMNOFLAGS for a
// new branch, TMJOIN to join an ended one or TMRESUME to resume a
// suspended one.
func (r *XAResource) Start(ctx context.Context, xid Xid, flags int) error {
	if flags != TMNOFLAGS && flags != TMJOIN && flags != TMRESUME {
		return newXAError(XAER_INVAL, nil)
	}
	if err := xid.check(); err != nil {
		return err
	}

	st, known := r.branches[xid.key()]
	switch {
	case flags == TMNOFLAGS && known:
		return newXAError(XAER_DUPID, nil)
	case flags != TMNOFLAGS && !known:
		return newXAError(XAER_NOTA, nil)
	case flags == TMRESUME && st != xaSuspended,
		flags == TMJOIN && st != xaIdle:
		return newXAError(XAER_PROTO, nil)
	}

	var err error
	if r.c.oracleMode {
		if r.timeout > 0 {
			if err = r.callOracle(ctx, fmt.Sprintf("DBMS_XA.XA_SETTIMEOUT(%d)", r.timeout)); err != nil {
				return err
			}
		}
		err = r.callOracle(ctx, fmt.Sprintf("DBMS_XA.XA_START(%s, %d)", xid.oracleString(), flags))
	} else {
		query := "XA START " + xid.mysqlString()
		switch flags {
		case TMJOIN:
			query += " JOIN"
		case TMRESUME:
			query += " RESUME"
		}
		err = r.execMySQL(ctx, query)
	}
	if err != nil {
		return err
	}

	r.branches[xid.key()] = xaActive
	logger.Debugf("connection %d: XA branch %s started", r.c.connectionId, xid)
	return nil
}

// End ends work on behalf of the branch xid. flags is TMSUCCESS, TMFAIL or
// TMSUSPEND.
func (r *XAResource) End(ctx context.Context, xid Xid, flags int) error {
	if flags != TMSUCCESS && flags != TMFAIL && flags != TMSUSPEND {
		return newXAError(XAER_PROTO, nil)
	}
	st, err := r.state(xid)
	if err != nil {
		return err
	}
	if st != xaActive && !(st == xaSuspended && flags != TMSUSPEND) {
		return newXAError(XAER_PROTO, nil)
	}

	if r.c.oracleMode {
		err = r.callOracle(ctx, fmt.Sprintf("DBMS_XA.XA_END(%s, %d)", xid.oracleString(), flags))
	} else {
		query := "XA END " + xid.mysqlString()
		if flags == TMSUSPEND {
			query += " SUSPEND"
		}
		err = r.execMySQL(ctx, query)
	}
	if err != nil {
		return err
	}

	if flags == TMSUSPEND {
		r.branches[xid.key()] = xaSuspended
	} else {
		r.branches[xid.key()] = xaIdle
	}
	return nil
}

// Prepare prepares the ended branch xid for commit. It returns XA_OK, or
// XA_RDONLY when the server reports a read only branch.
func (r *XAResource) Prepare(ctx context.Context, xid Xid) (int, error) {
	st, err := r.state(xid)
	if err != nil {
		return 0, err
	}
	if st != xaIdle {
		return 0, newXAError(XAER_PROTO, nil)
	}

	result := XA_OK
	if r.c.oracleMode {
		result, err = r.queryOracle(ctx, fmt.Sprintf("DBMS_XA.XA_PREPARE(%s)", xid.oracleString()))
		if err == nil && result != XA_OK && result != XA_RDONLY {
			err = newXAError(result, nil)
		}
	} else {
		err = r.execMySQL(ctx, "XA PREPARE "+xid.mysqlString())
	}
	if err != nil {
		return 0, err
	}

	if result == XA_RDONLY {
		delete(r.branches, xid.key())
	} else {
		r.branches[xid.key()] = xaPrepared
	}
	return result, nil
}

// Commit commits the branch xid: an ended branch in one phase, a prepared
// one otherwise. A prepared branch this resource does not know, such as one
// prepared on another connection or recovered elsewhere, is left to the
// server.
func (r *XAResource) Commit(ctx context.Context, xid Xid, onePhase bool) error {
	if err := xid.check(); err != nil {
		return err
	}
	st, known := r.branches[xid.key()]
	switch {
	case !known && onePhase:
		return newXAError(XAER_NOTA, nil)
	case known && onePhase && st != xaIdle,
		known && !onePhase && st != xaPrepared:
		return newXAError(XAER_PROTO, nil)
	}

	var err error

	if r.c.oracleMode {
		err = r.callOracle(ctx, fmt.Sprintf("DBMS_XA.XA_COMMIT(%s, %s)", xid.oracleString(), oracleBool(onePhase)))
	} else {
		query := "XA COMMIT " + xid.mysqlString()
		if onePhase {
			query += " ONE PHASE"
		}
		err = r.execMySQL(ctx, query)
	}
	if err != nil {
		if IsXAError(err, XAER_NOTA) {
			delete(r.branches, xid.key())
		}
		return err
	}

	delete(r.branches, xid.key())
	return nil
}

// Rollback rolls the branch xid back. Branches unknown to this resource are
// left to the server.
func (r *XAResource) Rollback(ctx context.Context, xid Xid) error {
	if err := xid.check(); err != nil {
		return err
	}
	if st, known := r.branches[xid.key()]; known && st == xaActive {
		return newXAError(XAER_PROTO, nil)
	}

	var err error
	if r.c.oracleMode {
		err = r.callOracle(ctx, fmt.Sprintf("DBMS_XA.XA_ROLLBACK(%s)", xid.oracleString()))
	} else {
		err = r.execMySQL(ctx, "XA ROLLBACK "+xid.mysqlString())
	}
	if err == nil || IsXAError(err, XAER_NOTA) {
		delete(r.branches, xid.key())
	}
	return err
}

// Forget drops a heuristically completed branch.
func (r *XAResource) Forget(ctx context.Context, xid Xid) error {
	if _, err := r.state(xid); err != nil {
		return err
	}

	if r.c.oracleMode {
		if err := r.callOracle(ctx, fmt.Sprintf("DBMS_XA.XA_FORGET(%s)", xid.oracleString())); err != nil {
			return err
		}
	}
	delete(r.branches, xid.key())
	return nil
}

// Recover returns the prepared branches of the server. flags is a
// combination of TMSTARTRSCAN and TMENDRSCAN, or TMNOFLAGS. The returned
// branches can be committed or rolled back through r.
func (r *XAResource) Recover(ctx context.Context, flags int) ([]Xid, error) {
	if flags&^(TMSTARTRSCAN|TMENDRSCAN) != 0 {
		return nil, newXAError(XAER_INVAL, nil)
	}
	if flags == TMENDRSCAN {
		return nil, nil
	}

	query := "XA RECOVER"
	if r.c.oracleMode {
		query = "SELECT FORMATID, GLOBALID, BRANCHID FROM SYS.DBA_PENDING_TRANSACTIONS"
	}

	results, err := r.c.execText(ctx, query, &readMode{})
	defer closeResults(results)
	if err != nil {
		return nil, xaErrorFrom(err)
	}

	rs := firstResultSet(results)
	if rs == nil {
		return nil, nil
	}

	var xids []Xid
	for {
		ok, err := rs.Next()
		if err != nil {
			return nil, xaErrorFrom(err)
		}
		if !ok {
			break
		}

		xid, err := r.scanRecovered(rs)
		if err != nil {
			return nil, newXAError(XAER_RMERR, err)
		}
		xids = append(xids, xid)
		if _, known := r.branches[xid.key()]; !known {
			r.branches[xid.key()] = xaPrepared
		}
	}
	return xids, nil
}

// scanRecovered reads a row of XA RECOVER (formatID, gtrid_length,
// bqual_length, data) or of the pending transactions view.
func (r *XAResource) scanRecovered(rs *ResultSet) (Xid, error) {
	format, err := rs.GetInt64(1)
	if err != nil {
		return Xid{}, err
	}

	if r.c.oracleMode {
		gtrid, err := rs.GetBytes(2)
		if err != nil {
			return Xid{}, err
		}
		bqual, err := rs.GetBytes(3)
		if err != nil {
			return Xid{}, err
		}
		return Xid{FormatID: int32(format), GlobalTransactionID: gtrid, BranchQualifier: bqual}, nil
	}

	glen, err := rs.GetInt(2)
	if err != nil {
		return Xid{}, err
	}
	blen, err := rs.GetInt(3)
	if err != nil {
		return Xid{}, err
	}
	data, err := rs.GetBytes(4)
	if err != nil {
		return Xid{}, err
	}
	if glen < 0 || blen < 0 || glen+blen > len(data) {
		return Xid{}, myError(ErrInvalidPacket)
	}
	return Xid{
		FormatID:            int32(format),
		GlobalTransactionID: copyBytes(data[:glen]),
		BranchQualifier:     copyBytes(data[glen : glen+blen]),
	}, nil
}

// SetTransactionTimeout sets the timeout in seconds of the branches started
// next. Only Oracle mode supports it; MySQL mode reports false.
func (r *XAResource) SetTransactionTimeout(seconds int) (bool, error) {
	if seconds < 0 {
		return false, newXAError(XAER_INVAL, nil)
	}
	if !r.c.oracleMode {
		return false, nil
	}
	r.timeout = seconds
	return true, nil
}

// TransactionTimeout returns the timeout set by SetTransactionTimeout.
func (r *XAResource) TransactionTimeout() int {
	return r.timeout
}

// IsSameRM reports whether other reaches the same resource manager.
func (r *XAResource) IsSameRM(other *XAResource) bool {
	if other == nil {
		return false
	}
	if r.c == other.c {
		return true
	}
	return strings.EqualFold(r.c.host.String(), other.c.host.String()) &&
		r.c.opts.User == other.c.opts.User && r.c.oracleMode == other.c.oracleMode
}

func (r *XAResource) execMySQL(ctx context.Context, query string) error {
	return xaErrorFrom(r.c.execSimple(ctx, query))
}

// callOracle runs a DBMS_XA function whose result must be XA_OK.
func (r *XAResource) callOracle(ctx context.Context, call string) error {
	result, err := r.queryOracle(ctx, call)
	if err != nil {
		return err
	}
	if result != XA_OK {
		return newXAError(result, nil)
	}
	return nil
}

func (r *XAResource) queryOracle(ctx context.Context, call string) (int, error) {
	results, err := r.c.execText(ctx, "SELECT "+call+" FROM DUAL", &readMode{})
	defer closeResults(results)
	if err != nil {
		return 0, xaErrorFrom(err)
	}

	rs := firstResultSet(results)
	if rs == nil {
		return 0, newXAError(XAER_RMERR, myError(ErrQueryReturnedNoResultSet))
	}
	ok, err := rs.Next()
	if err != nil || !ok {
		return 0, newXAError(XAER_RMERR, err)
	}
	result, err := rs.GetInt(1)
	if err != nil {
		return 0, newXAError(XAER_RMERR, err)
	}
	return result, nil
}

func oracleBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
