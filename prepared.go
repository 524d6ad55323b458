package oceanbase

import (
	"context"
	"math/big"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// PreparedStatement executes a statement with '?' placeholders. The values
// are substituted as literals on the client, or the statement is prepared
// on the server with useServerPrepStmts, or prepared and executed in one
// round trip with useOraclePrepareExecute.
type PreparedStatement struct {
	stmtCore

	query  string
	parsed *parsedSQL

	server bool // prepared on the server
	pe     bool // COM_STMT_PREPARE_EXECUTE
	ss     *serverStmt

	args []interface{}
	set  []bool

	// leading parameter indexes with no placeholder (the value of a
	// function called with SELECT)
	shift int

	batch [][]interface{}

	returnTypes map[int]SQLType
	returnRS    *ResultSet
}

// PrepareStatement prepares query. Statements with a RETURNING INTO clause
// are always prepared on the server.
func (c *Conn) PrepareStatement(ctx context.Context, query string) (*PreparedStatement, error) {
	ps := &PreparedStatement{}
	if err := ps.init(ctx, c, translateEscapes(query, c.oracleMode), false); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PreparedStatement) init(ctx context.Context, c *Conn, query string, server bool) error {
	if err := c.checkUsable(); err != nil {
		return err
	}

	ps.stmtCore = c.newStmtCore()
	ps.query = query
	ps.parsed = parseSQL(query, c.oracleMode)
	ps.server = server || c.opts.serverPrepared() || ps.parsed.returning > 0
	ps.pe = c.opts.UseOraclePrepareExecute

	if ps.server && !ps.pe {
		ss, err := ps.prepareServer(ctx, query)
		if err != nil {
			return err
		}
		ps.ss = ss
	}

	n := ps.ParameterCount()
	ps.args = make([]interface{}, n)
	ps.set = make([]bool, n)

	c.register(&ps.stmtCore)
	return nil
}

// prepareServer returns the server statement for query, from the cache
// when it holds a valid one.
func (ps *PreparedStatement) prepareServer(ctx context.Context, query string) (*serverStmt, error) {
	c := ps.c

	if s := c.psCache.acquire(query); s != nil {
		if ps.checksumValid(s) {
			return s, nil
		}
		ps.dropServerStmt(s)
	}

	stop := c.watchDeadline(ctx)
	defer stop()

	s, err := c.handleStmtPrepare(query)
	if err != nil {
		return nil, err
	}
	c.psCache.add(s)

	logger.Debugf("connection %d: prepared statement %d: %s", c.connectionId, s.id, query)
	return s, nil
}

// checksumValid reports whether the metadata of s still matches the
// checksum taken when it was prepared; always true with
// useServerPsStmtChecksum=false.
func (ps *PreparedStatement) checksumValid(s *serverStmt) bool {
	if !ps.c.opts.UseServerPsStmtChecksum {
		return true
	}
	if sum := s.computeChecksum(); sum != s.checksum {
		logger.Warnf("connection %d: statement %d checksum mismatch (expected %d, computed %d), preparing again",
			ps.c.connectionId, s.id, s.checksum, sum)
		return false
	}
	return true
}

// dropServerStmt invalidates a statement taken from the cache and drops
// the reference to it.
func (ps *PreparedStatement) dropServerStmt(s *serverStmt) {
	ps.c.psCache.invalidate(s)
	ps.c.psCache.release(s)
	if ps.ss == s {
		ps.ss = nil
	}
}

// Query returns the SQL text of the statement.
func (ps *PreparedStatement) Query() string {
	return ps.query
}

// ParameterCount returns the number of placeholders.
func (ps *PreparedStatement) ParameterCount() int {
	if ps.ss != nil {
		return ps.ss.paramCount
	}
	return len(ps.parsed.params)
}

// ServerPrepared reports whether the statement runs through the binary
// protocol.
func (ps *PreparedStatement) ServerPrepared() bool {
	return ps.server
}

func (ps *PreparedStatement) bind(i int, v interface{}) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	j := i - ps.shift
	if j < 1 || j > len(ps.args) {
		return myError(ErrParamIndex, i, len(ps.args)+ps.shift)
	}
	ps.args[j-1] = v
	ps.set[j-1] = true
	return nil
}

// SetNull binds NULL of type typ to placeholder i (1-based).
func (ps *PreparedStatement) SetNull(i int, typ SQLType) error {
	return ps.bind(i, typedNull{sqlType: typ})
}

// SetBool binds a boolean.
func (ps *PreparedStatement) SetBool(i int, v bool) error {
	return ps.bind(i, v)
}

// SetInt binds an int.
func (ps *PreparedStatement) SetInt(i int, v int) error {
	return ps.bind(i, int64(v))
}

// SetInt64 binds an int64.
func (ps *PreparedStatement) SetInt64(i int, v int64) error {
	return ps.bind(i, v)
}

// SetUint64 binds a uint64.
func (ps *PreparedStatement) SetUint64(i int, v uint64) error {
	return ps.bind(i, v)
}

// SetFloat32 binds a float32; NaN and the infinities are rejected.
func (ps *PreparedStatement) SetFloat32(i int, v float32) error {
	if err := checkFinite(float64(v)); err != nil {
		return err
	}
	return ps.bind(i, v)
}

// SetFloat64 binds a float64; NaN and the infinities are rejected.
func (ps *PreparedStatement) SetFloat64(i int, v float64) error {
	if err := checkFinite(v); err != nil {
		return err
	}
	return ps.bind(i, v)
}

// SetBigDecimal binds an exact decimal; nil binds NULL.
func (ps *PreparedStatement) SetBigDecimal(i int, v *big.Rat) error {
	if v == nil {
		return ps.SetNull(i, TypeDecimal)
	}
	return ps.bind(i, v)
}

// SetString binds a string encoded with characterEncoding.
func (ps *PreparedStatement) SetString(i int, v string) error {
	return ps.bind(i, v)
}

// SetNString binds a string encoded with nCharacterEncoding.
func (ps *PreparedStatement) SetNString(i int, v string) error {
	return ps.bind(i, NString(v))
}

// SetBytes binds bytes; nil binds NULL.
func (ps *PreparedStatement) SetBytes(i int, v []byte) error {
	if v == nil {
		return ps.SetNull(i, TypeVarBinary)
	}
	return ps.bind(i, v)
}

// SetTime binds a DATETIME/TIMESTAMP value.
func (ps *PreparedStatement) SetTime(i int, v time.Time) error {
	return ps.bind(i, v)
}

// SetDuration binds a TIME value.
func (ps *PreparedStatement) SetDuration(i int, v time.Duration) error {
	return ps.bind(i, v)
}

// SetTimestampTZ binds a TIMESTAMP WITH TIME ZONE value.
func (ps *PreparedStatement) SetTimestampTZ(i int, v TimestampTZ) error {
	return ps.bind(i, v)
}

// SetTimestampLTZ binds a TIMESTAMP WITH LOCAL TIME ZONE value.
func (ps *PreparedStatement) SetTimestampLTZ(i int, v TimestampLTZ) error {
	return ps.bind(i, v)
}

// SetBlob binds a Blob; nil binds NULL.
func (ps *PreparedStatement) SetBlob(i int, v *Blob) error {
	if v == nil {
		return ps.SetNull(i, TypeBlob)
	}
	return ps.bind(i, v)
}

// SetClob binds a Clob or an NClob; nil binds NULL.
func (ps *PreparedStatement) SetClob(i int, v *Clob) error {
	if v == nil {
		return ps.SetNull(i, TypeClob)
	}
	return ps.bind(i, v)
}

// SetObject binds v after the database/sql value conversions. NaN and the
// infinities are rejected.
func (ps *PreparedStatement) SetObject(i int, v interface{}) error {
	switch x := v.(type) {
	case float64:
		if err := checkFinite(x); err != nil {
			return err
		}
	case float32:
		if err := checkFinite(float64(x)); err != nil {
			return err
		}
	}

	dv, err := defaultParameterConverter.ConvertValue(v)
	if err != nil {
		return myError(ErrInvalidType, err)
	}
	return ps.bind(i, dv)
}

// ClearParameters unbinds every placeholder.
func (ps *PreparedStatement) ClearParameters() {
	for i := range ps.args {
		ps.args[i], ps.set[i] = nil, false
	}
	for i, typ := range ps.returnTypes {
		ps.args[i-1], ps.set[i-1] = typedNull{sqlType: typ}, true
	}
}

// checkParams fails on the first unbound placeholder.
func (ps *PreparedStatement) checkParams() error {
	for i, ok := range ps.set {
		if !ok {
			return myError(ErrParamNotSet, i+1+ps.shift)
		}
	}
	return nil
}

// RegisterReturnParameter declares placeholder i of the RETURNING INTO
// clause and the type of the value it receives.
func (ps *PreparedStatement) RegisterReturnParameter(i int, typ SQLType) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	n := len(ps.args)
	if i <= n-ps.parsed.returning || i > n {
		return myError(ErrParamIndex, i, n)
	}
	if ps.returnTypes == nil {
		ps.returnTypes = make(map[int]SQLType)
	}
	ps.returnTypes[i] = typ
	return ps.bind(i, typedNull{sqlType: typ})
}

// GetReturnResultSet returns the values of the RETURNING INTO clause of the
// last execution, one row per affected row.
func (ps *PreparedStatement) GetReturnResultSet() (*ResultSet, error) {
	if err := ps.checkOpen(); err != nil {
		return nil, err
	}
	if ps.parsed.returning == 0 || ps.returnRS == nil {
		return nil, myError(ErrQueryReturnedNoResultSet)
	}
	return ps.returnRS, nil
}

// run executes the statement with the bound values.
func (ps *PreparedStatement) run(ctx context.Context) error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	ps.clearResults()
	if ps.returnRS != nil {
		ps.returnRS.Close()
		ps.returnRS = nil
	}

	if err := ps.checkParams(); err != nil {
		return err
	}

	results, err := ps.execArgs(ctx, ps.args)
	if ps.parsed.returning > 0 {
		results = ps.takeReturnResultSet(results)
	}
	return ps.finishExec(results, err)
}

// takeReturnResultSet moves the result set of the RETURNING INTO clause,
// sent before the update count, out of results.
func (ps *PreparedStatement) takeReturnResultSet(results []*execResult) []*execResult {
	for i, r := range results {
		if r.rs != nil {
			ps.returnRS = r.rs
			return append(results[:i:i], results[i+1:]...)
		}
	}
	return results
}

// Execute runs the statement and reports whether its first result is a
// result set.
func (ps *PreparedStatement) Execute(ctx context.Context) (bool, error) {
	if err := ps.run(ctx); err != nil {
		return false, err
	}
	return ps.hasResultSet(), nil
}

// ExecuteQuery runs a query and returns its result set.
func (ps *PreparedStatement) ExecuteQuery(ctx context.Context) (*ResultSet, error) {
	if err := ps.checkOpen(); err != nil {
		return nil, err
	}
	if ps.parsed.kind.isDML() {
		return nil, myError(ErrQueryReturnedNoResultSet)
	}

	if err := ps.run(ctx); err != nil {
		return nil, err
	}
	rs := ps.ResultSet()
	if rs == nil {
		return nil, myError(ErrQueryReturnedNoResultSet)
	}
	return rs, nil
}

// ExecuteUpdate runs a DML or DDL statement and returns its update count.
func (ps *PreparedStatement) ExecuteUpdate(ctx context.Context) (int64, error) {
	if err := ps.checkOpen(); err != nil {
		return 0, err
	}
	if ps.parsed.kind.returnsRows() {
		return 0, myError(ErrUpdateReturnedResultSet)
	}

	if err := ps.run(ctx); err != nil {
		return 0, err
	}
	if ps.hasResultSet() {
		return 0, myError(ErrUpdateReturnedResultSet)
	}
	return max(ps.UpdateCount(), 0), nil
}

// AddBatch queues the bound values for ExecuteBatch.
func (ps *PreparedStatement) AddBatch() error {
	if err := ps.checkOpen(); err != nil {
		return err
	}
	if err := ps.checkParams(); err != nil {
		return err
	}
	ps.batch = append(ps.batch, append([]interface{}(nil), ps.args...))
	return nil
}

// ClearBatch empties the batch.
func (ps *PreparedStatement) ClearBatch() {
	ps.batch = nil
}

// ExecuteBatch runs the queued parameter sets and returns their update
// counts in order. The batch is emptied.
func (ps *PreparedStatement) ExecuteBatch(ctx context.Context) ([]int64, error) {
	if err := ps.checkOpen(); err != nil {
		return nil, err
	}
	if ps.parsed.returning > 0 {
		return nil, myError(ErrNotSupported, "batch execution of a statement with RETURNING INTO")
	}
	ps.clearResults()

	rows := ps.batch
	ps.batch = nil
	if len(rows) == 0 {
		return []int64{}, nil
	}

	b := &batchRun{s: &ps.stmtCore, counts: make([]int64, 0, len(rows))}
	return b.runPrepared(ctx, ps, rows)
}

// execArgs executes the statement once with args.
func (ps *PreparedStatement) execArgs(ctx context.Context, args []interface{}) ([]*execResult, error) {
	c := ps.c

	if !ps.server {
		bb := bytebufferpool.Get()
		defer bytebufferpool.Put(bb)

		var err error
		if bb.B, err = c.appendInterpolated(bb.B, ps.query, ps.parsed.params, 0, len(ps.query), args); err != nil {
			return nil, err
		}
		return c.execText(ctx, bb.String(), ps.readMode(false))
	}

	if ps.pe {
		return ps.execPrepareExecute(ctx, args)
	}

	if ps.ss == nil || !ps.checksumValid(ps.ss) {
		if ps.ss != nil {
			ps.dropServerStmt(ps.ss)
		}
		ss, err := ps.prepareServer(ctx, ps.query)
		if err != nil {
			return nil, err
		}
		ps.ss = ss
	}

	m := ps.readMode(true)
	if ps.useCursor() && ps.parsed.kind.returnsRows() {
		m.cursor, m.stream = true, false
	}
	return c.execServer(ctx, ps.ss, args, m)
}

// execServerQuery prepares query through the cache and executes it once.
func (ps *PreparedStatement) execServerQuery(ctx context.Context, query string, args []interface{}) ([]*execResult, error) {
	ss, err := ps.prepareServer(ctx, query)
	if err != nil {
		return nil, err
	}
	defer ps.c.psCache.release(ss)

	return ps.c.execServer(ctx, ss, args, &readMode{binary: true, timeout: ps.queryTimeout})
}

// execServer sends COM_STMT_EXECUTE and reads the results.
func (c *Conn) execServer(ctx context.Context, ss *serverStmt, args []interface{}, m *readMode) ([]*execResult, error) {
	if err := c.startCommand(ctx); err != nil {
		return nil, err
	}

	flags := uint8(_CURSOR_TYPE_NO_CURSOR)
	if m.cursor {
		flags = _CURSOR_TYPE_READ_ONLY
		m.stmtID = ss.id
	}

	b, err := c.createComStmtExecute(ss.id, flags, args)
	if err != nil {
		return nil, err
	}

	stop := c.watchCancel(ctx, m.timeout)
	defer stop()

	start := time.Now()
	defer metrics.ObserveCommand("execute", start)

	metrics.CommandsSent(commandName(_COM_STMT_EXECUTE))
	if err = c.writePacket(b); err != nil {
		return nil, err
	}

	results, err := c.readResults(m)
	stop()
	return results, c.interrupted(err)
}

// execPrepareExecute prepares and executes the statement in one round trip.
// The first execution sends the SQL text; the next ones reuse the server
// statement id.
func (ps *PreparedStatement) execPrepareExecute(ctx context.Context, args []interface{}) ([]*execResult, error) {
	c := ps.c

	if ps.ss != nil && !ps.checksumValid(ps.ss) {
		ps.dropServerStmt(ps.ss)
	}
	if ps.ss == nil {
		if s := c.psCache.acquire(ps.query); s != nil {
			if ps.checksumValid(s) {
				ps.ss = s
			} else {
				ps.dropServerStmt(s)
			}
		}
	}

	var (
		id       uint32
		checksum uint32
	)
	if ps.ss != nil {
		id = ps.ss.id
		if c.opts.UseServerPsStmtChecksum {
			checksum = uint32(ps.ss.checksum)
		}
	}

	if err := c.startCommand(ctx); err != nil {
		return nil, err
	}

	b, err := c.createComStmtPrepareExecute(id, ps.query, args, checksum)
	if err != nil {
		return nil, err
	}

	m := ps.readMode(true)
	m.stream = false

	stop := c.watchCancel(ctx, m.timeout)
	defer stop()

	start := time.Now()
	defer metrics.ObserveCommand("prepare_execute", start)

	metrics.CommandsSent(commandName(_COM_STMT_PREPARE_EXECUTE))
	if err = c.writePacket(b); err != nil {
		return nil, err
	}

	results, err := ps.readPrepareExecuteResponse(m)
	stop()
	return results, c.interrupted(err)
}

// readPrepareExecuteResponse reads the statement metadata, then either the
// rows of the result set followed by the results after it, or the results.
func (ps *PreparedStatement) readPrepareExecuteResponse(m *readMode) ([]*execResult, error) {
	c := ps.c

	b, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	switch b[0] {
	case _PACKET_OK:
	case _PACKET_ERR:
		return nil, c.parseErrPacket(b)
	default:
		return nil, c.markBroken(myError(ErrInvalidPacket))
	}

	ok, err := parseStmtPrepareExecuteOkPacket(b)
	if err != nil {
		return nil, c.markBroken(err)
	}

	params, err := c.readDefinitions(int(ok.paramCount))
	if err != nil {
		return nil, err
	}
	columns, err := c.readDefinitions(int(ok.columnCount))
	if err != nil {
		return nil, err
	}

	if ps.ss == nil || ps.ss.id != ok.id {
		if ps.ss != nil {
			ps.dropServerStmt(ps.ss)
		}
		s := &serverStmt{id: ok.id, query: ps.query, paramCount: int(ok.paramCount), params: params, columns: columns}
		s.checksum = s.computeChecksum()
		c.psCache.add(s)
		ps.ss = s
	}

	if !ok.hasResultSet {
		return c.readResults(m)
	}

	r, err := c.readResultSetRows(newResultSet(c, columns, m), m, true)
	if err != nil {
		return nil, err
	}
	results := []*execResult{r}
	if c.statusFlags&_SERVER_MORE_RESULTS_EXISTS != 0 {
		more, err := c.readResults(m)
		return append(results, more...), err
	}
	return results, nil
}

// Close closes the statement and releases its server statement.
func (ps *PreparedStatement) Close() error {
	if ps.closed {
		return nil
	}
	err := ps.closeLocal()
	if ps.returnRS != nil {
		ps.returnRS.Close()
		ps.returnRS = nil
	}
	if ps.ss != nil {
		ps.c.psCache.release(ps.ss)
		ps.ss = nil
	}
	return err
}
