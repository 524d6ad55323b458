/*
  The MIT License (MIT)

  Copyright (c) 2015 Nirbhay Choubey

  Permission is hereby granted, free of charge, to any person obtaining a copy
  of this software and associated documentation files (the "Software"), to deal
  in the Software without restriction, including without limitation the rights
  to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
  copies of the Software, and to permit persons to whom the Software is
  furnished to do so, subject to the following conditions:

  The above copyright notice and this permission notice shall be included in all
  copies or substantial portions of the Software.

  THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
  IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
  FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
  AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
  LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
  OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
  SOFTWARE.
*/

package oceanbase

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Batcher is implemented by statements that execute groups of commands.
type Batcher interface {
	ClearBatch()
	ExecuteBatch(ctx context.Context) ([]int64, error)
}

// OutParameterer is implemented by statements with output parameters.
type OutParameterer interface {
	RegisterOutParameter(i int, typ SQLType) error
	GetObject(i int) (interface{}, error)
}

// Returner is implemented by statements with a RETURNING INTO clause.
type Returner interface {
	RegisterReturnParameter(i int, typ SQLType) error
	GetReturnResultSet() (*ResultSet, error)
}

var (
	_ Batcher        = (*Statement)(nil)
	_ Batcher        = (*PreparedStatement)(nil)
	_ Returner       = (*PreparedStatement)(nil)
	_ OutParameterer = (*CallableStatement)(nil)
)

// errCanceledByCaller is the cause of a query canceled with Cancel.
var errCanceledByCaller = errors.New("canceled by the caller")

// stmtCore is the execution context shared by every statement kind: the
// settings of the next execution and the results of the last one.
type stmtCore struct {
	c *Conn

	fetchSize    int
	maxRows      int64
	queryTimeout time.Duration
	rsType       ResultSetType
	closed       bool

	results []*execResult
	cur     int

	// ResultSet of the OUT parameters of the last call
	outRS *ResultSet

	// keys generated by the last update or batch
	generatedKeys []int64
}

func (c *Conn) newStmtCore() stmtCore {
	return stmtCore{
		c:         c,
		fetchSize: c.opts.DefaultFetchSize,
		rsType:    TypeForwardOnly,
	}
}

func (s *stmtCore) checkOpen() error {
	if s.closed {
		return myError(ErrStatementClosed)
	}
	return s.c.checkUsable()
}

// effectiveMaxRows is the smaller of the statement and the connection caps,
// zero meaning no cap.
func (s *stmtCore) effectiveMaxRows() int64 {
	limit := int64(s.c.opts.MaxRows)
	if s.maxRows > 0 && (limit == 0 || s.maxRows < limit) {
		limit = s.maxRows
	}
	return limit
}

func (s *stmtCore) readMode(binary bool) *readMode {
	m := &readMode{
		binary:    binary,
		fetchSize: s.fetchSize,
		maxRows:   s.effectiveMaxRows(),
		rsType:    s.rsType,
		owner:     s,
		timeout:   s.queryTimeout,
	}
	m.stream = s.fetchSize > 0 && s.rsType == TypeForwardOnly
	return m
}

// useCursor reports whether rows are fetched through a server cursor.
func (s *stmtCore) useCursor() bool {
	return s.c.opts.UseCursorFetch && s.fetchSize > 0 && s.rsType == TypeForwardOnly
}

// clearResults closes the result sets of the last execution.
func (s *stmtCore) clearResults() {
	closeResults(s.results)
	if s.outRS != nil {
		s.outRS.Close()
	}
	s.results, s.cur, s.outRS = nil, 0, nil
	s.generatedKeys = nil
}

// setResults installs the results of an execution.
func (s *stmtCore) setResults(results []*execResult) {
	s.results, s.cur = nil, 0
	s.appendResults(results)
}

// appendResults adds results read after the end of a stream. The result set
// of OUT parameters is kept apart.
func (s *stmtCore) appendResults(results []*execResult) {
	for _, r := range results {
		if r.rs != nil && r.rs.outParams {
			s.outRS = r.rs
			continue
		}
		s.results = append(s.results, r)
	}
}

func (s *stmtCore) current() *execResult {
	if s.cur < len(s.results) {
		return s.results[s.cur]
	}
	return nil
}

// ResultSet returns the current result set, or nil when the current result
// is an update count or there are no more results.
func (s *stmtCore) ResultSet() *ResultSet {
	if r := s.current(); r != nil {
		return r.rs
	}
	return nil
}

// UpdateCount returns the current update count, or -1 when the current
// result is a result set or there are no more results.
func (s *stmtCore) UpdateCount() int64 {
	r := s.current()
	if r == nil || r.rs != nil {
		return -1
	}
	return r.affectedRows
}

// MoreResults closes the current result set and moves to the next result.
// It reports whether the next result is a result set.
func (s *stmtCore) MoreResults() (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	if r := s.current(); r != nil {
		if r.rs != nil {
			// a drained stream appends the results that follow it
			if err := r.rs.Close(); err != nil {
				return false, err
			}
		}
		s.cur++
	}
	return s.ResultSet() != nil, nil
}

// FetchSize returns the number of rows read per round trip, 0 for all.
func (s *stmtCore) FetchSize() int {
	return s.fetchSize
}

// SetFetchSize sets the number of rows read per round trip. A positive
// value streams forward only result sets; with useCursorFetch prepared
// statements fetch through a server cursor.
func (s *stmtCore) SetFetchSize(n int) error {
	if n < 0 {
		return myError(ErrInvalidPropertyValue, "fetchSize", n)
	}
	s.fetchSize = n
	return nil
}

// MaxRows returns the row cap of result sets, 0 for none.
func (s *stmtCore) MaxRows() int64 {
	return s.maxRows
}

// SetMaxRows caps the rows of result sets; rows past the cap are dropped.
func (s *stmtCore) SetMaxRows(n int64) error {
	if n < 0 {
		return myError(ErrInvalidPropertyValue, "maxRows", n)
	}
	s.maxRows = n
	return nil
}

// QueryTimeout returns the query timeout, 0 for none.
func (s *stmtCore) QueryTimeout() time.Duration {
	return s.queryTimeout
}

// SetQueryTimeout bounds each execution; a query still running when it
// elapses is killed and fails with ErrCanceled.
func (s *stmtCore) SetQueryTimeout(d time.Duration) error {
	if d < 0 {
		return myError(ErrInvalidPropertyValue, "queryTimeout", d)
	}
	s.queryTimeout = d
	return nil
}

// ResultSetType returns the type of the result sets produced.
func (s *stmtCore) ResultSetType() ResultSetType {
	return s.rsType
}

// SetResultSetType sets the type of the result sets produced next.
func (s *stmtCore) SetResultSetType(t ResultSetType) error {
	if t < TypeForwardOnly || t > TypeScrollSensitive {
		return myError(ErrInvalidPropertyValue, "resultSetType", int(t))
	}
	s.rsType = t
	return nil
}

// Cancel kills the query the statement is running. It may be called from
// another goroutine.
func (s *stmtCore) Cancel() {
	s.c.cancelQuery(errCanceledByCaller)
}

// GeneratedKeys returns the AUTO_INCREMENT values generated by the last
// update or batch.
func (s *stmtCore) GeneratedKeys() []int64 {
	return s.generatedKeys
}

// keysOf derives the AUTO_INCREMENT values of rows inserted by one command:
// the server reports the first one.
func keysOf(lastInsertId uint64, rows int64) []int64 {
	if lastInsertId == 0 || rows <= 0 {
		return nil
	}
	keys := make([]int64, rows)
	for i := range keys {
		keys[i] = int64(lastInsertId) + int64(i)
	}
	return keys
}

// collectKeys records the keys of the update counts of results.
func (s *stmtCore) collectKeys(results []*execResult) {
	for _, r := range results {
		if r.rs == nil {
			s.generatedKeys = append(s.generatedKeys, keysOf(r.lastInsertId, r.affectedRows)...)
		}
	}
}

// Connection returns the connection of the statement.
func (s *stmtCore) Connection() *Conn {
	return s.c
}

// IsClosed reports whether the statement was closed.
func (s *stmtCore) IsClosed() bool {
	return s.closed
}

// closeLocal closes the results and forgets the statement; nothing is sent.
func (s *stmtCore) closeLocal() error {
	if s.closed {
		return nil
	}
	s.clearResults()
	s.closed = true
	s.c.unregister(s)
	return nil
}

// finishExec installs the results of an execution and turns a partial
// failure into its error.
func (s *stmtCore) finishExec(results []*execResult, err error) error {
	s.setResults(results)
	if err != nil {
		return err
	}
	s.collectKeys(s.results)
	return nil
}

// hasResultSet reports whether the first result is a result set.
func (s *stmtCore) hasResultSet() bool {
	return s.ResultSet() != nil
}

// Statement executes SQL text.
type Statement struct {
	stmtCore
	batch []string
}

// CreateStatement returns a statement producing forward only result sets.
func (c *Conn) CreateStatement() (*Statement, error) {
	if err := c.checkUsable(); err != nil {
		return nil, err
	}
	s := &Statement{stmtCore: c.newStmtCore()}
	c.register(&s.stmtCore)
	return s, nil
}

func (s *Statement) exec(ctx context.Context, query string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.clearResults()

	query = translateEscapes(query, s.c.oracleMode)
	results, err := s.c.execText(ctx, query, s.readMode(false))
	return s.finishExec(results, err)
}

// Execute runs query and reports whether its first result is a result set.
func (s *Statement) Execute(ctx context.Context, query string) (bool, error) {
	if err := s.exec(ctx, query); err != nil {
		return false, err
	}
	return s.hasResultSet(), nil
}

// ExecuteQuery runs a query and returns its result set.
func (s *Statement) ExecuteQuery(ctx context.Context, query string) (*ResultSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if parseSQL(query, s.c.oracleMode).kind.isDML() {
		return nil, myError(ErrQueryReturnedNoResultSet)
	}

	if err := s.exec(ctx, query); err != nil {
		return nil, err
	}
	rs := s.ResultSet()
	if rs == nil {
		return nil, myError(ErrQueryReturnedNoResultSet)
	}
	return rs, nil
}

// ExecuteUpdate runs a DML or DDL statement and returns its update count.
func (s *Statement) ExecuteUpdate(ctx context.Context, query string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if parseSQL(query, s.c.oracleMode).kind.returnsRows() {
		return 0, myError(ErrUpdateReturnedResultSet)
	}

	if err := s.exec(ctx, query); err != nil {
		return 0, err
	}
	if s.hasResultSet() {
		return 0, myError(ErrUpdateReturnedResultSet)
	}
	return max(s.UpdateCount(), 0), nil
}

// AddBatch queues query for ExecuteBatch.
func (s *Statement) AddBatch(query string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.batch = append(s.batch, query)
	return nil
}

// ClearBatch empties the batch.
func (s *Statement) ClearBatch() {
	s.batch = nil
}

// ExecuteBatch runs the queued statements and returns their update counts
// in order. The batch is emptied.
func (s *Statement) ExecuteBatch(ctx context.Context) ([]int64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.clearResults()

	queries := s.batch
	s.batch = nil
	if len(queries) == 0 {
		return []int64{}, nil
	}

	for i, q := range queries {
		queries[i] = translateEscapes(q, s.c.oracleMode)
	}

	b := &batchRun{s: &s.stmtCore, counts: make([]int64, 0, len(queries))}
	return b.runStatements(ctx, queries)
}

// Close closes the statement and its result sets.
func (s *Statement) Close() error {
	return s.closeLocal()
}
