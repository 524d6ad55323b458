package oceanbase

import (
	"strings"
	"time"

	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// ResultSetType is the scrollability of a result set.
type ResultSetType int

const (
	TypeForwardOnly ResultSetType = iota
	TypeScrollInsensitive
	TypeScrollSensitive
)

// readMode tells readResults how to read the results of a command.
type readMode struct {
	binary    bool          // binary protocol rows
	cursor    bool          // executed with a read only cursor
	stream    bool          // leave the rows of the first result set on the wire
	fetchSize int           // rows read per round trip when streaming
	maxRows   int64         // rows kept per result set, 0 for all
	rsType    ResultSetType // of the result sets
	owner     *stmtCore     // receives the results read after a stream ends
	stmtID    uint32        // server statement of a cursor
	timeout   time.Duration
}

// execResult is one result of a command: a result set or an update count.
type execResult struct {
	rs           *ResultSet
	affectedRows int64
	lastInsertId uint64
	warnings     uint16
	info         string
}

func closeResults(results []*execResult) {
	for _, r := range results {
		if r.rs != nil {
			r.rs.Close()
		}
	}
}

func firstResultSet(results []*execResult) *ResultSet {
	for _, r := range results {
		if r.rs != nil {
			return r.rs
		}
	}
	return nil
}

// readResults reads every result of the current command. With m.stream the
// rows of the first result set stay on the wire; the results after it are
// read once the stream ends.
func (c *Conn) readResults(m *readMode) ([]*execResult, error) {
	var results []*execResult

	for first := true; ; first = false {
		r, err := c.readResult(m, first)
		if err != nil {
			// results read so far are kept, the statement may expose them
			return results, err
		}
		results = append(results, r)

		if r.rs != nil && r.rs.pending {
			return results, nil
		}
		if c.statusFlags&_SERVER_MORE_RESULTS_EXISTS == 0 {
			return results, nil
		}
	}
}

// readResult reads one OK packet or one result set.
func (c *Conn) readResult(m *readMode, first bool) (*execResult, error) {
	b, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	switch b[0] {
	case _PACKET_OK:
		if err = c.parseOkPacket(b); err != nil {
			return nil, err
		}
		return c.okResult(), nil
	case _PACKET_ERR:
		return nil, c.parseErrPacket(b)
	case _PACKET_INFILE_REQ:
		return nil, c.handleInfileRequest(string(b[1:]))
	}

	count, _, n := getLenencInt(b)
	if n == 0 || n != len(b) {
		return nil, c.markBroken(myError(ErrInvalidPacket))
	}

	columns, err := c.readDefinitions(int(count))
	if err != nil {
		return nil, err
	}
	return c.readResultSetRows(newResultSet(c, columns, m), m, first)
}

// readResultSetRows reads the rows of rs whose column definitions were
// read, or leaves them on the wire for a stream or a cursor.
func (c *Conn) readResultSetRows(rs *ResultSet, m *readMode, first bool) (*execResult, error) {
	rs.outParams = c.statusFlags&_SERVER_PS_OUT_PARAMS != 0

	switch {
	case m.cursor && c.statusFlags&_SERVER_STATUS_CURSOR_EXISTS != 0:
		// rows are fetched with COM_STMT_FETCH; the next command resets it
		rs.cursor = true
		rs.pending = true
		c.active = rs

	case first && m.stream && !rs.outParams && rs.rsType == TypeForwardOnly:
		rs.pending = true
		c.active = rs

	default:
		if err := rs.readAll(); err != nil {
			return nil, err
		}
	}
	return &execResult{rs: rs}, nil
}

func (c *Conn) okResult() *execResult {
	return &execResult{
		affectedRows: int64(c.affectedRows),
		lastInsertId: c.lastInsertId,
		warnings:     c.warnings,
		info:         c.info,
	}
}

// ResultSet is the rows of a query. Rows are either buffered, read from
// the wire on demand (streaming) or fetched in chunks through a server
// cursor. A ResultSet must be used from one goroutine.
type ResultSet struct {
	c       *Conn
	stmt    *stmtCore
	columns []*columnDefinition
	labels  map[string]int

	binary    bool
	rsType    ResultSetType
	fetchSize int
	maxRows   int64

	// rows held by the client; for forward only sets this is the current
	// chunk, for scrollable sets all rows
	rows [][]interface{}
	cur  int // index in rows, -1 before the first

	rowNum    int64 // 1-based number of the current row (forward only)
	fetched   int64 // rows received, bounded by maxRows
	afterLast bool

	pending   bool // rows left on the wire or in the server cursor
	cursor    bool
	stmtID    uint32 // of the cursor
	outParams bool   // the row holds OUT parameter values
	refCursor bool   // no metadata until the first fetch

	closed     bool
	superseded bool
	wasNull    bool
	err        error
}

func newResultSet(c *Conn, columns []*columnDefinition, m *readMode) *ResultSet {
	rs := &ResultSet{
		c:         c,
		stmt:      m.owner,
		columns:   columns,
		binary:    m.binary,
		rsType:    m.rsType,
		fetchSize: m.fetchSize,
		maxRows:   m.maxRows,
		stmtID:    m.stmtID,
		cur:       -1,
	}
	return rs
}

func (rs *ResultSet) scrollable() bool {
	return rs.rsType != TypeForwardOnly
}

func (rs *ResultSet) capped() bool {
	return rs.maxRows > 0 && rs.fetched >= rs.maxRows
}

func (rs *ResultSet) checkOpen() error {
	if rs.closed {
		return myError(ErrCursor)
	}
	return nil
}

// readRow reads the next row packet; eof is set on the EOF packet that ends
// the result set.
func (rs *ResultSet) readRow() (row []interface{}, eof bool, err error) {
	c := rs.c

	b, err := c.readPacket()
	if err != nil {
		return nil, true, err
	}

	switch {
	case isEOFPacket(b):
		c.parseEOFPacket(b)
		return nil, true, nil
	case b[0] == _PACKET_ERR:
		return nil, true, c.parseErrPacket(b)
	}

	if rs.binary {
		row, err = c.binaryRow(b, rs.columns)
	} else {
		row, err = c.textRow(b, rs.columns)
	}
	return row, false, err
}

// readAll buffers every row of the result set; rows beyond maxRows are
// read and dropped.
func (rs *ResultSet) readAll() error {
	for {
		row, eof, err := rs.readRow()
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
		if rs.capped() {
			continue
		}
		rs.rows = append(rs.rows, row)
		rs.fetched++
	}
}

// fetchMore replaces the consumed chunk with the next rows of a stream or a
// cursor.
func (rs *ResultSet) fetchMore() error {
	if !rs.pending {
		return nil
	}

	rs.rows = rs.rows[:0]
	rs.cur = -1

	if rs.cursor {
		return rs.fetchCursor()
	}
	return rs.fetchStream()
}

// fetchStream reads the next chunk of a streaming result set from the wire.
func (rs *ResultSet) fetchStream() error {
	n := rs.fetchSize
	if n <= 0 {
		n = 1
	}

	for len(rs.rows) < n {
		row, eof, err := rs.readRow()
		if err != nil {
			rs.endStream()
			return err
		}
		if eof {
			return rs.finishStream()
		}
		if rs.capped() {
			continue
		}
		rs.rows = append(rs.rows, row)
		rs.fetched++
	}
	return nil
}

// finishStream runs after the EOF packet of a stream; the results that
// follow it are handed to the statement.
func (rs *ResultSet) finishStream() error {
	rs.endStream()

	if rs.c.statusFlags&_SERVER_MORE_RESULTS_EXISTS == 0 {
		return nil
	}

	m := &readMode{binary: rs.binary, rsType: rs.rsType, maxRows: rs.maxRows, owner: rs.stmt}
	results, err := rs.c.readResults(m)
	if rs.stmt != nil {
		rs.stmt.appendResults(results)
	} else {
		closeResults(results)
	}
	return err
}

func (rs *ResultSet) endStream() {
	rs.pending = false
	if rs.c.active == rs {
		rs.c.active = nil
	}
}

// fetchCursor fetches the next chunk of rows with COM_STMT_FETCH.
func (rs *ResultSet) fetchCursor() error {
	c := rs.c

	active := c.active == rs
	if active {
		c.active = nil
	}
	if err := c.beginCommand(); err != nil {
		return err
	}

	n := uint32(rs.fetchSize)
	if rs.fetchSize <= 0 {
		n = 1<<31 - 1
	}
	if rs.maxRows > 0 && int64(n) > rs.maxRows-rs.fetched {
		n = uint32(rs.maxRows - rs.fetched)
	}

	metrics.CommandsSent(commandName(_COM_STMT_FETCH))
	if err := c.writePacket(createComStmtFetch(rs.stmtID, n)); err != nil {
		rs.endStream()
		return err
	}

	if rs.refCursor {
		if err := rs.readCursorMetadata(); err != nil {
			rs.endStream()
			return err
		}
	}

	for {
		row, eof, err := rs.readRow()
		if err != nil {
			rs.endStream()
			return err
		}
		if eof {
			break
		}
		rs.rows = append(rs.rows, row)
		rs.fetched++
	}

	if c.statusFlags&_SERVER_STATUS_LAST_ROW_SENT != 0 ||
		c.statusFlags&_SERVER_STATUS_CURSOR_EXISTS == 0 || rs.capped() {
		rs.endStream()
	} else if active {
		c.active = rs
	}
	return nil
}

// readCursorMetadata reads the column definitions a REF CURSOR sends with
// its first fetch.
func (rs *ResultSet) readCursorMetadata() error {
	c := rs.c

	b, err := c.readPacket()
	if err != nil {
		return err
	}
	if b[0] == _PACKET_ERR {
		return c.parseErrPacket(b)
	}

	count, _, n := getLenencInt(b)
	if n == 0 || n != len(b) {
		return c.markBroken(myError(ErrInvalidPacket))
	}
	if rs.columns, err = c.readDefinitions(int(count)); err != nil {
		return err
	}
	rs.refCursor = false
	rs.binary = true
	return nil
}

// supersede finalizes a result set whose rows are still pending because
// another command is about to be sent: the rest of a stream is drained, an
// open cursor is reset and the result set is closed.
func (rs *ResultSet) supersede() error {
	logger.Debugf("connection %d: result set superseded by a new command", rs.c.connectionId)

	rs.superseded = true
	var err error
	if rs.cursor && rs.pending {
		rs.pending = false
		err = rs.c.handleStmtReset(rs.stmtID)
	} else {
		err = rs.drain()
	}
	rs.closed = true
	rs.rows = nil
	return err
}

// drain discards the rows left on the wire.
func (rs *ResultSet) drain() error {
	if !rs.pending || rs.cursor {
		return nil
	}

	for {
		_, eof, err := rs.readRow()
		if err != nil {
			rs.endStream()
			return err
		}
		if eof {
			return rs.finishStream()
		}
	}
}

// Next moves to the next row and reports whether there is one.
func (rs *ResultSet) Next() (bool, error) {
	if err := rs.checkOpen(); err != nil {
		return false, err
	}

	if rs.scrollable() {
		if rs.cur < len(rs.rows) {
			rs.cur++
		}
		return rs.cur < len(rs.rows), nil
	}

	if rs.afterLast {
		return false, nil
	}

	if rs.cur+1 >= len(rs.rows) {
		if err := rs.fetchMore(); err != nil {
			rs.err = err
			return false, err
		}
	}

	if rs.cur+1 < len(rs.rows) {
		rs.cur++
		rs.rowNum++
		return true, nil
	}

	rs.cur = len(rs.rows)
	rs.afterLast = true
	return false, nil
}

// Err returns the error that ended the iteration, if any.
func (rs *ResultSet) Err() error {
	return rs.err
}

// Close closes the result set; the rows of a stream still on the wire are
// discarded.
func (rs *ResultSet) Close() error {
	if rs.closed {
		return nil
	}

	var err error
	switch {
	case !rs.pending || rs.c.checkUsable() != nil:
	case rs.cursor:
		// the server keeps the cursor open until reset
		rs.pending = false
		if rs.c.active == rs {
			rs.c.active = nil
		}
		err = rs.c.handleStmtReset(rs.stmtID)
	case rs.c.active == rs:
		err = rs.drain()
	}
	if rs.c.active == rs {
		rs.c.active = nil
	}
	rs.closed = true
	rs.rows = nil
	return err
}

// IsClosed reports whether the result set was closed, explicitly or by a
// later command on the connection.
func (rs *ResultSet) IsClosed() bool {
	return rs.closed
}

// Type returns the scrollability of the result set.
func (rs *ResultSet) Type() ResultSetType {
	return rs.rsType
}

// FetchSize returns the number of rows read per round trip.
func (rs *ResultSet) FetchSize() int {
	return rs.fetchSize
}

// SetFetchSize changes the number of rows of the next round trips.
func (rs *ResultSet) SetFetchSize(n int) error {
	if n < 0 {
		return myError(ErrInvalidPropertyValue, "fetchSize", n)
	}
	rs.fetchSize = n
	return nil
}

func (rs *ResultSet) checkScrollable() error {
	if err := rs.checkOpen(); err != nil {
		return err
	}
	if !rs.scrollable() {
		return myError(ErrForwardOnly)
	}
	return nil
}

func (rs *ResultSet) onRow() bool {
	return rs.cur >= 0 && rs.cur < len(rs.rows)
}

// Row returns the 1-based number of the current row, 0 when there is none.
func (rs *ResultSet) Row() (int64, error) {
	if err := rs.checkOpen(); err != nil {
		return 0, err
	}
	if !rs.onRow() {
		return 0, nil
	}
	if rs.scrollable() {
		return int64(rs.cur + 1), nil
	}
	return rs.rowNum, nil
}

// IsBeforeFirst reports whether the cursor is before the first row of a
// non-empty result set.
func (rs *ResultSet) IsBeforeFirst() (bool, error) {
	if err := rs.checkOpen(); err != nil {
		return false, err
	}
	if rs.scrollable() {
		return rs.cur < 0 && len(rs.rows) > 0, nil
	}
	if rs.rowNum > 0 || rs.afterLast {
		return false, nil
	}
	if len(rs.rows) == 0 && rs.pending {
		if err := rs.fetchMore(); err != nil {
			return false, err
		}
	}
	return len(rs.rows) > 0, nil
}

// IsAfterLast reports whether the cursor is after the last row of a
// non-empty result set.
func (rs *ResultSet) IsAfterLast() (bool, error) {
	if err := rs.checkOpen(); err != nil {
		return false, err
	}
	if rs.scrollable() {
		return rs.cur >= len(rs.rows) && len(rs.rows) > 0, nil
	}
	return rs.afterLast && rs.rowNum > 0, nil
}

// IsFirst reports whether the cursor is on the first row.
func (rs *ResultSet) IsFirst() (bool, error) {
	if err := rs.checkOpen(); err != nil {
		return false, err
	}
	if rs.scrollable() {
		return rs.cur == 0 && len(rs.rows) > 0, nil
	}
	return rs.rowNum == 1 && rs.onRow(), nil
}

// IsLast reports whether the cursor is on the last row. Forward only
// result sets cannot tell without reading ahead and fail.
func (rs *ResultSet) IsLast() (bool, error) {
	if err := rs.checkScrollable(); err != nil {
		return false, err
	}
	return len(rs.rows) > 0 && rs.cur == len(rs.rows)-1, nil
}

// BeforeFirst moves the cursor before the first row.
func (rs *ResultSet) BeforeFirst() error {
	if err := rs.checkScrollable(); err != nil {
		return err
	}
	rs.cur = -1
	return nil
}

// AfterLast moves the cursor after the last row.
func (rs *ResultSet) AfterLast() error {
	if err := rs.checkScrollable(); err != nil {
		return err
	}
	rs.cur = len(rs.rows)
	return nil
}

// First moves to the first row.
func (rs *ResultSet) First() (bool, error) {
	return rs.Absolute(1)
}

// Last moves to the last row.
func (rs *ResultSet) Last() (bool, error) {
	return rs.Absolute(-1)
}

// Previous moves to the previous row.
func (rs *ResultSet) Previous() (bool, error) {
	if err := rs.checkScrollable(); err != nil {
		return false, err
	}
	if rs.cur >= 0 {
		rs.cur--
	}
	return rs.cur >= 0, nil
}

// Absolute moves to row n; negative values count from the end, -1 being
// the last row. Positions past either end leave the cursor before the
// first or after the last row.
func (rs *ResultSet) Absolute(n int) (bool, error) {
	if err := rs.checkScrollable(); err != nil {
		return false, err
	}

	switch {
	case n > 0:
		rs.cur = min(n-1, len(rs.rows))
	case n < 0:
		rs.cur = max(len(rs.rows)+n, -1)
	default:
		rs.cur = -1
	}
	return rs.onRow(), nil
}

// Relative moves n rows from the current one.
func (rs *ResultSet) Relative(n int) (bool, error) {
	if err := rs.checkScrollable(); err != nil {
		return false, err
	}
	rs.cur = min(max(rs.cur+n, -1), len(rs.rows))
	return rs.onRow(), nil
}

// ColumnCount returns the number of columns.
func (rs *ResultSet) ColumnCount() int {
	return len(rs.columns)
}

// Columns returns the column labels.
func (rs *ResultSet) Columns() []string {
	names := make([]string, len(rs.columns))
	for i, col := range rs.columns {
		names[i] = col.label()
	}
	return names
}

// ColumnType describes a column of a result set.
type ColumnType struct {
	Name     string
	Table    string
	Schema   string
	TypeName string
	Length   uint32
	Decimals uint8
	Nullable bool
	Unsigned bool
	Charset  uint16
	wireType uint8
}

// ColumnTypes returns the descriptors of the columns.
func (rs *ResultSet) ColumnTypes() []ColumnType {
	types := make([]ColumnType, len(rs.columns))
	for i, col := range rs.columns {
		types[i] = ColumnType{
			Name:     col.label(),
			Table:    col.table,
			Schema:   col.schema,
			TypeName: col.typeName(),
			Length:   col.columnLength,
			Decimals: col.decimals,
			Nullable: col.nullable(),
			Unsigned: col.unsigned(),
			Charset:  col.charset,
			wireType: col.columnType,
		}
	}
	return types
}

// FindColumn returns the 1-based index of the column with the given label,
// compared case-insensitively.
func (rs *ResultSet) FindColumn(label string) (int, error) {
	if rs.labels == nil {
		rs.labels = make(map[string]int, len(rs.columns))
		for i := len(rs.columns) - 1; i >= 0; i-- {
			rs.labels[strings.ToLower(rs.columns[i].label())] = i + 1
		}
	}
	if i, ok := rs.labels[strings.ToLower(label)]; ok {
		return i, nil
	}
	return 0, myError(ErrColumnLabel, label)
}

// value returns the value of the 1-based column i of the current row.
func (rs *ResultSet) value(i int) (interface{}, *columnDefinition, error) {
	if err := rs.checkOpen(); err != nil {
		return nil, nil, err
	}
	if !rs.onRow() {
		return nil, nil, myError(ErrNoCurrentRow)
	}
	if i < 1 || i > len(rs.columns) {
		return nil, nil, myError(ErrColumnIndex, i, len(rs.columns))
	}

	v := rs.rows[rs.cur][i-1]
	rs.wasNull = v == nil
	return v, rs.columns[i-1], nil
}

// WasNull reports whether the last value read was NULL.
func (rs *ResultSet) WasNull() bool {
	return rs.wasNull
}

// currentRow returns the values of the current row.
func (rs *ResultSet) currentRow() ([]interface{}, error) {
	if err := rs.checkOpen(); err != nil {
		return nil, err
	}
	if !rs.onRow() {
		return nil, myError(ErrNoCurrentRow)
	}
	return rs.rows[rs.cur], nil
}

// Statement returns the statement that produced the result set, or nil.
func (rs *ResultSet) Statement() *stmtCore {
	return rs.stmt
}
