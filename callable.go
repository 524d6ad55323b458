package oceanbase

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"
)

// callEscape is a parsed "{call p(...)}" or "{? = call f(...)}" escape.
type callEscape struct {
	returns bool   // "? =" form
	call    string // the text after CALL
}

func parseCallEscape(query string) (callEscape, bool) {
	var e callEscape

	q := strings.TrimSpace(query)
	if !strings.HasPrefix(q, "{") || !strings.HasSuffix(q, "}") {
		return e, false
	}
	body := strings.TrimSpace(q[1 : len(q)-1])

	if strings.HasPrefix(body, "?") {
		rest := strings.TrimSpace(body[1:])
		if !strings.HasPrefix(rest, "=") {
			return e, false
		}
		body = strings.TrimSpace(rest[1:])
		e.returns = true
	}

	if len(body) < 4 || !strings.EqualFold(body[:4], "call") || (len(body) > 4 && isWordByte(body[4])) {
		return e, false
	}
	e.call = strings.TrimSpace(body[4:])
	return e, e.call != ""
}

// sql returns the statement the escape stands for: CALL or SELECT in MySQL
// mode, an anonymous block in Oracle mode.
func (e callEscape) sql(oracleMode bool) string {
	switch {
	case oracleMode && e.returns:
		return "BEGIN ? := " + e.call + "; END;"
	case oracleMode:
		return "BEGIN " + e.call + "; END;"
	case e.returns:
		return "SELECT " + e.call
	}
	return "CALL " + e.call
}

// translateEscapes rewrites a call escape into executable SQL; other text
// is returned unchanged.
func translateEscapes(query string, oracleMode bool) string {
	if e, ok := parseCallEscape(query); ok {
		return e.sql(oracleMode)
	}
	return query
}

// CallableStatement calls a stored procedure or function. Output parameters
// are registered with RegisterOutParameter and read after the execution
// with the getters, by parameter index.
type CallableStatement struct {
	PreparedStatement

	outTypes  map[int]SQLType
	outValues []interface{}
	outCols   []*columnDefinition
	wasNull   bool
}

// PrepareCall prepares a call. query is a call escape or a CALL statement
// (MySQL mode) or an anonymous block (Oracle mode). Calls are always
// prepared on the server so that output parameters come back.
func (c *Conn) PrepareCall(ctx context.Context, query string) (*CallableStatement, error) {
	cs := &CallableStatement{outTypes: make(map[int]SQLType)}

	e, escaped := parseCallEscape(query)
	if escaped {
		query = e.sql(c.oracleMode)
	}

	if err := cs.init(ctx, c, query, true); err != nil {
		return nil, err
	}
	if escaped && e.returns && !c.oracleMode {
		// the function value is the column of the SELECT
		cs.shift = 1
	}
	return cs, nil
}

// RegisterOutParameter declares parameter i (1-based) as an output of type
// typ. A parameter that is only an output needs no value.
func (cs *CallableStatement) RegisterOutParameter(i int, typ SQLType) error {
	if err := cs.checkOpen(); err != nil {
		return err
	}
	if i < 1 || i > len(cs.args)+cs.shift {
		return myError(ErrParamIndex, i, len(cs.args)+cs.shift)
	}

	cs.outTypes[i] = typ
	if j := i - cs.shift; j >= 1 && !cs.set[j-1] {
		cs.args[j-1], cs.set[j-1] = typedNull{sqlType: typ}, true
	}
	return nil
}

// ClearParameters unbinds the input values; registered outputs stay.
func (cs *CallableStatement) ClearParameters() {
	cs.PreparedStatement.ClearParameters()
	for i, typ := range cs.outTypes {
		if j := i - cs.shift; j >= 1 {
			cs.args[j-1], cs.set[j-1] = typedNull{sqlType: typ}, true
		}
	}
}

func (cs *CallableStatement) runCall(ctx context.Context) error {
	cs.outValues, cs.outCols = nil, nil
	if err := cs.run(ctx); err != nil {
		return err
	}
	return cs.collectOutputs()
}

// collectOutputs reads the function value of a SELECT call and the row of
// output parameters.
func (cs *CallableStatement) collectOutputs() error {
	n := len(cs.args) + cs.shift
	cs.outValues = make([]interface{}, n)
	cs.outCols = make([]*columnDefinition, n)

	if cs.shift == 1 && len(cs.results) > 0 && cs.results[0].rs != nil {
		rs := cs.results[0].rs
		cs.results = cs.results[1:]

		ok, err := rs.Next()
		if err != nil {
			return err
		}
		if ok && len(rs.columns) > 0 {
			row, _ := rs.currentRow()
			cs.outValues[0], cs.outCols[0] = row[0], rs.columns[0]
		}
		rs.Close()
	}

	rs := cs.outRS
	if rs == nil {
		return nil
	}
	ok, err := rs.Next()
	if err != nil || !ok {
		return err
	}
	row, err := rs.currentRow()
	if err != nil {
		return err
	}

	for k, i := range cs.outTargets(len(row)) {
		cs.outValues[i-1], cs.outCols[i-1] = row[k], rs.columns[k]
	}
	return nil
}

// outTargets maps the columns of the output parameter row to parameter
// indexes: one column per placeholder, or one per registered output.
func (cs *CallableStatement) outTargets(count int) []int {
	var targets []int

	if count == len(cs.args) {
		for j := 1; j <= count; j++ {
			targets = append(targets, j+cs.shift)
		}
		return targets
	}

	for i := range cs.outTypes {
		if i > cs.shift {
			targets = append(targets, i)
		}
	}
	sort.Ints(targets)
	if len(targets) > count {
		targets = targets[:count]
	}
	return targets
}

// Execute runs the call and reports whether its first result is a result
// set.
func (cs *CallableStatement) Execute(ctx context.Context) (bool, error) {
	if err := cs.runCall(ctx); err != nil {
		return false, err
	}
	return cs.hasResultSet(), nil
}

// ExecuteQuery runs the call and returns its first result set.
func (cs *CallableStatement) ExecuteQuery(ctx context.Context) (*ResultSet, error) {
	if err := cs.runCall(ctx); err != nil {
		return nil, err
	}
	rs := cs.ResultSet()
	if rs == nil {
		return nil, myError(ErrQueryReturnedNoResultSet)
	}
	return rs, nil
}

// ExecuteUpdate runs the call and returns its update count. Oracle mode
// with compatibleOjdbcVersion=6 reports 1.
func (cs *CallableStatement) ExecuteUpdate(ctx context.Context) (int64, error) {
	if err := cs.runCall(ctx); err != nil {
		return 0, err
	}
	if cs.c.oracleMode && cs.c.opts.CompatibleOjdbcVersion == 6 {
		return 1, nil
	}
	for _, r := range cs.results {
		if r.rs == nil {
			return r.affectedRows, nil
		}
	}
	return 0, nil
}

// ExecuteBatch runs the queued parameter sets one by one; calls with
// registered outputs cannot be batched.
func (cs *CallableStatement) ExecuteBatch(ctx context.Context) ([]int64, error) {
	if len(cs.outTypes) > 0 {
		return nil, myError(ErrNotSupported, "batch execution of a call with output parameters")
	}
	return cs.PreparedStatement.ExecuteBatch(ctx)
}

// outValue returns the value of output parameter i.
func (cs *CallableStatement) outValue(i int) (interface{}, *columnDefinition, error) {
	if err := cs.checkOpen(); err != nil {
		return nil, nil, err
	}
	if _, ok := cs.outTypes[i]; !ok {
		return nil, nil, myError(ErrOutParamNotRegistered, i)
	}
	if cs.outValues == nil {
		return nil, nil, myError(ErrNoCurrentRow)
	}

	v := cs.outValues[i-1]
	cs.wasNull = v == nil
	return v, cs.outCols[i-1], nil
}

// WasNull reports whether the last output value read was NULL.
func (cs *CallableStatement) WasNull() bool {
	return cs.wasNull
}

// GetObject returns output parameter i as decoded from the wire.
func (cs *CallableStatement) GetObject(i int) (interface{}, error) {
	v, _, err := cs.outValue(i)
	return v, err
}

// GetString returns output parameter i as a string.
func (cs *CallableStatement) GetString(i int) (string, error) {
	v, col, err := cs.outValue(i)
	if err != nil {
		return "", err
	}
	return convertString(v, col)
}

// GetInt64 returns output parameter i as an int64.
func (cs *CallableStatement) GetInt64(i int) (int64, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return 0, err
	}
	return convertInt64(v)
}

// GetInt returns output parameter i as an int.
func (cs *CallableStatement) GetInt(i int) (int, error) {
	n, err := cs.GetInt64(i)
	return int(n), err
}

// GetFloat64 returns output parameter i as a float64.
func (cs *CallableStatement) GetFloat64(i int) (float64, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return 0, err
	}
	return convertFloat64(v)
}

// GetBool returns output parameter i as a bool.
func (cs *CallableStatement) GetBool(i int) (bool, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return false, err
	}
	return convertBool(v)
}

// GetBytes returns output parameter i as bytes.
func (cs *CallableStatement) GetBytes(i int) ([]byte, error) {
	v, col, err := cs.outValue(i)
	if err != nil {
		return nil, err
	}
	return convertBytes(v, col)
}

// GetTime returns output parameter i as a time.Time.
func (cs *CallableStatement) GetTime(i int) (time.Time, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return time.Time{}, err
	}
	return convertTime(v, cs.c.loc)
}

// GetBigDecimal returns output parameter i as an exact decimal.
func (cs *CallableStatement) GetBigDecimal(i int) (*big.Rat, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return nil, err
	}
	return convertDecimal(v)
}

// GetTimestampTZ returns output parameter i as a TimestampTZ.
func (cs *CallableStatement) GetTimestampTZ(i int) (TimestampTZ, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return TimestampTZ{}, err
	}
	return convertTimestampTZ(v, cs.c.loc)
}

// GetBlob returns output parameter i as a Blob.
func (cs *CallableStatement) GetBlob(i int) (*Blob, error) {
	v, col, err := cs.outValue(i)
	if err != nil {
		return nil, err
	}
	return convertBlob(v, col)
}

// GetClob returns output parameter i as a Clob.
func (cs *CallableStatement) GetClob(i int) (*Clob, error) {
	v, col, err := cs.outValue(i)
	if err != nil {
		return nil, err
	}
	return convertClob(v, col, false)
}

// GetCursor returns the rows of the REF CURSOR output parameter i. They are
// fetched from the server cursor, the first fetch bringing the columns.
func (cs *CallableStatement) GetCursor(i int) (*ResultSet, error) {
	v, _, err := cs.outValue(i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	cur, ok := v.(refCursor)
	if !ok {
		return nil, myError(ErrConversion, v, "REF CURSOR")
	}

	rs := &ResultSet{
		c:         cs.c,
		stmt:      &cs.stmtCore,
		binary:    true,
		rsType:    TypeForwardOnly,
		fetchSize: cs.fetchSize,
		maxRows:   cs.effectiveMaxRows(),
		cur:       -1,
		pending:   true,
		cursor:    true,
		refCursor: true,
		stmtID:    cur.id,
	}
	return rs, nil
}
