package oceanbase

import (
	"database/sql/driver"
	"io"
	"math/big"
	"reflect"
	"time"
)

// Rows adapts the result sets of a statement to driver.Rows.
type Rows struct {
	s  *stmtCore
	rs *ResultSet

	// closed together with the rows (statements of Conn.QueryContext)
	owner io.Closer
}

func newRows(s *stmtCore, owner io.Closer) *Rows {
	return &Rows{s: s, rs: s.ResultSet(), owner: owner}
}

func (r *Rows) Columns() []string {
	return r.rs.Columns()
}

func (r *Rows) Close() error {
	err := r.rs.Close()
	if r.owner != nil {
		if cerr := r.owner.Close(); err == nil {
			err = cerr
		}
		r.owner = nil
	}
	return err
}

func (r *Rows) Next(dest []driver.Value) error {
	if r.rs.IsClosed() {
		return myError(ErrCursor)
	}

	ok, err := r.rs.Next()
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}

	row, err := r.rs.currentRow()
	if err != nil {
		return err
	}
	for i, v := range row {
		dest[i] = driverValue(v)
	}
	return nil
}

// driverValue maps the decoded values database/sql has no conversion for.
func driverValue(v interface{}) driver.Value {
	switch x := v.(type) {
	case time.Duration:
		return formatDuration(x)
	case TimestampTZ:
		return x.Time
	case TimestampLTZ:
		return x.Time
	case *big.Rat:
		return decimalString(x)
	case refCursor:
		return int64(x.id)
	}
	return v
}

// HasNextResultSet reports whether another result set may follow. Results
// after a streamed result set are only known once it is drained.
func (r *Rows) HasNextResultSet() bool {
	if r.rs.pending {
		return true
	}
	for _, res := range r.s.results[min(r.s.cur+1, len(r.s.results)):] {
		if res.rs != nil {
			return true
		}
	}
	return false
}

// NextResultSet skips the update counts up to the next result set.
func (r *Rows) NextResultSet() error {
	for {
		more, err := r.s.MoreResults()
		if err != nil {
			return err
		}
		if more {
			r.rs = r.s.ResultSet()
			return nil
		}
		if r.s.current() == nil {
			return io.EOF
		}
	}
}

func (r *Rows) ColumnTypeDatabaseTypeName(i int) string {
	return r.rs.columns[i].typeName()
}

func (r *Rows) ColumnTypeNullable(i int) (nullable, ok bool) {
	return r.rs.columns[i].nullable(), true
}

func (r *Rows) ColumnTypeLength(i int) (int64, bool) {
	col := r.rs.columns[i]
	switch col.columnType {
	case _TYPE_VARCHAR, _TYPE_VARSTRING, _TYPE_STRING, _TYPE_BLOB, _TYPE_TINY_BLOB,
		_TYPE_MEDIUM_BLOB, _TYPE_LONG_BLOB, _TYPE_JSON, _TYPE_OB_RAW,
		_TYPE_OB_NVARCHAR2, _TYPE_OB_NCHAR, _TYPE_OB_ORA_BLOB, _TYPE_OB_ORA_CLOB:
		return int64(col.columnLength), true
	}
	return 0, false
}

func (r *Rows) ColumnTypePrecisionScale(i int) (int64, int64, bool) {
	col := r.rs.columns[i]
	switch col.columnType {
	case _TYPE_DECIMAL, _TYPE_NEW_DECIMAL, _TYPE_OB_NUMBER_FLOAT:
		precision := int64(col.columnLength)
		if precision > 0 {
			// the length counts the point and the sign
			if col.decimals > 0 {
				precision--
			}
			if !col.unsigned() {
				precision--
			}
		}
		return precision, int64(col.decimals), true
	}
	return 0, 0, false
}

var (
	scanTypeInt64   = reflect.TypeOf(int64(0))
	scanTypeUint64  = reflect.TypeOf(uint64(0))
	scanTypeFloat64 = reflect.TypeOf(float64(0))
	scanTypeString  = reflect.TypeOf("")
	scanTypeBytes   = reflect.TypeOf([]byte(nil))
	scanTypeTime    = reflect.TypeOf(time.Time{})
	scanTypeAny     = reflect.TypeOf(new(interface{})).Elem()
)

func (r *Rows) ColumnTypeScanType(i int) reflect.Type {
	col := r.rs.columns[i]
	switch col.columnType {
	case _TYPE_TINY, _TYPE_SHORT, _TYPE_LONG, _TYPE_INT24:
		return scanTypeInt64
	case _TYPE_LONG_LONG:
		if col.unsigned() {
			return scanTypeUint64
		}
		return scanTypeInt64
	case _TYPE_FLOAT, _TYPE_DOUBLE:
		return scanTypeFloat64
	case _TYPE_DECIMAL, _TYPE_NEW_DECIMAL, _TYPE_OB_NUMBER_FLOAT, _TYPE_TIME, _TYPE_TIME2:
		return scanTypeString
	case _TYPE_DATE, _TYPE_NEW_DATE, _TYPE_DATETIME, _TYPE_DATETIME2, _TYPE_TIMESTAMP,
		_TYPE_TIMESTAMP2, _TYPE_OB_TIMESTAMP_NANO, _TYPE_OB_TIMESTAMP_TZ, _TYPE_OB_TIMESTAMP_LTZ:
		return scanTypeTime
	case _TYPE_YEAR:
		if r.rs.c.opts.YearIsDateType {
			return scanTypeTime
		}
		return scanTypeInt64
	case _TYPE_BIT, _TYPE_GEOMETRY, _TYPE_OB_RAW, _TYPE_OB_ORA_BLOB:
		return scanTypeBytes
	case _TYPE_NULL:
		return scanTypeAny
	}
	if col.binary() {
		return scanTypeBytes
	}
	return scanTypeString
}
