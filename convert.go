package oceanbase

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Conversions of decoded column values to the types of the getters. Values
// come from textValue and binaryValue: int64, uint64, float64, decimal text,
// time.Time, time.Duration, TimestampTZ, TimestampLTZ, string and []byte.

func convertString(v interface{}, col *columnDefinition) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case float64:
		if col != nil && col.columnType == _TYPE_FLOAT {
			return strconv.FormatFloat(x, 'f', -1, 32), nil
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		if col != nil && (col.columnType == _TYPE_DATE || col.columnType == _TYPE_NEW_DATE) {
			return x.Format("2006-01-02"), nil
		}
		return formatTimestamp(x, 9), nil
	case time.Duration:
		return formatDuration(x), nil
	case TimestampTZ:
		return x.String(), nil
	case TimestampLTZ:
		return x.String(), nil
	case *big.Rat:
		return decimalString(x), nil
	}
	return cast.ToStringE(v)
}

func convertInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return parseIntText(x)
	case []byte:
		return parseIntText(string(x))
	case uint64:
		if x > math.MaxInt64 {
			return 0, myError(ErrConversion, x, "int64")
		}
		return int64(x), nil
	case float64:
		if math.IsNaN(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, myError(ErrConversion, x, "int64")
		}
		return int64(x), nil
	case time.Time, time.Duration, TimestampTZ, TimestampLTZ:
		return 0, myError(ErrConversion, v, "int64")
	}

	i, err := cast.ToInt64E(v)
	if err != nil {
		return 0, myError(ErrConversion, v, "int64")
	}
	return i, nil
}

// parseIntText parses integer or decimal text; the fraction is truncated.
func parseIntText(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, myError(ErrConversion, s, "int64")
	}
	q := new(big.Int).Quo(r.Num(), r.Denom())
	if !q.IsInt64() {
		return 0, myError(ErrConversion, s, "int64")
	}
	return q.Int64(), nil
}

func convertFloat64(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return parseFloatText(x)
	case []byte:
		return parseFloatText(string(x))
	case *big.Rat:
		f, _ := x.Float64()
		return f, nil
	case time.Time, time.Duration, TimestampTZ, TimestampLTZ:
		return 0, myError(ErrConversion, v, "float64")
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, myError(ErrConversion, v, "float64")
	}
	return f, nil
}

func parseFloatText(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, myError(ErrConversion, s, "float64")
	}
	return f, nil
}

// convertBool follows the relational client rules: numbers are true when
// non-zero, text is true for "true", "y", "yes" or a non-zero number.
func convertBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case string:
		return parseBoolText(x)
	case []byte:
		if len(x) == 1 && x[0] <= 1 {
			// BIT(1)
			return x[0] == 1, nil
		}
		return parseBoolText(string(x))
	}

	f, err := convertFloat64(v)
	if err != nil {
		return false, myError(ErrConversion, v, "bool")
	}
	return f != 0, nil
}

func parseBoolText(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "y", "yes":
		return true, nil
	case "false", "n", "no", "":
		return false, nil
	}
	f, err := parseFloatText(s)
	if err != nil {
		return false, myError(ErrConversion, s, "bool")
	}
	return f != 0, nil
}

func convertBytes(v interface{}, col *columnDefinition) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}

	s, err := convertString(v, col)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func convertTime(v interface{}, loc *time.Location) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case TimestampTZ:
		return x.Time, nil
	case TimestampLTZ:
		return x.Time, nil
	case string:
		return parseDateTime(strings.TrimSpace(x), loc)
	case []byte:
		return parseDateTime(string(x), loc)
	case int64:
		// YEAR read as a number
		return time.Date(int(x), time.January, 1, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, myError(ErrConversion, v, "time.Time")
}

func convertDuration(v interface{}) (time.Duration, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return x, nil
	case time.Time:
		h, m, s := x.Clock()
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second + time.Duration(x.Nanosecond()), nil
	case string:
		return parseDuration(strings.TrimSpace(x))
	case []byte:
		return parseDuration(string(x))
	}
	return 0, myError(ErrConversion, v, "time.Duration")
}

func convertDecimal(v interface{}) (*big.Rat, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *big.Rat:
		return x, nil
	case string:
		return parseDecimal(strings.TrimSpace(x))
	case []byte:
		return parseDecimal(string(x))
	case int64:
		return new(big.Rat).SetInt64(x), nil
	case uint64:
		return new(big.Rat).SetInt(new(big.Int).SetUint64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, myError(ErrConversion, x, "decimal")
		}
		// through the shortest text form so that 0.1 stays 1/10
		return parseDecimal(strconv.FormatFloat(x, 'f', -1, 64))
	}
	return nil, myError(ErrConversion, v, "decimal")
}

func convertTimestampTZ(v interface{}, loc *time.Location) (TimestampTZ, error) {
	switch x := v.(type) {
	case TimestampTZ:
		return x, nil
	case string:
		t, err := parseTimestampTZ(strings.TrimSpace(x))
		return TimestampTZ{Time: t}, err
	}
	t, err := convertTime(v, loc)
	return TimestampTZ{Time: t}, err
}

func convertBlob(v interface{}, col *columnDefinition) (*Blob, error) {
	if v == nil {
		return nil, nil
	}
	b, err := convertBytes(v, col)
	if err != nil {
		return nil, err
	}
	return NewBlob(b), nil
}

func convertClob(v interface{}, col *columnDefinition, national bool) (*Clob, error) {
	if v == nil {
		return nil, nil
	}
	s, err := convertString(v, col)
	if err != nil {
		return nil, err
	}
	if national {
		return NewNClob(s), nil
	}
	return NewClob(s), nil
}

// <!-- ResultSet getters -->

// GetObject returns the value of column i (1-based) as decoded from the
// wire, nil for NULL.
func (rs *ResultSet) GetObject(i int) (interface{}, error) {
	v, _, err := rs.value(i)
	return v, err
}

// GetString returns column i as a string; NULL yields "".
func (rs *ResultSet) GetString(i int) (string, error) {
	v, col, err := rs.value(i)
	if err != nil {
		return "", err
	}
	return convertString(v, col)
}

// GetInt64 returns column i as an int64; NULL yields 0.
func (rs *ResultSet) GetInt64(i int) (int64, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return 0, err
	}
	return convertInt64(v)
}

// GetInt returns column i as an int; NULL yields 0.
func (rs *ResultSet) GetInt(i int) (int, error) {
	n, err := rs.GetInt64(i)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, myError(ErrConversion, n, "int")
	}
	return int(n), nil
}

// GetFloat64 returns column i as a float64; NULL yields 0.
func (rs *ResultSet) GetFloat64(i int) (float64, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return 0, err
	}
	return convertFloat64(v)
}

// GetBool returns column i as a bool; NULL yields false.
func (rs *ResultSet) GetBool(i int) (bool, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return false, err
	}
	return convertBool(v)
}

// GetBytes returns column i as bytes; NULL yields nil.
func (rs *ResultSet) GetBytes(i int) ([]byte, error) {
	v, col, err := rs.value(i)
	if err != nil {
		return nil, err
	}
	return convertBytes(v, col)
}

// GetTime returns column i as a time.Time; NULL yields the zero time.
func (rs *ResultSet) GetTime(i int) (time.Time, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return time.Time{}, err
	}
	return convertTime(v, rs.c.loc)
}

// GetDuration returns a TIME column as a time.Duration.
func (rs *ResultSet) GetDuration(i int) (time.Duration, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return 0, err
	}
	return convertDuration(v)
}

// GetBigDecimal returns column i as an exact decimal; NULL yields nil.
func (rs *ResultSet) GetBigDecimal(i int) (*big.Rat, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return nil, err
	}
	return convertDecimal(v)
}

// GetTimestampTZ returns a TIMESTAMP WITH TIME ZONE column.
func (rs *ResultSet) GetTimestampTZ(i int) (TimestampTZ, error) {
	v, _, err := rs.value(i)
	if err != nil {
		return TimestampTZ{}, err
	}
	return convertTimestampTZ(v, rs.c.loc)
}

// GetBlob returns column i as a Blob; NULL yields nil.
func (rs *ResultSet) GetBlob(i int) (*Blob, error) {
	v, col, err := rs.value(i)
	if err != nil {
		return nil, err
	}
	return convertBlob(v, col)
}

// GetClob returns column i as a Clob; NULL yields nil.
func (rs *ResultSet) GetClob(i int) (*Clob, error) {
	v, col, err := rs.value(i)
	if err != nil {
		return nil, err
	}
	return convertClob(v, col, false)
}

// GetNClob returns column i as a national character Clob.
func (rs *ResultSet) GetNClob(i int) (*Clob, error) {
	v, col, err := rs.value(i)
	if err != nil {
		return nil, err
	}
	return convertClob(v, col, true)
}

// Get returns the value of the column with the given label.
func (rs *ResultSet) Get(label string) (interface{}, error) {
	i, err := rs.FindColumn(label)
	if err != nil {
		return nil, err
	}
	return rs.GetObject(i)
}
