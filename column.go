package oceanbase

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/oceanbase/obconnector-go/internal/charset"
)

type columnDefinition struct {
	catalog             string
	schema              string
	table               string
	orgTable            string
	name                string
	orgName             string
	fixedLenFieldLength uint64
	charset             uint16
	columnLength        uint32
	columnType          uint8
	flags               uint16
	decimals            uint8
}

// parseColumnDefinitionPacket parses the column (field) definition packet.
// Names are decoded with cs.
func parseColumnDefinitionPacket(b []byte, cs *charset.Charset) (*columnDefinition, error) {
	var (
		off, n int
		s      nullString
	)

	// alloc a new columnDefinition object
	col := new(columnDefinition)

	next := func() string {
		s, n = getLenencString(b[off:])
		off += n
		return cs.Decode([]byte(s.value))
	}

	col.catalog = next()
	col.schema = next()
	col.table = next()
	col.orgTable = next()
	col.name = next()
	col.orgName = next()

	col.fixedLenFieldLength, _, n = getLenencInt(b[off:])
	off += n

	if off+10 > len(b) {
		return nil, myError(ErrInvalidPacket)
	}

	col.charset = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	col.columnLength = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	col.columnType = b[off]
	off++
	col.flags = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	col.decimals = b[off]

	return col, nil
}

func (col *columnDefinition) unsigned() bool {
	return col.flags&_FLAG_UNSIGNED != 0
}

func (col *columnDefinition) nullable() bool {
	return col.flags&_FLAG_NOT_NULL == 0
}

func (col *columnDefinition) binary() bool {
	return col.charset == _COLLATION_BINARY
}

// label returns the alias of the column, or its name.
func (col *columnDefinition) label() string {
	if col.name != "" {
		return col.name
	}
	return col.orgName
}

// typeName returns the database type name of the column.
func (col *columnDefinition) typeName() string {
	switch col.columnType {
	case _TYPE_DECIMAL, _TYPE_NEW_DECIMAL:
		return "DECIMAL"
	case _TYPE_TINY:
		return "TINYINT"
	case _TYPE_SHORT:
		return "SMALLINT"
	case _TYPE_LONG:
		return "INT"
	case _TYPE_FLOAT:
		return "FLOAT"
	case _TYPE_DOUBLE:
		return "DOUBLE"
	case _TYPE_NULL:
		return "NULL"
	case _TYPE_TIMESTAMP, _TYPE_TIMESTAMP2:
		return "TIMESTAMP"
	case _TYPE_LONG_LONG:
		return "BIGINT"
	case _TYPE_INT24:
		return "MEDIUMINT"
	case _TYPE_DATE, _TYPE_NEW_DATE:
		return "DATE"
	case _TYPE_TIME, _TYPE_TIME2:
		return "TIME"
	case _TYPE_DATETIME, _TYPE_DATETIME2:
		return "DATETIME"
	case _TYPE_YEAR:
		return "YEAR"
	case _TYPE_BIT:
		return "BIT"
	case _TYPE_JSON:
		return "JSON"
	case _TYPE_ENUM:
		return "ENUM"
	case _TYPE_SET:
		return "SET"
	case _TYPE_TINY_BLOB, _TYPE_MEDIUM_BLOB, _TYPE_LONG_BLOB, _TYPE_BLOB:
		if col.binary() {
			return "BLOB"
		}
		return "TEXT"
	case _TYPE_VARCHAR, _TYPE_VARSTRING:
		if col.binary() {
			return "VARBINARY"
		}
		return "VARCHAR"
	case _TYPE_STRING:
		if col.binary() {
			return "BINARY"
		}
		return "CHAR"
	case _TYPE_GEOMETRY:
		return "GEOMETRY"
	case _TYPE_OB_CURSOR:
		return "REF CURSOR"
	case _TYPE_OB_TIMESTAMP_TZ:
		return "TIMESTAMP WITH TIME ZONE"
	case _TYPE_OB_TIMESTAMP_LTZ:
		return "TIMESTAMP WITH LOCAL TIME ZONE"
	case _TYPE_OB_TIMESTAMP_NANO:
		return "TIMESTAMP"
	case _TYPE_OB_RAW:
		return "RAW"
	case _TYPE_OB_INTERVAL_YM:
		return "INTERVAL YEAR TO MONTH"
	case _TYPE_OB_INTERVAL_DS:
		return "INTERVAL DAY TO SECOND"
	case _TYPE_OB_NUMBER_FLOAT:
		return "NUMBER"
	case _TYPE_OB_NVARCHAR2:
		return "NVARCHAR2"
	case _TYPE_OB_NCHAR:
		return "NCHAR"
	case _TYPE_OB_UROWID:
		return "UROWID"
	case _TYPE_OB_ORA_BLOB:
		return "BLOB"
	case _TYPE_OB_ORA_CLOB:
		return "CLOB"
	}
	return "UNKNOWN"
}

// charsetOf returns the charset a string column is decoded with.
func (c *Conn) charsetOf(col *columnDefinition) *charset.Charset {
	switch col.columnType {
	case _TYPE_OB_NVARCHAR2, _TYPE_OB_NCHAR:
		return c.nenc
	}
	return c.enc
}

// <!-- text protocol values -->

// textValue converts the text protocol representation of a column value.
func (c *Conn) textValue(col *columnDefinition, b []byte) (interface{}, error) {
	switch col.columnType {
	case _TYPE_TINY, _TYPE_SHORT, _TYPE_LONG, _TYPE_INT24, _TYPE_LONG_LONG:
		if col.unsigned() {
			u, err := strconv.ParseUint(string(b), 10, 64)
			if err != nil {
				return nil, myError(ErrConversion, string(b), "integer")
			}
			if u > math.MaxInt64 {
				return u, nil
			}
			return int64(u), nil
		}
		i, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return nil, myError(ErrConversion, string(b), "integer")
		}
		return i, nil

	case _TYPE_YEAR:
		y, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return nil, myError(ErrConversion, string(b), "year")
		}
		return c.yearValue(y), nil

	case _TYPE_FLOAT:
		f, err := strconv.ParseFloat(string(b), 32)
		if err != nil {
			return nil, myError(ErrConversion, string(b), "float")
		}
		return f, nil

	case _TYPE_DOUBLE:
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return nil, myError(ErrConversion, string(b), "double")
		}
		return f, nil

	case _TYPE_DECIMAL, _TYPE_NEW_DECIMAL, _TYPE_OB_NUMBER_FLOAT:
		return string(b), nil

	case _TYPE_DATE, _TYPE_NEW_DATE, _TYPE_DATETIME, _TYPE_TIMESTAMP,
		_TYPE_DATETIME2, _TYPE_TIMESTAMP2, _TYPE_OB_TIMESTAMP_NANO:
		return parseDateTime(string(b), c.loc)

	case _TYPE_OB_TIMESTAMP_LTZ:
		t, err := parseDateTime(string(b), c.loc)
		if err != nil {
			return nil, err
		}
		return TimestampLTZ{Time: t}, nil

	case _TYPE_OB_TIMESTAMP_TZ:
		t, err := parseTimestampTZ(string(b))
		if err != nil {
			return nil, err
		}
		return TimestampTZ{Time: t}, nil

	case _TYPE_TIME, _TYPE_TIME2:
		return parseDuration(string(b))

	case _TYPE_BIT, _TYPE_GEOMETRY, _TYPE_OB_RAW, _TYPE_OB_ORA_BLOB:
		return copyBytes(b), nil
	}

	if col.binary() {
		return copyBytes(b), nil
	}
	return c.charsetOf(col).Decode(b), nil
}

func (c *Conn) yearValue(y int64) interface{} {
	if c.opts.YearIsDateType {
		return time.Date(int(y), time.January, 1, 0, 0, 0, 0, c.loc)
	}
	return y
}

func copyBytes(b []byte) []byte {
	v := make([]byte, len(b))
	copy(v, b)
	return v
}

// <!-- binary protocol values -->

// binaryValue decodes the binary protocol representation of a column value
// and returns the number of bytes consumed.
func (c *Conn) binaryValue(col *columnDefinition, b []byte) (v interface{}, n int, err error) {
	defer func() {
		// a short row surfaces as a malformed packet
		if r := recover(); r != nil {
			v, n, err = nil, 0, myError(ErrInvalidPacket)
		}
	}()

	switch col.columnType {
	case _TYPE_TINY:
		if col.unsigned() {
			return int64(b[0]), 1, nil
		}
		return int64(int8(b[0])), 1, nil

	case _TYPE_SHORT:
		if col.unsigned() {
			return int64(parseUint16(b)), 2, nil
		}
		return int64(int16(parseUint16(b))), 2, nil

	case _TYPE_YEAR:
		return c.yearValue(int64(parseUint16(b))), 2, nil

	case _TYPE_LONG, _TYPE_INT24:
		if col.unsigned() {
			return int64(parseUint32(b)), 4, nil
		}
		return int64(int32(parseUint32(b))), 4, nil

	case _TYPE_LONG_LONG:
		u := parseUint64(b)
		if col.unsigned() && u > math.MaxInt64 {
			return u, 8, nil
		}
		return int64(u), 8, nil

	case _TYPE_FLOAT:
		f := parseFloat(b)
		// keep the shortest decimal form of the single precision value
		d, _ := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
		return d, 4, nil

	case _TYPE_DOUBLE:
		return parseDouble(b), 8, nil

	case _TYPE_DATE, _TYPE_NEW_DATE, _TYPE_DATETIME, _TYPE_TIMESTAMP,
		_TYPE_DATETIME2, _TYPE_TIMESTAMP2:
		t, n := parseDate(b, c.loc)
		return t, n, nil

	case _TYPE_TIME, _TYPE_TIME2:
		d, n := parseTime(b)
		return d, n, nil

	case _TYPE_OB_TIMESTAMP_NANO:
		t, n := parseOBTimestamp(b, c.loc)
		return t, n, nil

	case _TYPE_OB_TIMESTAMP_LTZ:
		t, n := parseOBTimestamp(b, c.loc)
		return TimestampLTZ{Time: t}, n, nil

	case _TYPE_OB_TIMESTAMP_TZ:
		t, n := parseOBTimestamp(b, nil)
		return TimestampTZ{Time: t}, n, nil

	case _TYPE_OB_CURSOR:
		return refCursor{id: parseUint32(b)}, 4, nil

	case _TYPE_NULL:
		return nil, 0, nil
	}

	raw, isNull, n := getLenencBytes(b)
	if isNull {
		return nil, n, nil
	}
	if n > len(b) || (raw == nil && n > 1) {
		return nil, 0, myError(ErrInvalidPacket)
	}

	switch col.columnType {
	case _TYPE_DECIMAL, _TYPE_NEW_DECIMAL, _TYPE_OB_NUMBER_FLOAT:
		return string(raw), n, nil
	case _TYPE_BIT, _TYPE_GEOMETRY, _TYPE_OB_RAW, _TYPE_OB_ORA_BLOB:
		return copyBytes(raw), n, nil
	}

	if col.binary() {
		return copyBytes(raw), n, nil
	}
	return c.charsetOf(col).Decode(raw), n, nil
}

func parseUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b[:8])
}

func parseUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[:4])
}

func parseUint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b[:2])
}

func parseDouble(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:8]))
}

func parseFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:4]))
}

// parseDate decodes a binary DATE/DATETIME/TIMESTAMP value in loc.
func parseDate(b []byte, loc *time.Location) (time.Time, int) {
	var (
		year, day, hour, min, sec, usec int
		month                           time.Month
		off                             int
	)

	length := b[off]
	off++

	if length == 0 {
		return time.Time{}, off
	}

	if length >= 4 {
		year = int(binary.LittleEndian.Uint16(b[off : off+2]))
		off += 2
		month = time.Month(b[off])
		off++
		day = int(b[off])
		off++
	}

	if length >= 7 {
		hour = int(b[off])
		off++
		min = int(b[off])
		off++
		sec = int(b[off])
		off++
	}

	if length == 11 {
		usec = int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
	}

	if year == 0 && month == 0 && day == 0 {
		return time.Time{}, off
	}
	return time.Date(year, month, day, hour, min, sec, usec*1000, loc), off
}

// parseTime decodes a binary TIME value.
func parseTime(b []byte) (time.Duration, int) {
	var (
		duration time.Duration
		neg      bool
		off      int
	)

	length := b[off]
	off++

	if length >= 8 {
		neg = b[off] == 1
		off++

		duration += time.Duration(binary.LittleEndian.Uint32(b[off:off+4])) *
			24 * time.Hour
		off += 4
		duration += time.Duration(b[off]) * time.Hour
		off++
		duration += time.Duration(b[off]) * time.Minute
		off++
		duration += time.Duration(b[off]) * time.Second
		off++
	}

	if length == 12 {
		duration += time.Duration(binary.LittleEndian.Uint32(b[off:off+4])) *
			time.Microsecond
		off += 4
	}

	if neg {
		duration = -duration
	}
	return duration, off
}

// parseOBTimestamp decodes the binary form of the oracle mode timestamps:
//
//	len(1) year(2) month(1) day(1) hour(1) min(1) sec(1) nanos(4) scale(1)
//	[tz_offset_minutes(2) tz_name(lenenc)]
//
// The zone part is present for TIMESTAMP WITH TIME ZONE only; a nil loc
// selects it.
func parseOBTimestamp(b []byte, loc *time.Location) (time.Time, int) {
	length := int(b[0])
	off := 1

	if length < 12 {
		return time.Time{}, 1 + length
	}

	year := int(binary.LittleEndian.Uint16(b[off : off+2]))
	month := time.Month(b[off+2])
	day := int(b[off+3])
	hour := int(b[off+4])
	min := int(b[off+5])
	sec := int(b[off+6])
	nanos := int(binary.LittleEndian.Uint32(b[off+7 : off+11]))
	off += 12 // including the scale

	if loc == nil {
		loc = time.UTC
		if length > 12 {
			secs := int(int16(binary.LittleEndian.Uint16(b[off:off+2]))) * 60
			loc = time.FixedZone(time.Unix(0, 0).In(time.FixedZone("", secs)).Format("-07:00"), secs)
			if name, _, _ := getLenencBytes(b[off+2:]); len(name) > 0 {
				if l, err := time.LoadLocation(string(name)); err == nil {
					loc = l
				}
			}
		}
	}

	return time.Date(year, month, day, hour, min, sec, nanos, loc), 1 + length
}

// appendOBTimestamp is the counterpart of parseOBTimestamp; withZone selects
// the TIMESTAMP WITH TIME ZONE form.
func appendOBTimestamp(b []byte, t time.Time, withZone bool) []byte {
	var name string

	length := 12
	if withZone {
		name = t.Location().String()
		if _, err := time.LoadLocation(name); err != nil || name == "Local" || name == "" {
			name = ""
		}
		length += 2 + lenencIntSize(len(name)) + len(name)
	}

	b = append(b, byte(length))
	b = binary.LittleEndian.AppendUint16(b, uint16(t.Year()))
	b = append(b, byte(t.Month()), byte(t.Day()), byte(t.Hour()), byte(t.Minute()), byte(t.Second()))
	b = binary.LittleEndian.AppendUint32(b, uint32(t.Nanosecond()))
	b = append(b, 9) // scale

	if withZone {
		_, secs := t.Zone()
		b = binary.LittleEndian.AppendUint16(b, uint16(int16(secs/60)))
		b = appendLenencString(b, name)
	}
	return b
}

// appendDate appends the binary DATETIME form of v.
func appendDate(b []byte, v time.Time) []byte {
	var length uint8

	year, month, day := v.Date()
	hour, min, sec := v.Clock()
	usec := uint32(v.Nanosecond() / 1000)

	switch {
	case v.IsZero():
		return append(b, 0)
	case hour == 0 && min == 0 && sec == 0 && usec == 0:
		length = 4
	case usec == 0:
		length = 7
	default:
		length = 11
	}

	b = append(b, length)
	b = binary.LittleEndian.AppendUint16(b, uint16(year))
	b = append(b, byte(month), byte(day))

	if length >= 7 {
		b = append(b, byte(hour), byte(min), byte(sec))
	}

	if length == 11 {
		b = binary.LittleEndian.AppendUint32(b, usec)
	}
	return b
}

// appendTime appends the binary TIME form of v.
func appendTime(b []byte, v time.Duration) []byte {
	var neg uint8

	if v < 0 {
		neg = 1
		v = -v
	}

	days := uint32(v / (24 * time.Hour))
	v %= 24 * time.Hour

	hours := uint8(v / time.Hour)
	v %= time.Hour

	mins := uint8(v / time.Minute)
	v %= time.Minute

	secs := uint8(v / time.Second)
	v %= time.Second

	usecs := uint32(v / time.Microsecond)

	if days == 0 && hours == 0 && mins == 0 && secs == 0 && usecs == 0 {
		return append(b, 0)
	}

	length := uint8(8)
	if usecs != 0 {
		length = 12
	}

	b = append(b, length, neg)
	b = binary.LittleEndian.AppendUint32(b, days)
	b = append(b, hours, mins, secs)

	if length == 12 {
		b = binary.LittleEndian.AppendUint32(b, usecs)
	}
	return b
}
