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
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

var (
	// MaxDuration is the maximum allowable TIME value '838:59:59.000000'
	MaxDuration time.Duration = 838*time.Hour + 59*time.Minute + 59*time.Second
	// MinDuration is the minimun allowable TIME value '-838:59:59.000000'
	MinDuration time.Duration = -1 * MaxDuration
)

// SQLType identifies the expected type of an output parameter. The values
// follow the relational client type codes.
type SQLType int

const (
	TypeBit                   SQLType = -7
	TypeTinyInt               SQLType = -6
	TypeSmallInt              SQLType = 5
	TypeInteger               SQLType = 4
	TypeBigInt                SQLType = -5
	TypeFloat                 SQLType = 6
	TypeReal                  SQLType = 7
	TypeDouble                SQLType = 8
	TypeNumeric               SQLType = 2
	TypeDecimal               SQLType = 3
	TypeChar                  SQLType = 1
	TypeVarchar               SQLType = 12
	TypeNChar                 SQLType = -15
	TypeNVarchar              SQLType = -9
	TypeDate                  SQLType = 91
	TypeTime                  SQLType = 92
	TypeTimestamp             SQLType = 93
	TypeTimestampWithTimezone SQLType = 2014
	TypeBinary                SQLType = -2
	TypeVarBinary             SQLType = -3
	TypeBoolean               SQLType = 16
	TypeBlob                  SQLType = 2004
	TypeClob                  SQLType = 2005
	TypeNClob                 SQLType = 2011
	TypeRefCursor             SQLType = -10
	TypeOther                 SQLType = 1111
)

// wireType returns the protocol type used to bind a NULL placeholder for an
// output parameter of type t.
func (t SQLType) wireType() uint8 {
	switch t {
	case TypeBit, TypeTinyInt, TypeBoolean:
		return _TYPE_TINY
	case TypeSmallInt:
		return _TYPE_SHORT
	case TypeInteger:
		return _TYPE_LONG
	case TypeBigInt:
		return _TYPE_LONG_LONG
	case TypeFloat, TypeReal:
		return _TYPE_FLOAT
	case TypeDouble:
		return _TYPE_DOUBLE
	case TypeNumeric, TypeDecimal:
		return _TYPE_NEW_DECIMAL
	case TypeDate:
		return _TYPE_DATE
	case TypeTime:
		return _TYPE_TIME
	case TypeTimestamp:
		return _TYPE_DATETIME
	case TypeTimestampWithTimezone:
		return _TYPE_OB_TIMESTAMP_TZ
	case TypeBinary, TypeVarBinary, TypeBlob:
		return _TYPE_BLOB
	case TypeNChar, TypeNVarchar:
		return _TYPE_OB_NVARCHAR2
	case TypeRefCursor:
		return _TYPE_OB_CURSOR
	}
	return _TYPE_VARSTRING
}

// TimestampTZ is a TIMESTAMP WITH TIME ZONE value. Time carries the instant
// and the zone it was written in.
type TimestampTZ struct {
	Time time.Time
}

// TimestampLTZ is a TIMESTAMP WITH LOCAL TIME ZONE value; the server stores
// it normalized and presents it in the session time zone.
type TimestampLTZ struct {
	Time time.Time
}

func (t TimestampTZ) String() string {
	return formatTimestamp(t.Time, 9) + " " + zoneName(t.Time)
}

func (t TimestampLTZ) String() string {
	return formatTimestamp(t.Time, 9)
}

// Value implements the driver's Valuer interface.
func (t TimestampTZ) Value() (driver.Value, error) {
	return t.String(), nil
}

// Value implements the driver's Valuer interface.
func (t TimestampLTZ) Value() (driver.Value, error) {
	return t.Time, nil
}

// NString marks a string parameter bound as a national character value; it
// is encoded with the nCharacterEncoding charset.
type NString string

// NullTime represents a Time type the may be null.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements the scanner interface.
func (nt *NullTime) Scan(value interface{}) error {
	if value == nil {
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	}

	switch v := value.(type) {
	case time.Time:
		nt.Time, nt.Valid = v, true
	case string:
		t, err := parseDateTime(v, time.UTC)
		if err != nil {
			return err
		}
		nt.Time, nt.Valid = t, true
	case []byte:
		return nt.Scan(string(v))
	default:
		return myError(ErrConversion, value, "time.Time")
	}
	return nil
}

// Value implements the driver's Valuer interface.
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Time, nil
}

type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// Scan implements the scanner interface.
func (nd *NullDuration) Scan(value interface{}) error {
	var err error

	if value == nil {
		nd.Duration, nd.Valid = 0, false
		return nil
	}

	switch v := value.(type) {
	case string:
		if nd.Duration, err = parseDuration(v); err != nil {
			nd.Duration, nd.Valid = 0, false
			return err
		}
		nd.Valid = true

	case []byte:
		return nd.Scan(string(v))

	case int64:
		nd.Duration, nd.Valid = time.Duration(v), true

	default:
		return myError(ErrConversion, value, "time.Duration")
	}

	return nil
}

// Value implements the driver's Valuer interface.
func (nd NullDuration) Value() (driver.Value, error) {
	if !nd.Valid {
		return nil, nil
	}
	return formatDuration(nd.Duration), nil
}

// parseDuration parses the input specified in TIME format ([-]HHH:MM:SS[.f])
// into time.Duration.
func parseDuration(s string) (time.Duration, error) {
	var (
		d   time.Duration
		neg bool
	)

	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	v := strings.Split(s, ":")
	switch len(v) {
	case 3:
		if secs, err := strconv.ParseFloat(v[2], 64); err != nil {
			return 0, myError(ErrInvalidType, err)
		} else {
			d += time.Duration(secs*1000000) * time.Microsecond
		}
		fallthrough
	case 2:
		if mins, err := strconv.ParseInt(v[1], 10, 64); err != nil {
			return 0, myError(ErrInvalidType, err)
		} else {
			d += time.Duration(mins) * time.Minute
		}
		fallthrough
	case 1:
		if hours, err := strconv.ParseInt(v[0], 10, 64); err != nil {
			return 0, myError(ErrInvalidType, err)
		} else {
			d += time.Duration(hours) * time.Hour
		}
	default:
	}

	if neg {
		d = -d
	}
	return d, nil
}

// formatDuration formats the specified time.Duration in TIME format.
func formatDuration(d time.Duration) string {
	var neg string

	if d < 0 {
		neg = "-"
		d *= -1
	}

	hours := int(d / time.Hour)
	d %= time.Hour

	mins := int(d / time.Minute)
	d %= time.Minute

	secs := int(d / time.Second)
	d %= time.Second

	if d == 0 {
		return fmt.Sprintf("%s%02d:%02d:%02d", neg, hours, mins, secs)
	}
	return fmt.Sprintf("%s%02d:%02d:%02d.%06d", neg, hours, mins, secs, d/time.Microsecond)
}

// formatTimestamp renders t as 'YYYY-MM-DD HH:MM:SS[.fraction]' with at most
// digits fractional digits, trailing zeros removed.
func formatTimestamp(t time.Time, digits int) string {
	s := t.Format("2006-01-02 15:04:05")
	if digits <= 0 || t.Nanosecond() == 0 {
		return s
	}

	frac := fmt.Sprintf("%09d", t.Nanosecond())[:digits]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return s
	}
	return s + "." + frac
}

// zoneName returns the region name of t's location, or its numeric offset
// when the location has no usable name.
func zoneName(t time.Time) string {
	name := t.Location().String()
	if name != "" && name != "Local" && !strings.HasPrefix(name, "+") && !strings.HasPrefix(name, "-") {
		return name
	}
	return t.Format("-07:00")
}

// parseDateTime parses DATE, DATETIME and TIMESTAMP text in loc. Zero dates
// yield the zero time.Time.
func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	if strings.HasPrefix(s, "0000-00-00") {
		return time.Time{}, nil
	}

	layout := "2006-01-02"
	switch {
	case len(s) > 19:
		layout = "2006-01-02 15:04:05.999999999"
	case len(s) > 10:
		layout = "2006-01-02 15:04:05"
	}

	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, myError(ErrConversion, s, "time.Time")
	}
	return t, nil
}

// parseTimestampTZ parses 'YYYY-MM-DD HH:MM:SS[.f] <zone>' where zone is a
// numeric offset or a region name.
func parseTimestampTZ(s string) (time.Time, error) {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 || i < 10 {
		return parseDateTime(s, time.UTC)
	}

	stamp, zone := s[:i], s[i+1:]

	var loc *time.Location
	if strings.HasPrefix(zone, "+") || strings.HasPrefix(zone, "-") {
		off, err := time.Parse("-07:00", zone)
		if err != nil {
			return time.Time{}, myError(ErrConversion, s, "TimestampTZ")
		}
		_, secs := off.Zone()
		loc = time.FixedZone(zone, secs)
	} else {
		var err error
		if loc, err = time.LoadLocation(zone); err != nil {
			return time.Time{}, myError(ErrConversion, s, "TimestampTZ")
		}
	}
	return parseDateTime(stamp, loc)
}

// parseDecimal converts DECIMAL/NUMBER text into a big.Rat.
func parseDecimal(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, myError(ErrConversion, s, "decimal")
	}
	return r, nil
}

// refCursor is the decoded value of a REF CURSOR output parameter.
type refCursor struct {
	id uint32
}

// defaultParameterConverter keeps the value types the codec binds natively
// and falls back to the database/sql conversions for the rest.
var defaultParameterConverter parameterConverter

type parameterConverter struct{}

func (parameterConverter) ConvertValue(v interface{}) (driver.Value, error) {
	switch s := v.(type) {
	case NullTime:
		if !s.Valid {
			return nil, nil
		}
		return s.Time, nil
	case NullDuration:
		if !s.Valid {
			return nil, nil
		}
		return s.Duration, nil
	case time.Duration, TimestampTZ, TimestampLTZ, NString, *big.Rat,
		*Blob, *Clob, float32, float64, uint64, uint32, uint, int, int32:
		return s, nil
	default:
		return driver.DefaultParameterConverter.ConvertValue(v)
	}
}
