package oceanbase

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertInt64(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int64
	}{
		{nil, 0},
		{int64(-5), -5},
		{uint64(7), 7},
		{float64(3.9), 3},
		{"42", 42},
		{[]byte(" 12.75 "), 12},
		{"-3.5", -3},
		{true, 1},
	}
	for _, tc := range cases {
		got, err := convertInt64(tc.in)
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}

	for _, in := range []interface{}{"abc", uint64(1 << 63), "99999999999999999999", time.Now(), time.Second} {
		_, err := convertInt64(in)
		assert.True(t, IsErrorCode(err, ErrConversion), "%v", in)
	}
}

func TestConvertBool(t *testing.T) {
	for in, want := range map[interface{}]bool{
		"true": true, "Y": true, "yes": true, "0": false, "2.5": true,
		"no": false, "": false, int64(0): false, int64(-1): true, float64(0.1): true,
	} {
		got, err := convertBool(in)
		require.NoError(t, err, "%v", in)
		assert.Equal(t, want, got, "%v", in)
	}

	got, err := convertBool([]byte{1})
	require.NoError(t, err)
	assert.True(t, got)

	_, err = convertBool("maybe")
	assert.True(t, IsErrorCode(err, ErrConversion))
}

func TestConvertString(t *testing.T) {
	s, err := convertString(float64(0.1), &columnDefinition{columnType: _TYPE_DOUBLE})
	require.NoError(t, err)
	assert.Equal(t, "0.1", s)

	s, err = convertString(float64(float32(0.1)), &columnDefinition{columnType: _TYPE_FLOAT})
	require.NoError(t, err)
	assert.Equal(t, "0.1", s)

	day := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	s, err = convertString(day, &columnDefinition{columnType: _TYPE_DATE})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", s)

	s, err = convertString(day.Add(1500*time.Millisecond), &columnDefinition{columnType: _TYPE_DATETIME})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29 00:00:01.5", s)

	s, err = convertString(-(25*time.Hour + 90*time.Second), nil)
	require.NoError(t, err)
	assert.Equal(t, "-25:01:30", s)

	s, err = convertString(big.NewRat(-5, 4), nil)
	require.NoError(t, err)
	assert.Equal(t, "-1.25", s)

	s, err = convertString(int64(12), nil)
	require.NoError(t, err)
	assert.Equal(t, "12", s)
}

func TestConvertDecimal(t *testing.T) {
	r, err := convertDecimal("123.4500")
	require.NoError(t, err)
	assert.Equal(t, "123.45", decimalString(r))

	r, err = convertDecimal(float64(0.1))
	require.NoError(t, err)
	assert.Zero(t, r.Cmp(big.NewRat(1, 10)))

	r, err = convertDecimal(uint64(18446744073709551615))
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", decimalString(r))

	r, err = convertDecimal(nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = convertDecimal("1e")
	assert.True(t, IsErrorCode(err, ErrConversion))
}

func TestConvertTime(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)

	got, err := convertTime("2024-01-02 03:04:05.123", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 123000000, loc)))

	got, err = convertTime("0000-00-00 00:00:00", loc)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = convertTime(int64(2021), loc)
	require.NoError(t, err)
	assert.Equal(t, 2021, got.Year())

	_, err = convertTime(float64(1), loc)
	assert.True(t, IsErrorCode(err, ErrConversion))
}

func TestConvertTimestampTZ(t *testing.T) {
	tz, err := convertTimestampTZ("2024-01-02 03:04:05.5 +08:00", time.UTC)
	require.NoError(t, err)
	_, offset := tz.Time.Zone()
	assert.Equal(t, 8*3600, offset)
	assert.Equal(t, 500000000, tz.Time.Nanosecond())
	assert.Equal(t, "2024-01-02 03:04:05.5 +08:00", tz.String())

	tz, err = convertTimestampTZ("2024-01-02 03:04:05 UTC", time.Local)
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz.Time.Location().String())
}

func TestDurations(t *testing.T) {
	d, err := convertDuration("-838:59:59")
	require.NoError(t, err)
	assert.Equal(t, MinDuration, d)

	d, err = convertDuration("01:02:03.25")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3250*time.Millisecond, d)
	assert.Equal(t, "01:02:03.250000", formatDuration(d))

	d, err = convertDuration(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Hour+30*time.Minute, d)
}

func TestConvertLobs(t *testing.T) {
	b, err := convertBlob([]byte{1, 2}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.Length())

	c, err := convertClob("héllo", nil, true)
	require.NoError(t, err)
	assert.True(t, c.IsNational())
	assert.Equal(t, "héllo", c.String())

	b, err = convertBlob(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestDriverValue(t *testing.T) {
	assert.Equal(t, "00:00:05", driverValue(5*time.Second))
	assert.Equal(t, "2.5", driverValue(big.NewRat(5, 2)))
	assert.Equal(t, int64(9), driverValue(refCursor{id: 9}))

	now := time.Now()
	assert.Equal(t, now, driverValue(TimestampTZ{Time: now}))
	assert.Equal(t, "x", driverValue("x"))
}
