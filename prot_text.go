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
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

// session state change types of the OK packet
const (
	_SESSION_TRACK_SYSTEM_VARIABLES = 0x00
	_SESSION_TRACK_SCHEMA           = 0x01
)

// server error codes the driver reacts to
const (
	_ER_QUERY_INTERRUPTED      = 1317
	_ER_WARN_DATA_OUT_OF_RANGE = 1264
	_ER_WARN_DATA_TRUNCATED    = 1265
	_ER_DATA_TOO_LONG          = 1406
	_ER_XAER_NOTA              = 1397
	_ER_XAER_INVAL             = 1398
	_ER_XAER_RMFAIL            = 1399
	_ER_XAER_OUTSIDE           = 1400
	_ER_XAER_RMERR             = 1401
	_ER_XAER_DUPID             = 1440
)

// parseOkPacket parses the OK packet received from the server.
func (c *Conn) parseOkPacket(b []byte) error {
	var (
		off, n int
		v      uint64
	)

	off++ // [00] or [fe] the OK header
	v, _, n = getLenencInt(b[off:])
	c.affectedRows = v
	off += n
	v, _, n = getLenencInt(b[off:])
	c.lastInsertId = v
	off += n

	if off+4 > len(b) {
		return c.markBroken(myError(ErrInvalidPacket))
	}

	c.statusFlags = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	c.warnings = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	c.autoCommit = c.statusFlags&_SERVER_STATUS_AUTOCOMMIT != 0

	c.info = ""
	if off >= len(b) {
		return nil
	}

	if c.clientCapabilities&_CLIENT_SESSION_TRACK == 0 {
		c.info = string(b[off:])
		return nil
	}

	info, n := getLenencString(b[off:])
	c.info = info.value
	off += n

	if c.statusFlags&_SERVER_SESSION_STATE_CHANGED != 0 && off < len(b) {
		state, _, _ := getLenencBytes(b[off:])
		c.parseSessionState(state)
	}
	return nil
}

// parseSessionState applies the session state changes reported by the
// server.
func (c *Conn) parseSessionState(b []byte) {
	for off := 0; off < len(b); {
		typ := b[off]
		off++
		data, _, n := getLenencBytes(b[off:])
		if n == 0 {
			return
		}
		off += n

		switch typ {
		case _SESSION_TRACK_SYSTEM_VARIABLES:
			name, n := getLenencString(data)
			value, _ := getLenencString(data[n:])
			c.sessionVariableChanged(name.value, value.value)
		case _SESSION_TRACK_SCHEMA:
			schema, _ := getLenencString(data)
			c.schema = schema.value
			if !c.oracleMode {
				c.catalog = schema.value
			}
		}
	}
}

func (c *Conn) sessionVariableChanged(name, value string) {
	if c.sessionVars == nil {
		c.sessionVars = make(map[string]string)
	}
	c.sessionVars[name] = value

	switch name {
	case "__proxy_capability_flag":
		if flags, err := strconv.ParseUint(value, 10, 64); err == nil {
			c.serverObCapabilities = uint32(flags)
		}
	case "ob_compatibility_mode":
		c.oracleMode = strings.EqualFold(value, "ORACLE")
	case "autocommit":
		c.autoCommit = strings.EqualFold(value, "ON") || value == "1"
	case "tx_read_only", "transaction_read_only":
		c.readOnly = strings.EqualFold(value, "ON") || value == "1"
	case "tx_isolation", "transaction_isolation":
		if lvl, ok := parseIsolationLevel(value); ok {
			c.isolation = lvl
		}
	}
}

// parseErrPacket parses the ERR packet received from the server.
func (c *Conn) parseErrPacket(b []byte) *Error {
	var (
		off      int
		code     uint16
		sqlState string
	)

	off++ // [ff] the ERR header
	if off+2 > len(b) {
		return myError(ErrInvalidPacket)
	}
	code = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	if off < len(b) && b[off] == '#' && off+6 <= len(b) {
		off++ // '#' the sql-state marker
		sqlState = string(b[off : off+5])
		off += 5
	}

	e := serverError(code, sqlState, c.enc.Decode(b[off:]))

	if c.opts.JdbcCompliantTruncation {
		switch code {
		case _ER_WARN_DATA_OUT_OF_RANGE, _ER_WARN_DATA_TRUNCATED, _ER_DATA_TOO_LONG:
			e.kind = KindTruncation
		}
	}

	logger.Debugf("connection %d: server error %d (%s): %s", c.connectionId, code, sqlState, e.message)
	return e
}

// parseEOFPacket parses the EOF packet received from the server.
func (c *Conn) parseEOFPacket(b []byte) {
	var off int

	off++ // [fe] the EOF header (= _PACKET_EOF)
	if off+4 > len(b) {
		return
	}
	c.warnings = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	c.statusFlags = binary.LittleEndian.Uint16(b[off : off+2])
}

// isEOFPacket reports whether b is an EOF packet (as opposed to a row that
// happens to start with 0xfe).
func isEOFPacket(b []byte) bool {
	return len(b) > 0 && b[0] == _PACKET_EOF && len(b) < 9
}

//<!-- command phase packets -->

// createComQuery generates the COM_QUERY packet.
func (c *Conn) createComQuery(query string) []byte {
	b := make([]byte, 5, 5+len(query)+len(query)/2)

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_QUERY
	return c.enc.AppendEncode(b, query)
}

// createComInitDb generates the COM_INIT_DB packet.
func (c *Conn) createComInitDb(schema string) []byte {
	b := make([]byte, 5, 5+len(schema))

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_INIT_DB
	return c.enc.AppendEncode(b, schema)
}

// createEmptyPacket generates an empty packet.
func createEmptyPacket() []byte {
	return make([]byte, 4) // placeholder for protocol packet header
}

// readOkResponse reads the reply of a command answered with OK or ERR.
func (c *Conn) readOkResponse() error {
	b, err := c.readPacket()
	if err != nil {
		return err
	}

	switch b[0] {
	case _PACKET_OK:
		return c.parseOkPacket(b)
	case _PACKET_ERR:
		return c.parseErrPacket(b)
	}
	return c.markBroken(myError(ErrInvalidPacket))
}

// handleInfileRequest declines a LOCAL INFILE request: an empty packet ends
// the transfer and the statement fails.
func (c *Conn) handleInfileRequest(filename string) error {
	logger.Warnf("connection %d: refusing LOCAL INFILE request for %q", c.connectionId, filename)

	if err := c.writePacket(createEmptyPacket()); err != nil {
		return err
	}
	if err := c.readOkResponse(); err != nil {
		return err
	}
	return myError(ErrNotSupported, "LOAD DATA LOCAL INFILE")
}

// <!-- text protocol values -->

// textRow decodes a text protocol result set row.
func (c *Conn) textRow(b []byte, columns []*columnDefinition) ([]interface{}, error) {
	var off int

	row := make([]interface{}, len(columns))
	for i, col := range columns {
		v, isNull, n := getLenencBytes(b[off:])
		if n == 0 || (!isNull && v == nil && n > 1) {
			return nil, c.markBroken(myError(ErrInvalidPacket))
		}
		off += n

		if isNull {
			continue
		}

		value, err := c.textValue(col, v)
		if err != nil {
			return nil, err
		}
		row[i] = value
	}
	return row, nil
}

// <!-- literals -->

// appendLiteral appends the SQL literal of v to b, as used for client side
// parameter substitution and batch rewriting.
func (c *Conn) appendLiteral(b []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil, typedNull:
		return append(b, "NULL"...), nil
	case bool:
		if x {
			return append(b, '1'), nil
		}
		return append(b, '0'), nil
	case int:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int8:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int16:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int32:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int64:
		return strconv.AppendInt(b, x, 10), nil
	case uint:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint8:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint16:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint32:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint64:
		return strconv.AppendUint(b, x, 10), nil
	case float32:
		if err := checkFinite(float64(x)); err != nil {
			return nil, err
		}
		return strconv.AppendFloat(b, float64(x), 'g', -1, 32), nil
	case float64:
		if err := checkFinite(x); err != nil {
			return nil, err
		}
		return strconv.AppendFloat(b, x, 'g', -1, 64), nil
	case *big.Rat:
		return append(b, decimalString(x)...), nil
	case string:
		return c.appendQuoted(b, x), nil
	case NString:
		return c.appendQuoted(append(b, 'N'), string(x)), nil
	case []byte:
		if x == nil {
			return append(b, "NULL"...), nil
		}
		if c.oracleMode {
			b = append(b, "HEXTORAW('"...)
			b = append(b, hex.EncodeToString(x)...)
			return append(b, "')"...), nil
		}
		b = append(b, "X'"...)
		b = append(b, hex.EncodeToString(x)...)
		return append(b, '\''), nil
	case time.Time:
		s := formatTimestamp(x.In(c.loc), 6)
		if c.oracleMode {
			b = append(b, "TIMESTAMP "...)
		}
		return c.appendQuoted(b, s), nil
	case time.Duration:
		return c.appendQuoted(b, formatDuration(x)), nil
	case TimestampTZ:
		if c.oracleMode {
			b = append(b, "TIMESTAMP "...)
		}
		return c.appendQuoted(b, x.String()), nil
	case TimestampLTZ:
		if c.oracleMode {
			b = append(b, "TIMESTAMP "...)
		}
		return c.appendQuoted(b, formatTimestamp(x.Time.In(c.loc), 9)), nil
	case *Blob:
		data, err := x.Bytes(1, int(x.Length()))
		if err != nil {
			return nil, err
		}
		return c.appendLiteral(b, data)
	case *Clob:
		s, err := x.SubString(1, int(x.Length()))
		if err != nil {
			return nil, err
		}
		return c.appendLiteral(b, s)
	}
	return nil, myError(ErrInvalidType, v)
}

// appendQuoted appends s as a quoted string literal. Quotes are doubled; in
// MySQL mode backslashes and control characters are escaped as well unless
// the server runs with NO_BACKSLASH_ESCAPES.
func (c *Conn) appendQuoted(b []byte, s string) []byte {
	backslash := !c.oracleMode && c.statusFlags&_SERVER_STATUS_NO_BACKSHASH_ESCAPES == 0

	b = append(b, '\'')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\'':
			b = append(b, '\'', '\'')
		case !backslash:
			b = append(b, ch)
		case ch == '\\':
			b = append(b, '\\', '\\')
		case ch == 0:
			b = append(b, '\\', '0')
		case ch == '\n':
			b = append(b, '\\', 'n')
		case ch == '\r':
			b = append(b, '\\', 'r')
		case ch == 0x1a:
			b = append(b, '\\', 'Z')
		default:
			b = append(b, ch)
		}
	}
	return append(b, '\'')
}

// checkFinite rejects NaN and the infinities, which have no SQL numeric
// representation.
func checkFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return myError(ErrNonFiniteNumber, f)
	}
	return nil
}

// decimalString renders r in plain decimal notation.
func decimalString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(30)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
