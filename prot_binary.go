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
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// typedNull is a NULL bound with an explicit type.
type typedNull struct {
	sqlType SQLType
}

const _PARAM_UNSIGNED = 0x8000

// createComStmtPrepare generates the COM_STMT_PREPARE packet.
func (c *Conn) createComStmtPrepare(query string) []byte {
	b := make([]byte, 5, 5+len(query))

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_STMT_PREPARE
	return c.enc.AppendEncode(b, query)
}

// createComStmtExecute generates the COM_STMT_EXECUTE packet.
func (c *Conn) createComStmtExecute(id uint32, flags uint8, args []interface{}) ([]byte, error) {
	b := make([]byte, 5, 64)

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_STMT_EXECUTE
	b = binary.LittleEndian.AppendUint32(b, id)
	b = append(b, flags)
	b = binary.LittleEndian.AppendUint32(b, 1) // iteration count

	return c.appendParams(b, args)
}

// appendParams appends the null bitmap, the new-params-bound flag, the
// parameter types and the parameter values.
func (c *Conn) appendParams(b []byte, args []interface{}) ([]byte, error) {
	if len(args) == 0 {
		return b, nil
	}

	nullBitmapOff := len(b)
	b = append(b, make([]byte, (len(args)+7)/8)...)

	b = append(b, 1) // new-params-bound flag

	typesOff := len(b)
	b = append(b, make([]byte, 2*len(args))...)

	for i, arg := range args {
		typ, isNull, out, err := c.appendBinaryParam(b, arg)
		if err != nil {
			return nil, err
		}
		b = out

		binary.LittleEndian.PutUint16(b[typesOff+2*i:], typ)
		if isNull {
			b[nullBitmapOff+i/8] |= 1 << uint(i%8)
		}
	}
	return b, nil
}

// appendBinaryParam appends the binary protocol value of v to b and returns
// the parameter type.
func (c *Conn) appendBinaryParam(b []byte, v interface{}) (typ uint16, isNull bool, out []byte, err error) {
	switch x := v.(type) {
	case nil:
		return _TYPE_NULL, true, b, nil
	case typedNull:
		return uint16(x.sqlType.wireType()), true, b, nil
	case bool:
		var n byte
		if x {
			n = 1
		}
		return _TYPE_TINY, false, append(b, n), nil
	case int:
		return _TYPE_LONG_LONG, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case int8:
		return _TYPE_LONG_LONG, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case int16:
		return _TYPE_LONG_LONG, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case int32:
		return _TYPE_LONG_LONG, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case int64:
		return _TYPE_LONG_LONG, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case uint:
		return _TYPE_LONG_LONG | _PARAM_UNSIGNED, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case uint8:
		return _TYPE_LONG_LONG | _PARAM_UNSIGNED, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case uint16:
		return _TYPE_LONG_LONG | _PARAM_UNSIGNED, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case uint32:
		return _TYPE_LONG_LONG | _PARAM_UNSIGNED, false, binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case uint64:
		return _TYPE_LONG_LONG | _PARAM_UNSIGNED, false, binary.LittleEndian.AppendUint64(b, x), nil
	case float32:
		if err = checkFinite(float64(x)); err != nil {
			return 0, false, nil, err
		}
		return _TYPE_FLOAT, false, binary.LittleEndian.AppendUint32(b, math.Float32bits(x)), nil
	case float64:
		if err = checkFinite(x); err != nil {
			return 0, false, nil, err
		}
		return _TYPE_DOUBLE, false, binary.LittleEndian.AppendUint64(b, math.Float64bits(x)), nil
	case *big.Rat:
		if x == nil {
			return _TYPE_NEW_DECIMAL, true, b, nil
		}
		return _TYPE_NEW_DECIMAL, false, appendLenencString(b, decimalString(x)), nil
	case string:
		return _TYPE_VARSTRING, false, appendLenencBytes(b, c.enc.Encode(x)), nil
	case NString:
		typ = _TYPE_VARSTRING
		if c.oracleMode {
			typ = _TYPE_OB_NVARCHAR2
		}
		return typ, false, appendLenencBytes(b, c.nenc.Encode(string(x))), nil
	case []byte:
		if x == nil {
			return _TYPE_BLOB, true, b, nil
		}
		return _TYPE_BLOB, false, appendLenencBytes(b, x), nil
	case time.Time:
		return _TYPE_DATETIME, false, appendDate(b, x.In(c.loc)), nil
	case time.Duration:
		return _TYPE_TIME, false, appendTime(b, x), nil
	case TimestampTZ:
		if !c.oracleMode {
			return _TYPE_DATETIME, false, appendDate(b, x.Time.In(c.loc)), nil
		}
		return _TYPE_OB_TIMESTAMP_TZ, false, appendOBTimestamp(b, x.Time, true), nil
	case TimestampLTZ:
		if !c.oracleMode {
			return _TYPE_DATETIME, false, appendDate(b, x.Time.In(c.loc)), nil
		}
		return _TYPE_OB_TIMESTAMP_LTZ, false, appendOBTimestamp(b, x.Time.In(c.loc), false), nil
	case *Blob:
		data, err := x.Bytes(1, int(x.Length()))
		if err != nil {
			return 0, false, nil, err
		}
		typ = _TYPE_BLOB
		if c.oracleMode {
			typ = _TYPE_OB_ORA_BLOB
		}
		return typ, false, appendLenencBytes(b, data), nil
	case *Clob:
		s, err := x.SubString(1, int(x.Length()))
		if err != nil {
			return 0, false, nil, err
		}
		cs := c.enc
		if x.national {
			cs = c.nenc
		}
		typ = _TYPE_VARSTRING
		if c.oracleMode {
			typ = _TYPE_OB_ORA_CLOB
		}
		return typ, false, appendLenencBytes(b, cs.Encode(s)), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return 0, false, nil, err
		}
		return c.appendBinaryParam(b, dv)
	}
	return 0, false, nil, myError(ErrInvalidType, v)
}

// createComStmtPrepareExecute generates the COM_STMT_PREPARE_EXECUTE packet
// which prepares (when id is 0) and executes a statement in one round trip:
//
//	[a1] stmt_id(4) flags(1) iteration_count(4) query(lenenc) param_count(4)
//	<params as in COM_STMT_EXECUTE> execute_mode(4) close_stmt_count(4)
//	checksum(4) extend_flag(4)
func (c *Conn) createComStmtPrepareExecute(id uint32, query string, args []interface{}, checksum uint32) ([]byte, error) {
	var err error

	b := make([]byte, 5, 64+len(query))

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_STMT_PREPARE_EXECUTE
	b = binary.LittleEndian.AppendUint32(b, id)
	b = append(b, _CURSOR_TYPE_NO_CURSOR)
	b = binary.LittleEndian.AppendUint32(b, 1)
	if id == 0 {
		b = appendLenencBytes(b, c.enc.Encode(query))
	} else {
		b = appendLenencInt(b, 0)
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(len(args)))

	if b, err = c.appendParams(b, args); err != nil {
		return nil, err
	}

	b = binary.LittleEndian.AppendUint32(b, 0) // execute mode
	b = binary.LittleEndian.AppendUint32(b, 0) // statements to close
	b = binary.LittleEndian.AppendUint32(b, checksum)
	b = binary.LittleEndian.AppendUint32(b, 0) // extend flag
	return b, nil
}

// createComStmtFetch generates the COM_STMT_FETCH packet.
func createComStmtFetch(id uint32, rows uint32) []byte {
	b := make([]byte, 5, 13)

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_STMT_FETCH
	b = binary.LittleEndian.AppendUint32(b, id)
	return binary.LittleEndian.AppendUint32(b, rows)
}

// createComStmtClose generates the COM_STMT_CLOSE packet.
func createComStmtClose(id uint32) []byte {
	b := make([]byte, 5, 9)

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_STMT_CLOSE
	return binary.LittleEndian.AppendUint32(b, id)
}

// createComStmtReset generates the COM_STMT_RESET packet.
func createComStmtReset(id uint32) []byte {
	b := make([]byte, 5, 9)

	// 4 bytes: placeholder for protocol packet header
	b[4] = _COM_STMT_RESET
	return binary.LittleEndian.AppendUint32(b, id)
}

// stmtPrepareOk carries the COM_STMT_PREPARE_OK fields.
type stmtPrepareOk struct {
	id          uint32
	columnCount uint16
	paramCount  uint16
	warnings    uint16
}

// parseStmtPrepareOkPacket parses COM_STMT_PREPARE_OK packet.
func parseStmtPrepareOkPacket(b []byte) (stmtPrepareOk, error) {
	var (
		ok  stmtPrepareOk
		off int
	)

	if len(b) < 12 {
		return ok, myError(ErrInvalidPacket)
	}

	off++ // [00] OK
	ok.id = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	ok.columnCount = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	ok.paramCount = binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	off++ // reserved [00] filler
	ok.warnings = binary.LittleEndian.Uint16(b[off : off+2])
	return ok, nil
}

// stmtPrepareExecuteOk carries the fields of the first packet of a
// COM_STMT_PREPARE_EXECUTE response:
//
//	[00] stmt_id(4) column_count(2) param_count(2) filler(1) warnings(2)
//	extend_flag(4) has_result_set(1)
type stmtPrepareExecuteOk struct {
	stmtPrepareOk
	extendFlag   uint32
	hasResultSet bool
}

func parseStmtPrepareExecuteOkPacket(b []byte) (stmtPrepareExecuteOk, error) {
	var ok stmtPrepareExecuteOk

	if len(b) < 17 {
		return ok, myError(ErrInvalidPacket)
	}

	var err error
	if ok.stmtPrepareOk, err = parseStmtPrepareOkPacket(b); err != nil {
		return ok, err
	}
	ok.extendFlag = binary.LittleEndian.Uint32(b[12:16])
	ok.hasResultSet = b[16] != 0
	return ok, nil
}

// readDefinitions reads count column definition packets followed by an EOF
// packet.
func (c *Conn) readDefinitions(count int) ([]*columnDefinition, error) {
	defs := make([]*columnDefinition, 0, count)

	for i := 0; i < count; i++ {
		b, err := c.readPacket()
		if err != nil {
			return nil, err
		}
		col, err := parseColumnDefinitionPacket(b, c.enc)
		if err != nil {
			return nil, c.markBroken(err)
		}
		defs = append(defs, col)
	}

	if count > 0 {
		b, err := c.readPacket()
		if err != nil {
			return nil, err
		}
		if !isEOFPacket(b) {
			return nil, c.markBroken(myError(ErrInvalidPacket))
		}
		c.parseEOFPacket(b)
	}
	return defs, nil
}

// handleStmtPrepare handles COM_STMT_PREPARE and related packets.
func (c *Conn) handleStmtPrepare(query string) (*serverStmt, error) {
	if err := c.beginCommand(); err != nil {
		return nil, err
	}

	// write COM_STMT_PREPARE packet
	metrics.CommandsSent(commandName(_COM_STMT_PREPARE))
	if err := c.writePacket(c.createComStmtPrepare(query)); err != nil {
		return nil, err
	}

	b, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	switch b[0] {
	case _PACKET_OK: // COM_STMT_PREPARE_OK packet
	case _PACKET_ERR:
		return nil, c.parseErrPacket(b)
	default:
		return nil, c.markBroken(myError(ErrInvalidPacket))
	}

	ok, err := parseStmtPrepareOkPacket(b)
	if err != nil {
		return nil, c.markBroken(err)
	}

	s := &serverStmt{id: ok.id, query: query, paramCount: int(ok.paramCount)}

	// parameter definition block
	if s.params, err = c.readDefinitions(int(ok.paramCount)); err != nil {
		return nil, err
	}

	// column definition block
	if s.columns, err = c.readDefinitions(int(ok.columnCount)); err != nil {
		return nil, err
	}

	s.checksum = s.computeChecksum()
	return s, nil
}

// handleStmtClose sends COM_STMT_CLOSE; the server does not reply.
func (c *Conn) handleStmtClose(id uint32) error {
	c.resetSeqno()
	metrics.CommandsSent(commandName(_COM_STMT_CLOSE))
	return c.writePacket(createComStmtClose(id))
}

// handleStmtReset sends COM_STMT_RESET, which closes an open cursor.
func (c *Conn) handleStmtReset(id uint32) error {
	if err := c.beginCommand(); err != nil {
		return err
	}
	metrics.CommandsSent(commandName(_COM_STMT_RESET))
	if err := c.writePacket(createComStmtReset(id)); err != nil {
		return err
	}
	return c.readOkResponse()
}

// binaryRow decodes a binary protocol result set row.
func (c *Conn) binaryRow(b []byte, columns []*columnDefinition) ([]interface{}, error) {
	var off int

	off++ // packet header [00]

	// null bitmap, offset by 2
	nullBitmapSize := (len(columns) + 9) / 8
	if off+nullBitmapSize > len(b) {
		return nil, c.markBroken(myError(ErrInvalidPacket))
	}
	nullBitmap := b[off : off+nullBitmapSize]
	off += nullBitmapSize

	row := make([]interface{}, len(columns))
	for i, col := range columns {
		if isNull(nullBitmap, i, 2) {
			continue
		}

		v, n, err := c.binaryValue(col, b[off:])
		if err != nil {
			return nil, c.markBroken(err)
		}
		row[i] = v
		off += n
	}
	return row, nil
}
