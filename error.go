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
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind uint8

const (
	// KindValidation errors are raised by the client before any network I/O.
	KindValidation Kind = iota + 1
	// KindProtocol errors come from the transport; the connection is unusable
	// afterwards.
	KindProtocol
	// KindServer errors are relayed verbatim from the server.
	KindServer
	// KindTruncation errors report data truncation when
	// jdbcCompliantTruncation is enabled.
	KindTruncation
	// KindXA errors come from XA flag or state validation.
	KindXA
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindTruncation:
		return "truncation"
	case KindXA:
		return "xa"
	}
	return "unknown"
}

type Error struct {
	kind     Kind
	code     uint16
	sqlState string
	message  string
	warnings uint16
	when     time.Time
	cause    error
}

// client error codes
const (
	ErrWarning = 0
	ErrUnknown = 9000 + iota
	ErrConnection
	ErrRead
	ErrWrite
	ErrSSLSupport
	ErrSSLConnection
	ErrCompressionSupport
	ErrCompression
	ErrInvalidType
	ErrInvalidDSN
	ErrInvalidProperty
	ErrInvalidPropertyValue
	ErrScheme
	ErrCursor
	ErrFile
	ErrInvalidPacket
	ErrNetPacketsOutOfOrder
	ErrNetPacketTooLarge
	ErrConnectionClosed
	ErrConnectionBroken
	ErrStatementClosed
	ErrNonFiniteNumber
	ErrOutParamNotRegistered
	ErrParamIndex
	ErrParamNotSet
	ErrUpdateReturnedResultSet
	ErrQueryReturnedNoResultSet
	ErrForwardOnly
	ErrNoCurrentRow
	ErrColumnIndex
	ErrColumnLabel
	ErrLobPosition
	ErrLobLength
	ErrLobFreed
	ErrRSAKeyUnavailable
	ErrAuthPlugin
	ErrConfigLocked
	ErrAuroraCluster
	ErrHAMode
	ErrNotSupported
	ErrChecksum
	ErrCanceled
	ErrConversion
	ErrCharset
	ErrBatchUpdate
	ErrOB20Checksum
)

var errFormat = map[uint16]string{
	ErrWarning:                  "Execution of last statement resulted in warning(s)",
	ErrUnknown:                  "Unknown error",
	ErrConnection:               "Can't connect to the server (%s)",
	ErrRead:                     "Can't read data from connection (%s)",
	ErrWrite:                    "Can't write data to connection (%s)",
	ErrSSLSupport:               "Server does not support SSL connection",
	ErrSSLConnection:            "Can't establish SSL connection with the server (%s)",
	ErrCompressionSupport:       "Server does not support packet compression",
	ErrCompression:              "Compression error (%s)",
	ErrInvalidType:              "Invalid type (%s)",
	ErrInvalidDSN:               "Can't parse connection url (%s)",
	ErrInvalidProperty:          "Invalid value for property '%s' (%s)",
	ErrInvalidPropertyValue:     "Value for property '%s' out of range (%v)",
	ErrScheme:                   "Unsupported scheme '%s'",
	ErrCursor:                   "Operation not permit on a closed resultset",
	ErrFile:                     "File operation failed (%s)",
	ErrInvalidPacket:            "Invalid/unexpected packet received",
	ErrNetPacketsOutOfOrder:     "Packets out of order (expected %d, got %d)",
	ErrNetPacketTooLarge:        "Packet too large (%d > %d)",
	ErrConnectionClosed:         "Connection is closed",
	ErrConnectionBroken:         "Connection is broken by an earlier I/O failure (%s)",
	ErrStatementClosed:          "Statement is closed",
	ErrNonFiniteNumber:          "%v is not a valid numeric value",
	ErrOutParamNotRegistered:    "Parameter at position %d is not registered as an output parameter",
	ErrParamIndex:               "Invalid parameter index %d (statement has %d parameters)",
	ErrParamNotSet:              "No value specified for parameter %d",
	ErrUpdateReturnedResultSet:  "Statement produced a result set; use ExecuteQuery or Execute",
	ErrQueryReturnedNoResultSet: "Statement did not produce a result set; use ExecuteUpdate or Execute",
	ErrForwardOnly:              "Invalid operation on TYPE_FORWARD_ONLY ResultSet",
	ErrNoCurrentRow:             "Current position is before the first row or after the last row",
	ErrColumnIndex:              "Invalid column index %d (result set has %d columns)",
	ErrColumnLabel:              "No such column: '%s'",
	ErrLobPosition:              "Invalid position %d (must be >= 1)",
	ErrLobLength:                "Out of range (position %d + length %d > %d)",
	ErrLobFreed:                 "LOB has been freed",
	ErrRSAKeyUnavailable:        "RSA public key is not available client side (option serverRsaPublicKeyFile not set)",
	ErrAuthPlugin:               "Authentication plugin '%s' is not supported",
	ErrConfigLocked:             "cannot perform a configuration change once initialized",
	ErrAuroraCluster:            "Connection string must contain only one aurora cluster. '%s' doesn't correspond to DNS prefix '%s'",
	ErrHAMode:                   "Unknown high availability mode '%s'",
	ErrNotSupported:             "Feature not supported: %s",
	ErrChecksum:                 "Prepared statement checksum mismatch (expected %d, computed %d)",
	ErrCanceled:                 "Query execution was interrupted (%s)",
	ErrConversion:               "Can't convert %v to %s",
	ErrCharset:                  "Unsupported character encoding '%s'",
	ErrBatchUpdate:              "Batch entry %d failed: %s",
	ErrOB20Checksum:             "OceanBase 2.0 %s checksum mismatch",
}

var errKinds = map[uint16]Kind{
	ErrConnection:           KindProtocol,
	ErrRead:                 KindProtocol,
	ErrWrite:                KindProtocol,
	ErrSSLConnection:        KindProtocol,
	ErrCompression:          KindProtocol,
	ErrInvalidPacket:        KindProtocol,
	ErrNetPacketsOutOfOrder: KindProtocol,
	ErrConnectionBroken:     KindProtocol,
	ErrOB20Checksum:         KindProtocol,
}

func myError(code uint16, a ...interface{}) *Error {
	e := &Error{code: code,
		message: fmt.Sprintf(errFormat[code], a...),
		when:    time.Now()}

	if k, ok := errKinds[code]; ok {
		e.kind = k
	} else {
		e.kind = KindValidation
	}

	// keep the first error argument as the cause
	for _, v := range a {
		if err, ok := v.(error); ok {
			e.cause = err
			break
		}
	}
	return e
}

// serverError builds an error relayed from an ERR packet.
func serverError(code uint16, sqlState, message string) *Error {
	return &Error{kind: KindServer,
		code:     code,
		sqlState: sqlState,
		message:  message,
		when:     time.Now()}
}

// Error returns the formatted error message. (also required by Go's error
// interface)
func (e *Error) Error() string {
	if e.kind != KindServer {
		// client error
		return fmt.Sprintf("[oceanbase] %d : %s", e.code, e.message)
	}
	// server error
	return fmt.Sprintf("[observer] %d (%s): %s", e.code, e.sqlState, e.message)
}

// Kind returns the error class.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the error number.
func (e *Error) Code() uint16 {
	return e.code
}

// SqlState returns the SQL STATE
func (e *Error) SqlState() string {
	return e.sqlState
}

// Message returns the error message.
func (e *Error) Message() string {
	return e.message
}

// When returns time when error occurred.
func (e *Error) When() time.Time {
	return e.when
}

func (e *Error) Warnings() uint16 {
	return e.warnings
}

// Cause returns the underlying error, if any.
func (e *Error) Cause() error {
	return e.cause
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors of the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.code == e.code
}

// IsErrorCode reports whether err (or anything it wraps) is an *Error with
// the given code.
func IsErrorCode(err error, code uint16) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}

// ErrorKind returns the Kind of the first error in err's chain that has
// one, or zero.
func ErrorKind(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return 0
}

// isFatal reports whether err must invalidate the connection.
func isFatal(err error) bool {
	return ErrorKind(err) == KindProtocol
}
