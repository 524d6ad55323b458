package oceanbase

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/obconnector-go/internal/charset"
)

func TestErrorFormat(t *testing.T) {
	err := myError(ErrParamIndex, 3, 2)
	assert.Equal(t, fmt.Sprintf("[oceanbase] %d : Invalid parameter index 3 (statement has 2 parameters)", ErrParamIndex), err.Error())
	assert.Equal(t, KindValidation, err.Kind())
	assert.Empty(t, err.SqlState())
	assert.False(t, err.When().IsZero())

	srv := serverError(1146, "42S02", "Table 'test.t' doesn't exist")
	assert.Equal(t, "[observer] 1146 (42S02): Table 'test.t' doesn't exist", srv.Error())
	assert.Equal(t, KindServer, srv.Kind())
	assert.Equal(t, "42S02", srv.SqlState())
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindProtocol, myError(ErrRead, io.EOF).Kind())
	assert.Equal(t, KindProtocol, myError(ErrNetPacketsOutOfOrder, 1, 2).Kind())
	assert.Equal(t, KindValidation, myError(ErrStatementClosed).Kind())

	assert.True(t, isFatal(myError(ErrWrite, io.ErrClosedPipe)))
	assert.False(t, isFatal(serverError(1062, "23000", "dup")))
	assert.Equal(t, Kind(0), ErrorKind(io.EOF))
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestErrorCause(t *testing.T) {
	err := myError(ErrRead, io.ErrUnexpectedEOF)
	assert.Equal(t, io.ErrUnexpectedEOF, err.Cause())
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	wrapped := errors.Wrap(err, "reading result set")
	assert.True(t, IsErrorCode(wrapped, ErrRead))
	assert.Equal(t, KindProtocol, ErrorKind(wrapped))
	assert.True(t, errors.Is(wrapped, myError(ErrRead, nil)))
	assert.False(t, errors.Is(wrapped, myError(ErrWrite, nil)))
}

func TestParseErrPacket(t *testing.T) {
	c := &Conn{opts: DefaultOptions(), enc: mustCharset(t, "utf8")}

	b := append([]byte{0xff, 0x7e, 0x05, '#'}, "22001Data too long for column 'a' at row 1"...)
	err := c.parseErrPacket(b)
	assert.Equal(t, uint16(1406), err.Code())
	assert.Equal(t, "22001", err.SqlState())
	assert.Equal(t, KindTruncation, err.Kind())

	c.opts.JdbcCompliantTruncation = false
	assert.Equal(t, KindServer, c.parseErrPacket(b).Kind())

	// no sql state marker
	err = c.parseErrPacket(append([]byte{0xff, 0x15, 0x04}, "Access denied"...))
	assert.Equal(t, uint16(1045), err.Code())
	assert.Empty(t, err.SqlState())
	assert.Equal(t, "Access denied", err.Message())

	assert.True(t, IsErrorCode(c.parseErrPacket([]byte{0xff}), ErrInvalidPacket))
}

func mustCharset(t *testing.T, name string) *charset.Charset {
	cs, err := charset.Lookup(name)
	require.NoError(t, err)
	return cs
}
