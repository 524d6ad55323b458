package oceanbase

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlob(t *testing.T) {
	b := NewBlob([]byte("hello world"))
	assert.EqualValues(t, 11, b.Length())

	got, err := b.Bytes(7, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)

	got, err = b.Bytes(12, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = b.Bytes(13, 1)
	assert.True(t, IsErrorCode(err, ErrLobLength))
	_, err = b.Bytes(0, 1)
	assert.True(t, IsErrorCode(err, ErrLobPosition))

	r, err := b.BinaryStream(1, 5)
	require.NoError(t, err)
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), all)
	_, err = b.BinaryStream(8, 5)
	assert.True(t, IsErrorCode(err, ErrLobLength))

	pos, err := b.Position([]byte("o"), 6)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pos)
	pos, err = b.Position([]byte("xyz"), 1)
	require.NoError(t, err)
	assert.EqualValues(t, -1, pos)
}

func TestBlobSetBytes(t *testing.T) {
	b := NewBlob([]byte("abc"))

	n, err := b.SetBytes(2, []byte("XY"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.SetBytes(6, []byte("Z"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := b.Bytes(1, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'X', 'Y', 0, 0, 'Z'}, got)

	require.NoError(t, b.Truncate(2))
	assert.EqualValues(t, 2, b.Length())

	// truncating past the end changes nothing
	require.NoError(t, b.Truncate(5))
	assert.EqualValues(t, 2, b.Length())
	assert.True(t, IsErrorCode(b.Truncate(-1), ErrLobLength))
}

func TestBlobCopies(t *testing.T) {
	src := []byte("abc")
	b := NewBlob(src)
	src[0] = 'z'

	got, err := b.Bytes(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, _ := b.Bytes(1, 3)
	assert.Equal(t, []byte("abc"), again)
}

func TestBlobFree(t *testing.T) {
	b := NewBlob([]byte("abc"))
	b.Free()
	b.Free()

	assert.EqualValues(t, 0, b.Length())
	_, err := b.Bytes(1, 1)
	assert.True(t, IsErrorCode(err, ErrLobFreed))
	_, err = b.SetBytes(1, []byte("x"))
	assert.True(t, IsErrorCode(err, ErrLobFreed))
	assert.True(t, IsErrorCode(b.Truncate(0), ErrLobFreed))
}

func TestClob(t *testing.T) {
	// the emoji takes two code units
	c := NewClob("a😀b")
	assert.EqualValues(t, 4, c.Length())
	assert.False(t, c.IsNational())
	assert.True(t, NewNClob("x").IsNational())

	s, err := c.SubString(2, 2)
	require.NoError(t, err)
	assert.Equal(t, "😀", s)

	s, err = c.SubString(2, 1)
	require.NoError(t, err)
	assert.Equal(t, "�", s)

	s, err = c.SubString(4, 10)
	require.NoError(t, err)
	assert.Equal(t, "b", s)

	_, err = c.SubString(6, 1)
	assert.True(t, IsErrorCode(err, ErrLobLength))

	pos, err := c.Position("b", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	r, err := c.CharacterStream(1, 3)
	require.NoError(t, err)
	all, _ := io.ReadAll(r)
	assert.Equal(t, "a😀", string(all))
}

func TestClobSetString(t *testing.T) {
	c := NewClob("abc")

	n, err := c.SetString(5, "xy")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abc xy", c.String())

	n, err = c.SetString(1, "Z")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Zbc xy", c.String())

	require.NoError(t, c.Truncate(3))
	assert.Equal(t, "Zbc", c.String())
	require.NoError(t, c.Truncate(10))
	assert.Equal(t, "Zbc", c.String())
	assert.True(t, IsErrorCode(c.Truncate(-1), ErrLobLength))

	c.Free()
	_, err = c.SubString(1, 1)
	assert.True(t, IsErrorCode(err, ErrLobFreed))
}
