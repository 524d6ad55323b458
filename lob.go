package oceanbase

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf16"
)

// Blob is a binary large object held in client memory. Positions are
// 1-based.
type Blob struct {
	data  []byte
	freed bool
}

// NewBlob returns a Blob holding a copy of b.
func NewBlob(b []byte) *Blob {
	return &Blob{data: copyBytes(b)}
}

func (b *Blob) checkPos(pos int64) error {
	if b.freed {
		return myError(ErrLobFreed)
	}
	if pos < 1 {
		return myError(ErrLobPosition, pos)
	}
	return nil
}

// Length returns the number of bytes; 0 once freed.
func (b *Blob) Length() int64 {
	if b.freed {
		return 0
	}
	return int64(len(b.data))
}

// Bytes returns up to length bytes starting at pos; a length past the end
// is clamped, a position past the end fails.
func (b *Blob) Bytes(pos int64, length int) ([]byte, error) {
	if err := b.checkPos(pos); err != nil {
		return nil, err
	}
	if length < 0 || pos-1 > int64(len(b.data)) {
		return nil, myError(ErrLobLength, pos, length, len(b.data))
	}

	start := pos - 1
	end := min(start+int64(length), int64(len(b.data)))
	return copyBytes(b.data[start:end]), nil
}

// BinaryStream returns a reader over length bytes starting at pos. Unlike
// Bytes the range must lie within the data.
func (b *Blob) BinaryStream(pos int64, length int64) (io.Reader, error) {
	if err := b.checkPos(pos); err != nil {
		return nil, err
	}
	if length < 0 || pos-1+length > int64(len(b.data)) {
		return nil, myError(ErrLobLength, pos, length, len(b.data))
	}
	return bytes.NewReader(b.data[pos-1 : pos-1+length]), nil
}

// SetBytes writes p at pos and returns the number of bytes written. Writing
// past the end grows the data, zero padded.
func (b *Blob) SetBytes(pos int64, p []byte) (int, error) {
	if err := b.checkPos(pos); err != nil {
		return 0, err
	}

	end := pos - 1 + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	return copy(b.data[pos-1:], p), nil
}

// Truncate cuts the data to n bytes; a longer n leaves it unchanged.
func (b *Blob) Truncate(n int64) error {
	if b.freed {
		return myError(ErrLobFreed)
	}
	if n < 0 {
		return myError(ErrLobLength, 1, n, len(b.data))
	}
	if n < int64(len(b.data)) {
		b.data = b.data[:n]
	}
	return nil
}

// Position returns the 1-based position of pattern at or after start, or
// -1.
func (b *Blob) Position(pattern []byte, start int64) (int64, error) {
	if err := b.checkPos(start); err != nil {
		return 0, err
	}
	if start > int64(len(b.data)) {
		return -1, nil
	}
	i := bytes.Index(b.data[start-1:], pattern)
	if i < 0 {
		return -1, nil
	}
	return start + int64(i), nil
}

// Free releases the data; every later call but Length and Free fails.
func (b *Blob) Free() {
	b.data = nil
	b.freed = true
}

// Clob is a character large object held in client memory. Lengths and
// positions count UTF-16 code units, as relational clients do.
type Clob struct {
	units    []uint16
	national bool
	freed    bool
}

// NewClob returns a Clob holding s.
func NewClob(s string) *Clob {
	return &Clob{units: utf16.Encode([]rune(s))}
}

// NewNClob returns a national character Clob holding s; it is bound with
// the nCharacterEncoding charset.
func NewNClob(s string) *Clob {
	c := NewClob(s)
	c.national = true
	return c
}

func (c *Clob) checkPos(pos int64) error {
	if c.freed {
		return myError(ErrLobFreed)
	}
	if pos < 1 {
		return myError(ErrLobPosition, pos)
	}
	return nil
}

// Length returns the number of code units; 0 once freed.
func (c *Clob) Length() int64 {
	if c.freed {
		return 0
	}
	return int64(len(c.units))
}

// IsNational reports whether the Clob holds national character data.
func (c *Clob) IsNational() bool {
	return c.national
}

// SubString returns up to length code units starting at pos; a length past
// the end is clamped, a position past the end fails. A surrogate pair split
// by the range decodes to U+FFFD.
func (c *Clob) SubString(pos int64, length int) (string, error) {
	if err := c.checkPos(pos); err != nil {
		return "", err
	}
	if length < 0 || pos-1 > int64(len(c.units)) {
		return "", myError(ErrLobLength, pos, length, len(c.units))
	}

	start := pos - 1
	end := min(start+int64(length), int64(len(c.units)))
	return string(utf16.Decode(c.units[start:end])), nil
}

// CharacterStream returns a reader over length code units starting at pos;
// the range must lie within the data.
func (c *Clob) CharacterStream(pos int64, length int64) (io.Reader, error) {
	if err := c.checkPos(pos); err != nil {
		return nil, err
	}
	if length < 0 || pos-1+length > int64(len(c.units)) {
		return nil, myError(ErrLobLength, pos, length, len(c.units))
	}
	return strings.NewReader(string(utf16.Decode(c.units[pos-1 : pos-1+length]))), nil
}

// SetString writes s at pos and returns the number of code units written.
// Writing past the end grows the data, space padded.
func (c *Clob) SetString(pos int64, s string) (int, error) {
	if err := c.checkPos(pos); err != nil {
		return 0, err
	}

	u := utf16.Encode([]rune(s))
	end := pos - 1 + int64(len(u))
	for int64(len(c.units)) < pos-1 {
		c.units = append(c.units, ' ')
	}
	if end > int64(len(c.units)) {
		grown := make([]uint16, end)
		copy(grown, c.units)
		c.units = grown
	}
	return copy(c.units[pos-1:], u), nil
}

// Truncate cuts the data to n code units; a longer n leaves it unchanged.
func (c *Clob) Truncate(n int64) error {
	if c.freed {
		return myError(ErrLobFreed)
	}
	if n < 0 {
		return myError(ErrLobLength, 1, n, len(c.units))
	}
	if n < int64(len(c.units)) {
		c.units = c.units[:n]
	}
	return nil
}

// Position returns the 1-based position of pattern at or after start, or
// -1.
func (c *Clob) Position(pattern string, start int64) (int64, error) {
	if err := c.checkPos(start); err != nil {
		return 0, err
	}

	p := utf16.Encode([]rune(pattern))
	for i := start - 1; i+int64(len(p)) <= int64(len(c.units)); i++ {
		if equalUnits(c.units[i:i+int64(len(p))], p) {
			return i + 1, nil
		}
	}
	return -1, nil
}

func equalUnits(a, b []uint16) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String returns the whole content.
func (c *Clob) String() string {
	return string(utf16.Decode(c.units))
}

// Free releases the data; every later call but Length and Free fails.
func (c *Clob) Free() {
	c.units = nil
	c.freed = true
}
