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
	"sort"
)

// getUint24 converts 3-byte byte little-endian slice into uint32
func getUint24(b []byte) uint32 {
	return uint32(b[0]) |
		uint32(b[1])<<8 |
		uint32(b[2])<<16
}

// putUint24 stores the given uint32 into the specified 3-byte byte slice in little-endian
func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// getLenencInt retrieves the number from the specified buffer stored in
// length-encoded integer format and returns the number of bytes read. A NULL
// marker (0xfb) is reported through isNull.
func getLenencInt(b []byte) (v uint64, isNull bool, n int) {
	if len(b) == 0 {
		return 0, false, 0
	}
	first := b[0]

	switch {
	// 1-byte
	case first < 0xfb:
		v = uint64(first)
		n = 1
	// NULL
	case first == 0xfb:
		isNull = true
		n = 1
	// 2-byte
	case first == 0xfc:
		v = uint64(binary.LittleEndian.Uint16(b[1:3]))
		n = 3
	// 3-byte
	case first == 0xfd:
		v = uint64(getUint24(b[1:4]))
		n = 4
	// 8-byte
	case first == 0xfe:
		v = binary.LittleEndian.Uint64(b[1:9])
		n = 9
	// 0xff is never a valid length prefix
	default:
		n = 1
	}
	return
}

// appendLenencInt appends the given number using length-encoded integer
// format.
func appendLenencInt(b []byte, v uint64) []byte {
	switch {
	case v < 251:
		return append(b, byte(v))
	case v < 1<<16:
		return append(b, 0xfc, byte(v), byte(v>>8))
	case v < 1<<24:
		return append(b, 0xfd, byte(v), byte(v>>8), byte(v>>16))
	}
	b = append(b, 0xfe)
	return binary.LittleEndian.AppendUint64(b, v)
}

// lenencIntSize returns the size needed to store a number using the
// length-encoded integer format.
func lenencIntSize(v int) int {
	switch {
	case v < 251:
		return 1
	case v < 1<<16:
		return 3
	case v < 1<<24:
		return 4
	}
	return 9
}

// getLenencBytes reads a length-encoded string; the returned slice aliases b.
func getLenencBytes(b []byte) (v []byte, isNull bool, n int) {
	length, isNull, n := getLenencInt(b)
	if isNull || n == 0 {
		return nil, isNull, n
	}
	end := n + int(length)
	if end > len(b) {
		return nil, false, len(b)
	}
	return b[n:end], false, end
}

// length-encoded string
func getLenencString(b []byte) (s nullString, n int) {
	v, isNull, n := getLenencBytes(b)
	if isNull {
		s.valid = false
	} else {
		s.value = string(v)
		s.valid = true
	}
	return
}

func appendLenencString(b []byte, v string) []byte {
	b = appendLenencInt(b, uint64(len(v)))
	return append(b, v...)
}

func appendLenencBytes(b []byte, v []byte) []byte {
	b = appendLenencInt(b, uint64(len(v)))
	return append(b, v...)
}

func getNullTerminatedString(b []byte) (v string, n int) {
	for n < len(b) && b[n] != 0 {
		n++
	}
	v = string(b[0:n])
	if n < len(b) {
		n++ // skip the terminator
	}
	return
}

func appendNullTerminatedString(b []byte, v string) []byte {
	b = append(b, v...)
	return append(b, 0)
}

// isNull returns whether the column at the given position is NULL; the first
// column's position is 0.
func isNull(bitmap []byte, pos, offset int) bool {
	// for binary protocol, result set row offset = 2
	pos += offset
	return (bitmap[pos/8] & (1 << (uint(pos) % 8))) != 0
}

// zerofy sets all bytes of the given slice to 0.
func zerofy(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// for internal use only
type nullString struct {
	value string
	valid bool // valid is true if 'the string' is not NULL
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
