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
	"hash/crc32"
)

// crc16Table is the CRC-16/CCITT table used for the OceanBase 2.0 header
// checksum.
var crc16Table = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return
}()

// crc16 computes the CRC-16/CCITT checksum (initial value 0) of b.
func crc16(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^v]
	}
	return crc
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes the tail checksum of an OceanBase 2.0 frame payload.
func crc32c(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// verifyChecksums validates the header and tail checksums of a received
// OceanBase 2.0 frame. header holds the compressed header plus the OB 2.0
// header; payload ends with the 4-byte tail checksum.
func verifyChecksums(header, payload []byte) error {
	headerLength := len(header)

	received := uint16(header[headerLength-2]) | uint16(header[headerLength-1])<<8
	if received != 0 && received != crc16(header[:headerLength-2]) {
		return myError(ErrOB20Checksum, "header")
	}

	if len(payload) < 4 {
		return myError(ErrInvalidPacket)
	}

	beg := len(payload) - 4
	tail := uint32(payload[beg]) | uint32(payload[beg+1])<<8 |
		uint32(payload[beg+2])<<16 | uint32(payload[beg+3])<<24
	if tail != 0 && tail != crc32c(payload[:beg]) {
		return myError(ErrOB20Checksum, "tail")
	}
	return nil
}
