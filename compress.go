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
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// compressRW implements readWriter for the compression protocol. Every
// write becomes one compressed packet:
//
//	compressed payload length (3) | sequence (1) | uncompressed length (3)
//
// An uncompressed length of 0 means the payload is sent as is.
type compressRW struct {
	c     *Conn
	ubuff buffer // uncompressed packet stream not consumed yet
	seqno uint8  // compressed packet sequence number

	useZstd bool
	level   int

	zbuf bytes.Buffer
	zw   *zlib.Writer
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

func newCompressRW(c *Conn, algorithm string, level int) (*compressRW, error) {
	var err error

	rw := &compressRW{c: c, level: level, useZstd: algorithm == "zstd"}
	rw.ubuff.New(_INITIAL_PACKET_BUFFER_SIZE)

	if rw.useZstd {
		if rw.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level))); err != nil {
			return nil, myError(ErrCompression, err)
		}
		if rw.zdec, err = zstd.NewReader(nil); err != nil {
			return nil, myError(ErrCompression, err)
		}
		return rw, nil
	}

	if rw.zw, err = zlib.NewWriterLevel(&rw.zbuf, zlib.DefaultCompression); err != nil {
		return nil, myError(ErrCompression, err)
	}
	return rw, nil
}

// read fills b from the uncompressed stream, reading and inflating more
// compressed packets from the network when required.
func (rw *compressRW) read(b []byte) error {
	for rw.ubuff.Unread() < len(b) {
		if err := rw.readCompressedPacket(); err != nil {
			return err
		}
	}
	rw.ubuff.Read(b)
	return nil
}

// readCompressedPacket reads one compressed protocol packet from the network
// and appends its uncompressed payload to ubuff.
func (rw *compressRW) readCompressedPacket() error {
	var header [7]byte

	if err := rw.c.netRead(header[:]); err != nil {
		return err
	}

	// packet payload length
	payloadLength := int(getUint24(header[0:3]))

	// check for out-of-order packets
	if rw.seqno != header[3] {
		return myError(ErrNetPacketsOutOfOrder, rw.seqno, header[3])
	}
	rw.seqno++

	// length of payload before compression
	origPayloadLength := int(getUint24(header[4:7]))

	if payloadLength > rw.c.opts.MaxAllowedPacket+_MAX_PAYLOAD_LENGTH {
		return myError(ErrNetPacketTooLarge, payloadLength, rw.c.opts.MaxAllowedPacket)
	}

	payload := make([]byte, payloadLength)
	if err := rw.c.netRead(payload); err != nil {
		return err
	}

	if origPayloadLength != 0 { // its a compressed payload
		var err error
		if payload, err = rw.inflate(payload, origPayloadLength); err != nil {
			return err
		}
	}

	rw.ubuff.Compact(len(payload))
	rw.ubuff.Write(payload)
	return nil
}

func (rw *compressRW) inflate(b []byte, length int) ([]byte, error) {
	var (
		out []byte
		err error
	)

	if rw.useZstd {
		out, err = rw.zdec.DecodeAll(b, make([]byte, 0, length))
	} else {
		var src io.ReadCloser
		if src, err = zlib.NewReader(bytes.NewReader(b)); err == nil {
			out, err = io.ReadAll(src)
			src.Close()
		}
	}
	if err != nil {
		return nil, myError(ErrCompression, errors.Wrap(err, "inflate"))
	}
	if len(out) != length {
		return nil, myError(ErrCompression, errors.Errorf("inflated %d bytes, expected %d", len(out), length))
	}
	return out, nil
}

// write creates compressed protocol packets with the specified payload and
// writes them to the network.
func (rw *compressRW) write(b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > _MAX_PAYLOAD_LENGTH {
			n = _MAX_PAYLOAD_LENGTH
		}

		var (
			cbuff []byte
			err   error
		)
		if n >= _COMPRESSION_THRESHOLD_BYTES {
			cbuff, err = rw.createCompPacket(b[:n])
		} else {
			cbuff = rw.createRegPacket(b[:n])
		}
		if err != nil {
			return err
		}

		// increment the packet sequence number
		rw.seqno++

		if err = rw.c.netWrite(cbuff); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// createCompPacket generates a compressed protocol packet after compressing
// the given payload.
func (rw *compressRW) createCompPacket(b []byte) ([]byte, error) {
	var z []byte

	if rw.useZstd {
		z = rw.zenc.EncodeAll(b, nil)
	} else {
		rw.zbuf.Reset()
		rw.zw.Reset(&rw.zbuf)
		if _, err := rw.zw.Write(b); err != nil {
			return nil, myError(ErrCompression, err)
		}
		if err := rw.zw.Close(); err != nil {
			return nil, myError(ErrCompression, err)
		}
		z = rw.zbuf.Bytes()
	}

	// not worth it, send the payload as is
	if len(z) >= len(b) {
		return rw.createRegPacket(b), nil
	}

	cbuff := make([]byte, 7, 7+len(z))

	// compressed header
	// - size of compressed payload
	putUint24(cbuff[0:3], uint32(len(z)))
	// - packet sequence number
	cbuff[3] = rw.seqno
	// - size of payload before it was compressed
	putUint24(cbuff[4:7], uint32(len(b)))

	return append(cbuff, z...), nil
}

// createRegPacket generates a non-compressed protocol packet from the
// specified payload.
func (rw *compressRW) createRegPacket(b []byte) []byte {
	cbuff := make([]byte, 7, 7+len(b))

	putUint24(cbuff[0:3], uint32(len(b)))
	cbuff[3] = rw.seqno
	// uncompressed length stays 0, the payload is not compressed

	return append(cbuff, b...)
}

// reset resets the packet sequence number.
func (rw *compressRW) reset() {
	rw.seqno = 0
}

func (rw *compressRW) close() {
	if rw.zenc != nil {
		rw.zenc.Close()
	}
	if rw.zdec != nil {
		rw.zdec.Close()
	}
}
