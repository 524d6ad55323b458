package oceanbase

import (
	"encoding/binary"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

const (
	_OB20_MAGIC          = 0x20ab
	_OB20_VERSION        = 20
	_OB20_HEADER_LENGTH  = 24
	_OB20_FRAME_OVERHEAD = 7 + _OB20_HEADER_LENGTH
	_OB20_TAIL_LENGTH    = 4
)

// OceanBase 2.0 header flags
const (
	_OB20_FLAG_EXTRA_INFO_EXIST = 1 << 0
	_OB20_FLAG_LAST_PACKET      = 1 << 1
	_OB20_FLAG_NEW_EXTRA_INFO   = 1 << 3
)

// ob20RW implements readWriter for the OceanBase 2.0 protocol. A frame is
// a compression protocol header (never compressed) followed by:
//
//	magic (2) | version (2) | connection id (4) | request id (3) |
//	sequence (1) | payload length (4) | flags (4) | reserved (2) |
//	header checksum (2)
//
// then the payload: an optional extra info block (length (4) + key/value
// list) and the MySQL packets, and finally a CRC-32C of the payload.
type ob20RW struct {
	c         *Conn
	ubuff     buffer
	seqno     uint8  // compressed packet sequence number
	obSeq     uint8  // OB 2.0 sequence number, per command
	requestID uint32 // 24 bits, per command
	first     bool   // no frame of the current command written yet
}

func newOB20RW(c *Conn) *ob20RW {
	rw := &ob20RW{c: c}
	rw.ubuff.New(_INITIAL_PACKET_BUFFER_SIZE)
	return rw
}

func (rw *ob20RW) read(b []byte) error {
	for rw.ubuff.Unread() < len(b) {
		if err := rw.readFrame(); err != nil {
			return err
		}
	}
	rw.ubuff.Read(b)
	return nil
}

// readFrame reads one OceanBase 2.0 frame and appends the MySQL packets it
// carries to ubuff.
func (rw *ob20RW) readFrame() error {
	var header [_OB20_FRAME_OVERHEAD]byte

	if err := rw.c.netRead(header[:]); err != nil {
		return err
	}

	frameLength := int(getUint24(header[0:3]))

	if rw.seqno != header[3] {
		return myError(ErrNetPacketsOutOfOrder, rw.seqno, header[3])
	}
	rw.seqno++

	h := header[7:]
	if binary.LittleEndian.Uint16(h[0:2]) != _OB20_MAGIC {
		return myError(ErrInvalidPacket)
	}

	if requestID := getUint24(h[8:11]); requestID != rw.requestID {
		logger.Debugf("connection %d: OB 2.0 request id %d, expected %d", rw.c.connectionId, requestID, rw.requestID)
	}

	payloadLength := int(binary.LittleEndian.Uint32(h[12:16]))
	flags := binary.LittleEndian.Uint32(h[16:20])

	if frameLength != _OB20_HEADER_LENGTH+payloadLength+_OB20_TAIL_LENGTH ||
		payloadLength > rw.c.opts.MaxAllowedPacket+_MAX_PAYLOAD_LENGTH {
		return myError(ErrInvalidPacket)
	}

	rest := make([]byte, payloadLength+_OB20_TAIL_LENGTH)
	if err := rw.c.netRead(rest); err != nil {
		return err
	}

	if err := verifyChecksums(header[:], rest); err != nil {
		return err
	}

	payload := rest[:payloadLength]
	if flags&_OB20_FLAG_EXTRA_INFO_EXIST != 0 {
		if len(payload) < 4 {
			return myError(ErrInvalidPacket)
		}
		extraLength := int(binary.LittleEndian.Uint32(payload[0:4]))
		if 4+extraLength > len(payload) {
			return myError(ErrInvalidPacket)
		}
		rw.c.flt.handleExtraInfo(payload[4 : 4+extraLength])
		payload = payload[4+extraLength:]
	}

	rw.ubuff.Compact(len(payload))
	rw.ubuff.Write(payload)
	return nil
}

// write wraps the MySQL packet b into one OceanBase 2.0 frame. The first
// frame of a command carries the extra info.
func (rw *ob20RW) write(b []byte) error {
	var extra []byte

	if rw.first {
		extra = rw.c.flt.extraInfo()
		rw.first = false
	}

	var flags uint32
	payloadLength := len(b)
	if len(extra) > 0 {
		flags |= _OB20_FLAG_EXTRA_INFO_EXIST | _OB20_FLAG_NEW_EXTRA_INFO
		payloadLength += 4 + len(extra)
	}
	if len(b)-4 < _MAX_PAYLOAD_LENGTH {
		flags |= _OB20_FLAG_LAST_PACKET
	}

	frame := make([]byte, _OB20_FRAME_OVERHEAD, _OB20_FRAME_OVERHEAD+payloadLength+_OB20_TAIL_LENGTH)

	// compressed header, the payload is never compressed
	putUint24(frame[0:3], uint32(_OB20_HEADER_LENGTH+payloadLength+_OB20_TAIL_LENGTH))
	frame[3] = rw.seqno

	h := frame[7:]
	binary.LittleEndian.PutUint16(h[0:2], _OB20_MAGIC)
	binary.LittleEndian.PutUint16(h[2:4], _OB20_VERSION)
	binary.LittleEndian.PutUint32(h[4:8], rw.c.connectionId)
	putUint24(h[8:11], rw.requestID)
	h[11] = rw.obSeq
	binary.LittleEndian.PutUint32(h[12:16], uint32(payloadLength))
	binary.LittleEndian.PutUint32(h[16:20], flags)
	// 2 bytes reserved
	binary.LittleEndian.PutUint16(h[22:24], crc16(frame[:_OB20_FRAME_OVERHEAD-2]))

	if len(extra) > 0 {
		frame = binary.LittleEndian.AppendUint32(frame, uint32(len(extra)))
		frame = append(frame, extra...)
	}
	frame = append(frame, b...)
	frame = binary.LittleEndian.AppendUint32(frame, crc32c(frame[_OB20_FRAME_OVERHEAD:]))

	rw.seqno++
	rw.obSeq++

	return rw.c.netWrite(frame)
}

// reset starts a new request.
func (rw *ob20RW) reset() {
	rw.seqno = 0
	rw.obSeq = 0
	rw.requestID = (rw.requestID + 1) & 0xffffff
	rw.first = true
}

func (rw *ob20RW) close() {
}
