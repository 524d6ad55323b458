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
	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// readPacket reads the next protocol packet from the network and returns the
// payload after increment the packet sequence number. Payloads split across
// several max-sized packets are reassembled.
func (c *Conn) readPacket() ([]byte, error) {
	var (
		payload []byte
		header  [4]byte
		err     error
	)

	for {
		// first read the packet header
		if err = c.rw.read(header[:]); err != nil {
			return nil, c.markBroken(err)
		}

		// payload length
		length := int(getUint24(header[0:3]))

		if c.checkSeqno && header[3] != c.seqno {
			return nil, c.markBroken(myError(ErrNetPacketsOutOfOrder, c.seqno, header[3]))
		}

		// increment the packet sequence number
		c.seqno = header[3] + 1

		if len(payload)+length > c.opts.MaxAllowedPacket+_MAX_PAYLOAD_LENGTH {
			return nil, c.markBroken(myError(ErrNetPacketTooLarge, len(payload)+length, c.opts.MaxAllowedPacket))
		}

		// finally, read the payload
		chunk := make([]byte, length)
		if err = c.rw.read(chunk); err != nil {
			return nil, c.markBroken(err)
		}

		if payload == nil {
			payload = chunk
		} else {
			payload = append(payload, chunk...)
		}

		if length < _MAX_PAYLOAD_LENGTH {
			return payload, nil
		}
	}
}

// writePacket accepts the protocol packet to be written, populates the header
// and writes it to the network. The first 4 bytes of b are reserved for the
// header; payloads longer than the protocol maximum are split.
func (c *Conn) writePacket(b []byte) error {
	payloadLength := len(b) - 4

	if payloadLength > c.opts.MaxAllowedPacket {
		return myError(ErrNetPacketTooLarge, payloadLength, c.opts.MaxAllowedPacket)
	}

	for {
		size := payloadLength
		if size > _MAX_PAYLOAD_LENGTH {
			size = _MAX_PAYLOAD_LENGTH
		}

		// populate the packet header
		putUint24(b[0:3], uint32(size)) // payload length
		b[3] = c.seqno                  // packet sequence number

		// write it to the connection
		if err := c.rw.write(b[:4+size]); err != nil {
			return c.markBroken(err)
		}

		// increment the packet sequence number
		c.seqno++

		if size < _MAX_PAYLOAD_LENGTH {
			return nil
		}

		// the 4 bytes before the next chunk were already sent and are reused
		// as its header
		payloadLength -= size
		b = b[size:]
	}
}

// writeCommand sends a command packet built from the command byte and its
// arguments.
func (c *Conn) writeCommand(command byte, args ...[]byte) error {
	length := 4 + 1
	for _, a := range args {
		length += len(a)
	}

	b := make([]byte, 5, length)
	b[4] = command
	for _, a := range args {
		b = append(b, a...)
	}

	metrics.CommandsSent(commandName(command))
	return c.writePacket(b)
}

// resetSeqno resets the packet sequence number.
func (c *Conn) resetSeqno() {
	c.seqno = 0
	c.rw.reset()
}

// markBroken records a transport failure; every later call on the
// connection fails fast.
func (c *Conn) markBroken(err error) error {
	if err == nil || !isFatal(err) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken == nil {
		c.broken = err
		metrics.ConnectionBroken()
		logger.Warnf("connection %d to %s marked broken: %v", c.connectionId, c.addr, err)
		if c.netConn != nil {
			c.netConn.Close()
		}
	}
	return err
}

func commandName(command byte) string {
	switch command {
	case _COM_QUIT:
		return "quit"
	case _COM_INIT_DB:
		return "init_db"
	case _COM_QUERY:
		return "query"
	case _COM_PING:
		return "ping"
	case _COM_STMT_PREPARE:
		return "stmt_prepare"
	case _COM_STMT_EXECUTE:
		return "stmt_execute"
	case _COM_STMT_SEND_LONG_DATA:
		return "stmt_send_long_data"
	case _COM_STMT_CLOSE:
		return "stmt_close"
	case _COM_STMT_RESET:
		return "stmt_reset"
	case _COM_STMT_FETCH:
		return "stmt_fetch"
	case _COM_STMT_PREPARE_EXECUTE:
		return "stmt_prepare_execute"
	case _COM_CHANGE_USER:
		return "change_user"
	}
	return "other"
}
