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
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// dial opens a connection with the server.
func dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	var (
		c   net.Conn
		err error
	)

	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if c, err = d.DialContext(ctx, "tcp", address); err != nil {
		return nil, myError(ErrConnection, errors.Wrapf(err, "dial %s", address))
	}
	return c, nil
}

// readWriter is a generic interface to read/write protocol packets to/from
// the network.
type readWriter interface {
	// read fills b with the next bytes of the (uncompressed, unwrapped)
	// packet stream.
	read(b []byte) error

	// write writes the protocol packet (content of the specified buffer) to
	// the network.
	write(b []byte) error

	// reset is invoked at the start of every command.
	reset()

	// close releases the codec state when the connection closes.
	close()
}

// defaultReadWriter implements readWriter for plain network read/write.
type defaultReadWriter struct {
	c *Conn
}

func (rw *defaultReadWriter) read(b []byte) error {
	return rw.c.netRead(b)
}

func (rw *defaultReadWriter) write(b []byte) error {
	return rw.c.netWrite(b)
}

// reset is no-op.
func (rw *defaultReadWriter) reset() {
}

func (rw *defaultReadWriter) close() {
}

// netRead reads exactly len(b) bytes from the socket.
func (c *Conn) netRead(b []byte) error {
	if timeout := c.opts.socketTimeout(); timeout > 0 {
		if err := c.netConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return myError(ErrRead, err)
		}
	}
	if _, err := io.ReadFull(c.netConn, b); err != nil {
		return myError(ErrRead, errors.Wrap(err, "read"))
	}
	return nil
}

// netWrite writes all of b to the socket.
func (c *Conn) netWrite(b []byte) error {
	if timeout := c.opts.socketTimeout(); timeout > 0 {
		if err := c.netConn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return myError(ErrWrite, err)
		}
	}
	if _, err := c.netConn.Write(b); err != nil {
		return myError(ErrWrite, errors.Wrap(err, "write"))
	}
	return nil
}
