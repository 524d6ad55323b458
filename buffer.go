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

// buffer holds decoded frame payloads of the compression and OceanBase 2.0
// read/writers until the packet layer consumes them.
type buffer struct {
	// the buffer
	buff []byte

	// offset from which read/write should happen
	off int

	// length of useful content in the buffer
	length int
}

func (b *buffer) New(cap int) {
	b.off, b.length = 0, 0
	b.buff = make([]byte, cap)
}

func (b *buffer) Len() int {
	return b.length
}

// Unread returns the number of bytes not consumed yet.
func (b *buffer) Unread() int {
	return b.length - b.off
}

// Reset discards the content and makes sure at least cap bytes are
// available.
func (b *buffer) Reset(cap int) []byte {
	b.off = 0
	b.length = 0

	if cap > len(b.buff) {
		// simply discard the old buffer and allocate a new one
		b.buff = make([]byte, cap)
	}

	return b.buff[0:cap]
}

// Compact moves the unread bytes to the front and makes room for extra more
// bytes after them.
func (b *buffer) Compact(extra int) {
	unread := b.Unread()
	if unread+extra > len(b.buff) {
		nb := make([]byte, unread+extra)
		copy(nb, b.buff[b.off:b.length])
		b.buff = nb
	} else if b.off > 0 {
		copy(b.buff, b.buff[b.off:b.length])
	}
	b.off = 0
	b.length = unread
}

func (b *buffer) Read(p []byte) int {
	n := copy(p, b.buff[b.off:b.length])
	b.off += n
	return n
}

func (b *buffer) Write(p []byte) (int, error) {
	if b.length+len(p) > len(b.buff) {
		nb := make([]byte, 2*(b.length+len(p)))
		copy(nb, b.buff[:b.length])
		b.buff = nb
	}
	n := copy(b.buff[b.length:], p)
	b.length += n
	return n, nil
}
