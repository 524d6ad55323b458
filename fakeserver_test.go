package oceanbase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const fakeScramble = "abcdefghijklmnopqrst"

// fakeServer answers the MySQL protocol the way an OceanBase server in
// MySQL mode does, enough for connection level tests. Queries starting
// with SET, pings and commands the handler leaves alone are answered with
// OK.
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	password string
	handler  func(s *fakeSession, cmd byte, data []byte) bool

	mu     sync.Mutex
	log    []fakeCommand
	conns  []net.Conn
	nextID uint32
	wg     sync.WaitGroup
}

type fakeCommand struct {
	cmd  byte
	data string
}

type fakeColumn struct {
	name  string
	typ   byte
	flags uint16
}

var (
	idColumn   = fakeColumn{name: "id", typ: _TYPE_LONG_LONG, flags: _FLAG_NOT_NULL}
	nameColumn = fakeColumn{name: "name", typ: _TYPE_VARSTRING}
)

func newFakeServer(t *testing.T, handler func(s *fakeSession, cmd byte, data []byte) bool) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fakeServer{t: t, ln: ln, password: "secret", handler: handler}
	srv.wg.Add(1)
	go srv.accept()

	t.Cleanup(func() {
		ln.Close()
		srv.mu.Lock()
		for _, c := range srv.conns {
			c.Close()
		}
		srv.mu.Unlock()
		srv.wg.Wait()
	})
	return srv
}

func (srv *fakeServer) accept() {
	defer srv.wg.Done()

	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}

		srv.mu.Lock()
		srv.conns = append(srv.conns, conn)
		id := uint32(len(srv.conns))
		srv.mu.Unlock()

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			s := &fakeSession{srv: srv, conn: conn, id: id, status: _SERVER_STATUS_AUTOCOMMIT}
			s.serve()
		}()
	}
}

// url returns a connection url for the server followed by extra options.
func (srv *fakeServer) url(options ...string) string {
	u := fmt.Sprintf("jdbc:oceanbase://%s/test?user=root&password=%s", srv.ln.Addr(), srv.password)
	for _, o := range options {
		u += "&" + o
	}
	return u
}

func (srv *fakeServer) record(cmd byte, data []byte) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.log = append(srv.log, fakeCommand{cmd: cmd, data: string(data)})
}

// commands returns the payloads received for cmd, in order.
func (srv *fakeServer) commands(cmd byte) []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var out []string
	for _, c := range srv.log {
		if c.cmd == cmd {
			out = append(out, c.data)
		}
	}
	return out
}

// sent returns the command bytes received, in order.
func (srv *fakeServer) sent() []byte {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	out := make([]byte, len(srv.log))
	for i, c := range srv.log {
		out[i] = c.cmd
	}
	return out
}

// queries returns the COM_QUERY texts received, SET statements excluded.
func (srv *fakeServer) queries() []string {
	var out []string
	for _, q := range srv.commands(_COM_QUERY) {
		if !strings.HasPrefix(q, "SET ") {
			out = append(out, q)
		}
	}
	return out
}

func (srv *fakeServer) stmtID() uint32 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.nextID++
	return srv.nextID
}

// fakeSession is one client connection of a fakeServer.
type fakeSession struct {
	srv    *fakeServer
	conn   net.Conn
	id     uint32
	seq    uint8
	status uint16
}

func (s *fakeSession) serve() {
	defer s.conn.Close()

	s.write(s.greeting())
	resp, err := s.read()
	if err != nil {
		return
	}
	if !s.authenticated(resp) {
		s.writeErr(1045, "28000", "Access denied for user 'root'@'127.0.0.1'")
		return
	}
	s.writeOK(0, 0)

	for {
		b, err := s.read()
		if err != nil || len(b) == 0 {
			return
		}
		cmd, data := b[0], b[1:]
		s.srv.record(cmd, data)

		switch {
		case cmd == _COM_QUIT:
			return
		case cmd == _COM_STMT_CLOSE:
			continue
		case cmd == _COM_PING:
			s.writeOK(0, 0)
			continue
		case cmd == _COM_QUERY && strings.HasPrefix(string(data), "SET "):
			switch string(data) {
			case "SET autocommit=0":
				s.status &^= _SERVER_STATUS_AUTOCOMMIT
			case "SET autocommit=1":
				s.status |= _SERVER_STATUS_AUTOCOMMIT
			}
			s.writeOK(0, 0)
			continue
		}

		if s.srv.handler != nil && s.srv.handler(s, cmd, data) {
			continue
		}
		if cmd == _COM_STMT_PREPARE {
			s.writePrepareOK(strings.Count(string(data), "?"), nil)
			continue
		}
		s.writeOK(0, 0)
	}
}

func (s *fakeSession) read() ([]byte, error) {
	var h [4]byte
	if _, err := io.ReadFull(s.conn, h[:]); err != nil {
		return nil, err
	}
	s.seq = h[3] + 1

	b := make([]byte, int(getUint24(h[:3])))
	if _, err := io.ReadFull(s.conn, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *fakeSession) write(payload []byte) {
	b := make([]byte, 4, 4+len(payload))
	putUint24(b, uint32(len(payload)))
	b[3] = s.seq
	s.seq++
	s.conn.Write(append(b, payload...))
}

func (s *fakeSession) greeting() []byte {
	caps := uint32(_CLIENT_LONG_PASSWORD | _CLIENT_FOUND_ROWS | _CLIENT_LONG_FLAG |
		_CLIENT_CONNECT_WITH_DB | _CLIENT_PROTOCOL41 | _CLIENT_TRANSACTIONS |
		_CLIENT_SECURE_CONNECTION | _CLIENT_MULTI_STATEMENTS | _CLIENT_MULTI_RESULTS |
		_CLIENT_PS_MULTI_RESULTS | _CLIENT_PLUGIN_AUTH | _CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA)

	b := []byte{10}
	b = appendNullTerminatedString(b, "5.7.25-OceanBase-v4.2.1.0")
	b = binary.LittleEndian.AppendUint32(b, s.id)
	b = append(b, fakeScramble[:8]...)
	b = append(b, 0)
	b = binary.LittleEndian.AppendUint16(b, uint16(caps))
	b = append(b, 45)
	b = binary.LittleEndian.AppendUint16(b, s.status)
	b = binary.LittleEndian.AppendUint16(b, uint16(caps>>16))
	b = append(b, byte(len(fakeScramble)+1))
	b = append(b, make([]byte, 10)...)
	b = append(b, fakeScramble[8:]...)
	b = append(b, 0)
	return appendNullTerminatedString(b, _AUTH_NATIVE_PASSWORD)
}

// authenticated checks the mysql_native_password response of the client.
func (s *fakeSession) authenticated(resp []byte) bool {
	off := 4 + 4 + 1 + 23
	if off >= len(resp) {
		return false
	}
	_, n := getNullTerminatedString(resp[off:])
	off += n

	auth, _, n := getLenencBytes(resp[off:])
	if n == 0 {
		return false
	}
	return bytes.Equal(auth, nativePassword(s.srv.password, []byte(fakeScramble)))
}

// nativePassword is SHA1(password) XOR SHA1(seed + SHA1(SHA1(password))).
func nativePassword(password string, seed []byte) []byte {
	if password == "" {
		return nil
	}
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])
	out := sha1.Sum(append(append([]byte(nil), seed...), stage2[:]...))
	for i := range out {
		out[i] ^= stage1[i]
	}
	return out[:]
}

func (s *fakeSession) writeOK(affected, lastInsertID uint64) {
	s.writeOKStatus(affected, lastInsertID, s.status)
}

func (s *fakeSession) writeOKStatus(affected, lastInsertID uint64, status uint16) {
	b := []byte{_PACKET_OK}
	b = appendLenencInt(b, affected)
	b = appendLenencInt(b, lastInsertID)
	b = binary.LittleEndian.AppendUint16(b, status)
	b = binary.LittleEndian.AppendUint16(b, 0)
	s.write(b)
}

func (s *fakeSession) writeErr(code uint16, state, msg string) {
	b := []byte{_PACKET_ERR}
	b = binary.LittleEndian.AppendUint16(b, code)
	b = append(b, '#')
	b = append(b, state...)
	s.write(append(b, msg...))
}

func (s *fakeSession) writeEOF(status uint16) {
	b := []byte{_PACKET_EOF, 0, 0}
	s.write(binary.LittleEndian.AppendUint16(b, status))
}

func (s *fakeSession) writeColumns(cols []fakeColumn, status uint16) {
	for _, col := range cols {
		var b []byte
		for _, v := range []string{"def", "test", "t", "t", col.name, col.name} {
			b = appendLenencString(b, v)
		}
		b = append(b, 0x0c)
		b = binary.LittleEndian.AppendUint16(b, 45)
		b = binary.LittleEndian.AppendUint32(b, 255)
		b = append(b, col.typ)
		b = binary.LittleEndian.AppendUint16(b, col.flags)
		b = append(b, 0, 0, 0)
		s.write(b)
	}
	if len(cols) > 0 {
		s.writeEOF(status)
	}
}

// writeTextResult sends a text protocol result set. The status flags go
// into the closing EOF packet.
func (s *fakeSession) writeTextResult(cols []fakeColumn, rows [][]interface{}, status uint16) {
	s.write(appendLenencInt(nil, uint64(len(cols))))
	s.writeColumns(cols, s.status)
	s.writeTextRows(rows)
	s.writeEOF(status)
}

func (s *fakeSession) writeTextRows(rows [][]interface{}) {
	for _, row := range rows {
		var b []byte
		for _, v := range row {
			if v == nil {
				b = append(b, 0xfb)
				continue
			}
			b = appendLenencString(b, fmt.Sprint(v))
		}
		s.write(b)
	}
}

// writeBinaryRows sends binary protocol rows of int64 and string values.
func (s *fakeSession) writeBinaryRows(rows [][]interface{}) {
	for _, row := range rows {
		bitmap := make([]byte, (len(row)+9)/8)
		var values []byte
		for i, v := range row {
			switch x := v.(type) {
			case nil:
				bitmap[(i+2)/8] |= 1 << ((i + 2) % 8)
			case int64:
				values = binary.LittleEndian.AppendUint64(values, uint64(x))
			case string:
				values = appendLenencString(values, x)
			}
		}
		b := append([]byte{0}, bitmap...)
		s.write(append(b, values...))
	}
}

func (s *fakeSession) writeBinaryResult(cols []fakeColumn, rows [][]interface{}, status uint16) {
	s.write(appendLenencInt(nil, uint64(len(cols))))
	s.writeColumns(cols, s.status)
	s.writeBinaryRows(rows)
	s.writeEOF(status)
}

// writePrepareOK answers COM_STMT_PREPARE and returns the statement id.
func (s *fakeSession) writePrepareOK(params int, cols []fakeColumn) uint32 {
	id := s.srv.stmtID()

	b := []byte{_PACKET_OK}
	b = binary.LittleEndian.AppendUint32(b, id)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(cols)))
	b = binary.LittleEndian.AppendUint16(b, uint16(params))
	b = append(b, 0, 0, 0)
	s.write(b)

	paramCols := make([]fakeColumn, params)
	for i := range paramCols {
		paramCols[i] = fakeColumn{name: "?", typ: _TYPE_VARSTRING}
	}
	s.writeColumns(paramCols, s.status)
	s.writeColumns(cols, s.status)
	return id
}

// stmtIDOf returns the statement id that starts the payload of
// COM_STMT_EXECUTE, COM_STMT_FETCH and COM_STMT_CLOSE.
func stmtIDOf(data string) uint32 {
	return binary.LittleEndian.Uint32([]byte(data[:4]))
}

// connectFake opens a native connection to srv.
func connectFake(t *testing.T, srv *fakeServer, options ...string) *Conn {
	c, err := Connect(context.Background(), srv.url(options...))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}
