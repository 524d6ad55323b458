package oceanbase

import (
	"encoding/binary"
	"os"
	"runtime"
	"strconv"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

const (
	_CLIENT_NAME    = "obconnector-go"
	_CLIENT_VERSION = "2.4.0"

	_ZSTD_DEFAULT_LEVEL = 3
)

//<!-- connection phase packets -->

// parseGreetingPacket parses handshake initialization packet received from
// the server.
func (c *Conn) parseGreetingPacket(b []byte) error {
	var (
		off, n                       int
		authData                     []byte // authentication plugin data
		authDataLength               int
		authDataOff_1, authDataOff_2 int
	)

	if len(b) == 0 {
		return myError(ErrInvalidPacket)
	}
	if b[0] == _PACKET_ERR {
		return c.parseErrPacket(b)
	}

	if len(b) < 1+1+4+8+1+2 {
		return myError(ErrInvalidPacket)
	}

	off++                                                 // [0a] protocol version
	c.serverVersion, n = getNullTerminatedString(b[off:]) // server version (null-terminated)
	off += n

	if off+4+8+1+2 > len(b) {
		return myError(ErrInvalidPacket)
	}

	c.connectionId = binary.LittleEndian.Uint32(b[off : off+4]) // connection ID
	off += 4

	// auth-plugin-data-part-1 (8 bytes) : note the offset & length
	authDataOff_1 = off
	authDataLength = 8
	off += 8

	off++ // [00] filler

	// capacity flags (lower 2 bytes)
	c.serverCapabilities = uint32(binary.LittleEndian.Uint16(b[off : off+2]))
	off += 2

	if len(b) >= off+1+2+2+1+10 {
		c.serverCharset = b[off]
		off++

		c.statusFlags = binary.LittleEndian.Uint16(b[off : off+2]) // status flags
		off += 2
		// capacity flags (upper 2 bytes)
		c.serverCapabilities |= uint32(binary.LittleEndian.Uint16(b[off:off+2])) << 16
		off += 2

		if (c.serverCapabilities & _CLIENT_PLUGIN_AUTH) != 0 {
			// update the auth plugin data length
			authDataLength = int(b[off])
		}
		off++

		off += 10 // reserved (all [00])

		if (c.serverCapabilities & _CLIENT_SECURE_CONNECTION) != 0 {
			// auth-plugin-data-part-2 : max(13, authDataLength - 8)
			part2 := authDataLength - 8
			if part2 < 13 {
				part2 = 13
			}
			if off+part2 > len(b) {
				return myError(ErrInvalidPacket)
			}
			authDataOff_2 = off
			off += part2
			authDataLength = 8 + part2 - 1 // ignore the trailing 0x00 byte
		} else {
			authDataLength = 8
		}
	} else {
		authDataLength = 8
	}

	authData = make([]byte, authDataLength)
	copy(authData[0:8], b[authDataOff_1:authDataOff_1+8])
	if authDataLength > 8 {
		copy(authData[8:], b[authDataOff_2:authDataOff_2+(authDataLength-8)])
	}
	c.authPluginData = authData

	if (c.serverCapabilities&_CLIENT_PLUGIN_AUTH) != 0 && off < len(b) {
		// auth-plugin name (null-terminated)
		c.authPluginName, _ = getNullTerminatedString(b[off:])
	}
	return nil
}

// clientCapabilityFlags returns the capabilities the client asks for,
// limited to those the server offers.
func (c *Conn) clientCapabilityFlags() uint32 {
	flags := uint32(_CLIENT_LONG_PASSWORD |
		_CLIENT_FOUND_ROWS |
		_CLIENT_LONG_FLAG |
		_CLIENT_PROTOCOL41 |
		_CLIENT_TRANSACTIONS |
		_CLIENT_SECURE_CONNECTION |
		_CLIENT_MULTI_RESULTS |
		_CLIENT_PS_MULTI_RESULTS |
		_CLIENT_PLUGIN_AUTH |
		_CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA |
		_CLIENT_CONNECT_ATTRS |
		_CLIENT_CAN_HANDLE_EXPIRED_PASSWORDS |
		_CLIENT_SESSION_TRACK)

	if c.url.Database != "" {
		flags |= _CLIENT_CONNECT_WITH_DB
	}
	if c.opts.AllowMultiQueries || c.opts.RewriteBatchedStatements {
		flags |= _CLIENT_MULTI_STATEMENTS
	}
	if c.opts.UseSSL {
		flags |= _CLIENT_SSL
	}
	if c.opts.UseCompression && !c.opts.UseOceanBaseProtocolV20 {
		flags |= _CLIENT_COMPRESS
		if c.opts.CompressionAlgorithm == "zstd" {
			flags |= _CLIENT_ZSTD_COMPRESSION_ALGORITHM
		}
	}
	return flags & c.serverCapabilities
}

// obCapabilityFlags returns the OceanBase capabilities the client
// announces in the __proxy_capability_flag connection attribute.
func (c *Conn) obCapabilityFlags() uint32 {
	var flags uint32
	if c.opts.UseOceanBaseProtocolV20 {
		flags |= _OB_CAP_OB_PROTOCOL_V2 | _OB_CAP_PROXY_NEW_EXTRA_INFO
		if c.opts.EnableFullLinkTrace {
			flags |= _OB_CAP_FULL_LINK_TRACE
		}
	}
	return flags
}

// connectAttributes returns the connection attributes in the order sent.
func (c *Conn) connectAttributes() [][2]string {
	return [][2]string{
		{"_client_name", _CLIENT_NAME},
		{"_client_version", _CLIENT_VERSION},
		{"_os", runtime.GOOS},
		{"_platform", runtime.GOARCH},
		{"_pid", strconv.Itoa(os.Getpid())},
		{"__proxy_capability_flag", strconv.FormatUint(uint64(c.obCapabilities), 10)},
		{"__ob_client_name", _CLIENT_NAME},
		{"__ob_client_version", _CLIENT_VERSION},
	}
}

// createHandshakeResponsePacket generates the handshake response packet.
func (c *Conn) createHandshakeResponsePacket(authData []byte) []byte {
	b := make([]byte, 4, 128+len(authData))

	// 4 bytes: placeholder for protocol packet header
	b = c.appendHandshakeResponse1(b)

	b = append(b, c.enc.Encode(c.identity.login)...)
	b = append(b, 0)

	if (c.clientCapabilities & _CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA) != 0 {
		b = appendLenencBytes(b, authData)
	} else {
		b = append(b, byte(len(authData)))
		b = append(b, authData...)
	}

	if (c.clientCapabilities & _CLIENT_CONNECT_WITH_DB) != 0 {
		b = append(b, c.enc.Encode(c.url.Database)...)
		b = append(b, 0)
	}

	if (c.clientCapabilities & _CLIENT_PLUGIN_AUTH) != 0 {
		b = appendNullTerminatedString(b, c.authPluginName)
	}

	if (c.clientCapabilities & _CLIENT_CONNECT_ATTRS) != 0 {
		var attrs []byte
		for _, kv := range c.connectAttributes() {
			attrs = appendLenencString(attrs, kv[0])
			attrs = appendLenencString(attrs, kv[1])
		}
		b = appendLenencBytes(b, attrs)
	}

	if (c.clientCapabilities & _CLIENT_ZSTD_COMPRESSION_ALGORITHM) != 0 {
		b = append(b, _ZSTD_DEFAULT_LEVEL)
	}
	return b
}

// createSSLRequestPacket generates the SSL request packet to initiate SSL
// handshake. It is sent to the server over plain connection after which the
// communication is switched to SSL.
func (c *Conn) createSSLRequestPacket() []byte {
	b := make([]byte, 4, 4+32)
	return c.appendHandshakeResponse1(b)
}

// appendHandshakeResponse1 appends the 1st part of protocol's handshake
// response packet (before user name).
func (c *Conn) appendHandshakeResponse1(b []byte) []byte {
	// client capability flags
	b = binary.LittleEndian.AppendUint32(b, c.clientCapabilities)

	// max packet size
	b = binary.LittleEndian.AppendUint32(b, uint32(c.opts.MaxAllowedPacket))

	// client character set
	b = append(b, c.enc.Collation())

	// reserved (all [0])
	return append(b, make([]byte, 23)...)
}

// handshake performs handshake during connection establishment
func (c *Conn) handshake() error {
	// read handshake initialization packet.
	b, err := c.readPacket()
	if err != nil {
		return err
	}

	if err = c.parseGreetingPacket(b); err != nil {
		return err
	}
	c.enterAuthState(AuthHandshakeReceived)

	c.clientCapabilities = c.clientCapabilityFlags()
	c.obCapabilities = c.obCapabilityFlags()

	// note : server capabilities can only be checked after receiving the
	// "greeting" packet
	if c.opts.UseSSL {
		if c.serverCapabilities&_CLIENT_SSL == 0 {
			return myError(ErrSSLSupport)
		}

		// send SSL request packet (1st part of handshake response packet)
		if err = c.writePacket(c.createSSLRequestPacket()); err != nil {
			return err
		}

		// switch to tls
		if err = c.sslConnect(); err != nil {
			return err
		}
		c.enterAuthState(AuthTLSUpgrade)
	}

	if c.opts.UseCompression && !c.opts.UseOceanBaseProtocolV20 && c.serverCapabilities&_CLIENT_COMPRESS == 0 {
		return myError(ErrCompressionSupport)
	}

	if err = c.selectAuthPlugin(c.authPluginName); err != nil {
		return err
	}

	authData, err := c.authResponseData()
	if err != nil {
		return err
	}
	if err = c.writePacket(c.createHandshakeResponsePacket(authData)); err != nil {
		return err
	}

	if err = c.readAuthResult(); err != nil {
		return err
	}
	c.enterAuthState(AuthAuthenticated)

	return c.switchProtocol()
}

// readAuthResult reads server replies until the authentication succeeds or
// fails, answering auth switch and more-data requests on the way.
func (c *Conn) readAuthResult() error {
	for {
		b, err := c.readPacket()
		if err != nil {
			return err
		}

		switch b[0] {
		case _PACKET_OK:
			return c.parseOkPacket(b)

		case _PACKET_ERR:
			return c.parseErrPacket(b)

		case _AUTH_SWITCH_REQUEST:
			plugin, n := getNullTerminatedString(b[1:])
			data := b[1+n:]
			if len(data) > 0 && data[len(data)-1] == 0 {
				data = data[:len(data)-1]
			}
			c.authPluginData = copyBytes(data)

			logger.Debugf("connection to %s: server switched authentication to %s", c.addr, plugin)
			if err = c.selectAuthPlugin(plugin); err != nil {
				return err
			}
			resp, err := c.authResponseData()
			if err != nil {
				return err
			}
			if err = c.writeAuthData(resp); err != nil {
				return err
			}

		case _AUTH_MORE_DATA:
			if err = c.handleAuthMoreData(b[1:]); err != nil {
				return err
			}

		default:
			return c.markBroken(myError(ErrInvalidPacket))
		}
	}
}

// switchProtocol installs the compression or OceanBase 2.0 read/writer once
// the session is authenticated.
func (c *Conn) switchProtocol() error {
	negotiated := c.obCapabilities & c.serverObCapabilities

	switch {
	case negotiated&_OB_CAP_OB_PROTOCOL_V2 != 0:
		c.rw = newOB20RW(c)
		c.checkSeqno = false
		if negotiated&_OB_CAP_FULL_LINK_TRACE != 0 {
			c.flt = newFullLinkTrace()
		} else if c.opts.EnableFullLinkTrace {
			logger.Infof("connection %d: server does not support full link trace", c.connectionId)
		}
		logger.Debugf("connection %d: OceanBase 2.0 protocol enabled", c.connectionId)

	case c.clientCapabilities&_CLIENT_COMPRESS != 0:
		algorithm := "zlib"
		if c.clientCapabilities&_CLIENT_ZSTD_COMPRESSION_ALGORITHM != 0 {
			algorithm = "zstd"
		}
		rw, err := newCompressRW(c, algorithm, _ZSTD_DEFAULT_LEVEL)
		if err != nil {
			return err
		}
		c.rw = rw
		c.checkSeqno = false
		logger.Debugf("connection %d: %s compression enabled", c.connectionId, algorithm)

	case c.opts.UseOceanBaseProtocolV20:
		logger.Infof("connection %d: server does not support the OceanBase 2.0 protocol", c.connectionId)
	}
	return nil
}
