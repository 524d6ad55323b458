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
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"

	"github.com/pkg/errors"
)

// sslConnect establishes a SSL connection with the server.
func (c *Conn) sslConnect() error {
	host, _, err := net.SplitHostPort(c.addr)
	if err != nil {
		host = c.addr
	}

	config := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: c.opts.TrustServerCertificate,
		MinVersion:         tls.VersionTLS12,
	}

	if c.opts.ServerSslCert != "" {
		pemCerts, err := os.ReadFile(c.opts.ServerSslCert)
		if err != nil {
			return myError(ErrSSLConnection, errors.Wrap(err, "server certificate"))
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(pemCerts) {
			return myError(ErrSSLConnection, errors.Errorf("no certificate found in %s", c.opts.ServerSslCert))
		}
		config.RootCAs = certPool
	}

	if c.opts.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.opts.ClientCertFile, c.opts.ClientKeyFile)
		if err != nil {
			return myError(ErrSSLConnection, errors.Wrap(err, "client certificate"))
		}
		config.Certificates = []tls.Certificate{cert}
	}

	conn := tls.Client(c.netConn, config)
	if err = conn.Handshake(); err != nil {
		return myError(ErrSSLConnection, err)
	}

	// update the connection handle
	c.netConn = conn
	c.tls = true
	return nil
}
