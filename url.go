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
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

// HAMode is the high availability mode named in the connection url.
type HAMode int

const (
	HANone HAMode = iota
	HAReplication
	HAFailover
	HAAurora
	HASequential
	HALoadBalance
)

var haModeNames = map[string]HAMode{
	"replication":  HAReplication,
	"failover":     HAFailover,
	"aurora":       HAAurora,
	"sequential":   HASequential,
	"loadbalance":  HALoadBalance,
	"load-balance": HALoadBalance,
}

func (m HAMode) String() string {
	switch m {
	case HAReplication:
		return "replication"
	case HAFailover:
		return "failover"
	case HAAurora:
		return "aurora"
	case HASequential:
		return "sequential"
	case HALoadBalance:
		return "loadbalance"
	}
	return "none"
}

// HostAddress is one host of the connection url.
type HostAddress struct {
	Host string
	Port int
}

func (h HostAddress) String() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// URL is a parsed connection url:
//
//	[jdbc:]oceanbase[:oracle][:<haMode>]://[user[:password]@]host[:port][,host[:port]...][/database][?key=value[&key=value...]]
//
// Repeated keys keep their last value.
type URL struct {
	Oracle     bool
	HAMode     HAMode
	Hosts      []HostAddress
	Database   string
	Properties map[string]string
	Options    *Options

	// option keys that are not recognized
	Unknown []string

	raw string
}

// the DNS name of an aurora instance or cluster end point
var auroraHost = regexp.MustCompile(`(?i)^(.+)\.(cluster-|cluster-ro-)?([a-z0-9]+\.[a-z0-9\-]+\.rds\.amazonaws\.com)$`)

// ParseURL parses a connection url.
func ParseURL(s string) (*URL, error) {
	u := &URL{raw: s, Properties: make(map[string]string)}

	rest := strings.TrimSpace(s)
	rest = strings.TrimPrefix(rest, "jdbc:")

	i := strings.Index(rest, "://")
	if i < 0 {
		return nil, myError(ErrInvalidDSN, "missing '://'")
	}

	if err := u.parseScheme(rest[:i]); err != nil {
		return nil, err
	}
	rest = rest[i+3:]

	// split the query off first, it may contain '/' and '@'
	var query string
	if i = strings.IndexByte(rest, '?'); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}

	var path string
	if i = strings.IndexByte(rest, '/'); i >= 0 {
		rest, path = rest[:i], rest[i+1:]
	}

	if path != "" {
		db, err := url.PathUnescape(path)
		if err != nil {
			return nil, myError(ErrInvalidDSN, err)
		}
		u.Database = db
	}

	if i = strings.LastIndexByte(rest, '@'); i >= 0 {
		if err := u.parseUserInfo(rest[:i]); err != nil {
			return nil, err
		}
		rest = rest[i+1:]
	}

	if err := u.parseHosts(rest); err != nil {
		return nil, err
	}

	if err := u.parseQuery(query); err != nil {
		return nil, err
	}

	if u.HAMode == HAAurora {
		if err := u.checkAuroraCluster(); err != nil {
			return nil, err
		}
	}

	return u, u.buildOptions()
}

func (u *URL) parseScheme(scheme string) error {
	parts := strings.Split(scheme, ":")
	if parts[0] != "oceanbase" {
		return myError(ErrScheme, scheme)
	}

	for _, p := range parts[1:] {
		switch lp := strings.ToLower(p); {
		case lp == "oracle":
			u.Oracle = true
		case lp == "mysql":
		default:
			m, ok := haModeNames[lp]
			if !ok {
				return myError(ErrHAMode, p)
			}
			u.HAMode = m
		}
	}
	return nil
}

func (u *URL) parseUserInfo(s string) error {
	user, password, hasPassword := strings.Cut(s, ":")

	v, err := url.PathUnescape(user)
	if err != nil {
		return myError(ErrInvalidDSN, err)
	}
	u.Properties["user"] = v

	if hasPassword {
		if v, err = url.PathUnescape(password); err != nil {
			return myError(ErrInvalidDSN, err)
		}
		u.Properties["password"] = v
	}
	return nil
}

func (u *URL) parseHosts(s string) error {
	if s == "" {
		return myError(ErrInvalidDSN, "no host")
	}

	for _, h := range strings.Split(s, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}

		host, port := h, _DEFAULT_PORT
		if strings.HasPrefix(h, "[") {
			// [ipv6]:port
			end := strings.IndexByte(h, ']')
			if end < 0 {
				return myError(ErrInvalidDSN, "bad host '"+h+"'")
			}
			host = h[1:end]
			if rest := h[end+1:]; strings.HasPrefix(rest, ":") {
				p, err := strconv.Atoi(rest[1:])
				if err != nil {
					return myError(ErrInvalidDSN, err)
				}
				port = p
			}
		} else if i := strings.LastIndexByte(h, ':'); i >= 0 {
			host = h[:i]
			p, err := strconv.Atoi(h[i+1:])
			if err != nil {
				return myError(ErrInvalidDSN, err)
			}
			port = p
		}

		if port <= 0 || port > 65535 {
			return myError(ErrInvalidPropertyValue, "port", port)
		}
		u.Hosts = append(u.Hosts, HostAddress{Host: host, Port: port})
	}

	if len(u.Hosts) == 0 {
		return myError(ErrInvalidDSN, "no host")
	}
	return nil
}

func (u *URL) parseQuery(query string) error {
	for _, kv := range strings.FieldsFunc(query, func(r rune) bool { return r == '&' || r == ';' }) {
		k, v, _ := strings.Cut(kv, "=")

		key, err := url.QueryUnescape(k)
		if err != nil {
			return myError(ErrInvalidDSN, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return myError(ErrInvalidDSN, err)
		}

		// the last occurrence wins
		u.Properties[strings.TrimSpace(key)] = value
	}
	return nil
}

// checkAuroraCluster verifies all aurora end points belong to one cluster.
func (u *URL) checkAuroraCluster() error {
	var suffix string

	for _, h := range u.Hosts {
		m := auroraHost.FindStringSubmatch(h.Host)
		if m == nil {
			continue
		}
		if suffix == "" {
			suffix = strings.ToLower(m[3])
		} else if !strings.EqualFold(suffix, m[3]) {
			return myError(ErrAuroraCluster, h.Host, suffix)
		}
	}
	return nil
}

func (u *URL) buildOptions() error {
	props := make(map[string]interface{}, len(u.Properties))
	for k, v := range u.Properties {
		props[k] = v
	}

	u.Options = DefaultOptions()

	unknown, err := u.Options.Apply(props)
	if err != nil {
		return err
	}
	u.Unknown = unknown

	if len(unknown) > 0 {
		logger.Warnf("ignoring unknown connection options %v", unknown)
	}
	return nil
}

// MultiMaster reports whether every host accepts writes: failover,
// sequential and loadbalance urls naming at least two hosts.
func (u *URL) MultiMaster() bool {
	switch u.HAMode {
	case HAFailover, HASequential, HALoadBalance:
		return len(u.Hosts) >= 2
	}
	return false
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	c := *u
	c.Hosts = append([]HostAddress(nil), u.Hosts...)
	c.Properties = make(map[string]string, len(u.Properties))
	for k, v := range u.Properties {
		c.Properties[k] = v
	}
	c.Options = u.Options.Clone()
	return &c
}

// String returns the url with the password removed.
func (u *URL) String() string {
	var sb strings.Builder

	sb.WriteString("jdbc:oceanbase")
	if u.Oracle {
		sb.WriteString(":oracle")
	}
	if u.HAMode != HANone {
		sb.WriteString(":" + u.HAMode.String())
	}
	sb.WriteString("://")

	for i, h := range u.Hosts {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(h.String())
	}

	sb.WriteByte('/')
	sb.WriteString(url.PathEscape(u.Database))

	sep := byte('?')
	for _, k := range sortedKeys(u.Properties) {
		if k == "password" {
			continue
		}
		sb.WriteByte(sep)
		sb.WriteString(url.QueryEscape(k) + "=" + url.QueryEscape(u.Properties[k]))
		sep = '&'
	}
	return sb.String()
}
