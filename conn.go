package oceanbase

import (
	"context"
	"database/sql/driver"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/oceanbase/obconnector-go/internal/charset"
	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// Conn is one session with an OceanBase server. A Conn must not be used by
// more than one goroutine at a time, except for Cancel and Close.
type Conn struct {
	url  *URL
	opts *Options
	host HostAddress
	addr string

	netConn    net.Conn
	rw         readWriter
	seqno      uint8
	checkSeqno bool
	tls        bool

	// handshake initialization packet
	serverVersion        string
	connectionId         uint32
	serverCapabilities   uint32
	clientCapabilities   uint32
	serverCharset        uint8
	authPluginData       []byte
	authPluginName       string
	obCapabilities       uint32
	serverObCapabilities uint32
	authTrace            []AuthState
	identity             userIdentity

	// last OK/EOF packet
	affectedRows uint64
	lastInsertId uint64
	statusFlags  uint16
	warnings     uint16
	info         string
	sessionVars  map[string]string

	// session state
	oracleMode bool
	autoCommit bool
	isolation  IsolationLevel
	readOnly   bool
	// isolation to restore when read only is rendered as REPEATABLE READ
	readWriteIsolation IsolationLevel
	catalog            string
	schema             string

	enc  *charset.Charset
	nenc *charset.Charset
	loc  *time.Location

	psCache *psCache
	active  *ResultSet // streaming result set still on the wire
	stmts   map[*stmtCore]struct{}
	flt     *fullLinkTrace
	xa      *XAResource

	mu     sync.Mutex // guards closed, broken and netConn teardown
	closed bool
	broken error

	killCause error // why watchCancel killed the running query
}

// Connect opens a connection described by a connection url.
func Connect(ctx context.Context, rawURL string) (*Conn, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return connect(ctx, u)
}

// connect tries the hosts of u in the order of its high availability mode
// and returns the first session established.
func connect(ctx context.Context, u *URL) (*Conn, error) {
	logger.Configure(u.Options.LoggerLevel, u.Options.LoggerFile)

	hosts := u.connectOrder()

	var errs error
	for _, h := range hosts {
		c, err := open(ctx, u, h)
		if err == nil {
			return c, nil
		}
		if len(hosts) == 1 || ErrorKind(err) != KindProtocol || ctx.Err() != nil {
			return nil, err
		}
		logger.Warnf("connect to %s failed: %v", h, err)
		errs = multierror.Append(errs, err)
	}
	return nil, errs
}

// connectOrder returns the hosts in the order they are tried.
func (u *URL) connectOrder() []HostAddress {
	hosts := append([]HostAddress(nil), u.Hosts...)
	if u.HAMode == HALoadBalance {
		rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })
	}
	return hosts
}

// open establishes a session with one host.
func open(ctx context.Context, u *URL, h HostAddress) (*Conn, error) {
	var err error

	c := &Conn{
		url:        u,
		opts:       u.Options,
		host:       h,
		addr:       h.String(),
		checkSeqno: true,
		autoCommit: true,
		oracleMode: u.Oracle,
		isolation:  LevelRepeatableRead,
		schema:     u.Database,
		loc:        u.Options.location(),
		stmts:      make(map[*stmtCore]struct{}),
	}
	if c.oracleMode {
		c.isolation = LevelReadCommitted
	} else {
		c.catalog = u.Database
	}
	c.identity = parseUserIdentity(c.opts.User, c.opts.UseProxyUser)

	if c.enc, err = charset.Lookup(c.opts.CharacterEncoding); err != nil {
		return nil, myError(ErrCharset, c.opts.CharacterEncoding)
	}
	if c.nenc, err = charset.Lookup(c.opts.NCharacterEncoding); err != nil {
		return nil, myError(ErrCharset, c.opts.NCharacterEncoding)
	}

	timeout := c.opts.connectTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if c.netConn, err = dial(ctx, c.addr, timeout); err != nil {
		return nil, err
	}
	c.rw = &defaultReadWriter{c: c}

	// the handshake is bounded by ctx
	stop := context.AfterFunc(ctx, func() {
		c.netConn.SetDeadline(time.Now())
	})
	err = c.handshake()
	if !stop() || ctx.Err() != nil {
		c.netConn.Close()
		return nil, myError(ErrConnection, ctx.Err())
	}
	if err != nil {
		c.netConn.Close()
		return nil, err
	}
	c.netConn.SetDeadline(time.Time{})

	c.psCache = newPSCache(c, c.opts.PrepStmtCacheSize, c.opts.CachePrepStmts)

	if err = c.initSession(ctx); err != nil {
		c.netConn.Close()
		return nil, err
	}

	metrics.ConnectionOpened(c.protocolName())
	logger.Infof("connected to %s (connection id %d, server %s, %s mode, %s protocol)",
		c.addr, c.connectionId, c.serverVersion, c.Mode(), c.protocolName())
	return c, nil
}

// initSession applies the session settings of the connection options.
func (c *Conn) initSession(ctx context.Context) error {
	var vars []string

	if c.opts.JdbcCompliantTruncation && !c.oracleMode {
		vars = append(vars, "sql_mode=CONCAT(@@sql_mode,',STRICT_TRANS_TABLES')")
	}
	vars = append(vars, parseSessionVariables(c.opts.SessionVariables)...)

	if len(vars) == 0 {
		return nil
	}
	return c.execSimple(ctx, "SET "+strings.Join(vars, ","))
}

func (c *Conn) protocolName() string {
	switch c.rw.(type) {
	case *ob20RW:
		return "ob20"
	case *compressRW:
		return "compressed"
	}
	return "mysql"
}

// checkUsable fails when the connection was closed or broken.
func (c *Conn) checkUsable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return myError(ErrConnectionClosed)
	}
	if c.broken != nil {
		return myError(ErrConnectionBroken, c.broken)
	}
	return nil
}

// beginCommand prepares the connection for a new command: a streaming
// result set still on the wire is finalized and deferred statement closes
// are flushed.
func (c *Conn) beginCommand() error {
	if err := c.checkUsable(); err != nil {
		return err
	}

	if c.active != nil {
		rs := c.active
		c.active = nil
		if err := rs.supersede(); err != nil {
			return err
		}
	}

	if err := c.psCache.flushPendingCloses(); err != nil {
		return err
	}

	c.resetSeqno()
	return nil
}

// startCommand is beginCommand for a statement issued with ctx: the full
// link trace of the command is taken from ctx.
func (c *Conn) startCommand(ctx context.Context) error {
	if err := c.beginCommand(); err != nil {
		return err
	}
	c.flt.begin(ctx)
	return nil
}

// execText sends query with COM_QUERY and reads its results.
func (c *Conn) execText(ctx context.Context, query string, m *readMode) ([]*execResult, error) {
	if err := c.startCommand(ctx); err != nil {
		return nil, err
	}

	stop := c.watchCancel(ctx, m.timeout)
	defer stop()

	start := time.Now()
	defer metrics.ObserveCommand("query", start)

	if logger.Enabled(logger.LevelDebug) {
		logger.Debugf("connection %d: query %s", c.connectionId, query)
	}

	metrics.CommandsSent(commandName(_COM_QUERY))
	if err := c.writePacket(c.createComQuery(query)); err != nil {
		return nil, err
	}

	results, err := c.readResults(m)
	stop()
	return results, c.interrupted(err)
}

// execSimple runs query and discards its results.
func (c *Conn) execSimple(ctx context.Context, query string) error {
	results, err := c.execText(ctx, query, &readMode{})
	closeResults(results)
	return err
}

// Mode returns "oracle" or "mysql".
func (c *Conn) Mode() string {
	if c.oracleMode {
		return "oracle"
	}
	return "mysql"
}

// OracleMode reports whether the session runs in Oracle compatibility mode.
func (c *Conn) OracleMode() bool {
	return c.oracleMode
}

// ServerVersion returns the version string of the greeting packet.
func (c *Conn) ServerVersion() string {
	return c.serverVersion
}

// ConnectionID returns the server side id of the session.
func (c *Conn) ConnectionID() uint32 {
	return c.connectionId
}

// Host returns the address the session is connected to.
func (c *Conn) Host() HostAddress {
	return c.host
}

// URL returns the connection url the session was opened with.
func (c *Conn) URL() *URL {
	return c.url
}

// Warnings returns the warning count of the last command.
func (c *Conn) Warnings() uint16 {
	return c.warnings
}

// SessionVariable returns the last value the server reported for a
// tracked session variable.
func (c *Conn) SessionVariable(name string) (string, bool) {
	v, ok := c.sessionVars[name]
	return v, ok
}

// Ping checks the server is alive.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.startCommand(ctx); err != nil {
		return driver.ErrBadConn
	}

	stop := c.watchDeadline(ctx)
	defer stop()

	if err := c.writeCommand(_COM_PING); err != nil {
		return err
	}
	return c.readOkResponse()
}

// IsValidContext reports whether the connection is open and the server
// answers a ping within ctx.
func (c *Conn) IsValidContext(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

// IsValid implements driver.Validator.
func (c *Conn) IsValid() bool {
	return c.checkUsable() == nil
}

// ResetSession implements driver.SessionResetter.
func (c *Conn) ResetSession(ctx context.Context) error {
	if c.checkUsable() != nil {
		return driver.ErrBadConn
	}
	return nil
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the open statements, releases the server statement handles
// and ends the session.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	broken := c.broken
	c.mu.Unlock()

	var result error

	c.active = nil
	for s := range c.stmts {
		if err := s.closeLocal(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if broken == nil {
		if err := c.psCache.close(); err != nil {
			result = multierror.Append(result, err)
		}

		c.resetSeqno()
		if err := c.writeCommand(_COM_QUIT); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.rw.close()
	if err := c.netConn.Close(); err != nil && broken == nil {
		if _, ok := err.(*net.OpError); !ok {
			result = multierror.Append(result, err)
		}
	}

	logger.Infof("connection %d to %s closed", c.connectionId, c.addr)
	return result
}

// watchDeadline applies the deadline of ctx to the socket until the
// returned function is called.
func (c *Conn) watchDeadline(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		c.netConn.SetDeadline(time.Now())
	})
	return func() {
		if !stop() {
			c.netConn.SetDeadline(time.Time{})
		}
	}
}

// register tracks an open statement; it is closed with the connection.
func (c *Conn) register(s *stmtCore) {
	c.stmts[s] = struct{}{}
}

func (c *Conn) unregister(s *stmtCore) {
	delete(c.stmts, s)
}

// QueryCurrentUsers asks the server for the authenticated and the
// effective user of the session.
func (c *Conn) QueryCurrentUsers(ctx context.Context) (user, current string, err error) {
	query := "SELECT USER(), CURRENT_USER()"
	if c.oracleMode {
		query = "SELECT SYS_CONTEXT('USERENV','SESSION_USER'), SYS_CONTEXT('USERENV','CURRENT_USER') FROM DUAL"
	}

	results, err := c.execText(ctx, query, &readMode{})
	if err != nil {
		return "", "", err
	}
	defer closeResults(results)

	rs := firstResultSet(results)
	if rs == nil {
		return "", "", myError(ErrQueryReturnedNoResultSet)
	}
	ok, err := rs.Next()
	if err != nil || !ok {
		return "", "", err
	}
	if user, err = rs.GetString(1); err != nil {
		return "", "", err
	}
	current, err = rs.GetString(2)
	return user, current, err
}
