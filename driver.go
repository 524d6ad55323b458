package oceanbase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
)

// Driver is the database/sql driver registered as "oceanbase". Data source
// names are connection urls, see ParseURL.
type Driver struct {
}

// init registers the driver
func init() {
	sql.Register("oceanbase", &Driver{})
}

func (d Driver) Open(dsn string) (driver.Conn, error) {
	connector, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext; the url is parsed once.
func (d Driver) OpenConnector(dsn string) (driver.Connector, error) {
	u, err := ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &connector{url: u}, nil
}

type connector struct {
	url *URL // immutable
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := connect(ctx, c.url.Clone())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *connector) Driver() driver.Driver {
	return &Driver{}
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.NamedValueChecker  = (*Conn)(nil)
	_ driver.SessionResetter    = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)

	_ driver.StmtExecContext  = (*sqlStmt)(nil)
	_ driver.StmtQueryContext = (*sqlStmt)(nil)

	_ driver.RowsNextResultSet              = (*Rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
)

// CheckNamedValue accepts the types the codec binds natively. NaN and the
// infinities are rejected.
func (c *Conn) CheckNamedValue(nv *driver.NamedValue) error {
	switch f := nv.Value.(type) {
	case float64:
		if err := checkFinite(f); err != nil {
			return err
		}
	case float32:
		if err := checkFinite(float64(f)); err != nil {
			return err
		}
	}

	v, err := defaultParameterConverter.ConvertValue(nv.Value)
	if err != nil {
		return myError(ErrInvalidType, err)
	}
	nv.Value = v
	return nil
}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.checkUsable() != nil {
		return nil, driver.ErrBadConn
	}
	ps, err := c.PrepareStatement(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlStmt{ps: ps}, nil
}

func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.checkUsable() != nil {
		return nil, driver.ErrBadConn
	}

	if len(args) == 0 {
		s, err := c.CreateStatement()
		if err != nil {
			return nil, err
		}
		defer s.Close()

		if err = s.exec(ctx, query); err != nil {
			return nil, err
		}
		return resultOf(&s.stmtCore), nil
	}

	ps, err := c.PrepareStatement(ctx, query)
	if err != nil {
		return nil, err
	}
	defer ps.Close()

	st := &sqlStmt{ps: ps}
	return st.ExecContext(ctx, args)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.checkUsable() != nil {
		return nil, driver.ErrBadConn
	}

	if len(args) == 0 {
		s, err := c.CreateStatement()
		if err != nil {
			return nil, err
		}
		if err = s.exec(ctx, query); err != nil {
			s.Close()
			return nil, err
		}
		return rowsOf(&s.stmtCore, s), nil
	}

	ps, err := c.PrepareStatement(ctx, query)
	if err != nil {
		return nil, err
	}
	st := &sqlStmt{ps: ps}
	if err = st.run(ctx, args); err != nil {
		ps.Close()
		return nil, err
	}
	return rowsOf(&ps.stmtCore, ps), nil
}

// rowsOf returns the rows of the first result set of s; an execution
// without a result set gives empty rows.
func rowsOf(s *stmtCore, owner io.Closer) *Rows {
	if s.ResultSet() == nil {
		return &Rows{s: s, rs: newResultSet(s.c, nil, &readMode{owner: s}), owner: owner}
	}
	return newRows(s, owner)
}

// sqlStmt adapts a PreparedStatement to driver.Stmt.
type sqlStmt struct {
	ps *PreparedStatement
}

func (st *sqlStmt) Close() error {
	return st.ps.Close()
}

func (st *sqlStmt) NumInput() int {
	return st.ps.ParameterCount()
}

// run binds args by position and executes the statement.
func (st *sqlStmt) run(ctx context.Context, args []driver.NamedValue) error {
	st.ps.ClearParameters()
	for _, nv := range args {
		if nv.Name != "" {
			return myError(ErrNotSupported, "named parameter "+nv.Name)
		}
		if err := st.ps.bind(nv.Ordinal, nv.Value); err != nil {
			return err
		}
	}
	return st.ps.run(ctx)
}

func (st *sqlStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := st.run(ctx, args); err != nil {
		return nil, err
	}
	res := resultOf(&st.ps.stmtCore)
	st.ps.clearResults()
	return res, nil
}

func (st *sqlStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := st.run(ctx, args); err != nil {
		return nil, err
	}
	return rowsOf(&st.ps.stmtCore, nil), nil
}

func (st *sqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	return st.ExecContext(context.Background(), namedValues(args))
}

func (st *sqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return st.QueryContext(context.Background(), namedValues(args))
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}
