package oceanbase

import (
	"context"

	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// The session state below is changed by server statements only; the fields
// are updated when the statement succeeds and from the session state the
// server reports in OK packets.

// AutoCommit reports whether the session is in autocommit mode.
func (c *Conn) AutoCommit() bool {
	return c.autoCommit
}

// SetAutoCommit switches autocommit mode with SET autocommit. Switching it
// on does not commit an open transaction implicitly beyond what the server
// does for the statement.
func (c *Conn) SetAutoCommit(ctx context.Context, on bool) error {
	query := "SET autocommit=0"
	if on {
		query = "SET autocommit=1"
	}
	if err := c.execSimple(ctx, query); err != nil {
		return err
	}
	c.autoCommit = on
	return nil
}

// InTransaction reports whether the server flagged an open transaction in
// its last reply.
func (c *Conn) InTransaction() bool {
	return c.statusFlags&_SERVER_STATUS_IN_TRANS != 0
}

// Commit commits the current transaction.
func (c *Conn) Commit(ctx context.Context) error {
	return c.execSimple(ctx, "COMMIT")
}

// Rollback rolls the current transaction back.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.execSimple(ctx, "ROLLBACK")
}

// TransactionIsolation returns the isolation level of the session.
func (c *Conn) TransactionIsolation() IsolationLevel {
	return c.isolation
}

// SetTransactionIsolation changes the isolation level of the session.
func (c *Conn) SetTransactionIsolation(ctx context.Context, level IsolationLevel) error {
	if level.String() == "UNKNOWN" {
		return myError(ErrInvalidPropertyValue, "isolation level", int(level))
	}
	if err := c.execSimple(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL "+level.String()); err != nil {
		return err
	}
	c.isolation = level
	return nil
}

// IsReadOnly reports whether the session is read only.
func (c *Conn) IsReadOnly() bool {
	return c.readOnly
}

// SetReadOnly makes the session read only or read write. In Oracle mode with
// oracleChangeReadOnlyToRepeatableRead, read only is rendered as the
// REPEATABLE READ isolation level instead, and going back to read write
// restores the level in effect before.
func (c *Conn) SetReadOnly(ctx context.Context, readOnly bool) error {
	var query string

	switch {
	case c.oracleMode && c.opts.OracleChangeReadOnlyToRepeatableRead:
		level := c.isolation
		switch {
		case readOnly:
			if !c.readOnly {
				c.readWriteIsolation = c.isolation
			}
			level = LevelRepeatableRead
		case c.readOnly:
			level = c.readWriteIsolation
		}
		if err := c.SetTransactionIsolation(ctx, level); err != nil {
			return err
		}
		c.readOnly = readOnly
		return nil

	case c.oracleMode:
		query = "SET TRANSACTION READ WRITE"
		if readOnly {
			query = "SET TRANSACTION READ ONLY"
		}

	default:
		query = "SET SESSION TRANSACTION READ WRITE"
		if readOnly {
			query = "SET SESSION TRANSACTION READ ONLY"
		}
	}

	if err := c.execSimple(ctx, query); err != nil {
		return err
	}
	c.readOnly = readOnly
	return nil
}

// Catalog returns the current catalog; in MySQL mode it is the database.
func (c *Conn) Catalog() string {
	return c.catalog
}

// SetCatalog changes the current database. Oracle mode has no catalogs and
// ignores the call.
func (c *Conn) SetCatalog(ctx context.Context, name string) error {
	if c.oracleMode {
		return nil
	}
	return c.initDB(ctx, name)
}

// Schema returns the current schema.
func (c *Conn) Schema() string {
	return c.schema
}

// SetSchema changes the current schema: the database in MySQL mode, the
// CURRENT_SCHEMA in Oracle mode.
func (c *Conn) SetSchema(ctx context.Context, name string) error {
	if !c.oracleMode {
		return c.initDB(ctx, name)
	}
	if err := c.execSimple(ctx, "ALTER SESSION SET CURRENT_SCHEMA = "+name); err != nil {
		return err
	}
	c.schema = name
	return nil
}

// initDB sends COM_INIT_DB.
func (c *Conn) initDB(ctx context.Context, name string) error {
	if err := c.startCommand(ctx); err != nil {
		return err
	}

	stop := c.watchDeadline(ctx)
	defer stop()

	metrics.CommandsSent(commandName(_COM_INIT_DB))
	if err := c.writePacket(c.createComInitDb(name)); err != nil {
		return err
	}
	if err := c.readOkResponse(); err != nil {
		return err
	}
	c.schema, c.catalog = name, name
	return nil
}
