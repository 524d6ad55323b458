package oceanbase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
)

// IsolationLevel is a transaction isolation level of the session.
type IsolationLevel int

const (
	LevelReadUncommitted IsolationLevel = iota + 1
	LevelReadCommitted
	LevelRepeatableRead
	LevelSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case LevelReadUncommitted:
		return "READ UNCOMMITTED"
	case LevelReadCommitted:
		return "READ COMMITTED"
	case LevelRepeatableRead:
		return "REPEATABLE READ"
	case LevelSerializable:
		return "SERIALIZABLE"
	}
	return "UNKNOWN"
}

// parseIsolationLevel parses the value of the tx_isolation variable,
// "REPEATABLE-READ" or "READ COMMITTED" alike.
func parseIsolationLevel(s string) (IsolationLevel, bool) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", " ")) {
	case "READ UNCOMMITTED":
		return LevelReadUncommitted, true
	case "READ COMMITTED":
		return LevelReadCommitted, true
	case "REPEATABLE READ":
		return LevelRepeatableRead, true
	case "SERIALIZABLE":
		return LevelSerializable, true
	}
	return 0, false
}

// isolationFromSQL maps a database/sql isolation level.
func isolationFromSQL(l sql.IsolationLevel) (IsolationLevel, error) {
	switch l {
	case sql.LevelReadUncommitted:
		return LevelReadUncommitted, nil
	case sql.LevelReadCommitted:
		return LevelReadCommitted, nil
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		return LevelRepeatableRead, nil
	case sql.LevelSerializable:
		return LevelSerializable, nil
	}
	return 0, myError(ErrNotSupported, "isolation level "+l.String())
}

// Tx is a transaction started through database/sql.
type Tx struct {
	c *Conn

	// autocommit was turned off to open the transaction
	restoreAutoCommit bool
}

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if err := c.checkUsable(); err != nil {
		return nil, driver.ErrBadConn
	}

	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) {
		level, err := isolationFromSQL(sql.IsolationLevel(opts.Isolation))
		if err != nil {
			return nil, err
		}
		if err = c.SetTransactionIsolation(ctx, level); err != nil {
			return nil, err
		}
	}

	tx := &Tx{c: c}

	if c.oracleMode {
		// transactions start implicitly
		if c.autoCommit {
			if err := c.SetAutoCommit(ctx, false); err != nil {
				return nil, err
			}
			tx.restoreAutoCommit = true
		}
		if opts.ReadOnly {
			if err := c.execSimple(ctx, "SET TRANSACTION READ ONLY"); err != nil {
				return nil, err
			}
		}
		return tx, nil
	}

	query := "START TRANSACTION"
	if opts.ReadOnly {
		query += " READ ONLY"
	}
	if err := c.execSimple(ctx, query); err != nil {
		return nil, err
	}
	return tx, nil
}

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (t *Tx) Commit() error {
	return t.end(t.c.Commit(context.Background()))
}

func (t *Tx) Rollback() error {
	return t.end(t.c.Rollback(context.Background()))
}

func (t *Tx) end(err error) error {
	if t.restoreAutoCommit && err == nil {
		err = t.c.SetAutoCommit(context.Background(), true)
	}
	return err
}
