package oceanbase

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceURL(t *testing.T) {
	ds := NewDataSource()
	u, err := ds.URL()
	require.NoError(t, err)
	assert.Equal(t, "jdbc:oceanbase://localhost:2881/", u)

	require.NoError(t, ds.SetOracleMode(true))
	require.NoError(t, ds.SetServerName("10.0.0.1"))
	require.NoError(t, ds.SetPort(2883))
	require.NoError(t, ds.SetDatabaseName("SYS"))
	require.NoError(t, ds.SetUser("admin@oracle"))
	require.NoError(t, ds.SetPassword("secret"))
	require.NoError(t, ds.SetLoginTimeout(5*time.Second))
	assert.True(t, IsErrorCode(ds.SetPort(0), ErrInvalidPropertyValue))

	u, err = ds.URL()
	require.NoError(t, err)
	assert.Equal(t, "jdbc:oceanbase:oracle://10.0.0.1:2883/SYS?connectTimeout=5000&user=admin%40oracle", u)

	// explicit settings override the parts of a url
	ds = NewDataSource()
	require.NoError(t, ds.SetURL("jdbc:oceanbase://h1:1,h2:2/db1?useCursorFetch=true"))
	require.NoError(t, ds.SetDatabaseName("db2"))
	u, err = ds.URL()
	require.NoError(t, err)
	assert.Equal(t, "jdbc:oceanbase://h1:1,h2:2/db2?useCursorFetch=true", u)

	require.NoError(t, ds.SetProperty("defaultFetchSize", "x"))
	_, err = ds.URL()
	assert.Error(t, err)
}

func TestDataSourceLocked(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t, nil)

	ds := NewDataSource()
	require.NoError(t, ds.SetURL(srv.url()))
	require.NoError(t, ds.SetProperty("useServerPrepStmts", true))

	c, err := ds.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.opts.UseServerPrepStmts)

	assert.True(t, IsErrorCode(ds.SetUser("other"), ErrConfigLocked))
	assert.True(t, IsErrorCode(ds.SetProperty("useCursorFetch", true), ErrConfigLocked))

	_, err = ds.ConnectAs(ctx, "root", "wrong")
	assert.True(t, IsErrorCode(err, 1045))

	other, err := ds.ConnectAs(ctx, "app", "secret")
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, "app", other.opts.User)
	assert.Equal(t, "root", c.opts.User)
}

func TestLoadDataSource(t *testing.T) {
	srv := newFakeServer(t, nil)

	path := filepath.Join(t.TempDir(), "datasource.yml")
	content := fmt.Sprintf(`url: jdbc:oceanbase://%s/test
user: root
password: secret
properties:
  useServerPrepStmts: true
  defaultFetchSize: 10
`, srv.ln.Addr())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ds, err := LoadDataSource(path)
	require.NoError(t, err)

	u, err := ds.URL()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("jdbc:oceanbase://%s/test?defaultFetchSize=10&useServerPrepStmts=true&user=root", srv.ln.Addr()), u)

	db := sql.OpenDB(ds.Connector())
	defer db.Close()
	require.NoError(t, db.Ping())

	_, err = LoadDataSource(filepath.Join(t.TempDir(), "missing.yml"))
	assert.True(t, IsErrorCode(err, ErrFile))
}

func TestDataSourceFromMap(t *testing.T) {
	ds, err := NewDataSourceFromMap(map[string]interface{}{
		"host":           "127.0.0.1",
		"port":           "2881",
		"database":       "test",
		"user":           "root",
		"useCursorFetch": true,
	})
	require.NoError(t, err)

	u, err := ds.URL()
	require.NoError(t, err)
	assert.Equal(t, "jdbc:oceanbase://127.0.0.1:2881/test?useCursorFetch=true&user=root", u)

	_, err = NewDataSourceFromMap(map[string]interface{}{"port": "http"})
	assert.True(t, IsErrorCode(err, ErrInvalidDSN))
}
