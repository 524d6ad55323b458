package oceanbase

import (
	"context"
	"database/sql/driver"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// DataSource builds connections from discrete settings instead of a url.
// The settings are frozen by the first Connect: setters fail afterwards.
type DataSource struct {
	mu     sync.Mutex
	cfg    dataSourceConfig
	url    *URL
	locked bool
}

type dataSourceConfig struct {
	URL      string `config:"url"`
	Oracle   bool   `config:"oracle"`
	Host     string `config:"host"`
	Port     int    `config:"port"`
	Database string `config:"database"`
	User     string `config:"user"`
	Password string `config:"password"`

	// connection options, see Options
	Properties map[string]interface{} `config:"properties"`
}

// NewDataSource returns a data source for localhost on the default port.
func NewDataSource() *DataSource {
	return &DataSource{cfg: dataSourceConfig{Properties: make(map[string]interface{})}}
}

// LoadDataSource reads the settings of a data source from a YAML file:
//
//	url: jdbc:oceanbase://127.0.0.1:2881/test   # or host/port/database
//	user: root@sys
//	password: secret
//	properties:
//	  useServerPrepStmts: true
func LoadDataSource(path string) (*DataSource, error) {
	conf, err := yaml.NewConfigWithFile(path, ucfg.PathSep("."))
	if err != nil {
		return nil, myError(ErrFile, errors.Wrap(err, path))
	}

	ds := NewDataSource()
	if err = conf.Unpack(&ds.cfg); err != nil {
		return nil, myError(ErrInvalidDSN, errors.Wrap(err, path))
	}
	if ds.cfg.Properties == nil {
		ds.cfg.Properties = make(map[string]interface{})
	}
	return ds, nil
}

// NewDataSourceFromMap builds a data source from a flat property map. The
// keys url, oracle, host, port, database, user and password are settings;
// the other keys are connection options.
func NewDataSourceFromMap(props map[string]interface{}) (*DataSource, error) {
	ds := NewDataSource()

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &ds.cfg,
	})
	if err != nil {
		return nil, myError(ErrInvalidDSN, err)
	}
	if err = dec.Decode(props); err != nil {
		return nil, myError(ErrInvalidDSN, errors.Wrap(err, "data source properties"))
	}

	if ds.cfg.Properties == nil {
		ds.cfg.Properties = make(map[string]interface{})
	}
	for _, k := range md.Unused {
		ds.cfg.Properties[k] = props[k]
	}
	return ds, nil
}

// set applies fn to the settings unless they are frozen.
func (ds *DataSource) set(fn func(cfg *dataSourceConfig)) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.locked {
		return myError(ErrConfigLocked)
	}
	fn(&ds.cfg)
	return nil
}

// SetURL sets a connection url; the other settings override its parts.
func (ds *DataSource) SetURL(s string) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.URL = s })
}

// SetOracleMode selects the Oracle compatibility mode of the tenant.
func (ds *DataSource) SetOracleMode(on bool) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.Oracle = on })
}

func (ds *DataSource) SetServerName(host string) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.Host = host })
}

func (ds *DataSource) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return myError(ErrInvalidPropertyValue, "port", port)
	}
	return ds.set(func(cfg *dataSourceConfig) { cfg.Port = port })
}

func (ds *DataSource) SetDatabaseName(name string) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.Database = name })
}

func (ds *DataSource) SetUser(user string) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.User = user })
}

func (ds *DataSource) SetPassword(password string) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.Password = password })
}

// SetLoginTimeout bounds the time to establish a connection.
func (ds *DataSource) SetLoginTimeout(d time.Duration) error {
	return ds.SetProperty("connectTimeout", d.Milliseconds())
}

// SetProperty sets a connection option.
func (ds *DataSource) SetProperty(name string, value interface{}) error {
	return ds.set(func(cfg *dataSourceConfig) { cfg.Properties[name] = value })
}

// URL returns the connection url the data source connects with, without
// the password.
func (ds *DataSource) URL() (string, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	u, err := ds.cfg.build()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// build merges the settings into a connection url.
func (cfg *dataSourceConfig) build() (*URL, error) {
	raw := cfg.URL
	if raw == "" {
		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = _DEFAULT_PORT
		}

		scheme := "jdbc:oceanbase"
		if cfg.Oracle {
			scheme += ":oracle"
		}
		raw = scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/" + url.PathEscape(cfg.Database)
	}

	u, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	if cfg.URL != "" {
		if cfg.Oracle {
			u.Oracle = true
		}
		if cfg.Database != "" {
			u.Database = cfg.Database
		}
	}

	for k, v := range cfg.Properties {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, myError(ErrInvalidProperty, k, err)
		}
		u.Properties[k] = s
	}
	if cfg.User != "" {
		u.Properties["user"] = cfg.User
	}
	if cfg.Password != "" {
		u.Properties["password"] = cfg.Password
	}

	return u, u.buildOptions()
}

// resolve builds the url once and freezes the settings.
func (ds *DataSource) resolve() (*URL, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.url == nil {
		u, err := ds.cfg.build()
		if err != nil {
			return nil, err
		}
		ds.url, ds.locked = u, true
	}
	return ds.url.Clone(), nil
}

// Connect opens a connection with the settings of the data source.
func (ds *DataSource) Connect(ctx context.Context) (*Conn, error) {
	u, err := ds.resolve()
	if err != nil {
		return nil, err
	}
	return connect(ctx, u)
}

// ConnectAs opens a connection as another user.
func (ds *DataSource) ConnectAs(ctx context.Context, user, password string) (*Conn, error) {
	u, err := ds.resolve()
	if err != nil {
		return nil, err
	}
	u.Properties["user"], u.Properties["password"] = user, password
	u.Options.User, u.Options.Password = user, password
	return connect(ctx, u)
}

// Connector returns a driver.Connector for sql.OpenDB.
func (ds *DataSource) Connector() driver.Connector {
	return dataSourceConnector{ds}
}

type dataSourceConnector struct {
	ds *DataSource
}

func (dc dataSourceConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c, err := dc.ds.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (dc dataSourceConnector) Driver() driver.Driver {
	return &Driver{}
}
