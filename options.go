package oceanbase

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-ucfg"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/oceanbase/obconnector-go/internal/charset"
	"github.com/oceanbase/obconnector-go/internal/logger"
)

// Options holds the connection options. Field tags name the option keys
// accepted in a connection url or a data source.
type Options struct {
	User     string `config:"user"`
	Password string `config:"password"`

	UseServerPrepStmts       bool `config:"useServerPrepStmts"`
	UseOraclePrepareExecute  bool `config:"useOraclePrepareExecute"`
	UseCursorFetch           bool `config:"useCursorFetch"`
	DefaultFetchSize         int  `config:"defaultFetchSize"`
	RewriteBatchedStatements bool `config:"rewriteBatchedStatements"`
	MaxBatchTotalParamsNum   int  `config:"maxBatchTotalParamsNum"`
	MaxAllowedPacket         int  `config:"maxAllowedPacket"`
	UseServerPsStmtChecksum  bool `config:"useServerPsStmtChecksum"`
	CachePrepStmts           bool `config:"cachePrepStmts"`
	PrepStmtCacheSize        int  `config:"prepStmtCacheSize"`
	AllowMultiQueries        bool `config:"allowMultiQueries"`
	UseArrayBinding          bool `config:"useArrayBinding"`
	MaxRows                  int  `config:"maxRows"`

	CharacterEncoding  string `config:"characterEncoding"`
	NCharacterEncoding string `config:"nCharacterEncoding"`
	ServerTimezone     string `config:"serverTimezone"`
	YearIsDateType     bool   `config:"yearIsDateType"`

	JdbcCompliantTruncation              bool   `config:"jdbcCompliantTruncation"`
	OracleChangeReadOnlyToRepeatableRead bool   `config:"oracleChangeReadOnlyToRepeatableRead"`
	CompatibleOjdbcVersion               int    `config:"compatibleOjdbcVersion"`
	SessionVariables                     string `config:"sessionVariables"`

	EnableFullLinkTrace     bool   `config:"enableFullLinkTrace"`
	UseOceanBaseProtocolV20 bool   `config:"useOceanBaseProtocolV20"`
	UseCompression          bool   `config:"useCompression"`
	CompressionAlgorithm    string `config:"compressionAlgorithm"`

	AllowPublicKeyRetrieval bool   `config:"allowPublicKeyRetrieval"`
	ServerRsaPublicKeyFile  string `config:"serverRsaPublicKeyFile"`
	CredentialType          string `config:"credentialType"`
	UseProxyUser            bool   `config:"useProxyUser"`

	UseSSL                 bool   `config:"useSSL"`
	TrustServerCertificate bool   `config:"trustServerCertificate"`
	ServerSslCert          string `config:"serverSslCert"`
	ClientCertFile         string `config:"clientCertFile"`
	ClientKeyFile          string `config:"clientKeyFile"`

	ConnectTimeoutMillis int `config:"connectTimeout"`
	SocketTimeoutMillis  int `config:"socketTimeout"`

	LoggerLevel string `config:"loggerLevel"`
	LoggerFile  string `config:"loggerFile"`
}

// DefaultOptions returns the options a connection uses when nothing is
// configured.
func DefaultOptions() *Options {
	return &Options{
		DefaultFetchSize:        0,
		MaxBatchTotalParamsNum:  _DEFAULT_MAX_BATCH_PARAMS,
		MaxAllowedPacket:        _DEFAULT_MAX_ALLOWED_PACKET,
		UseServerPsStmtChecksum: true,
		CachePrepStmts:          true,
		PrepStmtCacheSize:       _DEFAULT_PS_CACHE_SIZE,
		CharacterEncoding:       "utf8",
		NCharacterEncoding:      "utf8",
		YearIsDateType:          true,
		JdbcCompliantTruncation: true,
		CompatibleOjdbcVersion:  8,
		CompressionAlgorithm:    "zlib",
		CredentialType:          "password",
		ConnectTimeoutMillis:    30000,
	}
}

// optionKinds maps every option key to the kind of its field.
var optionKinds = func() map[string]reflect.Kind {
	kinds := make(map[string]reflect.Kind)
	t := reflect.TypeOf(Options{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if name := f.Tag.Get("config"); name != "" {
			kinds[name] = f.Type.Kind()
		}
	}
	return kinds
}()

// IsOption reports whether name is a known option key.
func IsOption(name string) bool {
	_, ok := optionKinds[name]
	return ok
}

// OptionNames returns the sorted list of known option keys.
func OptionNames() []string {
	names := make([]string, 0, len(optionKinds))
	for k := range optionKinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply merges props into o. Values are converted to the type of their
// option first; unknown keys are returned unapplied.
func (o *Options) Apply(props map[string]interface{}) (unknown []string, err error) {
	typed := make(map[string]interface{}, len(props))

	for k, v := range props {
		kind, ok := optionKinds[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}

		var cv interface{}
		switch kind {
		case reflect.Bool:
			cv, err = cast.ToBoolE(normalizeBool(v))
		case reflect.Int:
			cv, err = toInt64(v)
		default:
			cv, err = cast.ToStringE(v)
		}
		if err != nil {
			return nil, myError(ErrInvalidProperty, k, err)
		}
		typed[k] = cv
	}

	cfg, err := ucfg.NewFrom(typed)
	if err != nil {
		return nil, myError(ErrInvalidDSN, errors.Wrap(err, "options"))
	}
	if err = cfg.Unpack(o); err != nil {
		return nil, myError(ErrInvalidDSN, errors.Wrap(err, "options"))
	}

	sort.Strings(unknown)
	return unknown, o.check()
}

// toInt64 reads strings in base 10 only, so "010" is ten.
func toInt64(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToInt64E(v)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Errorf("%q is not a decimal integer", s)
	}
	return n, nil
}

// normalizeBool accepts the yes/no and on/off spellings as well.
func normalizeBool(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on", "y":
		return "true"
	case "no", "off", "n", "":
		return "false"
	}
	return strings.TrimSpace(s)
}

// check validates the option values that have a restricted range.
func (o *Options) check() error {
	switch {
	case o.MaxAllowedPacket < 1024 || o.MaxAllowedPacket > _MAX_ALLOWED_PACKET_MAX:
		return myError(ErrInvalidPropertyValue, "maxAllowedPacket", o.MaxAllowedPacket)
	case o.MaxBatchTotalParamsNum < 1:
		return myError(ErrInvalidPropertyValue, "maxBatchTotalParamsNum", o.MaxBatchTotalParamsNum)
	case o.PrepStmtCacheSize < 0:
		return myError(ErrInvalidPropertyValue, "prepStmtCacheSize", o.PrepStmtCacheSize)
	case o.DefaultFetchSize < 0:
		return myError(ErrInvalidPropertyValue, "defaultFetchSize", o.DefaultFetchSize)
	case o.MaxRows < 0:
		return myError(ErrInvalidPropertyValue, "maxRows", o.MaxRows)
	case o.ConnectTimeoutMillis < 0:
		return myError(ErrInvalidPropertyValue, "connectTimeout", o.ConnectTimeoutMillis)
	case o.SocketTimeoutMillis < 0:
		return myError(ErrInvalidPropertyValue, "socketTimeout", o.SocketTimeoutMillis)
	case o.CompatibleOjdbcVersion != 6 && o.CompatibleOjdbcVersion != 8:
		return myError(ErrInvalidPropertyValue, "compatibleOjdbcVersion", o.CompatibleOjdbcVersion)
	}

	if _, err := charset.Lookup(o.CharacterEncoding); err != nil {
		return myError(ErrCharset, o.CharacterEncoding)
	}
	if _, err := charset.Lookup(o.NCharacterEncoding); err != nil {
		return myError(ErrCharset, o.NCharacterEncoding)
	}

	switch strings.ToLower(o.CredentialType) {
	case "password", "cleartext":
	default:
		return myError(ErrInvalidProperty, "credentialType", o.CredentialType)
	}

	switch strings.ToLower(o.CompressionAlgorithm) {
	case "zlib", "zstd":
	default:
		return myError(ErrInvalidProperty, "compressionAlgorithm", o.CompressionAlgorithm)
	}

	switch logger.Level(strings.ToLower(strings.TrimSpace(o.LoggerLevel))) {
	case "", logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError, logger.LevelOff:
	default:
		return myError(ErrInvalidProperty, "loggerLevel", o.LoggerLevel)
	}

	if o.ServerTimezone != "" {
		if _, err := time.LoadLocation(o.ServerTimezone); err != nil {
			return myError(ErrInvalidProperty, "serverTimezone", err)
		}
	}
	return nil
}

// Clone returns a copy of o.
func (o *Options) Clone() *Options {
	c := *o
	return &c
}

func (o *Options) connectTimeout() time.Duration {
	return time.Duration(o.ConnectTimeoutMillis) * time.Millisecond
}

func (o *Options) socketTimeout() time.Duration {
	return time.Duration(o.SocketTimeoutMillis) * time.Millisecond
}

// location returns the time zone DATETIME values are interpreted in.
func (o *Options) location() *time.Location {
	if o.ServerTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(o.ServerTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// serverPrepared reports whether statements are prepared on the server.
func (o *Options) serverPrepared() bool {
	return o.UseServerPrepStmts || o.UseOraclePrepareExecute
}

// parseSessionVariables splits "a=1,b='x,y'" into its assignments; commas
// inside quotes are kept.
func parseSessionVariables(s string) []string {
	var (
		vars  []string
		quote byte
		start int
	)

	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ',' || ch == ';':
			if v := strings.TrimSpace(s[start:i]); v != "" {
				vars = append(vars, v)
			}
			start = i + 1
		}
	}
	if v := strings.TrimSpace(s[start:]); v != "" {
		vars = append(vars, v)
	}
	return vars
}
