package oceanbase

// server commands (unexported)
const (
	_ = iota // _COM_SLEEP
	_COM_QUIT
	_COM_INIT_DB
	_COM_QUERY
	_COM_FIELD_LIST
	_COM_CREATE_DB
	_COM_DROP_DB
	_COM_REFRESH
	_COM_SHUTDOWN
	_COM_STATISTICS
	_COM_PROCESS_INFO
	_ // _COM_CONNECT
	_COM_PROCESS_KILL
	_ // _COM_DEBUG
	_COM_PING
	_ // _COM_TIME
	_ // _COM_DELAYED_INSERT
	_COM_CHANGE_USER
	_ // _COM_BINLOG_DUMP
	_ // _COM_TABLE_DUMP
	_ // _COM_CONNECT_OUT
	_ // _COM_REGISTER_SLAVE
	_COM_STMT_PREPARE
	_COM_STMT_EXECUTE
	_COM_STMT_SEND_LONG_DATA
	_COM_STMT_CLOSE
	_COM_STMT_RESET
	_COM_SET_OPTION
	_COM_STMT_FETCH
	_        // _COM_DAEMON
	_COM_END // must always be last
)

// oceanbase specific commands
const (
	_COM_STMT_PREPARE_EXECUTE = 0xa1
	_COM_STMT_SEND_PIECE_DATA = 0xa2
	_COM_STMT_GET_PIECE_DATA  = 0xa3
)

// client/server capability flags (unexported)
const (
	_CLIENT_LONG_PASSWORD = 1 << iota
	_CLIENT_FOUND_ROWS
	_CLIENT_LONG_FLAG
	_CLIENT_CONNECT_WITH_DB
	_CLIENT_NO_SCHEMA
	_CLIENT_COMPRESS
	_CLIENT_ODBC
	_CLIENT_LOCAL_FILES
	_CLIENT_IGNORE_SPACE
	_CLIENT_PROTOCOL41
	_CLIENT_INTERACTIVE
	_CLIENT_SSL
	_CLIENT_IGNORE_SIGPIPE
	_CLIENT_TRANSACTIONS
	_CLIENT_RESERVED
	_CLIENT_SECURE_CONNECTION
	_CLIENT_MULTI_STATEMENTS
	_CLIENT_MULTI_RESULTS
	_CLIENT_PS_MULTI_RESULTS
	_CLIENT_PLUGIN_AUTH
	_CLIENT_CONNECT_ATTRS
	_CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA
	_CLIENT_CAN_HANDLE_EXPIRED_PASSWORDS
	_CLIENT_SESSION_TRACK
	_CLIENT_DEPRECATE_EOF
	_
	_CLIENT_ZSTD_COMPRESSION_ALGORITHM
	_
	_
	_CLIENT_PROGRESS // 1 << 29
	_CLIENT_SSL_VERIFY_SERVER_CERT
	_CLIENT_REMEMBER_OPTIONS
)

// oceanbase capability flags, exchanged through the __proxy_capability_flag
// connection attribute.
const (
	_OB_CAP_PARTITION_TABLE = 1 << iota
	_OB_CAP_CHANGE_USER
	_OB_CAP_READ_WEAK
	_OB_CAP_CHECKSUM
	_OB_CAP_SAFE_WEAK_READ
	_OB_CAP_PRIORITY_HIT
	_OB_CAP_CHECKSUM_SWITCH
	_OB_CAP_OCJ_ENABLE_EXTRA_OK_PACKET
	_OB_CAP_OB_PROTOCOL_V2
	_OB_CAP_EXTRA_OK_PACKET_FOR_STATISTICS
	_OB_CAP_ABUNDANT_FEEDBACK
	_OB_CAP_PL_ROUTE
	_OB_CAP_PROXY_REROUTE
	_OB_CAP_PROXY_SESSION_SYNC
	_OB_CAP_FULL_LINK_TRACE
	_OB_CAP_PROXY_NEW_EXTRA_INFO
)

// server status flags (unexported)
const (
	_SERVER_STATUS_IN_TRANS = 1 << iota
	_SERVER_STATUS_AUTOCOMMIT
	_ // unassigned, 4
	_SERVER_MORE_RESULTS_EXISTS
	_SERVER_STATUS_NO_GOOD_INDEX_USED
	_SERVER_STATUS_NO_INDEX_USED
	_SERVER_STATUS_CURSOR_EXISTS
	_SERVER_STATUS_LAST_ROW_SENT
	_SERVER_STATUS_DB_DROPPED
	_SERVER_STATUS_NO_BACKSHASH_ESCAPES
	_SERVER_STATUS_METADATA_CHANGED
	_SERVER_QUERY_WAS_SLOW
	_SERVER_PS_OUT_PARAMS
	_SERVER_STATUS_IN_TRANS_READONLY
	_SERVER_SESSION_STATE_CHANGED
)

// generic response packets (unexported)
const (
	_PACKET_OK         = 0x00
	_PACKET_ERR        = 0xff
	_PACKET_EOF        = 0xfe
	_PACKET_INFILE_REQ = 0xfb
)

// auth response packets
const (
	_AUTH_MORE_DATA      = 0x01
	_AUTH_SWITCH_REQUEST = 0xfe

	_CACHING_SHA2_REQUEST_PUBLIC_KEY = 0x02
	_CACHING_SHA2_FAST_AUTH_OK       = 0x03
	_CACHING_SHA2_FULL_AUTH          = 0x04
)

// cursor types of COM_STMT_EXECUTE
const (
	_CURSOR_TYPE_NO_CURSOR  = 0x00
	_CURSOR_TYPE_READ_ONLY  = 0x01
	_CURSOR_TYPE_FOR_UPDATE = 0x02
	_CURSOR_TYPE_SCROLLABLE = 0x04
)

// column flags
const (
	_FLAG_NOT_NULL = 1 << iota
	_FLAG_PRI_KEY
	_FLAG_UNIQUE_KEY
	_FLAG_MULTIPLE_KEY
	_FLAG_BLOB
	_FLAG_UNSIGNED
	_FLAG_ZEROFILL
	_FLAG_BINARY
	_FLAG_ENUM
	_FLAG_AUTO_INCREMENT
	_FLAG_TIMESTAMP
	_FLAG_SET
)

// mysql data types (unexported)
const (
	_TYPE_DECIMAL = iota
	_TYPE_TINY
	_TYPE_SHORT
	_TYPE_LONG
	_TYPE_FLOAT
	_TYPE_DOUBLE
	_TYPE_NULL
	_TYPE_TIMESTAMP
	_TYPE_LONG_LONG
	_TYPE_INT24
	_TYPE_DATE
	_TYPE_TIME
	_TYPE_DATETIME
	_TYPE_YEAR
	_TYPE_NEW_DATE
	_TYPE_VARCHAR
	_TYPE_BIT
	_TYPE_TIMESTAMP2
	_TYPE_DATETIME2
	_TYPE_TIME2
	// ...
	_TYPE_JSON        = 245
	_TYPE_NEW_DECIMAL = 246
	_TYPE_ENUM        = 247
	_TYPE_SET         = 248
	_TYPE_TINY_BLOB   = 249
	_TYPE_MEDIUM_BLOB = 250
	_TYPE_LONG_BLOB   = 251
	_TYPE_BLOB        = 252
	_TYPE_VARSTRING   = 253
	_TYPE_STRING      = 254
	_TYPE_GEOMETRY    = 255
)

// oceanbase data types (oracle compatibility mode)
const (
	_TYPE_OB_COMPLEX        = 160
	_TYPE_OB_ARRAY          = 161
	_TYPE_OB_STRUCT         = 162
	_TYPE_OB_CURSOR         = 163
	_TYPE_OB_TIMESTAMP_TZ   = 200
	_TYPE_OB_TIMESTAMP_LTZ  = 201
	_TYPE_OB_TIMESTAMP_NANO = 202
	_TYPE_OB_RAW            = 203
	_TYPE_OB_INTERVAL_YM    = 204
	_TYPE_OB_INTERVAL_DS    = 205
	_TYPE_OB_NUMBER_FLOAT   = 206
	_TYPE_OB_NVARCHAR2      = 207
	_TYPE_OB_NCHAR          = 208
	_TYPE_OB_UROWID         = 209
	_TYPE_OB_ORA_BLOB       = 210
	_TYPE_OB_ORA_CLOB       = 211
)

// collation ids used by the handshake and column definitions
const (
	_COLLATION_BINARY             = 63
	_COLLATION_UTF8MB4_GENERAL_CI = 45
	_COLLATION_UTF8_GENERAL_CI    = 33
	_COLLATION_GBK_CHINESE_CI     = 28
	_COLLATION_GB18030_CHINESE_CI = 248
	_COLLATION_UTF16_GENERAL_CI   = 54
	_COLLATION_LATIN1_SWEDISH_CI  = 8
)

const (
	_MAX_PAYLOAD_LENGTH          = 1<<24 - 1
	_INITIAL_PACKET_BUFFER_SIZE  = 16 * 1024
	_DEFAULT_MAX_ALLOWED_PACKET  = 16 * 1024 * 1024
	_MAX_ALLOWED_PACKET_MAX      = 1024 * 1024 * 1024
	_DEFAULT_PORT                = 2881
	_DEFAULT_MAX_BATCH_PARAMS    = 65535
	_DEFAULT_PS_CACHE_SIZE       = 250
	_COMPRESSION_THRESHOLD_BYTES = 50
)

// update count markers of a batch, mirroring the relational client contract.
const (
	// SuccessNoInfo marks a row that succeeded inside a rewritten chunk whose
	// per-row count is unknown.
	SuccessNoInfo = -2
	// ExecuteFailed marks a row that did not succeed.
	ExecuteFailed = -3
)
