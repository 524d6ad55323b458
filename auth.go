package oceanbase

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/oceanbase/obconnector-go/internal/logger"
)

// authentication plugins
const (
	_AUTH_NATIVE_PASSWORD = "mysql_native_password"
	_AUTH_SHA256_PASSWORD = "sha256_password"
	_AUTH_CACHING_SHA2    = "caching_sha2_password"
	_AUTH_CLEAR_PASSWORD  = "mysql_clear_password"
)

// AuthState is a step of the authentication state machine.
type AuthState int

const (
	AuthHandshakeReceived AuthState = iota + 1
	AuthPluginSelected
	AuthNative
	AuthSHA256
	AuthCachingSHA256
	AuthClearPassword
	AuthRSAKeyExchange
	AuthTLSUpgrade
	AuthAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthHandshakeReceived:
		return "HANDSHAKE_RECEIVED"
	case AuthPluginSelected:
		return "PLUGIN_SELECTED"
	case AuthNative:
		return "NATIVE"
	case AuthSHA256:
		return "SHA256"
	case AuthCachingSHA256:
		return "CACHING_SHA256"
	case AuthClearPassword:
		return "CLEAR_PASSWORD"
	case AuthRSAKeyExchange:
		return "RSA_KEY_EXCHANGE"
	case AuthTLSUpgrade:
		return "TLS_UPGRADE"
	case AuthAuthenticated:
		return "AUTHENTICATED"
	}
	return "UNKNOWN"
}

// server public keys retrieved during authentication, per server address
var serverKeys = cache.New(30*time.Minute, time.Hour)

func (c *Conn) enterAuthState(s AuthState) {
	c.authTrace = append(c.authTrace, s)
	logger.Debugf("connection to %s: auth state %s", c.addr, s)
}

// selectAuthPlugin switches to plugin and records the corresponding state.
func (c *Conn) selectAuthPlugin(plugin string) error {
	if strings.EqualFold(c.opts.CredentialType, "cleartext") {
		plugin = _AUTH_CLEAR_PASSWORD
	}
	if plugin == "" {
		plugin = _AUTH_NATIVE_PASSWORD
	}

	c.authPluginName = plugin
	c.enterAuthState(AuthPluginSelected)

	switch plugin {
	case _AUTH_NATIVE_PASSWORD:
		c.enterAuthState(AuthNative)
	case _AUTH_SHA256_PASSWORD:
		c.enterAuthState(AuthSHA256)
		// the key exchange is unavoidable, fail before sending anything
		if !c.tls && c.password() != "" && !c.rsaKeyAvailable() {
			return myError(ErrRSAKeyUnavailable)
		}
	case _AUTH_CACHING_SHA2:
		c.enterAuthState(AuthCachingSHA256)
	case _AUTH_CLEAR_PASSWORD:
		c.enterAuthState(AuthClearPassword)
	default:
		return myError(ErrAuthPlugin, plugin)
	}
	logger.Debugf("connection to %s: using authentication plugin %s", c.addr, plugin)
	return nil
}

// authResponseData returns the authentication response data to be sent to
// the server for the selected plugin.
func (c *Conn) authResponseData() ([]byte, error) {
	password := c.password()

	switch c.authPluginName {
	case _AUTH_NATIVE_PASSWORD:
		return scramble41(password, c.authPluginData), nil

	case _AUTH_CACHING_SHA2:
		return scrambleSHA256(password, c.authPluginData), nil

	case _AUTH_SHA256_PASSWORD:
		switch {
		case password == "":
			return []byte{0}, nil
		case c.tls:
			return append([]byte(password), 0), nil
		}
		pub, err := c.serverPublicKey()
		if err != nil {
			return nil, err
		}
		if pub == nil {
			// ask for the server key
			c.enterAuthState(AuthRSAKeyExchange)
			return []byte{1}, nil
		}
		return encryptPassword(password, c.authPluginData, pub)

	case _AUTH_CLEAR_PASSWORD:
		return append([]byte(password), 0), nil
	}
	return nil, myError(ErrAuthPlugin, c.authPluginName)
}

// handleAuthMoreData answers an AuthMoreData packet of the sha256 family.
func (c *Conn) handleAuthMoreData(data []byte) error {
	password := c.password()

	if len(data) == 0 {
		return c.markBroken(myError(ErrInvalidPacket))
	}

	// the server sent its public key
	if strings.HasPrefix(string(data), "-----BEGIN") {
		pub, err := parsePublicKey(data)
		if err != nil {
			return err
		}
		serverKeys.Set(c.addr, pub, cache.DefaultExpiration)

		enc, err := encryptPassword(password, c.authPluginData, pub)
		if err != nil {
			return err
		}
		return c.writeAuthData(enc)
	}

	if c.authPluginName != _AUTH_CACHING_SHA2 {
		return c.markBroken(myError(ErrInvalidPacket))
	}

	switch data[0] {
	case _CACHING_SHA2_FAST_AUTH_OK:
		// an OK packet follows
		return nil

	case _CACHING_SHA2_FULL_AUTH:
		if c.tls {
			return c.writeAuthData(append([]byte(password), 0))
		}

		pub, err := c.serverPublicKey()
		if err != nil {
			return err
		}
		if pub != nil {
			enc, err := encryptPassword(password, c.authPluginData, pub)
			if err != nil {
				return err
			}
			return c.writeAuthData(enc)
		}

		if !c.opts.AllowPublicKeyRetrieval {
			return myError(ErrRSAKeyUnavailable)
		}
		c.enterAuthState(AuthRSAKeyExchange)
		return c.writeAuthData([]byte{_CACHING_SHA2_REQUEST_PUBLIC_KEY})
	}
	return c.markBroken(myError(ErrInvalidPacket))
}

func (c *Conn) writeAuthData(data []byte) error {
	b := make([]byte, 4, 4+len(data))
	return c.writePacket(append(b, data...))
}

// rsaKeyAvailable reports whether a server public key can be obtained
// without failing: from a file, the cache, or by asking the server.
func (c *Conn) rsaKeyAvailable() bool {
	if c.opts.ServerRsaPublicKeyFile != "" || c.opts.AllowPublicKeyRetrieval {
		return true
	}
	_, ok := serverKeys.Get(c.addr)
	return ok
}

// serverPublicKey returns the configured or cached server key; nil when it
// has to be retrieved.
func (c *Conn) serverPublicKey() (*rsa.PublicKey, error) {
	if path := c.opts.ServerRsaPublicKeyFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, myError(ErrFile, errors.Wrap(err, "server RSA public key"))
		}
		return parsePublicKey(data)
	}

	if v, ok := serverKeys.Get(c.addr); ok {
		return v.(*rsa.PublicKey), nil
	}

	if !c.opts.AllowPublicKeyRetrieval {
		return nil, myError(ErrRSAKeyUnavailable)
	}
	return nil, nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, myError(ErrInvalidType, "server RSA public key is not PEM encoded")
	}

	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, myError(ErrInvalidType, errors.Wrap(err, "server RSA public key"))
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, myError(ErrInvalidType, "server public key is not an RSA key")
	}
	return pub, nil
}

// encryptPassword obfuscates the null-terminated password with the seed and
// encrypts it with the server public key.
func encryptPassword(password string, seed []byte, pub *rsa.PublicKey) ([]byte, error) {
	plain := make([]byte, len(password)+1)
	copy(plain, password)
	for i := range plain {
		plain[i] ^= seed[i%len(seed)]
	}

	enc, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plain, nil)
	if err != nil {
		return nil, myError(ErrAuthPlugin, errors.Wrap(err, "RSA encryption"))
	}
	return enc, nil
}

// scramble41 returns a scramble buffer based on the following formula:
// SHA1(password) XOR SHA1("20-byte public seed from server" <concat> SHA1( SHA1( password)))
func scramble41(password string, seed []byte) (buf []byte) {
	if len(password) == 0 {
		return
	}

	hash := sha1.New()

	// stage 1: SHA1(password)
	hash.Write([]byte(password))
	hashStage1 := hash.Sum(nil)

	// stage 2: SHA1(SHA1(password))
	hash.Reset()
	hash.Write(hashStage1)
	hashStage2 := hash.Sum(nil)

	// SHA1("20-byte public seed from server" <concat> SHA1(SHA1(password)))
	hash.Reset()
	hash.Write(seed)
	hash.Write(hashStage2)
	buf = hash.Sum(nil)

	for i := 0; i < sha1.Size; i++ {
		buf[i] ^= hashStage1[i]
	}
	return
}

// scrambleSHA256 returns
// SHA256(password) XOR SHA256(SHA256(SHA256(password)) <concat> seed)
func scrambleSHA256(password string, seed []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	hash := sha256.New()

	hash.Write([]byte(password))
	message1 := hash.Sum(nil)

	hash.Reset()
	hash.Write(message1)
	message1Hash := hash.Sum(nil)

	hash.Reset()
	hash.Write(message1Hash)
	hash.Write(seed)
	message2 := hash.Sum(nil)

	for i := range message1 {
		message1[i] ^= message2[i]
	}
	return message1
}

// userIdentity is the parsed login user
// "user[@tenant][#cluster]" or, with useProxyUser,
// "proxy[target][@tenant][#cluster]".
type userIdentity struct {
	login     string // as sent to the server
	user      string // authenticated identity
	effective string // identity whose privileges apply
	tenant    string
	cluster   string
}

func parseUserIdentity(s string, proxy bool) userIdentity {
	id := userIdentity{login: s}

	name := s
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name, id.cluster = name[:i], name[i+1:]
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name, id.tenant = name[:i], name[i+1:]
	}

	id.user, id.effective = name, name
	if proxy {
		if i := strings.IndexByte(name, '['); i >= 0 && strings.HasSuffix(name, "]") {
			id.user = name[:i]
			id.effective = name[i+1 : len(name)-1]
		}
	}
	return id
}

// AuthState returns the last state reached by the authentication state
// machine.
func (c *Conn) AuthState() AuthState {
	if len(c.authTrace) == 0 {
		return 0
	}
	return c.authTrace[len(c.authTrace)-1]
}

// AuthTrace returns every authentication state in the order entered.
func (c *Conn) AuthTrace() []AuthState {
	return append([]AuthState(nil), c.authTrace...)
}

// AuthPlugin returns the authentication plugin that was used.
func (c *Conn) AuthPlugin() string {
	return c.authPluginName
}

// AuthenticatedUser returns the identity that logged in.
func (c *Conn) AuthenticatedUser() string {
	return c.identity.user
}

// EffectiveUser returns the identity whose privileges apply; it differs
// from AuthenticatedUser for proxy logins.
func (c *Conn) EffectiveUser() string {
	return c.identity.effective
}

// Tenant returns the tenant named in the login user, if any.
func (c *Conn) Tenant() string {
	return c.identity.tenant
}

func (c *Conn) password() string {
	return c.opts.Password
}
