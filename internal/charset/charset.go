// Package charset converts between Go strings and the byte encodings a
// connection can be configured with. Characters an encoding cannot represent
// are written as '?'.
package charset

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// collation ids sent in the handshake
const (
	CollationBig5         = 1
	CollationLatin1       = 8
	CollationGBK          = 28
	CollationUTF8MB4      = 45
	CollationUTF16        = 54
	CollationBinary       = 63
	CollationGB18030_2022 = 216
	CollationGB18030      = 248
)

const substitute byte = '?'

// Charset is one client side character encoding.
type Charset struct {
	name      string
	collation uint8
	enc       encoding.Encoding // nil for UTF-8
	ascii     bool

	// code points whose bytes differ from what enc produces
	encodeOverride map[rune][]byte
	decodeOverride map[string]rune
}

var (
	UTF8 = &Charset{name: "UTF-8", collation: CollationUTF8MB4}

	UTF16 = &Charset{name: "UTF-16", collation: CollationUTF16,
		enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}

	Latin1 = &Charset{name: "ISO-8859-1", collation: CollationLatin1, enc: charmap.Windows1252}

	ASCII = &Charset{name: "US-ASCII", collation: CollationUTF8MB4, ascii: true}

	GBK = &Charset{name: "GBK", collation: CollationGBK, enc: simplifiedchinese.GBK}

	GB18030 = newGB18030("GB18030", CollationGB18030, false)

	GB18030_2022 = newGB18030("GB18030-2022", CollationGB18030_2022, true)

	HKSCS = &Charset{name: "Big5-HKSCS", collation: CollationBig5, enc: traditionalchinese.Big5}

	HKSCS31 = &Charset{name: "HKSCS-31", collation: CollationBig5, enc: traditionalchinese.Big5}
)

var aliases = map[string]*Charset{
	"utf8":         UTF8,
	"utf-8":        UTF8,
	"utf8mb4":      UTF8,
	"utf16":        UTF16,
	"utf-16":       UTF16,
	"utf-16be":     UTF16,
	"latin1":       Latin1,
	"iso-8859-1":   Latin1,
	"iso8859_1":    Latin1,
	"cp1252":       Latin1,
	"ascii":        ASCII,
	"us-ascii":     ASCII,
	"gbk":          GBK,
	"cp936":        GBK,
	"gb2312":       GBK,
	"gb18030":      GB18030,
	"gb18030-2022": GB18030_2022,
	"gb18030_2022": GB18030_2022,
	"big5-hkscs":   HKSCS,
	"big5_hkscs":   HKSCS,
	"hkscs":        HKSCS,
	"big5":         HKSCS,
	"hkscs-31":     HKSCS31,
	"hkscs31":      HKSCS31,
	"big5-hkscs31": HKSCS31,
}

// Lookup returns the charset known under name (case-insensitive).
func Lookup(name string) (*Charset, error) {
	if cs, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return cs, nil
	}
	return nil, errors.Errorf("unsupported character encoding %q", name)
}

func (cs *Charset) Name() string {
	return cs.name
}

// Collation returns the collation id used to announce the charset to the
// server.
func (cs *Charset) Collation() uint8 {
	return cs.collation
}

// IsUTF8 reports whether strings pass through unchanged.
func (cs *Charset) IsUTF8() bool {
	return cs.enc == nil && !cs.ascii
}

// Encode converts s into the charset.
func (cs *Charset) Encode(s string) []byte {
	return cs.AppendEncode(nil, s)
}

// AppendEncode appends the encoded form of s to dst.
func (cs *Charset) AppendEncode(dst []byte, s string) []byte {
	switch {
	case cs.ascii:
		for _, r := range s {
			if r < utf8.RuneSelf {
				dst = append(dst, byte(r))
			} else {
				dst = append(dst, substitute)
			}
		}
		return dst
	case cs.enc == nil:
		return append(dst, s...)
	}

	if cs.encodeOverride == nil {
		return cs.appendRun(dst, s)
	}

	start := 0
	for i, r := range s {
		if b, ok := cs.encodeOverride[r]; ok {
			dst = cs.appendRun(dst, s[start:i])
			dst = append(dst, b...)
			start = i + utf8.RuneLen(r)
		}
	}
	return cs.appendRun(dst, s[start:])
}

// appendRun encodes s with the underlying encoding, substituting the
// characters it cannot represent.
func (cs *Charset) appendRun(dst []byte, s string) []byte {
	if s == "" {
		return dst
	}

	e := cs.enc.NewEncoder()
	if b, err := e.String(s); err == nil {
		return append(dst, b...)
	}

	for _, r := range s {
		e.Reset()
		if b, err := e.String(string(r)); err == nil {
			dst = append(dst, b...)
		} else {
			dst = append(dst, substitute)
		}
	}
	return dst
}

// Decode converts b from the charset. Malformed input decodes to U+FFFD.
func (cs *Charset) Decode(b []byte) string {
	switch {
	case cs.enc == nil:
		return string(b)
	case cs.decodeOverride != nil:
		return cs.decodeGB18030(b)
	}
	return cs.decodeRun(b)
}

func (cs *Charset) decodeRun(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s, err := cs.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(s)
}
