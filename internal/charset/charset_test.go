package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for name, want := range map[string]*Charset{
		"UTF-8":        UTF8,
		"utf8mb4":      UTF8,
		"GBK":          GBK,
		" gb18030 ":    GB18030,
		"GB18030-2022": GB18030_2022,
		"Big5-HKSCS":   HKSCS,
		"HKSCS-31":     HKSCS31,
	} {
		cs, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Same(t, want, cs, name)
	}

	_, err := Lookup("klingon")
	assert.Error(t, err)
}

func TestGB18030Editions(t *testing.T) {
	assert.Equal(t, []byte{0xFE, 0x59}, GB18030_2022.Encode("\u9fb4"))
	assert.Equal(t, []byte{0x82, 0x35, 0x90, 0x37}, GB18030.Encode("\u9fb4"))

	// private use code points take the other code of each edition
	assert.Equal(t, []byte{0xFE, 0x59}, GB18030.Encode("\ue81e"))
	assert.Equal(t, []byte{0x82, 0x35, 0x90, 0x37}, GB18030_2022.Encode("\ue81e"))

	assert.Equal(t, "\u9fb4", GB18030_2022.Decode([]byte{0xFE, 0x59}))
	assert.Equal(t, "\ue81e", GB18030.Decode([]byte{0xFE, 0x59}))
	assert.Equal(t, "\ue81e", GB18030_2022.Decode([]byte{0x82, 0x35, 0x90, 0x37}))

	assert.Equal(t, []byte{0xA6, 0xDA}, GB18030_2022.Encode("\ufe12"))
	assert.Equal(t, "\ufe11", GB18030_2022.Decode([]byte{0xA6, 0xDB}))
}

func TestGB18030Mixed(t *testing.T) {
	s := "a\u4e2d\u9fb4\u6587b"
	b := GB18030_2022.Encode(s)
	assert.Equal(t, []byte{'a', 0xD6, 0xD0, 0xFE, 0x59, 0xCE, 0xC4, 'b'}, b)
	assert.Equal(t, s, GB18030_2022.Decode(b))
}

func TestRoundTrip(t *testing.T) {
	cases := map[*Charset]string{
		UTF8:         "héllo 世界 \U0001F600",
		UTF16:        "héllo 世界 \U0001F600",
		GBK:          "中文abc",
		GB18030:      "中文\U0001F600",
		GB18030_2022: "\u4e2d\u6587\ufe10\u9fbb",
		HKSCS:        "香港",
		Latin1:       "café",
	}
	for cs, s := range cases {
		assert.Equal(t, s, cs.Decode(cs.Encode(s)), cs.Name())
	}
}

func TestUnmappableSubstitution(t *testing.T) {
	assert.Equal(t, []byte("a?b"), GBK.Encode("a\U0001F600b"))
	assert.Equal(t, []byte("caf? ?"), ASCII.Encode("café ü"))
	assert.Equal(t, []byte("?"), Latin1.Encode("中"))
}

func TestAppendEncode(t *testing.T) {
	b := GBK.AppendEncode([]byte("x="), "中")
	assert.Equal(t, []byte{'x', '=', 0xD6, 0xD0}, b)
	assert.True(t, UTF8.IsUTF8())
	assert.False(t, GBK.IsUTF8())
}
