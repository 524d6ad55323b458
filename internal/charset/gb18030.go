package charset

import (
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// The 2022 edition of GB18030 moved 18 characters out of the private use
// area: their two-byte codes now decode to standard code points, and the
// four-byte codes those code points had before decode to the private use
// code points instead.
var gb18030Swapped = []struct {
	code [2]byte
	pua  rune
	std  rune
	four [4]byte // code of std before 2022
}{
	{[2]byte{0xA6, 0xD9}, 0xE78D, 0xFE10, [4]byte{0x84, 0x31, 0x82, 0x36}},
	{[2]byte{0xA6, 0xDA}, 0xE78E, 0xFE12, [4]byte{0x84, 0x31, 0x82, 0x38}},
	{[2]byte{0xA6, 0xDB}, 0xE78F, 0xFE11, [4]byte{0x84, 0x31, 0x82, 0x37}},
	{[2]byte{0xA6, 0xDC}, 0xE790, 0xFE13, [4]byte{0x84, 0x31, 0x82, 0x39}},
	{[2]byte{0xA6, 0xDD}, 0xE791, 0xFE14, [4]byte{0x84, 0x31, 0x83, 0x30}},
	{[2]byte{0xA6, 0xDE}, 0xE792, 0xFE15, [4]byte{0x84, 0x31, 0x83, 0x31}},
	{[2]byte{0xA6, 0xDF}, 0xE793, 0xFE16, [4]byte{0x84, 0x31, 0x83, 0x32}},
	{[2]byte{0xA6, 0xEC}, 0xE794, 0xFE17, [4]byte{0x84, 0x31, 0x83, 0x33}},
	{[2]byte{0xA6, 0xED}, 0xE795, 0xFE18, [4]byte{0x84, 0x31, 0x83, 0x34}},
	{[2]byte{0xA6, 0xF3}, 0xE796, 0xFE19, [4]byte{0x84, 0x31, 0x83, 0x35}},
	{[2]byte{0xFE, 0x59}, 0xE81E, 0x9FB4, [4]byte{0x82, 0x35, 0x90, 0x37}},
	{[2]byte{0xFE, 0x61}, 0xE826, 0x9FB5, [4]byte{0x82, 0x35, 0x90, 0x38}},
	{[2]byte{0xFE, 0x66}, 0xE82B, 0x9FB6, [4]byte{0x82, 0x35, 0x90, 0x39}},
	{[2]byte{0xFE, 0x67}, 0xE82C, 0x9FB7, [4]byte{0x82, 0x35, 0x91, 0x30}},
	{[2]byte{0xFE, 0x6D}, 0xE832, 0x9FB8, [4]byte{0x82, 0x35, 0x91, 0x31}},
	{[2]byte{0xFE, 0x7E}, 0xE843, 0x9FB9, [4]byte{0x82, 0x35, 0x91, 0x32}},
	{[2]byte{0xFE, 0x90}, 0xE854, 0x9FBA, [4]byte{0x82, 0x35, 0x91, 0x33}},
	{[2]byte{0xFE, 0xA0}, 0xE864, 0x9FBB, [4]byte{0x82, 0x35, 0x91, 0x34}},
}

func newGB18030(name string, collation uint8, edition2022 bool) *Charset {
	cs := &Charset{
		name:           name,
		collation:      collation,
		enc:            simplifiedchinese.GB18030,
		encodeOverride: make(map[rune][]byte, 2*len(gb18030Swapped)),
		decodeOverride: make(map[string]rune, 2*len(gb18030Swapped)),
	}

	for _, m := range gb18030Swapped {
		two, four := string(m.code[:]), string(m.four[:])
		if edition2022 {
			cs.encodeOverride[m.std] = []byte(two)
			cs.encodeOverride[m.pua] = []byte(four)
			cs.decodeOverride[two] = m.std
			cs.decodeOverride[four] = m.pua
		} else {
			cs.encodeOverride[m.pua] = []byte(two)
			cs.encodeOverride[m.std] = []byte(four)
			cs.decodeOverride[two] = m.pua
			cs.decodeOverride[four] = m.std
		}
	}
	return cs
}

// decodeGB18030 splits b into one-, two- and four-byte codes so that the
// overridden codes are mapped here and every other run is left to the
// underlying decoder.
func (cs *Charset) decodeGB18030(b []byte) string {
	var (
		sb    strings.Builder
		start int
	)

	sb.Grow(len(b))

	for i := 0; i < len(b); {
		n := gb18030CodeLength(b[i:])
		if n > 1 {
			if r, ok := cs.decodeOverride[string(b[i:i+n])]; ok {
				sb.WriteString(cs.decodeRun(b[start:i]))
				sb.WriteRune(r)
				start = i + n
			}
		}
		i += n
	}
	sb.WriteString(cs.decodeRun(b[start:]))
	return sb.String()
}

// gb18030CodeLength returns the length of the code starting at b[0].
func gb18030CodeLength(b []byte) int {
	lead := b[0]
	if lead < 0x81 || lead == 0xFF || len(b) < 2 {
		return 1
	}
	if b[1] >= 0x30 && b[1] <= 0x39 {
		if len(b) < 4 {
			return len(b)
		}
		return 4
	}
	return 2
}
