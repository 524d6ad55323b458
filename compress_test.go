package oceanbase

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressedPackets(t *testing.T) {
	payload := bytes.Repeat([]byte("SELECT id, name FROM t;"), 40)

	for _, algorithm := range []string{"zlib", "zstd"} {
		t.Run(algorithm, func(t *testing.T) {
			rw, err := newCompressRW(&Conn{}, algorithm, 3)
			require.NoError(t, err)
			defer rw.close()

			rw.seqno = 5
			pkt, err := rw.createCompPacket(payload)
			require.NoError(t, err)
			assert.Less(t, len(pkt), len(payload))
			assert.EqualValues(t, len(pkt)-7, getUint24(pkt[0:3]))
			assert.EqualValues(t, 5, pkt[3])
			assert.EqualValues(t, len(payload), getUint24(pkt[4:7]))

			out, err := rw.inflate(pkt[7:], len(payload))
			require.NoError(t, err)
			assert.Equal(t, payload, out)

			_, err = rw.inflate(pkt[7:], len(payload)+1)
			assert.True(t, IsErrorCode(err, ErrCompression))
			_, err = rw.inflate([]byte("garbage"), 10)
			assert.True(t, IsErrorCode(err, ErrCompression))
		})
	}
}

func TestIncompressiblePacketSentAsIs(t *testing.T) {
	rw, err := newCompressRW(&Conn{}, "zlib", 0)
	require.NoError(t, err)

	payload := make([]byte, 100)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	pkt, err := rw.createCompPacket(payload)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), getUint24(pkt[0:3]))
	assert.EqualValues(t, 0, getUint24(pkt[4:7]))
	assert.Equal(t, payload, pkt[7:])
}
