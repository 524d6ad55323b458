package oceanbase

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformSizes(n, size int) []int {
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = size
	}
	return sizes
}

func TestPlanChunksByParams(t *testing.T) {
	// 1091 rows of 3 placeholders with at most 300 placeholders per command
	chunks := planChunks(uniformSizes(1091, 20), 3, 300, 1<<20, 40)

	assert.Len(t, chunks, 11)
	for i, ch := range chunks[:10] {
		assert.Equal(t, chunk{i * 100, (i + 1) * 100}, ch)
	}
	assert.Equal(t, chunk{1000, 1091}, chunks[10])
}

func TestPlanChunksByBytes(t *testing.T) {
	// fixed 10 bytes, entries of 29 bytes plus a separator
	chunks := planChunks(uniformSizes(7, 29), 0, 0, 100, 10)
	assert.Equal(t, []chunk{{0, 3}, {3, 6}, {6, 7}}, chunks)
}

func TestPlanChunksOversizedEntry(t *testing.T) {
	chunks := planChunks([]int{10, 500, 10}, 1, 100, 100, 0)
	assert.Equal(t, []chunk{{0, 1}, {1, 2}, {2, 3}}, chunks)
}

func TestPlanChunksSingleParamLimit(t *testing.T) {
	// an entry with more placeholders than allowed still gets a chunk
	chunks := planChunks(uniformSizes(3, 1), 5, 2, 1000, 0)
	assert.Equal(t, []chunk{{0, 1}, {1, 2}, {2, 3}}, chunks)

	assert.Empty(t, planChunks(nil, 1, 10, 100, 0))
}

func TestLiteralSize(t *testing.T) {
	assert.Equal(t, 4, literalSize(nil))
	assert.Equal(t, 5, literalSize("abc"))
	assert.Equal(t, 9, literalSize([]byte{1, 2, 3}))
	assert.Equal(t, 24, literalSize(int64(7)))
	assert.Equal(t, 7, literalSize(NewBlob([]byte{1, 2})))
}

func TestBatchUpdateError(t *testing.T) {
	cause := serverError(1062, "23000", "Duplicate entry '1' for key 'PRIMARY'")
	err := &BatchUpdateError{Index: 2, UpdateCounts: []int64{1, 1, ExecuteFailed}, Err: cause}

	assert.Contains(t, err.Error(), "Batch entry 2 failed")
	assert.Contains(t, err.Error(), "Duplicate entry")
	assert.True(t, IsErrorCode(err, 1062))
	assert.Equal(t, KindServer, ErrorKind(err))
}

// insertStore keeps the values inserted by multi-value INSERTs into t1.
type insertStore struct {
	mu      sync.Mutex
	values  []int64
	queries int
}

func (st *insertStore) handler(s *fakeSession, cmd byte, data []byte) bool {
	const prefix = "INSERT INTO t1 (c) VALUES "

	q := string(data)
	if cmd != _COM_QUERY || !strings.HasPrefix(q, prefix) {
		return false
	}

	tuples := strings.Split(strings.TrimSuffix(strings.TrimPrefix(q, prefix+"("), ")"), "),(")
	values := make([]int64, 0, len(tuples))
	for _, v := range tuples {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeErr(1064, "42000", "You have an error in your SQL syntax")
			return true
		}
		values = append(values, n)
	}

	st.mu.Lock()
	st.values = append(st.values, values...)
	st.queries++
	st.mu.Unlock()

	s.writeOK(uint64(len(values)), 0)
	return true
}

func TestRewrittenBatchAcrossExecutions(t *testing.T) {
	ctx := context.Background()
	st := &insertStore{}
	srv := newFakeServer(t, st.handler)
	c := connectFake(t, srv, "rewriteBatchedStatements=true", "maxBatchTotalParamsNum=300")

	ps, err := c.PrepareStatement(ctx, "INSERT INTO t1 (c) VALUES (?)")
	require.NoError(t, err)
	defer ps.Close()

	next := int64(0)
	for _, size := range []int{1000, 1000, 91} {
		for i := 0; i < size; i++ {
			require.NoError(t, ps.SetInt64(1, next))
			require.NoError(t, ps.AddBatch())
			next++
		}
		counts, err := ps.ExecuteBatch(ctx)
		require.NoError(t, err)
		require.Len(t, counts, size)
		for _, n := range counts {
			assert.EqualValues(t, SuccessNoInfo, n)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// 300 rows per command: 4 + 4 + 1 commands
	assert.Equal(t, 9, st.queries)
	require.Len(t, st.values, 2091)
	for i, v := range st.values {
		if !assert.EqualValues(t, i, v, "row %d", i) {
			break
		}
	}
	for _, i := range []int{299, 300, 999, 1000, 1299, 1300, 1999, 2000, 2090} {
		assert.EqualValues(t, i, st.values[i])
	}
}
