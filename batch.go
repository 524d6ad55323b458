package oceanbase

import (
	"context"

	"github.com/valyala/bytebufferpool"

	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// room left in a packet for the command byte and framing
const _BATCH_PACKET_OVERHEAD = 64

// BatchUpdateError reports a batch that stopped at a failing entry.
// UpdateCounts holds one count per entry: the counts of the entries that
// ran, ExecuteFailed for the failing entry and the ones never sent.
type BatchUpdateError struct {
	Index         int // first failed entry
	UpdateCounts  []int64
	GeneratedKeys []int64
	Err           error
}

func (e *BatchUpdateError) Error() string {
	return myError(ErrBatchUpdate, e.Index, e.Err).Error()
}

func (e *BatchUpdateError) Unwrap() error {
	return e.Err
}

// batchRun accumulates the outcome of one ExecuteBatch.
type batchRun struct {
	s      *stmtCore
	counts []int64
	keys   []int64
}

func (b *batchRun) done() []int64 {
	b.s.generatedKeys = b.keys
	return b.counts
}

// fail ends the batch at entry index; the entries without a count are
// marked ExecuteFailed.
func (b *batchRun) fail(index, total int, err error) error {
	for len(b.counts) < total {
		b.counts = append(b.counts, ExecuteFailed)
	}
	b.s.generatedKeys = b.keys

	logger.Debugf("connection %d: batch stopped at entry %d: %v", b.s.c.connectionId, index, err)
	return &BatchUpdateError{Index: index, UpdateCounts: b.counts, GeneratedKeys: b.keys, Err: err}
}

// absorb records one count per result of a multi-statement chunk. A result
// set in a batch is an error.
func (b *batchRun) absorb(results []*execResult) error {
	var err error
	for _, r := range results {
		if r.rs != nil {
			r.rs.Close()
			b.counts = append(b.counts, ExecuteFailed)
			err = myError(ErrUpdateReturnedResultSet)
			continue
		}
		b.counts = append(b.counts, r.affectedRows)
		b.keys = append(b.keys, keysOf(r.lastInsertId, r.affectedRows)...)
	}
	return err
}

// chunk is a range [start, end) of batch entries sent as one command.
type chunk struct {
	start, end int
}

// planChunks groups entries so that a chunk holds at most maxParams
// placeholders and fits in maxBytes. An entry is never split: an entry
// larger than the limits gets a chunk of its own.
func planChunks(sizes []int, paramsPerEntry, maxParams, maxBytes, fixed int) []chunk {
	perChunk := len(sizes)
	if paramsPerEntry > 0 && maxParams > 0 {
		perChunk = max(maxParams/paramsPerEntry, 1)
	}

	var (
		chunks []chunk
		start  int
		bytes  = fixed
	)
	for i, size := range sizes {
		n := i - start
		if n > 0 && (n >= perChunk || bytes+size+1 > maxBytes) {
			chunks = append(chunks, chunk{start, i})
			start, bytes = i, fixed
		}
		bytes += size + 1
	}
	if start < len(sizes) {
		chunks = append(chunks, chunk{start, len(sizes)})
	}
	return chunks
}

// literalSize estimates the length of the SQL literal of v.
func literalSize(v interface{}) int {
	switch x := v.(type) {
	case nil:
		return 4
	case string:
		return len(x) + 2
	case NString:
		return len(x) + 3
	case []byte:
		return 2*len(x) + 3
	case *Blob:
		return 2*int(x.Length()) + 3
	case *Clob:
		return 3*int(x.Length()) + 3
	}
	return 24
}

func (b *batchRun) maxChunkBytes() int {
	return max(b.s.c.opts.MaxAllowedPacket-_BATCH_PACKET_OVERHEAD, 1)
}

// runStatements executes the queries of a Statement batch: several per
// command with allowMultiQueries, one by one otherwise.
func (b *batchRun) runStatements(ctx context.Context, queries []string) ([]int64, error) {
	c := b.s.c

	if !c.opts.AllowMultiQueries || len(queries) == 1 {
		for i, q := range queries {
			results, err := c.execText(ctx, q, &readMode{timeout: b.s.queryTimeout})
			metrics.BatchChunkSent("single")
			if err == nil {
				err = b.absorb(results)
			}
			if err != nil {
				closeResults(results)
				return nil, b.fail(i, len(queries), err)
			}
		}
		return b.done(), nil
	}

	sizes := make([]int, len(queries))
	for i, q := range queries {
		sizes[i] = len(q)
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	for _, ch := range planChunks(sizes, 0, 0, b.maxChunkBytes(), 0) {
		bb.Reset()
		for i := ch.start; i < ch.end; i++ {
			if i > ch.start {
				bb.B = append(bb.B, ';')
			}
			bb.B = append(bb.B, queries[i]...)
		}

		if err := b.runMultiChunk(ctx, bb.String(), ch, len(queries)); err != nil {
			return nil, err
		}
	}
	return b.done(), nil
}

// runMultiChunk sends the statements of ch as one multi-statement command.
// The results read before a failure keep their counts.
func (b *batchRun) runMultiChunk(ctx context.Context, query string, ch chunk, total int) error {
	metrics.BatchChunkSent("multi")
	logger.Debugf("connection %d: batch entries %d..%d as one multi-statement command",
		b.s.c.connectionId, ch.start, ch.end-1)

	results, err := b.s.c.execText(ctx, query, &readMode{timeout: b.s.queryTimeout})
	if aerr := b.absorb(results); err == nil {
		err = aerr
	}
	if err != nil {
		return b.fail(min(ch.start+len(results), ch.end-1), total, err)
	}
	return nil
}

// runPrepared executes the parameter sets of a PreparedStatement batch:
// coalesced into multi-value INSERTs when the statement allows it, as
// multi-statement commands with allowMultiQueries, one by one otherwise.
func (b *batchRun) runPrepared(ctx context.Context, ps *PreparedStatement, rows [][]interface{}) ([]int64, error) {
	c := ps.c
	rewrite := c.opts.RewriteBatchedStatements && !c.oracleMode && len(rows) > 1

	switch {
	case rewrite && ps.parsed.rewritable():
		return b.runRewritten(ctx, ps, rows)
	case rewrite && c.opts.AllowMultiQueries && !ps.parsed.multi && ps.parsed.kind.isDML():
		return b.runMultiPrepared(ctx, ps, rows)
	}

	if c.opts.UseArrayBinding {
		logger.Debugf("connection %d: array binding runs the batch row by row", c.connectionId)
	}

	for i, row := range rows {
		results, err := ps.execArgs(ctx, row)
		metrics.BatchChunkSent("single")
		if err == nil {
			err = b.absorb(results)
		}
		closeResults(results)
		if err != nil {
			return nil, b.fail(i, len(rows), err)
		}
	}
	return b.done(), nil
}

// runRewritten repeats the VALUES tuple of the INSERT once per row.
func (b *batchRun) runRewritten(ctx context.Context, ps *PreparedStatement, rows [][]interface{}) ([]int64, error) {
	c := ps.c
	p := ps.parsed
	head, tuple, tail := p.query[:p.valuesStart], p.query[p.valuesStart:p.valuesEnd], p.query[p.valuesEnd:]

	sizes := make([]int, len(rows))
	for i, row := range rows {
		sizes[i] = len(tuple)
		for _, v := range row {
			sizes[i] += literalSize(v)
		}
	}
	chunks := planChunks(sizes, len(p.params), c.opts.MaxBatchTotalParamsNum, b.maxChunkBytes(), len(head)+len(tail))

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	for _, ch := range chunks {
		var (
			results []*execResult
			err     error
		)

		bb.Reset()
		bb.B = append(bb.B, head...)

		if ps.server {
			// placeholders stay; the chunk is prepared like any statement
			args := make([]interface{}, 0, (ch.end-ch.start)*len(p.params))
			for i := ch.start; i < ch.end; i++ {
				if i > ch.start {
					bb.B = append(bb.B, ',')
				}
				bb.B = append(bb.B, tuple...)
				args = append(args, rows[i]...)
			}
			bb.B = append(bb.B, tail...)
			results, err = ps.execServerQuery(ctx, bb.String(), args)
		} else {
			for i := ch.start; i < ch.end && err == nil; i++ {
				if i > ch.start {
					bb.B = append(bb.B, ',')
				}
				bb.B, err = c.appendInterpolated(bb.B, p.query, p.params, p.valuesStart, p.valuesEnd, rows[i])
			}
			bb.B = append(bb.B, tail...)
			if err == nil {
				results, err = c.execText(ctx, bb.String(), &readMode{timeout: ps.queryTimeout})
			}
		}
		closeResults(results)

		metrics.BatchChunkSent("rewrite")
		logger.Debugf("connection %d: batch rows %d..%d as one INSERT", c.connectionId, ch.start, ch.end-1)

		if err != nil {
			return nil, b.fail(ch.start, len(rows), err)
		}

		n := ch.end - ch.start
		var ok *execResult
		if len(results) > 0 {
			ok = results[len(results)-1]
		}
		if ok == nil {
			ok = &execResult{}
		}
		if n == 1 {
			b.counts = append(b.counts, ok.affectedRows)
		} else {
			for i := 0; i < n; i++ {
				b.counts = append(b.counts, SuccessNoInfo)
			}
		}
		b.keys = append(b.keys, keysOf(ok.lastInsertId, int64(n))...)
	}
	return b.done(), nil
}

// runMultiPrepared sends the rows as interpolated statements joined into
// multi-statement commands.
func (b *batchRun) runMultiPrepared(ctx context.Context, ps *PreparedStatement, rows [][]interface{}) ([]int64, error) {
	c := ps.c
	p := ps.parsed

	sizes := make([]int, len(rows))
	for i, row := range rows {
		sizes[i] = len(p.query)
		for _, v := range row {
			sizes[i] += literalSize(v)
		}
	}
	chunks := planChunks(sizes, len(p.params), c.opts.MaxBatchTotalParamsNum, b.maxChunkBytes(), 0)

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	for _, ch := range chunks {
		bb.Reset()

		var err error
		for i := ch.start; i < ch.end && err == nil; i++ {
			if i > ch.start {
				bb.B = append(bb.B, ';')
			}
			bb.B, err = c.appendInterpolated(bb.B, p.query, p.params, 0, len(p.query), rows[i])
		}
		if err != nil {
			return nil, b.fail(ch.start, len(rows), err)
		}

		if err = b.runMultiChunk(ctx, bb.String(), ch, len(rows)); err != nil {
			return nil, err
		}
	}
	return b.done(), nil
}

// appendInterpolated appends query[start:end] to buf with the placeholders
// at the offsets in params replaced by the literals of args, in order.
func (c *Conn) appendInterpolated(buf []byte, query string, params []int, start, end int, args []interface{}) ([]byte, error) {
	var (
		err error
		pos = start
		n   int
	)

	for _, off := range params {
		if off < start || off >= end {
			continue
		}
		if n >= len(args) {
			return buf, myError(ErrParamNotSet, n+1)
		}

		buf = append(buf, query[pos:off]...)
		if buf, err = c.appendLiteral(buf, args[n]); err != nil {
			return buf, err
		}
		n++
		pos = off + 1
	}
	return append(buf, query[pos:end]...), nil
}
