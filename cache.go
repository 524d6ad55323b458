package oceanbase

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

// serverStmt is a statement prepared on the server. Prepared statements
// with the same SQL text share one serverStmt through the cache.
type serverStmt struct {
	id         uint32
	query      string
	paramCount int
	params     []*columnDefinition
	columns    []*columnDefinition

	// over the prepare response metadata
	checksum uint64

	refs   int  // statements using it
	cached bool // held by the cache
	closed bool // COM_STMT_CLOSE queued or sent
}

// computeChecksum hashes the statement metadata returned by the server.
func (s *serverStmt) computeChecksum() uint64 {
	var b [8]byte

	d := xxhash.New()
	d.WriteString(s.query)

	binary.LittleEndian.PutUint32(b[0:4], s.id)
	binary.LittleEndian.PutUint16(b[4:6], uint16(len(s.params)))
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(s.columns)))
	d.Write(b[:])

	for _, defs := range [][]*columnDefinition{s.params, s.columns} {
		for _, col := range defs {
			d.WriteString(col.table)
			d.WriteString(col.name)
			binary.LittleEndian.PutUint16(b[0:2], col.charset)
			binary.LittleEndian.PutUint32(b[2:6], col.columnLength)
			b[6] = col.columnType
			b[7] = col.decimals
			d.Write(b[:])
			binary.LittleEndian.PutUint16(b[0:2], col.flags)
			d.Write(b[:2])
		}
	}
	return d.Sum64()
}

// psCache is the per connection cache of server prepared statements, keyed
// by SQL text. Evicted statements are closed on the server once no
// statement references them; the COM_STMT_CLOSE packets are sent before the
// next command.
type psCache struct {
	c *Conn

	mu      sync.Mutex
	lru     *lru.Cache // nil when caching is off
	pending []uint32   // statement ids to close
}

func newPSCache(c *Conn, size int, enabled bool) *psCache {
	pc := &psCache{c: c}
	if enabled && size > 0 {
		// only fails on a non-positive size
		pc.lru, _ = lru.NewWithEvict(size, pc.onEvict)
	}
	return pc
}

// onEvict runs inside lru calls, with pc.mu held.
func (pc *psCache) onEvict(_, value interface{}) {
	s := value.(*serverStmt)
	s.cached = false
	metrics.PSCacheEvicted()
	logger.Debugf("connection %d: statement %d evicted from the cache", pc.c.connectionId, s.id)

	if s.refs == 0 {
		pc.queueClose(s)
	}
}

func (pc *psCache) queueClose(s *serverStmt) {
	if s.closed {
		return
	}
	s.closed = true
	pc.pending = append(pc.pending, s.id)
}

// acquire returns the cached statement for query with a reference taken,
// or nil.
func (pc *psCache) acquire(query string) *serverStmt {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.lru == nil {
		return nil
	}

	v, ok := pc.lru.Get(query)
	if !ok {
		metrics.PSCacheMiss()
		return nil
	}
	metrics.PSCacheHit()

	s := v.(*serverStmt)
	s.refs++
	return s
}

// add registers a freshly prepared statement with a reference taken. A
// statement cached for the same text before is replaced.
func (pc *psCache) add(s *serverStmt) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	s.refs++
	if pc.lru == nil {
		return
	}

	if old, ok := pc.lru.Peek(s.query); ok && old != s {
		pc.lru.Remove(s.query)
	}
	pc.lru.Add(s.query, s)
	s.cached = true
}

// release drops a reference to s. An unreferenced statement that is not
// cached is closed.
func (pc *psCache) release(s *serverStmt) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 && !s.cached {
		pc.queueClose(s)
	}
}

// invalidate removes s from the cache; the next statement using its text
// prepares again.
func (pc *psCache) invalidate(s *serverStmt) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.lru == nil || !s.cached {
		return
	}
	if v, ok := pc.lru.Peek(s.query); ok && v == s {
		pc.lru.Remove(s.query)
	}
}

// Len returns the number of cached statements.
func (pc *psCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.lru == nil {
		return 0
	}
	return pc.lru.Len()
}

// flushPendingCloses sends the queued COM_STMT_CLOSE packets.
func (pc *psCache) flushPendingCloses() error {
	pc.mu.Lock()
	ids := pc.pending
	pc.pending = nil
	pc.mu.Unlock()

	for _, id := range ids {
		if err := pc.c.handleStmtClose(id); err != nil {
			return err
		}
	}
	return nil
}

// close empties the cache and closes every statement no longer referenced.
func (pc *psCache) close() error {
	pc.mu.Lock()
	if pc.lru != nil {
		pc.lru.Purge()
	}
	pc.mu.Unlock()

	return pc.flushPendingCloses()
}
