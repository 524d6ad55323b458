package oceanbase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/oceanbase/obconnector-go/internal/logger"
	"github.com/oceanbase/obconnector-go/internal/metrics"
)

const _DEFAULT_CANCEL_TIMEOUT = 10 * time.Second

// errQueryTimeout is the cause of a query killed by its query timeout.
var errQueryTimeout = errors.New("query timeout")

// watchCancel kills the running query through a side connection when ctx
// is done or timeout elapses, until the returned function is called. The
// returned function may be called more than once.
func (c *Conn) watchCancel(ctx context.Context, timeout time.Duration) func() {
	var cancelTimeout context.CancelFunc

	c.killCause = nil
	if timeout > 0 {
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, timeout, errQueryTimeout)
	}
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		c.killCause = context.Cause(ctx)
		c.cancelQuery(c.killCause)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			if !stop() {
				// the kill raced the reply; wait for it so that it cannot
				// hit the next command
				<-done
			}
			if cancelTimeout != nil {
				cancelTimeout()
			}
		})
	}
}

// cancelQuery opens a side connection to the same host and kills the query
// running on c. It is safe to call from any goroutine.
func (c *Conn) cancelQuery(reason error) {
	metrics.QueryCanceled()
	logger.Infof("connection %d: canceling the running query (%v)", c.connectionId, reason)

	timeout := c.opts.connectTimeout()
	if timeout <= 0 {
		timeout = _DEFAULT_CANCEL_TIMEOUT
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	side, err := open(ctx, c.url, c.host)
	if err != nil {
		logger.Warnf("connection %d: cancel failed: %v", c.connectionId, err)
		return
	}
	defer side.Close()

	if err = side.execSimple(ctx, "KILL QUERY "+strconv.FormatUint(uint64(c.connectionId), 10)); err != nil {
		logger.Warnf("connection %d: cancel failed: %v", c.connectionId, err)
	}
}

// interrupted turns the server error of a query killed by watchCancel into
// a cancellation error. The watch must be stopped first.
func (c *Conn) interrupted(err error) error {
	if err == nil || c.killCause == nil || !IsErrorCode(err, _ER_QUERY_INTERRUPTED) {
		return err
	}
	return myError(ErrCanceled, c.killCause)
}
