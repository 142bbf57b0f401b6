package mapuche

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/gc"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// txnRetryCount bounds the immediate-retry budget for conflicting
// transactions; after the last attempt the conflict frame is returned
// unchanged.
const txnRetryCount = 10

// Conn issues commands against a DB. Connections are cheap and safe for
// concurrent use; every command returns a single reply frame, with
// Redis-level failures rendered as Error frames rather than Go errors.
type Conn struct {
	inner *engine.DB
}

// call runs one command closure under the conflict-retry policy. Conflicts
// retry immediately up to the budget; anything else converts to an Error
// frame on the spot.
func (c *Conn) call(ctx context.Context, f func() (*resp.Frame, error)) *resp.Frame {
	var frame *resp.Frame
	op := func() error {
		fr, err := f()
		if err != nil {
			if errors.Is(err, store.ErrTxnConflict) {
				frame = resp.TxnFailed(err.Error())
				return err
			}
			frame = resp.Err(err.Error())
			return backoff.Permanent(err)
		}
		frame = fr
		if fr.IsTxnFailed() {
			return store.ErrTxnConflict
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, txnRetryCount-1), ctx)
	_ = backoff.Retry(op, policy)
	return frame
}

// DoGC runs one synchronous pass over the staged-deletion index,
// reclaiming every record in place.
func (c *Conn) DoGC(ctx context.Context) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		if err := gc.Sweep(c.inner); err != nil {
			return nil, err
		}
		return resp.Null(), nil
	})
}
