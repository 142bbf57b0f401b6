package mapuche

import (
	"context"

	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// LPush prepends values and returns the resulting length.
func (c *Conn) LPush(ctx context.Context, key string, values ...[]byte) *resp.Frame {
	if len(values) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).Push(key, values, true)
	})
}

// RPush appends values and returns the resulting length.
func (c *Conn) RPush(ctx context.Context, key string, values ...[]byte) *resp.Frame {
	if len(values) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).Push(key, values, false)
	})
}

// LPop removes count elements from the head; count 1 replies with a bulk.
func (c *Conn) LPop(ctx context.Context, key string, count int64) *resp.Frame {
	if count <= 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).Pop(key, true, count)
	})
}

// RPop removes count elements from the tail; count 1 replies with a bulk.
func (c *Conn) RPop(ctx context.Context, key string, count int64) *resp.Frame {
	if count <= 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).Pop(key, false, count)
	})
}

// LRange returns the elements between two logical positions, negatives
// counting from the tail.
func (c *Conn) LRange(ctx context.Context, key string, start, end int64) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LRange(key, start, end)
	})
}

// LTrim keeps only the elements between start and end.
func (c *Conn) LTrim(ctx context.Context, key string, start, end int64) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LTrim(key, start, end)
	})
}

// LLen returns the list length.
func (c *Conn) LLen(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LLen(key)
	})
}

// LIndex returns the element at one logical position, or null.
func (c *Conn) LIndex(ctx context.Context, key string, index int64) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LIndex(key, index)
	})
}

// LSet overwrites the element at one logical position.
func (c *Conn) LSet(ctx context.Context, key string, index int64, element []byte) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LSet(key, index, element)
	})
}

// LRem removes up to count occurrences of element: positive counts walk
// from the head, negative from the tail, zero removes all.
func (c *Conn) LRem(ctx context.Context, key string, count int64, element []byte) *resp.Frame {
	fromHead := count >= 0
	if count < 0 {
		count = -count
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LRem(key, uint64(count), fromHead, element)
	})
}

// LInsert places element before or after the first occurrence of pivot.
func (c *Conn) LInsert(ctx context.Context, key string, before bool, pivot, element []byte) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewListCommand(c.inner).LInsert(key, before, pivot, element)
	})
}
