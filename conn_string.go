package mapuche

import (
	"context"
	"math"

	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/internal/utils"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// KV pairs one user key with a value for MSET.
type KV struct {
	Key   string
	Value []byte
}

// Get returns the string value of key, or null.
func (c *Conn) Get(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Get(key)
	})
}

// Set stores value under key, overwriting any previous value and ttl.
func (c *Conn) Set(ctx context.Context, key string, value []byte) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Put(key, value, 0)
	})
}

// SetEX stores value with a relative expiry in seconds (SET ... EX).
func (c *Conn) SetEX(ctx context.Context, key string, value []byte, seconds int64) *resp.Frame {
	if seconds <= 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Put(key, value, utils.TimestampFromTTL(seconds*1000))
	})
}

// SetPX stores value with a relative expiry in milliseconds (SET ... PX).
func (c *Conn) SetPX(ctx context.Context, key string, value []byte, millis int64) *resp.Frame {
	if millis <= 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Put(key, value, utils.TimestampFromTTL(millis))
	})
}

// SetNX stores value only when key is absent or expired (SET ... NX);
// null reports a refused write.
func (c *Conn) SetNX(ctx context.Context, key string, value []byte) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).PutNotExists(key, value)
	})
}

// MGet returns the values of keys, null per missing entry.
func (c *Conn) MGet(ctx context.Context, keys ...string) *resp.Frame {
	if len(keys) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).BatchGet(keys)
	})
}

// MSet stores every pair unconditionally.
func (c *Conn) MSet(ctx context.Context, kvs ...KV) *resp.Frame {
	if len(kvs) == 0 {
		return resp.InvalidArguments()
	}
	pairs := make([]store.KvPair, len(kvs))
	for i, kv := range kvs {
		pairs[i] = store.KvPair{K: []byte(kv.Key), V: kv.Value}
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).BatchPut(pairs)
	})
}

// Del removes keys of any kind and returns how many existed.
func (c *Conn) Del(ctx context.Context, keys ...string) *resp.Frame {
	if len(keys) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Del(keys)
	})
}

// Exists counts how many of keys are present.
func (c *Conn) Exists(ctx context.Context, keys ...string) *resp.Frame {
	if len(keys) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Exists(keys)
	})
}

// Strlen returns the length of the string at key.
func (c *Conn) Strlen(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Strlen(key)
	})
}

// Type returns the kind stored at key ("none" when absent).
func (c *Conn) Type(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).GetType(key)
	})
}

// Incr adds one to the integer at key.
func (c *Conn) Incr(ctx context.Context, key string) *resp.Frame {
	return c.IncrBy(ctx, key, 1)
}

// IncrBy adds step to the integer at key.
func (c *Conn) IncrBy(ctx context.Context, key string, step int64) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Incr(key, step)
	})
}

// Decr subtracts one from the integer at key.
func (c *Conn) Decr(ctx context.Context, key string) *resp.Frame {
	return c.DecrBy(ctx, key, 1)
}

// DecrBy subtracts step from the integer at key.
func (c *Conn) DecrBy(ctx context.Context, key string, step int64) *resp.Frame {
	if step == math.MinInt64 {
		return resp.Err(store.ErrDecrementOverflow.Error())
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Incr(key, -step)
	})
}

// Expire sets a relative deadline in seconds on key.
func (c *Conn) Expire(ctx context.Context, key string, seconds int64) *resp.Frame {
	return c.expire(ctx, key, seconds, false, false)
}

// PExpire sets a relative deadline in milliseconds on key.
func (c *Conn) PExpire(ctx context.Context, key string, millis int64) *resp.Frame {
	return c.expire(ctx, key, millis, true, false)
}

// ExpireAt sets an absolute deadline in epoch seconds on key.
func (c *Conn) ExpireAt(ctx context.Context, key string, timestamp int64) *resp.Frame {
	return c.expire(ctx, key, timestamp, false, true)
}

// PExpireAt sets an absolute deadline in epoch milliseconds on key.
func (c *Conn) PExpireAt(ctx context.Context, key string, timestamp int64) *resp.Frame {
	return c.expire(ctx, key, timestamp, true, true)
}

func (c *Conn) expire(ctx context.Context, key string, value int64, isMillis, expireAt bool) *resp.Frame {
	ttl := value
	if !isMillis {
		ttl *= 1000
	}
	if !expireAt {
		ttl = utils.TimestampFromTTL(ttl)
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Expire(key, ttl)
	})
}

// TTL returns the remaining lifetime of key in seconds.
func (c *Conn) TTL(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).TTL(key, false)
	})
}

// PTTL returns the remaining lifetime of key in milliseconds.
func (c *Conn) PTTL(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).TTL(key, true)
	})
}

// Keys returns every unexpired user key matching the glob pattern.
func (c *Conn) Keys(ctx context.Context, pattern string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Keys(pattern)
	})
}

// Scan pages the keyspace from cursor, filtering against a regular
// expression. The reply is [next-cursor, keys]; an empty cursor ends the
// iteration.
func (c *Conn) Scan(ctx context.Context, cursor string, count int64, pattern string) *resp.Frame {
	if count <= 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewStringCommand(c.inner).Scan(cursor, uint32(count), pattern)
	})
}
