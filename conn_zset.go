package mapuche

import (
	"context"
	"math"

	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// ZMember pairs a sorted-set member with its score.
type ZMember struct {
	Member string
	Score  float64
}

// ZAddOptions carries the ZADD modifiers. NX and XX are mutually
// exclusive; CH switches the reply to the changed count.
type ZAddOptions struct {
	NX bool
	XX bool
	CH bool
}

// ZAdd inserts or updates members and returns the number added (changed
// with CH). NaN scores are rejected up front.
func (c *Conn) ZAdd(ctx context.Context, key string, opts ZAddOptions, members ...ZMember) *resp.Frame {
	if len(members) == 0 || (opts.NX && opts.XX) {
		return resp.InvalidArguments()
	}
	scored := make([]engine.ScoredMember, len(members))
	for i, m := range members {
		if math.IsNaN(m.Score) {
			return resp.Err(store.ErrValueNotFloat.Error())
		}
		scored[i] = engine.ScoredMember{Member: m.Member, Score: m.Score}
	}
	flags := engine.ZAddFlags{ChangedOnly: opts.CH}
	if opts.NX {
		v := false
		flags.Exists = &v
	} else if opts.XX {
		v := true
		flags.Exists = &v
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZAdd(key, scored, flags)
	})
}

// ZCard returns the sorted-set cardinality.
func (c *Conn) ZCard(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZCard(key)
	})
}

// ZScore returns the member's score as a bulk string, or null.
func (c *Conn) ZScore(ctx context.Context, key, member string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZScore(key, member)
	})
}

// ZRem removes members and returns how many were present.
func (c *Conn) ZRem(ctx context.Context, key string, members ...string) *resp.Frame {
	if len(members) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRem(key, members)
	})
}

// ZRemRangeByRank removes the members ranked between min and max.
func (c *Conn) ZRemRangeByRank(ctx context.Context, key string, min, max int64) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRemRangeByRank(key, min, max)
	})
}

// ZRemRangeByScore removes the members scored inside [min, max].
func (c *Conn) ZRemRangeByScore(ctx context.Context, key string, min, max float64) *resp.Frame {
	if math.IsNaN(min) || math.IsNaN(max) {
		return resp.Err(store.ErrValueNotFloat.Error())
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRemRangeByScore(key, min, max)
	})
}

// ZRange returns the members ranked between min and max in ascending
// score order.
func (c *Conn) ZRange(ctx context.Context, key string, min, max int64, withScores bool) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRange(key, min, max, withScores, false)
	})
}

// ZRevRange returns the members ranked between min and max in descending
// score order.
func (c *Conn) ZRevRange(ctx context.Context, key string, min, max int64, withScores bool) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRange(key, min, max, withScores, true)
	})
}

// ZRangeByScore returns the members scored inside the given interval;
// the inclusive flags encode the '(' exclusive syntax.
func (c *Conn) ZRangeByScore(ctx context.Context, key string, min float64, minInclusive bool, max float64, maxInclusive, withScores bool) *resp.Frame {
	if math.IsNaN(min) || math.IsNaN(max) {
		return resp.Err(store.ErrValueNotFloat.Error())
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRangeByScore(key, min, minInclusive, max, maxInclusive, withScores, false)
	})
}

// ZRevRangeByScore is ZRangeByScore with the iteration order reversed;
// min and max arrive in the reversed order, as on the wire.
func (c *Conn) ZRevRangeByScore(ctx context.Context, key string, max float64, maxInclusive bool, min float64, minInclusive, withScores bool) *resp.Frame {
	if math.IsNaN(min) || math.IsNaN(max) {
		return resp.Err(store.ErrValueNotFloat.Error())
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRangeByScore(key, max, maxInclusive, min, minInclusive, withScores, true)
	})
}

// ZCount counts the members scored inside the given interval.
func (c *Conn) ZCount(ctx context.Context, key string, min float64, minInclusive bool, max float64, maxInclusive bool) *resp.Frame {
	if math.IsNaN(min) || math.IsNaN(max) {
		return resp.Err(store.ErrValueNotFloat.Error())
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZCount(key, min, minInclusive, max, maxInclusive)
	})
}

// ZPopMin removes and returns the count lowest-scored members.
func (c *Conn) ZPopMin(ctx context.Context, key string, count uint64) *resp.Frame {
	if count == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZPop(key, true, count)
	})
}

// ZPopMax removes and returns the count highest-scored members.
func (c *Conn) ZPopMax(ctx context.Context, key string, count uint64) *resp.Frame {
	if count == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZPop(key, false, count)
	})
}

// ZRank returns the member's ascending rank, or null.
func (c *Conn) ZRank(ctx context.Context, key, member string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZRank(key, member)
	})
}

// ZIncrBy adds step to the member's score and returns the new score.
func (c *Conn) ZIncrBy(ctx context.Context, key string, step float64, member string) *resp.Frame {
	if math.IsNaN(step) {
		return resp.Err(store.ErrValueNotFloat.Error())
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewZsetCommand(c.inner).ZIncrBy(key, step, member)
	})
}
