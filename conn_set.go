package mapuche

import (
	"context"

	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// SAdd inserts members and returns how many were new.
func (c *Conn) SAdd(ctx context.Context, key string, members ...string) *resp.Frame {
	if len(members) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SAdd(key, members)
	})
}

// SCard returns the set cardinality.
func (c *Conn) SCard(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SCard(key)
	})
}

// SIsMember reports membership of one member as 0/1.
func (c *Conn) SIsMember(ctx context.Context, key, member string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SIsMember(key, []string{member}, false)
	})
}

// SMIsMember reports membership of each member as an array of 0/1.
func (c *Conn) SMIsMember(ctx context.Context, key string, members ...string) *resp.Frame {
	if len(members) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SIsMember(key, members, true)
	})
}

// SMembers lists every member.
func (c *Conn) SMembers(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SMembers(key)
	})
}

// SRandMember returns one random member as a bulk, without removal.
func (c *Conn) SRandMember(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SRandMember(key, 1, false, false)
	})
}

// SRandMemberN returns count random members; a negative count allows
// repetition, as in Redis.
func (c *Conn) SRandMemberN(ctx context.Context, key string, count int64) *resp.Frame {
	repeatable := false
	if count < 0 {
		repeatable = true
		count = -count
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SRandMember(key, count, repeatable, true)
	})
}

// SPop removes and returns count members in key order; count 1 replies
// with a bulk.
func (c *Conn) SPop(ctx context.Context, key string, count uint64) *resp.Frame {
	if count == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SPop(key, count)
	})
}

// SRem removes members and returns how many were present.
func (c *Conn) SRem(ctx context.Context, key string, members ...string) *resp.Frame {
	if len(members) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewSetCommand(c.inner).SRem(key, members)
	})
}
