package mapuche

import (
	"context"

	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// FieldValue pairs a hash field with its value.
type FieldValue struct {
	Field string
	Value []byte
}

func toEngineFVs(fvs []FieldValue) []engine.FieldValue {
	out := make([]engine.FieldValue, len(fvs))
	for i, fv := range fvs {
		out[i] = engine.FieldValue{Field: fv.Field, Value: fv.Value}
	}
	return out
}

// HSet writes fields into the hash at key and returns how many fields were
// newly added.
func (c *Conn) HSet(ctx context.Context, key string, fvs ...FieldValue) *resp.Frame {
	if len(fvs) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HSet(key, toEngineFVs(fvs), false, false)
	})
}

// HMSet writes fields and replies OK.
func (c *Conn) HMSet(ctx context.Context, key string, fvs ...FieldValue) *resp.Frame {
	if len(fvs) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HSet(key, toEngineFVs(fvs), true, false)
	})
}

// HSetNX writes one field only when it does not already exist; the reply
// is 1 when written, 0 otherwise.
func (c *Conn) HSetNX(ctx context.Context, key, field string, value []byte) *resp.Frame {
	fvs := []engine.FieldValue{{Field: field, Value: value}}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HSet(key, fvs, false, true)
	})
}

// HGet returns the value of one field, or null.
func (c *Conn) HGet(ctx context.Context, key, field string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HGet(key, field)
	})
}

// HMGet returns the values of fields, null per absentee.
func (c *Conn) HMGet(ctx context.Context, key string, fields ...string) *resp.Frame {
	if len(fields) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HMGet(key, fields)
	})
}

// HLen returns the number of fields in the hash.
func (c *Conn) HLen(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HLen(key)
	})
}

// HStrlen returns the length of one field's value.
func (c *Conn) HStrlen(ctx context.Context, key, field string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HStrlen(key, field)
	})
}

// HExists reports whether field exists as 0/1.
func (c *Conn) HExists(ctx context.Context, key, field string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HExists(key, field)
	})
}

// HGetAll returns alternating fields and values.
func (c *Conn) HGetAll(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HGetAll(key, true, true)
	})
}

// HKeys returns the field names.
func (c *Conn) HKeys(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HGetAll(key, true, false)
	})
}

// HVals returns the field values.
func (c *Conn) HVals(ctx context.Context, key string) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HGetAll(key, false, true)
	})
}

// HDel removes fields and returns how many were present.
func (c *Conn) HDel(ctx context.Context, key string, fields ...string) *resp.Frame {
	if len(fields) == 0 {
		return resp.InvalidArguments()
	}
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HDel(key, fields)
	})
}

// HIncrBy adds step to the integer stored at field and returns the result.
func (c *Conn) HIncrBy(ctx context.Context, key, field string, step int64) *resp.Frame {
	return c.call(ctx, func() (*resp.Frame, error) {
		return engine.NewHashCommand(c.inner).HIncrBy(key, field, step)
	})
}
