// Package cache provides a tagged read-through cache. Entries are stored as
// JSON bytes and grouped by tags, so one write can drop every cached read it
// affects.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// DefaultTTL is the lifetime of a cached entry.
const DefaultTTL = 3600 * time.Second

// Tag names.
const (
	TagTables = "GREBION_TABLES"
	tagTable  = "GREBION_TABLE_"
	tagRow    = "GREBION_ROW_"
	tagSchema = "GREBION_SCHEMA_"
)

// TableTag covers a table instance and its rows.
func TableTag(id int64) string { return tagTable + strconv.FormatInt(id, 10) }

// RowTag covers a single row.
func RowTag(id int64) string { return tagRow + strconv.FormatInt(id, 10) }

// SchemaTag covers a schema.
func SchemaTag(id int64) string { return tagSchema + strconv.FormatInt(id, 10) }

// Cache is implemented by the memory, redis and no-op backends. Backends
// swallow their own errors: a failing cache behaves like an empty one.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, tags ...string)
	InvalidateTag(ctx context.Context, tags ...string)
	Flush(ctx context.Context)
}

// Remember returns the cached value under key, or calls load, caches its
// result under the given tags and returns it. Load errors are not cached.
func Remember[T any](ctx context.Context, c Cache, key string, tags []string, load func() (T, error)) (T, error) {
	return RememberFunc(ctx, c, key, func(T) []string { return tags }, load)
}

// RememberFunc is Remember with the tags taken from the loaded value, for
// entries whose owner is only known after loading.
func RememberFunc[T any](ctx context.Context, c Cache, key string, tags func(T) []string, load func() (T, error)) (T, error) {
	if raw, ok := c.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		c.Set(ctx, key, raw, tags(v)...)
	}
	return v, nil
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Noop) Set(context.Context, string, []byte, ...string) {}
func (Noop) InvalidateTag(context.Context, ...string) {}
func (Noop) Flush(context.Context) {}
