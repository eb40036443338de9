package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags(t *testing.T) {
	assert.Equal(t, "GREBION_TABLE_12", TableTag(12))
	assert.Equal(t, "GREBION_ROW_7", RowTag(7))
	assert.Equal(t, "GREBION_SCHEMA_3", SchemaTag(3))
}

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	m.Set(ctx, "k", []byte("v"), TagTables)
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
}

func TestMemory_InvalidateTag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	m.Set(ctx, "list", []byte("1"), TagTables)
	m.Set(ctx, "table:1", []byte("2"), TableTag(1))
	m.Set(ctx, "rows:1", []byte("3"), TableTag(1), RowTag(9))
	m.Set(ctx, "table:2", []byte("4"), TableTag(2))

	m.InvalidateTag(ctx, TableTag(1))

	_, ok := m.Get(ctx, "table:1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "rows:1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "list")
	assert.True(t, ok, "other tags must survive")
	_, ok = m.Get(ctx, "table:2")
	assert.True(t, ok)

	m.Flush(ctx)
	_, ok = m.Get(ctx, "list")
	assert.False(t, ok)
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	calls := 0
	load := func() ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := Remember(ctx, m, "key", []string{TagTables}, load)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, v)
	}
	assert.Equal(t, 1, calls)

	m.InvalidateTag(ctx, TagTables)
	_, err := Remember(ctx, m, "key", []string{TagTables}, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRememberFunc_TagsFromValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	type row struct{ ID, TableID int64 }
	tags := func(r row) []string { return []string{RowTag(r.ID), TableTag(r.TableID)} }
	load := func() (row, error) { return row{ID: 7, TableID: 3}, nil }

	_, err := RememberFunc(ctx, m, "row:7", tags, load)
	require.NoError(t, err)
	_, ok := m.Get(ctx, "row:7")
	require.True(t, ok)

	m.InvalidateTag(ctx, TableTag(3))
	_, ok = m.Get(ctx, "row:7")
	assert.False(t, ok)

	_, err = RememberFunc(ctx, m, "row:7", tags, load)
	require.NoError(t, err)
	m.InvalidateTag(ctx, RowTag(7))
	_, ok = m.Get(ctx, "row:7")
	assert.False(t, ok)
}

func TestRemember_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	boom := errors.New("boom")

	_, err := Remember(ctx, m, "key", nil, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	_, ok := m.Get(ctx, "key")
	assert.False(t, ok)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}

	c.Set(ctx, "k", []byte("v"), TagTables)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	calls := 0
	for i := 0; i < 2; i++ {
		_, err := Remember(ctx, c, "k", nil, func() (int, error) { calls++; return 1, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestRedisKeys(t *testing.T) {
	r := NewRedis(nil, "tables:", 0, nil)
	assert.Equal(t, "tables:entry:list", r.entryKey("list"))
	assert.Equal(t, "tables:tag:GREBION_TABLES", r.tagKey(TagTables))
	assert.Equal(t, DefaultTTL, r.ttl)
}
