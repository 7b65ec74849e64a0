package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tagJan      = Tag{Family: "month", Key: "2024-01"}
	tagFeb      = Tag{Family: "month", Key: "2024-02"}
	tagJan15Mel = Tag{Family: "day", Scope: "Australia/Melbourne", Key: "2024-01-15"}
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, int]()

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1, tagJan)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	st := c.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestCache_InvalidateByTag(t *testing.T) {
	c := New[string, int]()
	c.Set("jan-mel", 1, tagJan, tagJan15Mel)
	c.Set("jan-utc", 2, tagJan)
	c.Set("feb-mel", 3, tagFeb)

	t.Run("day tag evicts only tagged entries", func(t *testing.T) {
		assert.Equal(t, 1, c.Invalidate(tagJan15Mel))
		_, ok := c.Get("jan-mel")
		assert.False(t, ok)
		_, ok = c.Get("jan-utc")
		assert.True(t, ok)
	})

	t.Run("month tag evicts remaining entries of the month", func(t *testing.T) {
		assert.Equal(t, 1, c.Invalidate(tagJan))
		_, ok := c.Get("jan-utc")
		assert.False(t, ok)
		_, ok = c.Get("feb-mel")
		assert.True(t, ok)
	})

	t.Run("unknown tag is a no-op", func(t *testing.T) {
		assert.Equal(t, 0, c.Invalidate(Tag{Family: "month", Key: "1999-01"}))
		assert.Equal(t, 1, c.Len())
	})
}

func TestCache_SetReplacesTags(t *testing.T) {
	c := New[string, int]()
	c.Set("k", 1, tagJan)
	c.Set("k", 2, tagFeb)

	assert.Equal(t, 0, c.Invalidate(tagJan))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 1, c.Invalidate(tagFeb))
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrCompute(t *testing.T) {
	c := New[string, string]()
	calls := 0
	compute := func() (string, []Tag, error) {
		calls++
		return "value", []Tag{tagJan}, nil
	}

	v, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)

	c.Invalidate(tagJan)
	_, err = c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_GetOrComputeErrorNotCached(t *testing.T) {
	c := New[string, int]()
	boom := errors.New("boom")

	_, err := c.GetOrCompute("k", func() (int, []Tag, error) { return 0, nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, int](WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	c.Set("k", 1, tagJan)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	// Tag index was cleaned with the entry.
	assert.Equal(t, 0, c.Invalidate(tagJan))
}

func TestCache_Purge(t *testing.T) {
	c := New[int, int]()
	for i := 0; i < 5; i++ {
		c.Set(i, i, tagJan)
	}
	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(5), c.Stats().Evictions)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := i % 10
				_, _ = c.GetOrCompute(key, func() (int, []Tag, error) {
					return key * 2, []Tag{tagJan}, nil
				})
				if i%50 == 0 {
					c.Invalidate(tagJan)
				}
			}
		}(g)
	}
	wg.Wait()

	for key := 0; key < 10; key++ {
		if v, ok := c.Get(key); ok {
			assert.Equal(t, key*2, v)
		}
	}
}

func TestTag_String(t *testing.T) {
	assert.Equal(t, "month:2024-01", tagJan.String())
	assert.Equal(t, "day:Australia/Melbourne:2024-01-15", tagJan15Mel.String())
}
