package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/runtimeworker/errors"
)

func byteWeigher(v []byte) int64 { return int64(len(v)) }

func TestNewLRU_Validation(t *testing.T) {
	_, err := NewLRU[string](0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewLRU[[]byte](10, WithMaxWeight[[]byte](100))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLRU_BasicOperations(t *testing.T) {
	c, err := NewLRU[string](10)
	require.NoError(t, err)
	defer c.Close()

	_, found := c.Get("key1")
	assert.False(t, found)

	created, err := c.Set("key1", "value1")
	require.NoError(t, err)
	assert.True(t, created)

	value, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", value)

	created, err = c.Set("key1", "value1_updated")
	require.NoError(t, err)
	assert.False(t, created)

	value, _ = c.Get("key1")
	assert.Equal(t, "value1_updated", value)

	deleted, err := c.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, 0, c.Size())
}

func TestLRU_EmptyKey(t *testing.T) {
	c, err := NewLRU[string](10)
	require.NoError(t, err)

	_, err = c.Set("", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidKey)

	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewLRU[string](3, WithEvictionCallback[string](func(key string, _ string) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		_, err := c.Set(k, k)
		require.NoError(t, err)
	}

	// Touch "a" so "b" becomes least recently used
	_, _ = c.Get("a")
	_, err = c.Set("d", "d")
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestLRU_WeightBound(t *testing.T) {
	c, err := NewLRU[[]byte](100,
		WithWeigher[[]byte](byteWeigher),
		WithMaxWeight[[]byte](10))
	require.NoError(t, err)

	_, err = c.Set("a", make([]byte, 4))
	require.NoError(t, err)
	_, err = c.Set("b", make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.Weight())

	// Pushes total to 12, so "a" goes
	_, err = c.Set("c", make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.Weight())
	_, found := c.Get("a")
	assert.False(t, found)

	// Replacing a value adjusts weight in place
	_, err = c.Set("b", make([]byte, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.Weight())
}

func TestLRU_RejectsOversizedValue(t *testing.T) {
	c, err := NewLRU[[]byte](100,
		WithWeigher[[]byte](byteWeigher),
		WithMaxWeight[[]byte](10))
	require.NoError(t, err)

	_, err = c.Set("small", make([]byte, 2))
	require.NoError(t, err)

	_, err = c.Set("huge", make([]byte, 11))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, 1, c.Size())
	assert.Equal(t, int64(1), c.Stats().Rejects())
}

func TestLRU_Clear(t *testing.T) {
	count := 0
	c, err := NewLRU[string](10, WithEvictionCallback[string](func(string, string) { count++ }))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = c.Set(fmt.Sprintf("k%d", i), "v")
	}
	require.NoError(t, c.Clear())

	assert.Equal(t, 0, c.Size())
	assert.Equal(t, 5, count)
	assert.Equal(t, int64(0), c.Stats().CurrentSize())
	assert.Equal(t, int64(5), c.Stats().MaxSize())
}

func TestLRU_Statistics(t *testing.T) {
	c, err := NewLRU[int](10)
	require.NoError(t, err)

	_, _ = c.Set("x", 1)
	_, _ = c.Get("x")
	_, _ = c.Get("x")
	_, _ = c.Get("y")

	summary := c.Stats().Summary()
	assert.Equal(t, int64(2), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.Equal(t, int64(1), summary.Sets)
	assert.InDelta(t, 2.0/3.0, summary.HitRatio, 0.0001)
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c, err := NewLRU[int](50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (id*200+i)%120)
				_, _ = c.Set(key, i)
				_, _ = c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50)
}
