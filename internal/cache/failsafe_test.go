package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turkcell/bt-go-lib/internal/cache"
)

func TestFailSafePutGet(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.Put("acc.S1.A1", "Pass1")

	got, ok := c.Get("acc.S1.A1")
	require.True(t, ok)
	assert.Equal(t, "Pass1", got)
}

func TestFailSafeNormalizesOnBothSides(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.Put("  Acc.S1.A1 ", "Pass1")

	for _, key := range []string{"acc.s1.a1", "ACC.S1.A1", " acc.S1.a1 "} {
		got, ok := c.Get(key)
		require.True(t, ok, "expected hit for %q", key)
		assert.Equal(t, "Pass1", got)
	}
	assert.Equal(t, 1, c.Len())
}

func TestFailSafeUpsertOverwrites(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.Put("acc.s1.a1", "old")
	c.Put("ACC.S1.A1", "new")

	got, _ := c.Get("acc.s1.a1")
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Len())
}

func TestFailSafeMissReturnsFalse(t *testing.T) {
	t.Parallel()

	c := cache.New()
	_, ok := c.Get("acc.unknown.key")
	assert.False(t, ok)
}

func TestFailSafeReset(t *testing.T) {
	t.Parallel()

	c := cache.New()
	c.Put("acc.s1.a1", "x")
	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestFailSafeConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := cache.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("acc.sys%d.acc%d", n%5, n%5)
			c.Put(key, "value")
			c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
