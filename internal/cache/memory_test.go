package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RoundTrip(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	_, ok := m.Get(ctx, "missing")
	assert.False(t, ok)

	m.Set(ctx, "k", []byte("value"), time.Minute)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ExpiryOnRead(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("value"), 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_OverwriteRefreshesValue(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("old"), time.Minute)
	m.Set(ctx, "k", []byte("new"), time.Minute)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestMemory_ConcurrentRefreshSurvivesExpiredRead(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		m.mu.Lock()
		m.entries["k"] = entry{value: []byte("stale"), expiry: time.Now().Add(-time.Hour)}
		m.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Get(ctx, "k")
		}()
		go func() {
			defer wg.Done()
			m.Set(ctx, "k", []byte("fresh"), time.Hour)
		}()
		wg.Wait()

		// The expired read must only drop the entry it saw; a refresh
		// landing between its locks survives.
		got, ok := m.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("fresh"), got)
	}
}

func TestKey_StableAndScoped(t *testing.T) {
	a := Key("search:serper", "acme widgets", "20")
	b := Key("search:serper", "acme widgets", "20")
	c := Key("search:serper", "acme widgets", "30")
	d := Key("search:serper_news", "acme widgets", "20")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	// Parameter boundaries matter: joining must not collapse adjacent
	// params into the same digest.
	x := Key("llm", "ab", "c")
	y := Key("llm", "a", "bc")
	assert.NotEqual(t, x, y)
}
