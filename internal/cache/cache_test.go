package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 30*time.Millisecond))
	_, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok, "entry past its TTL must read as a miss")
}
