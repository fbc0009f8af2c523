package hot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalPutGetRoundtrip(t *testing.T) {
	c := NewLocal(10, 1<<20, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "m1", []byte("payload"), time.Minute))

	v, ok, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)
}

func TestLocalGetMissing(t *testing.T) {
	c := NewLocal(10, 1<<20, nil)
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalExpiresByTTL(t *testing.T) {
	c := NewLocal(10, 1<<20, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "m1", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalEvictsLRUWhenFull(t *testing.T) {
	c := NewLocal(2, 1<<20, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Put(ctx, "b", []byte("1"), time.Minute))
	// touch a, making b the LRU victim
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Put(ctx, "c", []byte("1"), time.Minute))

	_, ok, _ := c.Get(ctx, "b")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	require.True(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	require.True(t, ok)
}

func TestLocalInvalidate(t *testing.T) {
	c := NewLocal(10, 1<<20, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "m1", []byte("x"), time.Minute))
	require.NoError(t, c.Invalidate(ctx, "m1"))

	_, ok, _ := c.Get(ctx, "m1")
	require.False(t, ok)
}
