package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientBasics(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "emb:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "emb:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "emb:"))
	_, err := c.Get(ctx, "emb:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestEmbeddingKey(t *testing.T) {
	a := EmbeddingKey("openai-small", 512, "what is the refund policy?")
	b := EmbeddingKey("openai-small", 512, "what is the refund policy?")
	c := EmbeddingKey("openai-small", 1536, "what is the refund policy?")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "emb:openai-small:512:")
}
