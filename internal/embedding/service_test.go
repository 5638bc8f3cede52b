package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-copilot/backend/pkg/utils"
)

type fakeProvider struct {
	calls   int
	batches [][]string
	err     error
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text))}
	}
	return vectors, nil
}

type fakeCache struct {
	store  map[string][]float32
	getErr error
	setErr error
	hits   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: map[string][]float32{}}
}

func (f *fakeCache) GetEmbedding(_ context.Context, textHash string) ([]float32, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	vector, ok := f.store[textHash]
	if ok {
		f.hits++
	}
	return vector, ok, nil
}

func (f *fakeCache) SetEmbedding(_ context.Context, textHash string, embedding []float32, _ time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.store[textHash] = embedding
	return nil
}

func TestEmbedBatch_CacheMissesEmbeddedOnce(t *testing.T) {
	provider := &fakeProvider{}
	cache := newFakeCache()
	svc := NewService(provider, cache)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"one", "three", "seven"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, 1, provider.calls)

	// A repeat batch is fully served from cache.
	again, err := svc.EmbedBatch(context.Background(), []string{"one", "three", "seven"})
	require.NoError(t, err)
	assert.Equal(t, vectors, again)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 3, cache.hits)
}

func TestEmbedBatch_PartialHitPreservesOrder(t *testing.T) {
	provider := &fakeProvider{}
	cache := newFakeCache()
	cache.store[utils.HashString("bb")] = []float32{42}
	svc := NewService(provider, cache)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, []float32{1}, vectors[0])
	assert.Equal(t, []float32{42}, vectors[1])
	assert.Equal(t, []float32{3}, vectors[2])

	// Only the misses reached the provider.
	require.Len(t, provider.batches, 1)
	assert.Equal(t, []string{"a", "ccc"}, provider.batches[0])
}

func TestEmbedBatch_CacheFailureBypassed(t *testing.T) {
	provider := &fakeProvider{}
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	svc := NewService(provider, cache)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, 1, provider.calls)
}

func TestEmbedBatch_NilCache(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewService(provider, nil)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)

	single, err := svc.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, single)
}

func TestEmbedBatch_ProviderFailurePropagates(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider down")}
	svc := NewService(provider, newFakeCache())

	_, err := svc.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestEmbedBatch_Empty(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewService(provider, newFakeCache())

	vectors, err := svc.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Zero(t, provider.calls)
}
