package embedder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oceanbase/colonymem/pkg/embedder"
)

type fakeProvider struct {
	delay time.Duration
	err   error
	vec   []float64
}

func (f *fakeProvider) Embed(ctx context.Context, _ string) ([]float64, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.vec, f.err
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) Dimensions() int { return len(f.vec) }
func (f *fakeProvider) Close() error    { return nil }

func TestGuardedSuccess(t *testing.T) {
	g := embedder.NewGuarded(&fakeProvider{vec: []float64{1, 0}}, embedder.GuardConfig{}, nil)
	v, ok := g.Embed(context.Background(), "fire")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0}, v)

	vs, ok := g.EmbedBatch(context.Background(), []string{"a", "b"})
	require.True(t, ok)
	assert.Len(t, vs, 2)
}

func TestGuardedDegrades(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	slow := embedder.NewGuarded(&fakeProvider{delay: time.Second, vec: []float64{1}},
		embedder.GuardConfig{Timeout: 20 * time.Millisecond}, logger)
	start := time.Now()
	_, ok := slow.Embed(context.Background(), "fire")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	failing := embedder.NewGuarded(&fakeProvider{err: errors.New("down")}, embedder.GuardConfig{}, logger)
	_, ok = failing.Embed(context.Background(), "fire")
	assert.False(t, ok)

	empty := embedder.NewGuarded(&fakeProvider{}, embedder.GuardConfig{}, logger)
	_, ok = empty.Embed(context.Background(), "fire")
	assert.False(t, ok)
	assert.Equal(t, int64(1), empty.Failures())

	assert.Equal(t, 3, logs.FilterMessage("embedding unavailable, falling back to keyword matching").Len())
}

func TestGuardedRateLimit(t *testing.T) {
	g := embedder.NewGuarded(&fakeProvider{vec: []float64{1}},
		embedder.GuardConfig{RatePerSecond: 0.001, Burst: 1}, nil)
	_, ok := g.Embed(context.Background(), "a")
	assert.True(t, ok)
	_, ok = g.Embed(context.Background(), "b")
	assert.False(t, ok)
}

func TestGuardedWithoutProvider(t *testing.T) {
	var nilGuard *embedder.Guarded
	_, ok := nilGuard.Embed(context.Background(), "x")
	assert.False(t, ok)
	assert.False(t, nilGuard.Available())
	assert.NoError(t, nilGuard.Close())

	g := embedder.NewGuarded(nil, embedder.GuardConfig{}, nil)
	_, ok = g.Embed(context.Background(), "x")
	assert.False(t, ok)
	assert.Equal(t, int64(0), g.Failures())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, embedder.Cosine([]float64{1, 1}, []float64{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, embedder.Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, embedder.Cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, embedder.Cosine([]float64{0, 0}, []float64{1, 2}))
}
