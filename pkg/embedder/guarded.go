package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardConfig bounds calls to an embedding provider.
type GuardConfig struct {
	// Timeout is the longest a caller waits for one embedding.
	// Default: 300ms.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RatePerSecond and Burst limit request rate. A call that would exceed
	// the limit fails immediately. Defaults: 5 and 5.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// DefaultGuardConfig returns the default guard configuration.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:       300 * time.Millisecond,
		RatePerSecond: 5,
		Burst:         5,
	}
}

// Guarded wraps a Provider so that callers never block longer than the
// configured timeout and never see an error. A nil *Guarded, or one with a
// nil provider, always reports failure.
type Guarded struct {
	provider Provider
	cfg      GuardConfig
	limiter  *rate.Limiter
	logger   *zap.Logger

	failures atomic.Int64
}

// NewGuarded wraps provider.
//
// Parameters:
//   - provider: underlying embedding provider (may be nil)
//   - cfg: timeout and rate limit; zero fields take defaults
//   - logger: logger for degradation warnings (nil means no logging)
func NewGuarded(provider Provider, cfg GuardConfig, logger *zap.Logger) *Guarded {
	d := DefaultGuardConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = d.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:   logger,
	}
}

// Available reports whether a provider is configured.
func (g *Guarded) Available() bool {
	return g != nil && g.provider != nil
}

// Failures returns how many calls have degraded so far.
func (g *Guarded) Failures() int64 {
	if g == nil {
		return 0
	}
	return g.failures.Load()
}

var (
	errRateLimited = errors.New("embedding rate limit exceeded")
	errEmpty       = errors.New("embedding provider returned no vector")
)

type embedResult struct {
	vecs [][]float64
	err  error
}

// Embed returns the embedding of text, or ok=false when the provider is
// missing, rate limited, slow, failing or returns an empty vector.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float64, bool) {
	vecs, ok := g.call(ctx, "embed", 1, func(ctx context.Context) ([][]float64, error) {
		v, err := g.provider.Embed(ctx, text)
		return [][]float64{v}, err
	})
	if !ok {
		return nil, false
	}
	return vecs[0], true
}

// EmbedBatch embeds texts in one call with the same guarantees as Embed.
func (g *Guarded) EmbedBatch(ctx context.Context, texts []string) ([][]float64, bool) {
	if len(texts) == 0 {
		return [][]float64{}, true
	}
	return g.call(ctx, "embed_batch", len(texts), func(ctx context.Context) ([][]float64, error) {
		return g.provider.EmbedBatch(ctx, texts)
	})
}

func (g *Guarded) call(ctx context.Context, op string, want int, fn func(context.Context) ([][]float64, error)) ([][]float64, bool) {
	if !g.Available() {
		return nil, false
	}
	if !g.limiter.Allow() {
		return nil, g.degrade(op, errRateLimited)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	done := make(chan embedResult, 1)
	go func() {
		vecs, err := fn(callCtx)
		done <- embedResult{vecs: vecs, err: err}
	}()

	select {
	case res := <-done:
		cancel()
		if res.err != nil {
			return nil, g.degrade(op, res.err)
		}
		if len(res.vecs) != want {
			return nil, g.degrade(op, errEmpty)
		}
		for _, v := range res.vecs {
			if len(v) == 0 {
				return nil, g.degrade(op, errEmpty)
			}
		}
		return res.vecs, true
	case <-callCtx.Done():
		cancel()
		return nil, g.degrade(op, callCtx.Err())
	}
}

func (g *Guarded) degrade(op string, err error) bool {
	g.failures.Add(1)
	g.logger.Warn("embedding unavailable, falling back to keyword matching",
		zap.String("op", op),
		zap.Error(err))
	return false
}

// Close closes the underlying provider.
func (g *Guarded) Close() error {
	if !g.Available() {
		return nil
	}
	return g.provider.Close()
}
