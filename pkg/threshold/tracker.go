// Package threshold maintains rolling score distributions and recommends
// selection cut-offs from them.
//
// A Tracker keeps the last N observed scores of one category. Once enough
// samples exist it blends a percentile cut-off with a mean/stddev cut-off,
// clamps the result to a configured band and moves its current threshold
// toward that recommendation by a bounded step, so a single outlier batch
// cannot make the threshold flap.
package threshold

import (
	"math"
	"sort"
	"sync"
)

// Config configures a Tracker.
type Config struct {
	// WindowSize is the number of most recent scores kept. Default: 1000.
	WindowSize int `json:"window_size" yaml:"window_size"`

	// MinSamples is the sample count below which Default is returned.
	// Default: 50.
	MinSamples int `json:"min_samples" yaml:"min_samples"`

	// Default is the threshold used before enough samples exist.
	// Default: 0.3.
	Default float64 `json:"default" yaml:"default"`

	// TargetPercentile is the percentile used as the cut-off (0.8 keeps the
	// top 20%). Default: 0.8.
	TargetPercentile float64 `json:"target_percentile" yaml:"target_percentile"`

	// PercentileWeight is the share of the percentile cut-off in the blend;
	// the remainder goes to mean - 0.5*stddev. Default: 0.7.
	PercentileWeight float64 `json:"percentile_weight" yaml:"percentile_weight"`

	// Min and Max bound the recommendation. Defaults: 0.1 and 0.9.
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`

	// MaxStep is the largest change applied per recalibration. Default: 0.05.
	MaxStep float64 `json:"max_step" yaml:"max_step"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:       1000,
		MinSamples:       50,
		Default:          0.3,
		TargetPercentile: 0.8,
		PercentileWeight: 0.7,
		Min:              0.1,
		Max:              0.9,
		MaxStep:          0.05,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.TargetPercentile <= 0 || c.TargetPercentile >= 1 {
		c.TargetPercentile = d.TargetPercentile
	}
	if c.PercentileWeight < 0 || c.PercentileWeight > 1 {
		c.PercentileWeight = d.PercentileWeight
	}
	if c.Max <= 0 || c.Max < c.Min {
		c.Min, c.Max = d.Min, d.Max
	}
	if c.MaxStep <= 0 {
		c.MaxStep = d.MaxStep
	}
	return c
}

// Tracker tracks one score category. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	scores  []float64
	next    int
	full    bool
	current float64
}

// NewTracker creates a tracker. Zero-valued config fields take defaults;
// Default itself is taken as given.
func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:     cfg,
		scores:  make([]float64, 0, cfg.WindowSize),
		current: cfg.Default,
	}
}

// RecordScore adds a score to the rolling window. NaN and Inf are ignored.
func (t *Tracker) RecordScore(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(v)
}

func (t *Tracker) recordLocked(v float64) {
	if len(t.scores) < t.cfg.WindowSize {
		t.scores = append(t.scores, v)
		return
	}
	t.scores[t.next] = v
	t.next = (t.next + 1) % t.cfg.WindowSize
	t.full = true
}

// Count returns the number of scores currently in the window.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.scores)
}

// Current returns the current threshold without recalibrating.
func (t *Tracker) Current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.scores) < t.cfg.MinSamples {
		return t.cfg.Default
	}
	return t.current
}

// GetRecommendedThreshold recalibrates and returns the threshold.
func (t *Tracker) GetRecommendedThreshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.scores) < t.cfg.MinSamples {
		return t.cfg.Default
	}

	target := t.targetLocked()
	delta := target - t.current
	if delta > t.cfg.MaxStep {
		delta = t.cfg.MaxStep
	} else if delta < -t.cfg.MaxStep {
		delta = -t.cfg.MaxStep
	}
	t.current += delta
	return t.current
}

func (t *Tracker) targetLocked() float64 {
	sorted := append([]float64(nil), t.scores...)
	sort.Float64s(sorted)

	percentile := percentileOf(sorted, t.cfg.TargetPercentile)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	mean := sum / float64(len(sorted))
	var variance float64
	for _, s := range sorted {
		d := s - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(sorted)))
	statistical := mean - 0.5*stddev

	blended := t.cfg.PercentileWeight*percentile + (1-t.cfg.PercentileWeight)*statistical
	return math.Max(t.cfg.Min, math.Min(t.cfg.Max, blended))
}

// percentileOf returns the p-quantile of sorted using linear interpolation.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Snapshot is the persisted form of a Tracker. Scores are stored oldest
// first.
type Snapshot struct {
	Scores  []float64 `json:"scores"`
	Current float64   `json:"current"`
}

// Snapshot returns the tracker state for persistence.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]float64, 0, len(t.scores))
	if t.full {
		out = append(out, t.scores[t.next:]...)
		out = append(out, t.scores[:t.next]...)
	} else {
		out = append(out, t.scores...)
	}
	return Snapshot{Scores: out, Current: t.current}
}

// Restore replaces the tracker state. Scores beyond the window keep only the
// most recent ones.
func (t *Tracker) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scores = make([]float64, 0, t.cfg.WindowSize)
	t.next = 0
	t.full = false
	for _, v := range s.Scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		t.recordLocked(v)
	}
	t.current = s.Current
	if math.IsNaN(t.current) || t.current == 0 {
		t.current = t.cfg.Default
	}
}
