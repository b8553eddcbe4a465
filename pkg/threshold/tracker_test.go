package threshold_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/oceanbase/colonymem/pkg/threshold"
)

func TestColdStartReturnsDefault(t *testing.T) {
	tr := threshold.NewTracker(threshold.DefaultConfig())
	for i := 0; i < 10; i++ {
		tr.RecordScore(0.95)
	}
	assert.Equal(t, 10, tr.Count())
	assert.Equal(t, 0.3, tr.GetRecommendedThreshold())
	assert.Equal(t, 0.3, tr.Current())
}

func TestRecommendationIsSmoothed(t *testing.T) {
	cfg := threshold.DefaultConfig()
	tr := threshold.NewTracker(cfg)
	for i := 0; i < 100; i++ {
		tr.RecordScore(0.9)
	}

	// Target is clamped to Max (0.9); each call moves at most MaxStep.
	first := tr.GetRecommendedThreshold()
	assert.InDelta(t, 0.35, first, 1e-9)
	second := tr.GetRecommendedThreshold()
	assert.InDelta(t, 0.40, second, 1e-9)

	for i := 0; i < 50; i++ {
		tr.GetRecommendedThreshold()
	}
	assert.InDelta(t, 0.9, tr.Current(), 1e-9)
}

func TestWindowIsCapped(t *testing.T) {
	cfg := threshold.DefaultConfig()
	cfg.WindowSize = 10
	cfg.MinSamples = 5
	tr := threshold.NewTracker(cfg)
	for i := 0; i < 25; i++ {
		tr.RecordScore(float64(i))
	}
	assert.Equal(t, 10, tr.Count())

	snap := tr.Snapshot()
	require.Len(t, snap.Scores, 10)
	assert.Equal(t, 15.0, snap.Scores[0])
	assert.Equal(t, 24.0, snap.Scores[9])
}

func TestSnapshotRestore(t *testing.T) {
	tr := threshold.NewTracker(threshold.DefaultConfig())
	for i := 0; i < 60; i++ {
		tr.RecordScore(float64(i%10) / 10)
	}
	tr.GetRecommendedThreshold()
	snap := tr.Snapshot()

	restored := threshold.NewTracker(threshold.DefaultConfig())
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, tr.Current(), restored.Current())
}

func TestRegistry(t *testing.T) {
	r := threshold.NewRegistry(threshold.DefaultConfig())
	r.Tracker(threshold.CategoryMemory).RecordScore(0.5)
	r.Tracker(threshold.CategoryKnowledge).RecordScore(0.5)
	assert.Equal(t, []string{"knowledge", "memory"}, r.Categories())

	got := r.Recalibrate()
	assert.Equal(t, 0.3, got["memory"])

	snaps := r.Snapshot()
	other := threshold.NewRegistry(threshold.DefaultConfig())
	other.Restore(snaps)
	assert.Equal(t, 1, other.Tracker(threshold.CategoryMemory).Count())
}

func TestThresholdStaysInBand(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := threshold.DefaultConfig()
		tr := threshold.NewTracker(cfg)
		n := rapid.IntRange(0, 300).Draw(rt, "n")
		for i := 0; i < n; i++ {
			tr.RecordScore(rapid.Float64Range(-5, 5).Draw(rt, "score"))
		}
		prev := tr.Current()
		for i := 0; i < 5; i++ {
			got := tr.GetRecommendedThreshold()
			if n < cfg.MinSamples {
				if got != cfg.Default {
					rt.Fatalf("cold start returned %v", got)
				}
				continue
			}
			if got < cfg.Min-1e-9 || got > cfg.Max+1e-9 {
				rt.Fatalf("threshold %v outside band", got)
			}
			if d := got - prev; d > cfg.MaxStep+1e-9 || d < -cfg.MaxStep-1e-9 {
				rt.Fatalf("step %v exceeds max", d)
			}
			prev = got
		}
	})
}
