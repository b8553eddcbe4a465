package threshold

import (
	"sort"
	"sync"
)

// Well-known categories.
const (
	CategoryKnowledge = "knowledge"
	CategoryMemory    = "memory"
)

// Registry holds one Tracker per score category.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	trackers map[string]*Tracker
}

// NewRegistry creates a registry whose trackers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		trackers: make(map[string]*Tracker),
	}
}

// Tracker returns the tracker for category, creating it on first use.
func (r *Registry) Tracker(category string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[category]
	if !ok {
		t = NewTracker(r.cfg)
		r.trackers[category] = t
	}
	return t
}

// Categories returns the known categories in sorted order.
func (r *Registry) Categories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.trackers))
	for c := range r.trackers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Recalibrate runs GetRecommendedThreshold on every tracker and returns the
// new thresholds by category.
func (r *Registry) Recalibrate() map[string]float64 {
	out := make(map[string]float64)
	for _, c := range r.Categories() {
		out[c] = r.Tracker(c).GetRecommendedThreshold()
	}
	return out
}

// Snapshot returns the persisted form of every tracker.
func (r *Registry) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, c := range r.Categories() {
		out[c] = r.Tracker(c).Snapshot()
	}
	return out
}

// Restore loads tracker state saved by Snapshot.
func (r *Registry) Restore(snaps map[string]Snapshot) {
	for c, s := range snaps {
		r.Tracker(c).Restore(s)
	}
}
