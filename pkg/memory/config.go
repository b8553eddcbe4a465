package memory

// Capacities bounds the tier sizes. Archive is unbounded.
type Capacities struct {
	Active      int `json:"active" yaml:"active"`
	Situational int `json:"situational" yaml:"situational"`
	EventLog    int `json:"event_log" yaml:"event_log"`
}

// DecayRates are the per-tick activity decay rates per tier.
type DecayRates struct {
	Active      float64 `json:"active" yaml:"active"`
	Situational float64 `json:"situational" yaml:"situational"`
	EventLog    float64 `json:"event_log" yaml:"event_log"`
	Archive     float64 `json:"archive" yaml:"archive"`
}

// KeepPolicy selects which entries summarization and archival leave in
// place.
type KeepPolicy string

const (
	// KeepPinned keeps only pinned entries.
	KeepPinned KeepPolicy = "pinned"

	// KeepProtected keeps pinned and user-edited entries.
	KeepProtected KeepPolicy = "protected"
)

// Config configures the retention pipeline.
type Config struct {
	Capacities Capacities `json:"capacities" yaml:"capacities"`
	DecayRates DecayRates `json:"decay_rates" yaml:"decay_rates"`

	// PruneThreshold is the activity below which situational and event log
	// entries are removed. Default: 0.01.
	PruneThreshold float64 `json:"prune_threshold" yaml:"prune_threshold"`

	// DedupWindow is how many situational entries (from the head) are
	// checked for exact duplicates on insert. Default: 5.
	DedupWindow int `json:"dedup_window" yaml:"dedup_window"`

	// ArchiveFraction is the share of the event log archived per run.
	// Default: 0.25.
	ArchiveFraction float64 `json:"archive_fraction" yaml:"archive_fraction"`

	// KeepPolicy decides which entries are left out of summaries.
	// Default: KeepPinned.
	KeepPolicy KeepPolicy `json:"keep_policy" yaml:"keep_policy"`

	// MaxKeywords caps keyword extraction per entry. Default: 12.
	MaxKeywords int `json:"max_keywords" yaml:"max_keywords"`

	// SummaryEntryRunes truncates each entry inside a simple summary.
	// Default: 60.
	SummaryEntryRunes int `json:"summary_entry_runes" yaml:"summary_entry_runes"`
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() Config {
	return Config{
		Capacities: Capacities{
			Active:      3,
			Situational: 20,
			EventLog:    50,
		},
		DecayRates: DecayRates{
			Active:      0.05,
			Situational: 0.1,
			EventLog:    0.03,
			Archive:     0,
		},
		PruneThreshold:    0.01,
		DedupWindow:       5,
		ArchiveFraction:   0.25,
		KeepPolicy:        KeepPinned,
		MaxKeywords:       12,
		SummaryEntryRunes: 60,
	}
}

// withDefaults fills zero values from DefaultConfig. Decay rates are taken
// as given since zero is a meaningful rate.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacities.Active <= 0 {
		c.Capacities.Active = d.Capacities.Active
	}
	if c.Capacities.Situational <= 0 {
		c.Capacities.Situational = d.Capacities.Situational
	}
	if c.Capacities.EventLog <= 0 {
		c.Capacities.EventLog = d.Capacities.EventLog
	}
	if c.PruneThreshold <= 0 {
		c.PruneThreshold = d.PruneThreshold
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = d.DedupWindow
	}
	if c.ArchiveFraction <= 0 || c.ArchiveFraction > 1 {
		c.ArchiveFraction = d.ArchiveFraction
	}
	if c.KeepPolicy == "" {
		c.KeepPolicy = d.KeepPolicy
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = d.MaxKeywords
	}
	if c.SummaryEntryRunes <= 0 {
		c.SummaryEntryRunes = d.SummaryEntryRunes
	}
	return c
}

func (c *Config) capacity(t Tier) int {
	switch t {
	case TierActive:
		return c.Capacities.Active
	case TierSituational:
		return c.Capacities.Situational
	case TierEventLog:
		return c.Capacities.EventLog
	default:
		return 0
	}
}

func (c *Config) decayRate(t Tier) float64 {
	var r float64
	switch t {
	case TierActive:
		r = c.DecayRates.Active
	case TierSituational:
		r = c.DecayRates.Situational
	case TierEventLog:
		r = c.DecayRates.EventLog
	case TierArchive:
		r = c.DecayRates.Archive
	}
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// keep reports whether summarization/archival must leave e in place.
func (c *Config) keep(e *Entry) bool {
	if c.KeepPolicy == KeepProtected {
		return e.Protected()
	}
	return e.IsPinned
}
