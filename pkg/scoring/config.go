package scoring

import "github.com/oceanbase/colonymem/pkg/simtime"

// Config configures a Scorer.
type Config struct {
	// ConfidenceThreshold is the scene confidence below which scene
	// weights are blended toward neutral. Default: 0.6.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// PinnedBonus and EditedBonus are added regardless of scene.
	// Defaults: 1.0 and 0.5.
	PinnedBonus float64 `json:"pinned_bonus" yaml:"pinned_bonus"`
	EditedBonus float64 `json:"edited_bonus" yaml:"edited_bonus"`

	// StaleMultiplier scales the time score of entries older than the
	// recency window. Default: 0.1.
	StaleMultiplier float64 `json:"stale_multiplier" yaml:"stale_multiplier"`

	// SubstringBonus is added per context keyword found verbatim in the
	// entry content, up to SubstringCap. Defaults: 0.1 and 0.3.
	SubstringBonus float64 `json:"substring_bonus" yaml:"substring_bonus"`
	SubstringCap   float64 `json:"substring_cap" yaml:"substring_cap"`

	TierBonus     TierBonus     `json:"tier_bonus" yaml:"tier_bonus"`
	RelationBonus RelationBonus `json:"relation_bonus" yaml:"relation_bonus"`

	// MaxContextKeywords caps keyword extraction from context text.
	// Default: 16.
	MaxContextKeywords int `json:"max_context_keywords" yaml:"max_context_keywords"`

	// Profiles overrides scene weight vectors by scene name, field by
	// field. Scenes and fields not listed keep their defaults.
	Profiles map[string]WeightsOverride `json:"profiles" yaml:"profiles"`

	Clock simtime.Clock `json:"-" yaml:"-"`
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		PinnedBonus:         1.0,
		EditedBonus:         0.5,
		StaleMultiplier:     0.1,
		SubstringBonus:      0.1,
		SubstringCap:        0.3,
		TierBonus: TierBonus{
			Active:      0.3,
			Situational: 0.2,
			EventLog:    0.1,
			Archive:     0.05,
		},
		RelationBonus: RelationBonus{
			Partner:      1.0,
			Family:       0.8,
			Acquaintance: 0.5,
			Positive:     0.3,
			Negative:     0.2,
		},
		MaxContextKeywords: 16,
		Clock:              simtime.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.PinnedBonus <= 0 {
		c.PinnedBonus = d.PinnedBonus
	}
	if c.EditedBonus <= 0 {
		c.EditedBonus = d.EditedBonus
	}
	if c.StaleMultiplier <= 0 {
		c.StaleMultiplier = d.StaleMultiplier
	}
	if c.SubstringBonus <= 0 {
		c.SubstringBonus = d.SubstringBonus
	}
	if c.SubstringCap <= 0 {
		c.SubstringCap = d.SubstringCap
	}
	if c.TierBonus == (TierBonus{}) {
		c.TierBonus = d.TierBonus
	}
	if c.RelationBonus == (RelationBonus{}) {
		c.RelationBonus = d.RelationBonus
	}
	if c.MaxContextKeywords <= 0 {
		c.MaxContextKeywords = d.MaxContextKeywords
	}
	return c
}
