package scoring

// Weights is the weight vector a scene applies to the score terms.
type Weights struct {
	TimeWeight         float64 `json:"time_weight" yaml:"time_weight"`
	TimeDecayRate      float64 `json:"time_decay_rate" yaml:"time_decay_rate"`
	ImportanceWeight   float64 `json:"importance_weight" yaml:"importance_weight"`
	KeywordWeight      float64 `json:"keyword_weight" yaml:"keyword_weight"`
	RelationshipWeight float64 `json:"relationship_weight" yaml:"relationship_weight"`

	// RecencyWindowDays is the age beyond which entries are treated as
	// stale.
	RecencyWindowDays float64 `json:"recency_window_days" yaml:"recency_window_days"`
}

// WeightsOverride replaces selected fields of a scene's weight vector. Nil
// fields keep the default, so a partial override in a config file changes
// only what it names.
type WeightsOverride struct {
	TimeWeight         *float64 `json:"time_weight,omitempty" yaml:"time_weight,omitempty"`
	TimeDecayRate      *float64 `json:"time_decay_rate,omitempty" yaml:"time_decay_rate,omitempty"`
	ImportanceWeight   *float64 `json:"importance_weight,omitempty" yaml:"importance_weight,omitempty"`
	KeywordWeight      *float64 `json:"keyword_weight,omitempty" yaml:"keyword_weight,omitempty"`
	RelationshipWeight *float64 `json:"relationship_weight,omitempty" yaml:"relationship_weight,omitempty"`
	RecencyWindowDays  *float64 `json:"recency_window_days,omitempty" yaml:"recency_window_days,omitempty"`
}

// Apply returns w with the set fields of o.
func (o WeightsOverride) Apply(w Weights) Weights {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&w.TimeWeight, o.TimeWeight)
	set(&w.TimeDecayRate, o.TimeDecayRate)
	set(&w.ImportanceWeight, o.ImportanceWeight)
	set(&w.KeywordWeight, o.KeywordWeight)
	set(&w.RelationshipWeight, o.RelationshipWeight)
	set(&w.RecencyWindowDays, o.RecencyWindowDays)
	return w
}

// DefaultProfiles returns the built-in weight vector of every scene, keyed
// by scene name.
//
// Combat only cares about the last day. Social barely decays and leans on
// relationships. Research reaches back a full year.
func DefaultProfiles() map[string]Weights {
	return map[string]Weights{
		"neutral": {
			TimeWeight: 1.0, TimeDecayRate: 0.1, ImportanceWeight: 1.0,
			KeywordWeight: 1.5, RelationshipWeight: 0.5, RecencyWindowDays: 30,
		},
		"combat": {
			TimeWeight: 1.5, TimeDecayRate: 1.0, ImportanceWeight: 0.8,
			KeywordWeight: 1.5, RelationshipWeight: 0.3, RecencyWindowDays: 1,
		},
		"medical": {
			TimeWeight: 1.2, TimeDecayRate: 0.5, ImportanceWeight: 1.0,
			KeywordWeight: 1.5, RelationshipWeight: 0.8, RecencyWindowDays: 5,
		},
		"social": {
			TimeWeight: 0.5, TimeDecayRate: 0.01, ImportanceWeight: 0.8,
			KeywordWeight: 1.2, RelationshipWeight: 1.5, RecencyWindowDays: 120,
		},
		"event": {
			TimeWeight: 0.8, TimeDecayRate: 0.05, ImportanceWeight: 1.5,
			KeywordWeight: 1.2, RelationshipWeight: 0.8, RecencyWindowDays: 60,
		},
		"work": {
			TimeWeight: 1.0, TimeDecayRate: 0.2, ImportanceWeight: 0.8,
			KeywordWeight: 1.5, RelationshipWeight: 0.3, RecencyWindowDays: 10,
		},
		"research": {
			TimeWeight: 0.3, TimeDecayRate: 0.005, ImportanceWeight: 1.2,
			KeywordWeight: 1.8, RelationshipWeight: 0.2, RecencyWindowDays: 360,
		},
	}
}

// blend moves w toward target by t in [0,1].
func (w Weights) blend(target Weights, t float64) Weights {
	lerp := func(a, b float64) float64 { return a + (b-a)*t }
	return Weights{
		TimeWeight:         lerp(w.TimeWeight, target.TimeWeight),
		TimeDecayRate:      lerp(w.TimeDecayRate, target.TimeDecayRate),
		ImportanceWeight:   lerp(w.ImportanceWeight, target.ImportanceWeight),
		KeywordWeight:      lerp(w.KeywordWeight, target.KeywordWeight),
		RelationshipWeight: lerp(w.RelationshipWeight, target.RelationshipWeight),
		RecencyWindowDays:  lerp(w.RecencyWindowDays, target.RecencyWindowDays),
	}
}

// TierBonus is the flat bonus per memory tier.
type TierBonus struct {
	Active      float64 `json:"active" yaml:"active"`
	Situational float64 `json:"situational" yaml:"situational"`
	EventLog    float64 `json:"event_log" yaml:"event_log"`
	Archive     float64 `json:"archive" yaml:"archive"`
}

// RelationBonus is the bonus per relationship tier, before the scene's
// relationship weight.
type RelationBonus struct {
	Partner      float64 `json:"partner" yaml:"partner"`
	Family       float64 `json:"family" yaml:"family"`
	Acquaintance float64 `json:"acquaintance" yaml:"acquaintance"`
	Positive     float64 `json:"positive" yaml:"positive"`
	Negative     float64 `json:"negative" yaml:"negative"`
}
