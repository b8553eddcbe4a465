// Package scoring ranks memories and knowledge facts against the context of
// a conversation.
//
// A Scorer classifies the conversation into a scene, picks the scene's
// weight vector and combines time decay, importance, keyword overlap, a tier
// bonus and a relationship bonus into one score. Pinned and user-edited
// entries get flat bonuses on top so that they outrank equally relevant
// plain entries in every scene.
//
// Scoring is pure: identical entries, features and weights always give
// identical scores.
package scoring

import (
	"math"
	"strings"

	"github.com/oceanbase/colonymem/pkg/host"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/normalize"
	"github.com/oceanbase/colonymem/pkg/textutil"
)

// Participant identifies a speaker or listener.
type Participant struct {
	ID   string
	Name string
}

// Features is the scoring view of a conversation context.
type Features struct {
	// Text is the context after normalization rules, lower-cased.
	Text string

	// Keywords is the normalized keyword set of Text.
	Keywords []string

	Scene   SceneResult
	Weights Weights

	Speaker  Participant
	Listener Participant

	// Now is the current simulation tick.
	Now int64
}

// Scorer computes relevance scores. It holds no mutable state and is safe
// for concurrent use as long as its host view is.
type Scorer struct {
	cfg      Config
	profiles [sceneCount]Weights
	host     host.StateQuery
	norm     *normalize.Normalizer
}

// New creates a scorer.
//
// Parameters:
//   - cfg: scoring configuration; zero fields take defaults
//   - q: host state view for relationship bonuses (may be nil)
//   - norm: text normalization rules applied to context text (may be nil)
func New(cfg Config, q host.StateQuery, norm *normalize.Normalizer) *Scorer {
	cfg = cfg.withDefaults()
	s := &Scorer{cfg: cfg, host: q, norm: norm}
	defaults := DefaultProfiles()
	for i := Scene(0); i < sceneCount; i++ {
		w := defaults[i.String()]
		if o, ok := cfg.Profiles[i.String()]; ok {
			w = o.Apply(w)
		}
		s.profiles[i] = w
	}
	return s
}

// Profile returns the configured weight vector of a scene.
func (s *Scorer) Profile(scene Scene) Weights {
	if scene < 0 || scene >= sceneCount {
		scene = SceneNeutral
	}
	return s.profiles[scene]
}

// ResolveWeights returns the weights for a classification: the primary
// scene's profile, blended toward neutral by (1 - confidence) when the
// confidence is below the configured threshold.
func (s *Scorer) ResolveWeights(res SceneResult) Weights {
	w := s.Profile(res.Primary)
	if res.Primary == SceneNeutral || res.Confidence >= s.cfg.ConfidenceThreshold {
		return w
	}
	return w.blend(s.profiles[SceneNeutral], 1-res.Confidence)
}

// ExtractContextFeatures builds the scoring features of a conversation.
func (s *Scorer) ExtractContextFeatures(text string, speaker, listener Participant, now int64) Features {
	normalized := strings.ToLower(s.norm.Apply(text))
	scene := ClassifyScene(normalized)
	return Features{
		Text:     normalized,
		Keywords: textutil.Keywords(normalized, s.cfg.MaxContextKeywords),
		Scene:    scene,
		Weights:  s.ResolveWeights(scene),
		Speaker:  speaker,
		Listener: listener,
		Now:      now,
	}
}

// Score returns the relevance of e for the speaker in f under weights w.
func (s *Scorer) Score(e *memory.Entry, f Features, w Weights) float64 {
	if e == nil {
		return 0
	}
	score := s.timeScore(e.Timestamp, f.Now, w)*w.TimeWeight +
		e.Importance*w.ImportanceWeight +
		s.overlap(e.Content, textutil.Union(e.Keywords, e.Tags), f.Keywords)*w.KeywordWeight +
		s.tierBonus(e.Tier) +
		s.relationshipBonus(f.Speaker.ID, e.RelatedEntityID)*w.RelationshipWeight
	if e.IsPinned {
		score += s.cfg.PinnedBonus
	}
	if e.IsUserEdited {
		score += s.cfg.EditedBonus
	}
	return score
}

// ScoreFunc adapts Score to memory.Store.Query using the features' own
// weights.
func (s *Scorer) ScoreFunc(f Features) memory.ScoreFunc {
	return func(e *memory.Entry) float64 {
		return s.Score(e, f, f.Weights)
	}
}

// ScoreFact scores a knowledge fact with the importance and overlap terms.
func (s *Scorer) ScoreFact(content string, tags []string, importance float64, f Features, w Weights) float64 {
	words := textutil.Union(textutil.Keywords(content, 0), tags)
	return importance*w.ImportanceWeight + s.overlap(content, words, f.Keywords)*w.KeywordWeight
}

// timeScore is exp(-rate * ageDays), scaled by the stale multiplier past the
// recency window.
func (s *Scorer) timeScore(ts, now int64, w Weights) float64 {
	days := s.cfg.Clock.Days(now - ts)
	v := math.Exp(-w.TimeDecayRate * days)
	if w.RecencyWindowDays > 0 && days > w.RecencyWindowDays {
		v *= s.cfg.StaleMultiplier
	}
	return v
}

// overlap is the Jaccard similarity of the entry and context keyword sets
// plus a capped bonus per context keyword found verbatim in the content.
func (s *Scorer) overlap(content string, entryWords, contextWords []string) float64 {
	if len(contextWords) == 0 {
		return 0
	}
	v := textutil.Jaccard(entryWords, contextWords)
	lower := strings.ToLower(content)
	var bonus float64
	for _, kw := range contextWords {
		if strings.Contains(lower, kw) {
			bonus += s.cfg.SubstringBonus
		}
	}
	return v + math.Min(bonus, s.cfg.SubstringCap)
}

func (s *Scorer) tierBonus(t memory.Tier) float64 {
	switch t {
	case memory.TierActive:
		return s.cfg.TierBonus.Active
	case memory.TierSituational:
		return s.cfg.TierBonus.Situational
	case memory.TierEventLog:
		return s.cfg.TierBonus.EventLog
	default:
		return s.cfg.TierBonus.Archive
	}
}

// relationshipBonus is zero when either id is empty or the host has no
// relationship data.
func (s *Scorer) relationshipBonus(agentID, otherID string) float64 {
	rel, ok := host.RelationshipOf(s.host, agentID, otherID)
	if !ok {
		return 0
	}
	b := s.cfg.RelationBonus
	switch rel.Kind {
	case host.RelationPartner:
		return b.Partner
	case host.RelationFamily:
		return b.Family
	case host.RelationAcquaintance:
		return b.Acquaintance
	case host.RelationPositiveOpinion:
		return b.Positive
	case host.RelationNegativeMemorable:
		return b.Negative
	default:
		return 0
	}
}
