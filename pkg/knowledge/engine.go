package knowledge

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/embedder"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

// Config configures an Engine.
type Config struct {
	// KeywordBase is the base score of a tag match. Default: 1.0.
	KeywordBase float64 `json:"keyword_base" yaml:"keyword_base"`

	// Balance splits weight between the keyword path (Balance) and the
	// vector path (1 - Balance). Default: 0.7.
	Balance float64 `json:"balance" yaml:"balance"`

	// MinSimilarity is the cosine similarity below which vector
	// candidates are ignored. Default: 0.5.
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity"`

	// MinScore is the selection threshold when AdaptiveThreshold is off.
	// Default: 0.3.
	MinScore float64 `json:"min_score" yaml:"min_score"`

	// MaxEntries caps the number of selected facts. Default: 5.
	MaxEntries int `json:"max_entries" yaml:"max_entries"`

	EnableChaining bool `json:"enable_chaining" yaml:"enable_chaining"`

	// MaxRounds caps chaining rounds, the first included. Default: 2.
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`

	EnableVector bool `json:"enable_vector" yaml:"enable_vector"`

	// AdaptiveThreshold takes the selection threshold from the engine's
	// threshold tracker instead of MinScore.
	AdaptiveThreshold bool `json:"adaptive_threshold" yaml:"adaptive_threshold"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		KeywordBase:    1.0,
		Balance:        0.7,
		MinSimilarity:  0.5,
		MinScore:       0.3,
		MaxEntries:     5,
		EnableChaining: true,
		MaxRounds:      DefaultMaxRounds,
		EnableVector:   true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KeywordBase <= 0 {
		c.KeywordBase = d.KeywordBase
	}
	if c.Balance <= 0 || c.Balance > 1 {
		c.Balance = d.Balance
	}
	if c.MinSimilarity <= 0 || c.MinSimilarity > 1 {
		c.MinSimilarity = d.MinSimilarity
	}
	if c.MinScore < 0 {
		c.MinScore = d.MinScore
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	return c
}

// Weights are the hybrid scoring weights.
type Weights struct {
	KeywordBase float64
	Balance     float64
}

// Reason explains why a candidate was not selected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonLowScore
	ReasonExceedMaxEntries
)

func (r Reason) String() string {
	switch r {
	case ReasonLowScore:
		return "LowScore"
	case ReasonExceedMaxEntries:
		return "ExceedMaxEntries"
	default:
		return "None"
	}
}

// Candidate is a scored fact.
type Candidate struct {
	Entry *Entry
	Score float64

	// Round is the chaining round of a keyword match, 0 for vector matches.
	Round int

	ViaVector  bool
	Similarity float64

	Reason Reason
}

// Selection is the outcome of Engine.Select.
type Selection struct {
	Selected []Candidate
	Rejected []Candidate

	// Threshold is the score cut-off that was applied.
	Threshold float64

	// VectorUsed reports whether embedding similarity contributed.
	VectorUsed bool
}

// Engine scores and selects knowledge facts.
type Engine struct {
	lib      *Library
	matcher  *Matcher
	cfg      Config
	embedder *embedder.Guarded
	tracker  *threshold.Tracker
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEmbedder enables the vector path through a guarded provider.
func WithEmbedder(g *embedder.Guarded) EngineOption {
	return func(e *Engine) { e.embedder = g }
}

// WithTracker sets the adaptive threshold tracker. Every candidate score is
// recorded into it.
func WithTracker(t *threshold.Tracker) EngineOption {
	return func(e *Engine) { e.tracker = t }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over lib.
func NewEngine(lib *Library, cfg Config, opts ...EngineOption) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		lib:     lib,
		matcher: NewMatcher(lib, cfg.MaxRounds),
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weights returns the configured hybrid weights.
func (e *Engine) Weights() Weights {
	return Weights{KeywordBase: e.cfg.KeywordBase, Balance: e.cfg.Balance}
}

// Matcher returns the engine's matcher.
func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// Score returns the keyword-path score of a fact for contextText:
// KeywordBase x Balance + importance when the fact's tags match and no
// exclusion applies, otherwise 0.
func (e *Engine) Score(entry *Entry, contextText string, w Weights) float64 {
	if entry == nil || !entry.IsEnabled {
		return 0
	}
	text := strings.ToLower(contextText)
	if Excluded(text, lowerAll(e.lib.GlobalExclude()), entry.ExcludeKeywords) || !TagsMatch(text, entry) {
		return 0
	}
	return keywordScore(entry, w)
}

func keywordScore(entry *Entry, w Weights) float64 {
	return w.KeywordBase*w.Balance + entry.Importance
}

func vectorScore(entry *Entry, sim float64, w Weights) float64 {
	return sim*(1-w.Balance) + entry.Importance
}

// Select matches, scores and filters facts for an agent. Candidates are
// ranked by score, then id. Those below the threshold are rejected as
// LowScore; those beyond MaxEntries as ExceedMaxEntries.
func (e *Engine) Select(ctx context.Context, contextText, agentID string) Selection {
	w := e.Weights()
	matches := e.matcher.Match(contextText, agentID, nil, e.cfg.EnableChaining)

	cands := make([]Candidate, 0, len(matches))
	matched := make(map[string]bool, len(matches))
	for _, m := range matches {
		matched[m.Entry.ID] = true
		cands = append(cands, Candidate{Entry: m.Entry, Score: keywordScore(m.Entry, w), Round: m.Round})
	}

	sel := Selection{}
	if vc, ok := e.vectorCandidates(ctx, contextText, agentID, matched, w); ok {
		sel.VectorUsed = true
		cands = append(cands, vc...)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Entry.ID < cands[j].Entry.ID
	})

	sel.Threshold = e.cfg.MinScore
	if e.cfg.AdaptiveThreshold && e.tracker != nil {
		sel.Threshold = e.tracker.Current()
	}
	if e.tracker != nil {
		for _, c := range cands {
			e.tracker.RecordScore(c.Score)
		}
	}

	sel.Selected = []Candidate{}
	sel.Rejected = []Candidate{}
	for _, c := range cands {
		switch {
		case c.Score < sel.Threshold:
			c.Reason = ReasonLowScore
			sel.Rejected = append(sel.Rejected, c)
		case len(sel.Selected) >= e.cfg.MaxEntries:
			c.Reason = ReasonExceedMaxEntries
			sel.Rejected = append(sel.Rejected, c)
		default:
			sel.Selected = append(sel.Selected, c)
		}
	}

	e.logger.Debug("knowledge selected",
		zap.String("agent_id", agentID),
		zap.Int("selected", len(sel.Selected)),
		zap.Int("rejected", len(sel.Rejected)),
		zap.Float64("threshold", sel.Threshold),
		zap.Bool("vector", sel.VectorUsed))
	return sel
}

// vectorCandidates scores facts not matched by tags against the context
// embedding. ok is false when the vector path is off or unavailable.
func (e *Engine) vectorCandidates(ctx context.Context, contextText, agentID string, matched map[string]bool, w Weights) ([]Candidate, bool) {
	if !e.cfg.EnableVector || !e.embedder.Available() {
		return nil, false
	}
	query, ok := e.embedder.Embed(ctx, contextText)
	if !ok {
		return nil, false
	}

	text := strings.ToLower(contextText)
	global := lowerAll(e.lib.GlobalExclude())
	var out []Candidate
	for _, entry := range e.lib.Entries() {
		if matched[entry.ID] || !entry.IsEnabled || !entry.AppliesTo(agentID) {
			continue
		}
		if Excluded(text, global, entry.ExcludeKeywords) {
			continue
		}
		vec, ok := e.lib.Embedding(entry.ID)
		if !ok {
			continue
		}
		sim := embedder.Cosine(query, vec)
		if sim < e.cfg.MinSimilarity {
			continue
		}
		out = append(out, Candidate{
			Entry:      entry,
			Score:      vectorScore(entry, sim, w),
			ViaVector:  true,
			Similarity: sim,
		})
	}
	return out, true
}

// IndexEmbeddings embeds every enabled fact that has no embedding yet and
// returns how many were stored. It stops quietly when the embedder fails.
func (e *Engine) IndexEmbeddings(ctx context.Context) int {
	if !e.embedder.Available() {
		return 0
	}
	ids := e.lib.MissingEmbeddings()
	if len(ids) == 0 {
		return 0
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		entry := e.lib.Get(id)
		if entry == nil {
			continue
		}
		texts = append(texts, entry.Tag+": "+entry.Content)
	}
	if len(texts) != len(ids) {
		return 0
	}
	vecs, ok := e.embedder.EmbedBatch(ctx, texts)
	if !ok {
		return 0
	}
	n := 0
	for i, id := range ids {
		if e.lib.SetEmbedding(id, vecs[i]) {
			n++
		}
	}
	return n
}
