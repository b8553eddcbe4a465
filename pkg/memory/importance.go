package memory

import (
	"math"
	"sort"
	"strings"
)

// ImportanceEvaluator estimates how important a new memory is from its text
// and type. It is used when an insert does not supply an importance.
//
// The score is a weighted blend of criteria:
//   - emotional: grief, joy, fear and similar words
//   - danger: threats to the agent or its colony
//   - social: bonds, family and romance
//   - novelty: firsts and surprises
//   - routine: everyday chores, which pull the score down
//
// Example usage:
//
//	ev := NewImportanceEvaluator()
//	score := ev.Evaluate("Mira died in the raid", TypeEvent)
//	// score is between 0.0 and 1.0
type ImportanceEvaluator struct {
	// criteriaWeights defines the weight of each positive criterion.
	criteriaWeights map[string]float64

	// typeBase is the starting score per entry type.
	typeBase map[EntryType]float64
}

var criterionWords = map[string][]string{
	"emotional": {
		"happy", "sad", "angry", "excited", "worried", "scared", "afraid",
		"love", "hate", "fear", "joy", "grief", "cried", "furious", "proud",
	},
	"danger": {
		"died", "dead", "death", "killed", "raid", "attack", "fire", "wounded",
		"injured", "sick", "plague", "starving", "famine", "fight", "hunt",
	},
	"social": {
		"friend", "family", "married", "partner", "lover", "wedding", "baby",
		"born", "child", "brother", "sister", "mother", "father", "betrayed",
	},
	"novelty": {
		"new", "first", "never", "discovered", "found", "unique", "strange",
		"arrived", "unexpected",
	},
}

var routineWords = []string{
	"ate", "eating", "slept", "sleeping", "walked", "hauled", "cleaned",
	"swept", "idle", "wandered",
}

// NewImportanceEvaluator creates an evaluator with default weights:
//   - emotional: 0.3
//   - danger: 0.35
//   - social: 0.2
//   - novelty: 0.15
func NewImportanceEvaluator() *ImportanceEvaluator {
	return &ImportanceEvaluator{
		criteriaWeights: map[string]float64{
			"emotional": 0.3,
			"danger":    0.35,
			"social":    0.2,
			"novelty":   0.15,
		},
		typeBase: map[EntryType]float64{
			TypeConversation: 0.3,
			TypeAction:       0.25,
			TypeEvent:        0.4,
			TypeEmotion:      0.4,
			TypeRelationship: 0.45,
			TypeObservation:  0.2,
			TypeInternal:     0.3,
		},
	}
}

// Evaluate returns an importance score in [0,1].
func (e *ImportanceEvaluator) Evaluate(content string, t EntryType) float64 {
	score := e.typeBase[t]
	for criterion, v := range e.Breakdown(content) {
		score += e.criteriaWeights[criterion] * v
	}

	lower := strings.ToLower(content)
	if strings.Contains(content, "!") {
		score += 0.05
	}
	for _, w := range routineWords {
		if containsWord(lower, w) {
			score -= 0.1
			break
		}
	}
	return math.Max(0, math.Min(1, score))
}

// Breakdown returns the per-criterion scores, each in [0,1].
func (e *ImportanceEvaluator) Breakdown(content string) map[string]float64 {
	lower := strings.ToLower(content)
	out := make(map[string]float64, len(e.criteriaWeights))
	criteria := make([]string, 0, len(e.criteriaWeights))
	for c := range e.criteriaWeights {
		criteria = append(criteria, c)
	}
	sort.Strings(criteria)
	for _, c := range criteria {
		var hits float64
		for _, w := range criterionWords[c] {
			if containsWord(lower, w) {
				hits++
			}
		}
		out[c] = math.Min(hits/2, 1)
	}
	return out
}

// containsWord reports whether word appears in s on word boundaries.
func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
