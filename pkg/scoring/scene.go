package scoring

import (
	"strings"

	"github.com/oceanbase/colonymem/pkg/textutil"
)

// Scene is the kind of situation a conversation happens in.
type Scene int

const (
	SceneNeutral Scene = iota
	SceneCombat
	SceneMedical
	SceneSocial
	SceneEvent
	SceneWork
	SceneResearch
)

const sceneCount = 7

var sceneNames = [sceneCount]string{
	SceneNeutral:  "neutral",
	SceneCombat:   "combat",
	SceneMedical:  "medical",
	SceneSocial:   "social",
	SceneEvent:    "event",
	SceneWork:     "work",
	SceneResearch: "research",
}

func (s Scene) String() string {
	if s < 0 || s >= sceneCount {
		return sceneNames[SceneNeutral]
	}
	return sceneNames[s]
}

// ParseScene parses a scene name.
func ParseScene(name string) (Scene, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range sceneNames {
		if n == name {
			return Scene(i), true
		}
	}
	return SceneNeutral, false
}

type sceneRule struct {
	scene    Scene
	priority float64
	keywords []string
}

// sceneRules are listed in tie-break order.
var sceneRules = []sceneRule{
	{SceneCombat, 1.0, []string{
		"raid", "attack", "fight", "enemy", "weapon", "gun", "rifle", "sword",
		"shoot", "battle", "kill", "defend", "ambush", "siege", "mortar",
	}},
	{SceneMedical, 0.9, []string{
		"injury", "injured", "wound", "doctor", "medicine", "sick", "disease",
		"heal", "bleed", "surgery", "infection", "plague", "fever", "pain",
	}},
	{SceneSocial, 0.8, []string{
		"friend", "love", "chat", "talk", "family", "party", "partner",
		"marry", "romance", "gift", "feel", "miss", "lonely", "hug",
	}},
	{SceneEvent, 0.7, []string{
		"wedding", "birthday", "funeral", "festival", "arrive", "ceremony",
		"death", "died", "born", "storm", "eclipse", "visitor", "caravan",
	}},
	{SceneWork, 0.6, []string{
		"build", "craft", "haul", "mine", "farm", "harvest", "cook", "repair",
		"construct", "job", "work", "plant", "clean", "smith",
	}},
	{SceneResearch, 0.6, []string{
		"research", "study", "learn", "science", "book", "discover",
		"experiment", "knowledge", "history", "remember", "ancient", "lore",
	}},
}

// SceneResult is the outcome of ClassifyScene.
type SceneResult struct {
	Primary    Scene
	Confidence float64

	// Scores holds each scene's normalized share, indexed by Scene.
	Scores [sceneCount]float64
}

// ClassifyScene classifies text by counting scene keywords, weighting each
// scene's hits by its priority and normalizing across matched scenes. The
// primary scene is the largest share; its share is the confidence. Text
// with no scene keyword is Neutral with confidence 1. Ties go to the scene
// listed first.
func ClassifyScene(text string) SceneResult {
	tokens := textutil.Tokenize(text)

	var raw [sceneCount]float64
	var total float64
	for _, rule := range sceneRules {
		hits := 0
		for _, kw := range rule.keywords {
			if hasKeyword(tokens, kw) {
				hits++
			}
		}
		raw[rule.scene] = float64(hits) * rule.priority
		total += raw[rule.scene]
	}

	res := SceneResult{Primary: SceneNeutral, Confidence: 1}
	if total == 0 {
		res.Scores[SceneNeutral] = 1
		return res
	}

	best := -1.0
	for _, rule := range sceneRules {
		share := raw[rule.scene] / total
		res.Scores[rule.scene] = share
		if share > best {
			best = share
			res.Primary = rule.scene
		}
	}
	res.Confidence = best
	return res
}

// hasKeyword matches kw against whole tokens, or as a prefix of a token for
// keywords of four or more letters so that "raiders" hits "raid".
func hasKeyword(tokens []string, kw string) bool {
	for _, tok := range tokens {
		if tok == kw || len(kw) >= 4 && strings.HasPrefix(tok, kw) {
			return true
		}
	}
	return false
}
