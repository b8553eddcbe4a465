// Package knowledge stores background-knowledge facts and selects the ones
// relevant to a conversation.
//
// Facts carry comma-separated trigger tags. The Matcher fires a fact when
// its tags appear in the context text, honoring exclusion keywords, and can
// chain: the content of facts flagged as extractable seeds further rounds
// that surface second-order facts. The Engine scores matches, optionally
// adds facts found by embedding similarity, and applies a score threshold
// and a size limit, keeping every rejection for diagnostics.
package knowledge

import (
	"encoding/json"
	"strings"

	"github.com/oceanbase/colonymem/pkg/textutil"
)

// MatchMode decides how many tags must be present in the context.
type MatchMode int

const (
	// MatchAny fires when any tag is present.
	MatchAny MatchMode = iota

	// MatchAll fires only when every tag is present.
	MatchAll
)

func (m MatchMode) String() string {
	if m == MatchAll {
		return "all"
	}
	return "any"
}

// MarshalText implements encoding.TextMarshaler.
func (m MatchMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown modes decode
// as MatchAny.
func (m *MatchMode) UnmarshalText(b []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(b)), "all") {
		*m = MatchAll
	} else {
		*m = MatchAny
	}
	return nil
}

// LegacyGlobalTarget is the target id older saves use for global facts.
const LegacyGlobalTarget = "-1"

// Entry is one knowledge fact.
type Entry struct {
	ID string `json:"id"`

	// Tag is the raw comma-separated tag list. Use SetTag to change it.
	Tag string `json:"tag"`

	Content         string    `json:"content"`
	Importance      float64   `json:"importance"`
	MatchMode       MatchMode `json:"match_mode"`
	ExcludeKeywords []string  `json:"exclude_keywords"`

	// TargetAgentID scopes the fact to one agent. Empty means global.
	TargetAgentID string `json:"target_agent_id"`

	IsEnabled    bool `json:"is_enabled"`
	IsUserEdited bool `json:"is_user_edited"`

	tags []string
}

// NewEntry creates an enabled global fact with parsed tags.
func NewEntry(id, tag, content string, importance float64) *Entry {
	e := &Entry{
		ID:              id,
		Content:         content,
		Importance:      importance,
		ExcludeKeywords: []string{},
		IsEnabled:       true,
	}
	e.SetTag(tag)
	return e
}

// SetTag replaces the raw tag list and re-parses the tag set.
func (e *Entry) SetTag(raw string) {
	e.Tag = raw
	e.tags = textutil.SplitTags(raw)
}

// Tags returns the parsed, lower-cased tag set.
func (e *Entry) Tags() []string {
	if e.tags == nil {
		return textutil.SplitTags(e.Tag)
	}
	return e.tags
}

// FirstTag returns the first tag as written, or "Knowledge" when the entry
// has none.
func (e *Entry) FirstTag() string {
	for _, t := range strings.Split(e.Tag, ",") {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return "Knowledge"
}

// IsGlobal reports whether the fact applies to every agent.
func (e *Entry) IsGlobal() bool {
	return e.TargetAgentID == "" || e.TargetAgentID == LegacyGlobalTarget
}

// AppliesTo reports whether the fact may be matched for agentID.
func (e *Entry) AppliesTo(agentID string) bool {
	return e.IsGlobal() || e.TargetAgentID == agentID
}

// UnmarshalJSON decodes an entry with defaults for missing fields: enabled,
// importance 0.5 and no exclusions. Tags are parsed and a legacy global
// target is normalized.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	p := plain{
		Importance: 0.5,
		IsEnabled:  true,
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	e.normalize()
	return nil
}

// normalize repairs a decoded entry and reports whether anything changed.
func (e *Entry) normalize() bool {
	changed := false
	if e.ExcludeKeywords == nil {
		e.ExcludeKeywords = []string{}
		changed = true
	}
	cleaned := e.ExcludeKeywords[:0]
	for _, k := range e.ExcludeKeywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		} else {
			changed = true
		}
	}
	e.ExcludeKeywords = cleaned
	if e.TargetAgentID == LegacyGlobalTarget {
		e.TargetAgentID = ""
		changed = true
	}
	if e.Importance < 0 || e.Importance > 1 {
		e.Importance = clamp01(e.Importance)
		changed = true
	}
	e.tags = textutil.SplitTags(e.Tag)
	return changed
}

// Flags are the extended chaining flags kept in the library's side table.
type Flags struct {
	// CanBeExtracted lets the fact's content seed the next chaining round.
	CanBeExtracted bool `json:"can_be_extracted"`

	// CanBeMatched lets the fact match in chaining rounds after the first.
	CanBeMatched bool `json:"can_be_matched"`
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
