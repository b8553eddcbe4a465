// Package memory implements the four-tier per-agent memory retention store.
//
// Every agent owns a Store with four newest-first tiers:
//   - Active: the last few observations, hard-capped at insert time
//   - Situational: recent memories, promoted from Active on overflow
//   - EventLog: summaries of situational memories and older events
//   - Archive: unbounded long-term summaries of the oldest event log entries
//
// Memories lose activity through periodic decay, are pruned when their
// activity falls to nothing and are clamped to tier capacities by a
// maintenance pass. Pinned and user-edited entries are never decayed,
// pruned or evicted.
package memory

import (
	"fmt"
	"strings"
)

// EntryType classifies what a memory records.
type EntryType int

const (
	TypeConversation EntryType = iota
	TypeAction
	TypeEvent
	TypeEmotion
	TypeRelationship
	TypeObservation
	TypeInternal
)

var entryTypeNames = [...]string{
	TypeConversation: "conversation",
	TypeAction:       "action",
	TypeEvent:        "event",
	TypeEmotion:      "emotion",
	TypeRelationship: "relationship",
	TypeObservation:  "observation",
	TypeInternal:     "internal",
}

// AllTypes lists every entry type in declaration order.
var AllTypes = []EntryType{
	TypeConversation, TypeAction, TypeEvent, TypeEmotion,
	TypeRelationship, TypeObservation, TypeInternal,
}

// String returns the lower-case type name.
func (t EntryType) String() string {
	if t < 0 || int(t) >= len(entryTypeNames) {
		return entryTypeNames[TypeConversation]
	}
	return entryTypeNames[t]
}

// Label returns the capitalized type name used in injected text.
func (t EntryType) Label() string {
	s := t.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseEntryType parses a type name. Unknown names report ok=false.
func ParseEntryType(s string) (EntryType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range entryTypeNames {
		if name == s {
			return EntryType(i), true
		}
	}
	return TypeConversation, false
}

// MarshalText implements encoding.TextMarshaler.
func (t EntryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode
// as TypeConversation so that older or damaged saves still load.
func (t *EntryType) UnmarshalText(b []byte) error {
	parsed, _ := ParseEntryType(string(b))
	*t = parsed
	return nil
}

// Tier identifies one of the four retention tiers.
type Tier int

const (
	TierActive Tier = iota
	TierSituational
	TierEventLog
	TierArchive
)

// tierCount is the number of tiers.
const tierCount = 4

var tierNames = [...]string{
	TierActive:      "active",
	TierSituational: "situational",
	TierEventLog:    "event_log",
	TierArchive:     "archive",
}

// AllTiers lists the tiers from shortest- to longest-lived.
var AllTiers = []Tier{TierActive, TierSituational, TierEventLog, TierArchive}

// String returns the tier name.
func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return tierNames[TierActive]
	}
	return tierNames[t]
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range tierNames {
		if name == s {
			return Tier(i), true
		}
	}
	return TierActive, false
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, _ := ParseTier(string(b))
	*t = parsed
	return nil
}

// Variant discriminates plain memories from memories that stand for a whole
// conversation round.
type Variant int

const (
	VariantPlain Variant = iota
	VariantConversationRound
)

func (v Variant) String() string {
	if v == VariantConversationRound {
		return "conversation_round"
	}
	return "plain"
}

// ConversationRound is a dialogue exchange shared by several participants.
// Rounds are owned by the Bank; entries refer to them by id.
type ConversationRound struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Lines        []string `json:"lines"`
	Tick         int64    `json:"tick"`
}

// Entry is a single memory.
type Entry struct {
	ID      string    `json:"id"`
	Content string    `json:"content"`
	Type    EntryType `json:"type"`
	Tier    Tier      `json:"tier"`

	// Timestamp is the simulation tick at which the memory was created.
	Timestamp int64 `json:"timestamp"`

	// Importance is in [0,1].
	Importance float64 `json:"importance"`

	// Activity is in [0,1] and decays over time.
	Activity float64 `json:"activity"`

	// Tags and Keywords are normalized sets (lower-case, sorted, unique).
	Tags     []string `json:"tags"`
	Keywords []string `json:"keywords"`

	RelatedEntityID   string `json:"related_entity_id"`
	RelatedEntityName string `json:"related_entity_name"`

	IsPinned     bool   `json:"is_pinned"`
	IsUserEdited bool   `json:"is_user_edited"`
	Notes        string `json:"notes"`

	// RoundID is a weak reference to a ConversationRound, resolved by
	// Bank.Fixup.
	RoundID string `json:"round_id"`

	round *ConversationRound
}

// Protected reports whether the entry is immune to decay, pruning and
// capacity eviction.
func (e *Entry) Protected() bool {
	return e.IsPinned || e.IsUserEdited
}

// Variant reports which variant the entry is.
func (e *Entry) Variant() Variant {
	if e.round != nil {
		return VariantConversationRound
	}
	return VariantPlain
}

// Round returns the resolved conversation round, or nil.
func (e *Entry) Round() *ConversationRound {
	return e.round
}

// Clone returns a deep copy of the entry. The round pointer is shared since
// rounds are owned by the Bank.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Tags = append([]string{}, e.Tags...)
	c.Keywords = append([]string{}, e.Keywords...)
	return &c
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s[%s/%s] %q", e.ID, e.Tier, e.Type, e.Content)
}

// NewEntry describes a memory to insert.
type NewEntry struct {
	Content string
	Type    EntryType

	// Importance in [0,1]. A negative value asks the store to evaluate it
	// from the content.
	Importance float64

	Timestamp         int64
	RelatedEntityID   string
	RelatedEntityName string
	Tags              []string

	// Keywords are extracted from Content when empty.
	Keywords []string

	Notes   string
	Pinned  bool
	RoundID string
}

// IDSource issues unique entry ids.
type IDSource interface {
	NextID() string
}

// seqIDs is the fallback IDSource used when a store is created without one.
type seqIDs struct {
	prefix string
	n      int64
}

func (s *seqIDs) NextID() string {
	s.n++
	return fmt.Sprintf("%s%08d", s.prefix, s.n)
}
