package memory

import (
	"encoding/json"
	"fmt"

	"github.com/oceanbase/colonymem/pkg/textutil"
)

// Defaults applied to fields missing from saved entries.
const (
	DefaultImportance = 0.5
	DefaultActivity   = 1.0
)

// UnmarshalJSON decodes an entry, filling missing fields with defaults and
// null collections with empty ones.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	p := plain{
		Importance: DefaultImportance,
		Activity:   DefaultActivity,
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.Keywords == nil {
		e.Keywords = []string{}
	}
	return nil
}

type storeJSON struct {
	AgentID         string   `json:"agent_id"`
	Active          []*Entry `json:"active"`
	Situational     []*Entry `json:"situational"`
	EventLog        []*Entry `json:"event_log"`
	Archive         []*Entry `json:"archive"`
	LastDecayTick   int64    `json:"last_decay_tick"`
	LastSummaryTick int64    `json:"last_summary_tick"`
	LastArchiveTick int64    `json:"last_archive_tick"`
}

// MarshalJSON implements json.Marshaler.
func (s *Store) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(storeJSON{
		AgentID:         s.AgentID,
		Active:          s.tiers[TierActive],
		Situational:     s.tiers[TierSituational],
		EventLog:        s.tiers[TierEventLog],
		Archive:         s.tiers[TierArchive],
		LastDecayTick:   s.LastDecayTick,
		LastSummaryTick: s.LastSummaryTick,
		LastArchiveTick: s.LastArchiveTick,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded store uses the
// default configuration until it is attached to a Bank; call Fixup before
// use.
func (s *Store) UnmarshalJSON(data []byte) error {
	raw := storeJSON{
		LastDecayTick:   NeverRun,
		LastSummaryTick: NeverRun,
		LastArchiveTick: NeverRun,
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.AgentID = raw.AgentID
	s.tiers = [tierCount][]*Entry{raw.Active, raw.Situational, raw.EventLog, raw.Archive}
	s.LastDecayTick = raw.LastDecayTick
	s.LastSummaryTick = raw.LastSummaryTick
	s.LastArchiveTick = raw.LastArchiveTick
	if s.cfg == nil {
		c := DefaultConfig()
		s.attach(&c, nil)
	}
	return nil
}

// DecodeStore decodes a saved store, attaches it to cfg and ids, and runs
// Fixup.
func DecodeStore(data []byte, cfg Config, ids IDSource) (*Store, error) {
	s := &Store{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	c := cfg.withDefaults()
	s.attach(&c, ids)
	s.Fixup()
	return s, nil
}

// Fixup repairs a loaded store in place: it drops nil and duplicate
// entries, re-tags tier membership, clamps importance and activity,
// re-normalizes tag and keyword sets and keeps Archive in timestamp order.
// It returns the number of repairs made.
func (s *Store) Fixup() int {
	if s == nil {
		return 0
	}
	repairs := 0
	seen := make(map[string]bool)
	for t := range s.tiers {
		kept := make([]*Entry, 0, len(s.tiers[t]))
		for _, e := range s.tiers[t] {
			if e == nil || e.ID == "" || seen[e.ID] {
				repairs++
				continue
			}
			seen[e.ID] = true
			repairs += s.fixEntry(e, Tier(t))
			kept = append(kept, e)
		}
		s.tiers[t] = kept
	}

	archive := s.tiers[TierArchive]
	s.tiers[TierArchive] = make([]*Entry, 0, len(archive))
	for _, e := range archive {
		s.insertArchive(e)
	}

	if s.LastDecayTick < NeverRun {
		s.LastDecayTick = NeverRun
	}
	if s.LastSummaryTick < NeverRun {
		s.LastSummaryTick = NeverRun
	}
	if s.LastArchiveTick < NeverRun {
		s.LastArchiveTick = NeverRun
	}
	return repairs
}

func (s *Store) fixEntry(e *Entry, t Tier) int {
	n := 0
	if e.Tier != t {
		e.Tier = t
		n++
	}
	if v := clamp01(e.Importance); v != e.Importance {
		e.Importance = v
		n++
	}
	if v := clamp01(e.Activity); v != e.Activity {
		e.Activity = v
		n++
	}
	tags := textutil.NormalizeSet(e.Tags)
	if !equalStrings(tags, e.Tags) {
		n++
	}
	e.Tags = tags
	keywords := textutil.NormalizeSet(e.Keywords)
	if len(keywords) == 0 && e.Content != "" {
		keywords = textutil.Keywords(e.Content, s.cfg.MaxKeywords)
	}
	if !equalStrings(keywords, e.Keywords) {
		n++
	}
	e.Keywords = keywords
	return n
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
