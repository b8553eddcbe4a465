package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Bank owns every agent's Store and the conversation rounds their entries
// refer to. The maps are guarded by a mutex; individual stores are not.
type Bank struct {
	mu     sync.RWMutex
	cfg    *Config
	ids    IDSource
	logger *zap.Logger
	stores map[string]*Store
	rounds map[string]*ConversationRound
}

// NewBank creates an empty bank.
//
// Parameters:
//   - cfg: retention configuration shared by every store
//   - ids: entry id source (nil uses per-store sequences)
//   - logger: logger (nil means no logging)
func NewBank(cfg Config, ids IDSource, logger *zap.Logger) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	return &Bank{
		cfg:    &c,
		ids:    ids,
		logger: logger,
		stores: make(map[string]*Store),
		rounds: make(map[string]*ConversationRound),
	}
}

// Config returns the bank's effective configuration.
func (b *Bank) Config() Config {
	return *b.cfg
}

// Get returns the agent's store, or nil when the agent has none.
func (b *Bank) Get(agentID string) *Store {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stores[agentID]
}

// Ensure returns the agent's store, creating it if needed.
func (b *Bank) Ensure(agentID string) *Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stores[agentID]
	if !ok {
		s = NewStore(agentID, *b.cfg, b.ids)
		s.cfg = b.cfg
		b.stores[agentID] = s
	}
	return s
}

// Drop removes an agent's store.
func (b *Bank) Drop(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.stores[agentID]
	delete(b.stores, agentID)
	return ok
}

// Agents returns the ids of every agent with a store, sorted.
func (b *Bank) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.stores))
	for id := range b.stores {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Insert adds a memory for an agent, creating its store if needed. A
// RoundID naming a known round makes the entry a conversation-round entry.
func (b *Bank) Insert(agentID string, in NewEntry) (string, bool) {
	s := b.Ensure(agentID)
	id, ok := s.Insert(in)
	if ok && in.RoundID != "" {
		if e := s.Find(id); e != nil {
			e.round = b.Round(in.RoundID)
			if e.round == nil {
				e.RoundID = ""
			}
		}
	}
	return id, ok
}

// AddRound registers a conversation round and returns the owned copy. An
// existing round with the same id is replaced.
func (b *Bank) AddRound(r ConversationRound) *ConversationRound {
	owned := &ConversationRound{
		ID:           r.ID,
		Participants: append([]string{}, r.Participants...),
		Lines:        append([]string{}, r.Lines...),
		Tick:         r.Tick,
	}
	b.mu.Lock()
	b.rounds[r.ID] = owned
	b.mu.Unlock()
	return owned
}

// Round returns a round by id, or nil.
func (b *Bank) Round(id string) *ConversationRound {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rounds[id]
}

// RoundCount returns the number of registered rounds.
func (b *Bank) RoundCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rounds)
}

// PruneRounds drops rounds that no entry refers to and returns how many
// were dropped.
func (b *Bank) PruneRounds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	used := make(map[string]bool)
	for _, s := range b.stores {
		s.Each(func(e *Entry) {
			if e.RoundID != "" {
				used[e.RoundID] = true
			}
		})
	}
	n := 0
	for id := range b.rounds {
		if !used[id] {
			delete(b.rounds, id)
			n++
		}
	}
	return n
}

// EncodeAgent serializes one agent's store.
func (b *Bank) EncodeAgent(agentID string) ([]byte, error) {
	s := b.Get(agentID)
	if s == nil {
		return nil, fmt.Errorf("encode agent %s: no store", agentID)
	}
	return json.Marshal(s)
}

// DecodeAgent loads a saved store, replacing any store the agent already
// has. Round references are resolved by Fixup.
func (b *Bank) DecodeAgent(data []byte) (string, error) {
	s, err := DecodeStore(data, *b.cfg, b.ids)
	if err != nil {
		return "", err
	}
	s.cfg = b.cfg
	if s.AgentID == "" {
		return "", fmt.Errorf("decode store: missing agent id")
	}
	b.mu.Lock()
	b.stores[s.AgentID] = s
	b.mu.Unlock()
	return s.AgentID, nil
}

// EncodeRounds serializes every round, ordered by tick then id.
func (b *Bank) EncodeRounds() ([]byte, error) {
	b.mu.RLock()
	list := make([]*ConversationRound, 0, len(b.rounds))
	for _, r := range b.rounds {
		list = append(list, r)
	}
	b.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].Tick != list[j].Tick {
			return list[i].Tick < list[j].Tick
		}
		return list[i].ID < list[j].ID
	})
	return json.Marshal(list)
}

// DecodeRounds loads saved rounds, adding them to the bank.
func (b *Bank) DecodeRounds(data []byte) error {
	var list []*ConversationRound
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode rounds: %w", err)
	}
	for _, r := range list {
		if r == nil || r.ID == "" {
			continue
		}
		b.AddRound(*r)
	}
	return nil
}

// FixupReport summarizes a Bank.Fixup run.
type FixupReport struct {
	Repairs  int
	Resolved int
	Dangling int
}

// Fixup repairs every store and resolves each entry's round reference.
// Entries naming an unknown round are downgraded to plain entries.
func (b *Bank) Fixup() FixupReport {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var rep FixupReport
	for _, id := range sortedKeys(b.stores) {
		s := b.stores[id]
		rep.Repairs += s.Fixup()
		s.Each(func(e *Entry) {
			if e.RoundID == "" {
				e.round = nil
				return
			}
			if r, ok := b.rounds[e.RoundID]; ok {
				e.round = r
				rep.Resolved++
				return
			}
			b.logger.Warn("memory refers to unknown conversation round",
				zap.String("agent_id", id),
				zap.String("entry_id", e.ID),
				zap.String("round_id", e.RoundID))
			e.RoundID = ""
			e.round = nil
			rep.Dangling++
		})
	}
	return rep
}

func sortedKeys(m map[string]*Store) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
