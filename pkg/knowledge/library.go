package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Library errors.
var (
	ErrEmptyID     = errors.New("knowledge entry id is empty")
	ErrDuplicateID = errors.New("knowledge entry id already exists")
)

// Library is the ordered set of knowledge facts plus the side tables keyed
// by fact id: extended flags and embeddings. Side-table rows whose fact is
// gone are dropped by PruneSideTables, which Remove and Fixup run.
//
// Library is safe for concurrent use. Entries returned by Get and Entries
// are shared; mutate them only through the library.
type Library struct {
	mu            sync.RWMutex
	entries       []*Entry
	byID          map[string]*Entry
	flags         map[string]Flags
	embeddings    map[string][]float64
	globalExclude []string
	version       uint64
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		entries:       []*Entry{},
		byID:          make(map[string]*Entry),
		flags:         make(map[string]Flags),
		embeddings:    make(map[string][]float64),
		globalExclude: []string{},
	}
}

// Add appends a fact.
func (l *Library) Add(e *Entry) error {
	if e == nil || e.ID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	e.normalize()
	l.entries = append(l.entries, e)
	l.byID[e.ID] = e
	l.version++
	return nil
}

// Remove deletes a fact and prunes the side tables.
func (l *Library) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.pruneLocked()
	l.version++
	return true
}

// Get returns a fact by id, or nil.
func (l *Library) Get(id string) *Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byID[id]
}

// Entries returns the facts in insertion order.
func (l *Library) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Entry{}, l.entries...)
}

// Len returns the number of facts.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// EnabledCount returns the number of enabled facts that apply to agentID.
func (l *Library) EnabledCount(agentID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.IsEnabled && e.AppliesTo(agentID) {
			n++
		}
	}
	return n
}

// Version increases on every mutation.
func (l *Library) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Update applies fn to a fact under the library lock and re-normalizes it.
// The embedding is dropped when the content changes.
func (l *Library) Update(id string, fn func(*Entry)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[id]
	if !ok {
		return false
	}
	before := e.Content
	fn(e)
	e.ID = id
	e.normalize()
	if e.Content != before {
		delete(l.embeddings, id)
	}
	l.version++
	return true
}

// SetFlags records extended flags for a fact.
func (l *Library) SetFlags(id string, f Flags) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok {
		return false
	}
	if f == (Flags{}) {
		delete(l.flags, id)
	} else {
		l.flags[id] = f
	}
	l.version++
	return true
}

// Flags returns a fact's extended flags. Facts without a row have both
// flags off.
func (l *Library) Flags(id string) Flags {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flags[id]
}

// SetEmbedding stores a fact's embedding.
func (l *Library) SetEmbedding(id string, vec []float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok || len(vec) == 0 {
		return false
	}
	l.embeddings[id] = append([]float64(nil), vec...)
	return true
}

// Embedding returns a fact's embedding.
func (l *Library) Embedding(id string) ([]float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.embeddings[id]
	return v, ok
}

// MissingEmbeddings returns the ids of enabled facts without an embedding,
// in insertion order.
func (l *Library) MissingEmbeddings() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for _, e := range l.entries {
		if _, ok := l.embeddings[e.ID]; !ok && e.IsEnabled {
			out = append(out, e.ID)
		}
	}
	return out
}

// SetGlobalExclude replaces the exclusion keywords applied to every fact.
func (l *Library) SetGlobalExclude(keywords []string) {
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	l.mu.Lock()
	l.globalExclude = cleaned
	l.version++
	l.mu.Unlock()
}

// GlobalExclude returns the global exclusion keywords.
func (l *Library) GlobalExclude() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string{}, l.globalExclude...)
}

// PruneSideTables drops flag and embedding rows of facts that no longer
// exist and returns how many rows were dropped.
func (l *Library) PruneSideTables() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *Library) pruneLocked() int {
	n := 0
	for id := range l.flags {
		if _, ok := l.byID[id]; !ok {
			delete(l.flags, id)
			n++
		}
	}
	for id := range l.embeddings {
		if _, ok := l.byID[id]; !ok {
			delete(l.embeddings, id)
			n++
		}
	}
	return n
}

// Fixup repairs a loaded library: drops nil, id-less and duplicate facts,
// re-parses tags, normalizes legacy global targets and prunes the side
// tables. It returns the number of repairs.
func (l *Library) Fixup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	kept := make([]*Entry, 0, len(l.entries))
	l.byID = make(map[string]*Entry, len(l.entries))
	for _, e := range l.entries {
		if e == nil || e.ID == "" {
			n++
			continue
		}
		if _, dup := l.byID[e.ID]; dup {
			n++
			continue
		}
		if e.normalize() {
			n++
		}
		kept = append(kept, e)
		l.byID[e.ID] = e
	}
	l.entries = kept
	if l.flags == nil {
		l.flags = make(map[string]Flags)
	}
	if l.embeddings == nil {
		l.embeddings = make(map[string][]float64)
	}
	if l.globalExclude == nil {
		l.globalExclude = []string{}
	}
	n += l.pruneLocked()
	l.version++
	return n
}

// librarySnapshot is the persisted form. Extended flags live beside the
// entry list so that the entry format stays unchanged.
type librarySnapshot struct {
	Entries       []*Entry             `json:"entries"`
	ExtendedFlags map[string]Flags     `json:"extended_flags"`
	Embeddings    map[string][]float64 `json:"embeddings"`
	GlobalExclude []string             `json:"global_exclude"`
}

// MarshalJSON implements json.Marshaler.
func (l *Library) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(librarySnapshot{
		Entries:       l.entries,
		ExtendedFlags: l.flags,
		Embeddings:    l.embeddings,
		GlobalExclude: l.globalExclude,
	})
}

// UnmarshalJSON implements json.Unmarshaler and runs Fixup.
func (l *Library) UnmarshalJSON(data []byte) error {
	_, err := l.Decode(data)
	return err
}

// Decode replaces the library contents with a saved snapshot, runs Fixup
// and returns the number of repairs.
func (l *Library) Decode(data []byte) (int, error) {
	var snap librarySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode knowledge library: %w", err)
	}
	l.mu.Lock()
	l.entries = snap.Entries
	l.flags = snap.ExtendedFlags
	l.embeddings = snap.Embeddings
	l.globalExclude = snap.GlobalExclude
	l.mu.Unlock()
	return l.Fixup(), nil
}
