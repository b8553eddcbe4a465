// Package host defines the narrow, read-only view of the host simulation
// that colonymem consumes.
//
// The host owns agents, relationships, moods and activities. colonymem never
// mutates host state and tolerates missing data everywhere: a nil StateQuery
// or a lookup that reports ok=false simply contributes nothing.
package host

// RelationKind classifies the strongest direct relationship between two
// entities. Larger values are closer relationships.
type RelationKind int

const (
	// RelationNone means no known relationship.
	RelationNone RelationKind = iota

	// RelationNegativeMemorable is a relationship with strongly negative
	// opinion that is still worth remembering (rivals, enemies).
	RelationNegativeMemorable

	// RelationPositiveOpinion is a relationship with positive opinion but no
	// social tie.
	RelationPositiveOpinion

	// RelationAcquaintance is a known acquaintance or friend.
	RelationAcquaintance

	// RelationFamily is a blood or adoptive family member.
	RelationFamily

	// RelationPartner is a spouse, fiance or lover.
	RelationPartner
)

// String returns the lower-case name of the relation kind.
func (k RelationKind) String() string {
	switch k {
	case RelationNegativeMemorable:
		return "negative"
	case RelationPositiveOpinion:
		return "positive"
	case RelationAcquaintance:
		return "acquaintance"
	case RelationFamily:
		return "family"
	case RelationPartner:
		return "partner"
	default:
		return "none"
	}
}

// Relationship describes how one agent relates to another.
type Relationship struct {
	// Kind is the strongest relationship tier.
	Kind RelationKind

	// Opinion is the agent's opinion of the other, typically -100..100.
	Opinion int

	// Label is a human-readable relation name ("wife", "brother").
	Label string
}

// Entity is a minimal description of a host entity.
type Entity struct {
	ID   string
	Name string
}

// StateQuery is the host state interface consumed by colonymem.
//
// Implementations must be side-effect free: scoring calls them on the hot
// path and relies on identical answers for identical inputs.
type StateQuery interface {
	// Relationship returns agentID's relationship with otherID.
	Relationship(agentID, otherID string) (Relationship, bool)

	// Mood returns the agent's current mood in [0,1].
	Mood(agentID string) (float64, bool)

	// CurrentActivity returns a short classification of what the agent is
	// doing right now ("fighting", "cooking").
	CurrentActivity(agentID string) (string, bool)

	// LookupEntity resolves an entity by id or display name.
	LookupEntity(nameOrID string) (Entity, bool)
}

// NameResolver is an optional capability. Hosts that keep alternate display
// names for entities (nicknames, disguises) implement it alongside
// StateQuery.
type NameResolver interface {
	DisplayName(entityID string) (string, bool)
}

// RelationshipOf queries q and reports ok=false when q is nil.
func RelationshipOf(q StateQuery, agentID, otherID string) (Relationship, bool) {
	if q == nil || agentID == "" || otherID == "" {
		return Relationship{}, false
	}
	return q.Relationship(agentID, otherID)
}

// MoodOf queries q and reports ok=false when q is nil.
func MoodOf(q StateQuery, agentID string) (float64, bool) {
	if q == nil || agentID == "" {
		return 0, false
	}
	return q.Mood(agentID)
}

// ActivityOf queries q and reports ok=false when q is nil.
func ActivityOf(q StateQuery, agentID string) (string, bool) {
	if q == nil || agentID == "" {
		return "", false
	}
	return q.CurrentActivity(agentID)
}

// DisplayName resolves the display name for an entity. It prefers the
// optional NameResolver capability, then LookupEntity, then fallback.
func DisplayName(q StateQuery, entityID, fallback string) string {
	if q == nil || entityID == "" {
		return fallback
	}
	if r, ok := q.(NameResolver); ok {
		if name, ok := r.DisplayName(entityID); ok && name != "" {
			return name
		}
	}
	if e, ok := q.LookupEntity(entityID); ok && e.Name != "" {
		return e.Name
	}
	return fallback
}

// Static is an in-memory StateQuery, useful for tests, examples and hosts
// that push snapshots of their state instead of answering live queries.
type Static struct {
	Relationships map[string]map[string]Relationship
	Moods         map[string]float64
	Activities    map[string]string
	Entities      map[string]Entity
	Names         map[string]string
}

// NewStatic returns an empty Static host view.
func NewStatic() *Static {
	return &Static{
		Relationships: make(map[string]map[string]Relationship),
		Moods:         make(map[string]float64),
		Activities:    make(map[string]string),
		Entities:      make(map[string]Entity),
	}
}

// SetRelationship records agentID's relationship with otherID.
func (s *Static) SetRelationship(agentID, otherID string, rel Relationship) {
	if s.Relationships[agentID] == nil {
		s.Relationships[agentID] = make(map[string]Relationship)
	}
	s.Relationships[agentID][otherID] = rel
}

// AddEntity registers an entity for lookup by id and by name.
func (s *Static) AddEntity(e Entity) {
	s.Entities[e.ID] = e
	if e.Name != "" {
		s.Entities[e.Name] = e
	}
}

func (s *Static) Relationship(agentID, otherID string) (Relationship, bool) {
	rel, ok := s.Relationships[agentID][otherID]
	return rel, ok
}

func (s *Static) Mood(agentID string) (float64, bool) {
	m, ok := s.Moods[agentID]
	return m, ok
}

func (s *Static) CurrentActivity(agentID string) (string, bool) {
	a, ok := s.Activities[agentID]
	return a, ok
}

func (s *Static) LookupEntity(nameOrID string) (Entity, bool) {
	e, ok := s.Entities[nameOrID]
	return e, ok
}

// DisplayName implements NameResolver when Names is populated.
func (s *Static) DisplayName(entityID string) (string, bool) {
	if s.Names == nil {
		return "", false
	}
	n, ok := s.Names[entityID]
	return n, ok
}
