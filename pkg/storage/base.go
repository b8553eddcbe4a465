// Package storage provides the snapshot store interface used to persist
// agent memory banks, the knowledge library and maintenance state.
//
// Each backend keeps two tables per collection: <collection>_agents holds
// one JSON payload per agent and <collection>_blobs holds named shared
// payloads (knowledge, rounds, thresholds, maintenance state). Backends differ only in
// their SQL dialect; the statements live in a Dialect and SQLStore runs
// them.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an agent or blob has no stored payload.
var ErrNotFound = errors.New("snapshot not found")

// ErrInvalidCollection is returned for collection names that are not plain
// SQL identifiers.
var ErrInvalidCollection = errors.New("invalid collection name")

// DefaultCollection is used when a backend config leaves the collection
// name empty.
const DefaultCollection = "colonymem"

// Well-known blob keys.
const (
	BlobKnowledge  = "knowledge"
	BlobRounds     = "rounds"
	BlobThresholds = "thresholds"
	BlobRunner     = "maintenance"
)

// SnapshotStore persists opaque snapshot payloads.
type SnapshotStore interface {
	// SaveAgent stores the payload of one agent, replacing any previous one.
	SaveAgent(ctx context.Context, agentID string, payload []byte) error

	// LoadAgent returns the stored payload of an agent or ErrNotFound.
	LoadAgent(ctx context.Context, agentID string) ([]byte, error)

	// ListAgents returns the ids of all stored agents in ascending order.
	ListAgents(ctx context.Context) ([]string, error)

	// DeleteAgent removes an agent. Deleting a missing agent is not an error.
	DeleteAgent(ctx context.Context, agentID string) error

	// SaveBlob stores a named payload, replacing any previous one.
	SaveBlob(ctx context.Context, key string, payload []byte) error

	// LoadBlob returns a named payload or ErrNotFound.
	LoadBlob(ctx context.Context, key string) ([]byte, error)

	// Close releases the underlying connection.
	Close() error
}

// CollectionName validates name and returns DefaultCollection when it is
// empty. Names are interpolated into SQL, so only letters, digits and
// underscores are accepted and the first character must not be a digit.
func CollectionName(name string) (string, error) {
	if name == "" {
		return DefaultCollection, nil
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidCollection, name)
		}
	}
	return name, nil
}
