package core

import (
	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/embedder"
	"github.com/oceanbase/colonymem/pkg/host"
	"github.com/oceanbase/colonymem/pkg/llm"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/metrics"
	"github.com/oceanbase/colonymem/pkg/storage"
)

// Option configures a Client.
//
// Options are applied using the functional options pattern. A component
// passed as an option takes precedence over the one the config would
// build.
type Option func(*clientOptions)

type clientOptions struct {
	logger     *zap.Logger
	host       host.StateQuery
	embedder   embedder.Provider
	llm        llm.Provider
	store      storage.SnapshotStore
	metrics    *metrics.Collector
	summarizer memory.Summarizer
}

// WithLogger sets the client logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithHost sets the host state view used for relationship bonuses,
// guidelines and cache fingerprints.
//
// Example:
//
//	h := host.NewStatic()
//	h.Moods["pawn_1"] = 0.8
//	client, _ := core.NewClient(cfg, core.WithHost(h))
func WithHost(q host.StateQuery) Option {
	return func(o *clientOptions) { o.host = q }
}

// WithEmbedder sets the embedding provider, overriding Config.Embedder.
func WithEmbedder(p embedder.Provider) Option {
	return func(o *clientOptions) { o.embedder = p }
}

// WithLLM sets the summarization provider, overriding Config.LLM.
func WithLLM(p llm.Provider) Option {
	return func(o *clientOptions) { o.llm = p }
}

// WithStore sets the snapshot store, overriding Config.Store. The client
// closes it on Close.
func WithStore(s storage.SnapshotStore) Option {
	return func(o *clientOptions) { o.store = s }
}

// WithMetrics reports cache, injection and maintenance metrics to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithSummarizer replaces the summarizer built from Config.LLM.
func WithSummarizer(s memory.Summarizer) Option {
	return func(o *clientOptions) { o.summarizer = s }
}

// AddOption configures AddMemory.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for AddMemory.
type AddOptions struct {
	// Type classifies the memory. Default: TypeObservation.
	Type memory.EntryType

	// Importance in [0,1]. Negative (the default) evaluates it from the
	// content.
	Importance float64

	Tags []string

	RelatedEntityID   string
	RelatedEntityName string

	Pinned bool
	Notes  string

	// RoundID links the memory to a conversation round added with
	// RecordConversation.
	RoundID string

	// DedupKey marks the memory as one observation of a shared event.
	// A second AddMemory with the same key and agent during the same
	// conversation is rejected with ErrDuplicateMemory.
	DedupKey string
}

// WithType sets the memory type.
func WithType(t memory.EntryType) AddOption {
	return func(o *AddOptions) { o.Type = t }
}

// WithImportance sets an explicit importance.
func WithImportance(v float64) AddOption {
	return func(o *AddOptions) { o.Importance = v }
}

// WithTags sets the memory tags.
func WithTags(tags ...string) AddOption {
	return func(o *AddOptions) { o.Tags = append([]string(nil), tags...) }
}

// WithRelatedEntity links the memory to another entity. The name is used
// when the host cannot resolve the id.
//
// Example:
//
//	_, _ = client.AddMemory(ctx, "pawn_1", "Shared a meal with Bob",
//	    core.WithRelatedEntity("pawn_2", "Bob"))
func WithRelatedEntity(id, name string) AddOption {
	return func(o *AddOptions) {
		o.RelatedEntityID = id
		o.RelatedEntityName = name
	}
}

// WithPinned pins the memory on insert.
func WithPinned() AddOption {
	return func(o *AddOptions) { o.Pinned = true }
}

// WithNotes attaches free-form notes.
func WithNotes(notes string) AddOption {
	return func(o *AddOptions) { o.Notes = notes }
}

// WithRound links the memory to a conversation round.
func WithRound(roundID string) AddOption {
	return func(o *AddOptions) { o.RoundID = roundID }
}

// WithDedupKey sets the per-conversation dedup key.
func WithDedupKey(key string) AddOption {
	return func(o *AddOptions) { o.DedupKey = key }
}

func applyAddOptions(opts []AddOption) *AddOptions {
	o := &AddOptions{Type: memory.TypeObservation, Importance: -1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
