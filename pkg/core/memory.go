package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/cache"
	"github.com/oceanbase/colonymem/pkg/embedder"
	openaiEmbedder "github.com/oceanbase/colonymem/pkg/embedder/openai"
	"github.com/oceanbase/colonymem/pkg/host"
	"github.com/oceanbase/colonymem/pkg/knowledge"
	"github.com/oceanbase/colonymem/pkg/llm"
	openaiLLM "github.com/oceanbase/colonymem/pkg/llm/openai"
	"github.com/oceanbase/colonymem/pkg/maintenance"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/metrics"
	"github.com/oceanbase/colonymem/pkg/normalize"
	"github.com/oceanbase/colonymem/pkg/scoring"
	"github.com/oceanbase/colonymem/pkg/session"
	"github.com/oceanbase/colonymem/pkg/simtime"
	"github.com/oceanbase/colonymem/pkg/storage"
	"github.com/oceanbase/colonymem/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/colonymem/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/colonymem/pkg/storage/sqlite"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

// Client is the colonymem client.
//
// It owns the memory bank of every agent, the shared knowledge library and
// everything needed to turn both into injection text:
//   - the relevance scorer and the knowledge engine
//   - the adaptive threshold trackers
//   - the conversation and prompt caches
//   - the maintenance runner and its summary queue
//   - the snapshot store used by Save and Load
//
// Stores are not safe for concurrent use, so every operation that touches
// them is serialized by the client. The client is safe to share between
// the simulation loop and background jobs.
//
// Example usage:
//
//	client, _ := core.NewClient(core.DefaultConfig(), core.WithHost(h))
//	defer client.Close()
//
//	_, _ = client.AddMemory(ctx, "pawn_1", "Saw a raid approach the village", tick)
//	text := client.BuildInjectionContext(ctx, "pawn_1", "pawn_2", "Did you see the raid?")
type Client struct {
	cfg    *Config
	logger *zap.Logger
	host   host.StateQuery
	clock  simtime.Clock

	session  *session.Context
	bank     *memory.Bank
	library  *knowledge.Library
	engine   *knowledge.Engine
	scorer   *scoring.Scorer
	registry *threshold.Registry
	runner   *maintenance.Runner

	guidelines *cache.ConversationCache[[]string]
	prompts    *cache.PromptCache

	embedder *embedder.Guarded
	llm      llm.Provider
	store    storage.SnapshotStore
	metrics  *metrics.Collector

	scheduler *maintenance.Scheduler

	// mu serializes access to the bank, its stores and the client state
	// below.
	mu             sync.Mutex
	now            int64
	dirty          map[string]bool
	knowledgeDirty bool
	roundsDirty    bool
	closed         bool
}

// NewClient creates a new colonymem client.
//
// The client is initialized with:
//   - Snapshot store (memory, SQLite, PostgreSQL or OceanBase)
//   - Embedding provider (optional; knowledge matching degrades to keywords)
//   - Summarization LLM (optional; summaries fall back to a rule-based form)
//
// Parameters:
//   - cfg: Configuration; nil means DefaultConfig
//   - opts: Components that override the ones built from cfg
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sess, err := session.New(cfg.Session.NodeID, cfg.Session.TTLTicks)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	embedProvider := o.embedder
	if embedProvider == nil {
		if embedProvider, err = initEmbedder(cfg.Embedder); err != nil {
			return nil, err
		}
	}
	llmProvider := o.llm
	if llmProvider == nil {
		if llmProvider, err = initLLM(cfg.LLM); err != nil {
			return nil, err
		}
	}
	store := o.store
	if store == nil {
		if store, err = initStorage(cfg.Store); err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		host:    o.host,
		clock:   cfg.Clock,
		session: sess,
		llm:     llmProvider,
		store:   store,
		metrics: o.metrics,
		dirty:   make(map[string]bool),
	}

	var observer cache.Observer
	if o.metrics != nil {
		observer = o.metrics
	}

	scoringCfg := cfg.Scoring
	scoringCfg.Clock = cfg.Clock

	c.bank = memory.NewBank(cfg.Tiers, sess, logger.Named("memory"))
	c.library = knowledge.NewLibrary()
	c.registry = threshold.NewRegistry(cfg.Threshold)
	c.embedder = embedder.NewGuarded(embedProvider, cfg.Embedder.Guard, logger.Named("embedder"))
	c.scorer = scoring.New(scoringCfg, o.host, normalize.Compile(cfg.Normalize, logger.Named("normalize")))
	c.engine = knowledge.NewEngine(c.library, cfg.Knowledge,
		knowledge.WithEmbedder(c.embedder),
		knowledge.WithTracker(c.registry.Tracker(threshold.CategoryKnowledge)),
		knowledge.WithLogger(logger.Named("knowledge")))
	c.guidelines = cache.NewConversationCache[[]string](cfg.Cache.Conversation,
		cache.WithObserver(observer), cache.WithName("conversation"))
	c.prompts = cache.NewPromptCache(cfg.Cache.Prompt, observer)

	summarizer := o.summarizer
	queued := cfg.LLM.Queue
	if summarizer == nil {
		summarizer = memory.SimpleSummarizer{MaxEntryRunes: cfg.Tiers.SummaryEntryRunes}
		if llmProvider != nil {
			summarizer = memory.NewLLMSummarizer(llmProvider, cfg.LLM.Timeout, logger.Named("summarizer"))
			queued = true
		}
	}
	runnerOpts := []maintenance.Option{
		maintenance.WithRegistry(c.registry),
		maintenance.WithSummarizer(summarizer),
		maintenance.WithMetrics(o.metrics),
		maintenance.WithLogger(logger.Named("maintenance")),
		maintenance.OnChange(c.markDirty),
	}
	if queued {
		// Summaries run from DrainQueue, never from Tick, and the
		// summarizer runs without c.mu.
		runnerOpts = append(runnerOpts, maintenance.WithQueue(), maintenance.WithLocker(&c.mu))
	}
	c.runner = maintenance.NewRunner(c.bank, cfg.Maintenance, runnerOpts...)

	logger.Info("colonymem client ready",
		zap.String("session", sess.ID),
		zap.String("store", cfg.Store.Provider),
		zap.Bool("embeddings", c.embedder.Available()),
		zap.Bool("llm_summaries", llmProvider != nil))
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.cfg
}

// SessionID returns the id of the client's session.
func (c *Client) SessionID() string {
	return c.session.ID
}

// Now returns the last simulation tick the client was told about.
func (c *Client) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetNow records the current simulation tick. Ticks never move backwards.
func (c *Client) SetNow(tick int64) {
	c.mu.Lock()
	c.advance(tick)
	c.mu.Unlock()
}

func (c *Client) advance(tick int64) {
	if tick > c.now {
		c.now = tick
	}
}

// markDirty flags an agent for the next Save. Callers hold c.mu.
func (c *Client) markDirty(agentID string) {
	c.dirty[agentID] = true
}

// AddMemory records a memory for an agent at tick now.
//
// Parameters:
//   - ctx: Context for cancellation
//   - agentID: The agent that remembers
//   - content: Memory text
//   - now: Simulation tick of the observation
//   - opts: Type, importance, tags, related entity, pin and dedup options
//
// Returns the new entry id. ErrDuplicateMemory is returned when the store
// drops the memory as a recent duplicate or its dedup key was already seen
// in the current conversation.
func (c *Client) AddMemory(ctx context.Context, agentID, content string, now int64, opts ...AddOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewMemoryError("AddMemory", err)
	}
	if agentID == "" || strings.TrimSpace(content) == "" {
		return "", NewMemoryError("AddMemory", ErrInvalidInput)
	}
	o := applyAddOptions(opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", NewMemoryError("AddMemory", ErrClosed)
	}
	c.advance(now)

	if o.DedupKey != "" {
		if !c.session.MarkSeen(agentID+"\x00"+o.DedupKey, now) {
			return "", NewMemoryError("AddMemory", ErrDuplicateMemory)
		}
	} else {
		c.session.Touch(now)
	}

	id, ok := c.bank.Insert(agentID, memory.NewEntry{
		Content:           content,
		Type:              o.Type,
		Importance:        o.Importance,
		Timestamp:         now,
		RelatedEntityID:   o.RelatedEntityID,
		RelatedEntityName: o.RelatedEntityName,
		Tags:              o.Tags,
		Notes:             o.Notes,
		Pinned:            o.Pinned,
		RoundID:           o.RoundID,
	})
	if !ok {
		return "", NewMemoryError("AddMemory", ErrDuplicateMemory)
	}
	c.markDirty(agentID)
	c.logger.Debug("memory added",
		zap.String("agent_id", agentID),
		zap.String("entry_id", id),
		zap.String("type", o.Type.String()))
	return id, nil
}

// GetMemory returns a copy of one memory.
func (c *Client) GetMemory(agentID, id string) (*memory.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.bank.Get(agentID).Find(id)
	if e == nil {
		return nil, NewMemoryError("GetMemory", ErrNotFound)
	}
	return e.Clone(), nil
}

// Memories returns copies of one tier of an agent's memories, newest first.
// An unknown agent has no memories.
func (c *Client) Memories(agentID string, tier memory.Tier) []*memory.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.bank.Get(agentID).Entries(tier)
	out := make([]*memory.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// PinMemory pins or unpins a memory. Pinned memories are never decayed,
// pruned, evicted or summarized away.
func (c *Client) PinMemory(agentID, id string, pinned bool) error {
	return c.mutate("PinMemory", agentID, func(s *memory.Store) bool {
		return s.Pin(id, pinned)
	})
}

// EditMemory replaces a memory's content and marks it user-edited.
func (c *Client) EditMemory(agentID, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return NewMemoryError("EditMemory", ErrInvalidInput)
	}
	return c.mutate("EditMemory", agentID, func(s *memory.Store) bool {
		return s.Edit(id, content)
	})
}

// SetMemoryNotes replaces a memory's notes.
func (c *Client) SetMemoryNotes(agentID, id, notes string) error {
	return c.mutate("SetMemoryNotes", agentID, func(s *memory.Store) bool {
		return s.SetNotes(id, notes)
	})
}

// RemoveMemory deletes a memory.
func (c *Client) RemoveMemory(agentID, id string) error {
	return c.mutate("RemoveMemory", agentID, func(s *memory.Store) bool {
		return s.Remove(id)
	})
}

// mutate runs a user edit. Cached prompts of the agent are dropped since
// edits do not change the counts the prompt cache validates against.
func (c *Client) mutate(op, agentID string, fn func(*memory.Store) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.bank.Get(agentID)
	if s == nil || !fn(s) {
		return NewMemoryError(op, ErrNotFound)
	}
	c.markDirty(agentID)
	c.prompts.InvalidateAgent(agentID)
	return nil
}

// Agents returns the ids of every agent with memories, sorted.
func (c *Client) Agents() []string {
	return c.bank.Agents()
}

// Stats returns the per-tier counts of an agent.
func (c *Client) Stats(agentID string) AgentStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.bank.Get(agentID)
	st := AgentStats{AgentID: agentID, Tiers: make(map[memory.Tier]int, len(memory.AllTiers))}
	for _, t := range memory.AllTiers {
		n := s.Count(t)
		st.Tiers[t] = n
		st.Total += n
	}
	s.Each(func(e *memory.Entry) {
		if e.IsPinned {
			st.Pinned++
		}
	})
	st.Knowledge = c.library.EnabledCount(agentID)
	return st
}

// RemoveAgent forgets an agent entirely, including its stored snapshot.
// Removing an unknown agent is a no-op.
func (c *Client) RemoveAgent(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewMemoryError("RemoveAgent", ErrClosed)
	}
	c.bank.Drop(agentID)
	delete(c.dirty, agentID)
	c.guidelines.RemoveAgent(agentID)
	c.prompts.InvalidateAgent(agentID)
	if err := c.store.DeleteAgent(ctx, agentID); err != nil {
		return NewMemoryError("RemoveAgent", errors.Join(ErrStorageOperation, err))
	}
	return nil
}

// Close stops background jobs and releases the store and providers.
//
// Example:
//
//	defer client.Close()
func (c *Client) Close() error {
	c.StopBackground(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initStorage initializes the snapshot store.
func initStorage(cfg StoreConfig) (storage.SnapshotStore, error) {
	var (
		store storage.SnapshotStore
		err   error
	)
	switch cfg.Provider {
	case "", StoreMemory:
		return storage.NewMemoryStore(), nil
	case StoreSQLite:
		store, err = sqliteStore.NewClient(&cfg.SQLite)
	case StorePostgres:
		store, err = postgresStore.NewClient(&cfg.Postgres)
	case StoreOceanBase:
		store, err = oceanbase.NewClient(&cfg.OceanBase)
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", errors.Join(ErrConnectionFailed, err))
	}
	return store, nil
}

// initLLM initializes the summarization provider. No provider is not an
// error.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		p, err := openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, NewMemoryError("initLLM", err)
		}
		return p, nil
	default:
		return nil, NewMemoryError("initLLM", ErrInvalidConfig)
	}
}

// initEmbedder initializes the embedding provider. No provider is not an
// error.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		p, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, NewMemoryError("initEmbedder", err)
		}
		return p, nil
	default:
		return nil, NewMemoryError("initEmbedder", ErrInvalidConfig)
	}
}
