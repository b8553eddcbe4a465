// Package core provides the colonymem client: the per-agent memory bank,
// the knowledge library and the injection pipeline that turns both into
// prompt context for a dialogue backend.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/colonymem/pkg/cache"
	"github.com/oceanbase/colonymem/pkg/embedder"
	"github.com/oceanbase/colonymem/pkg/knowledge"
	"github.com/oceanbase/colonymem/pkg/maintenance"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/normalize"
	"github.com/oceanbase/colonymem/pkg/scoring"
	"github.com/oceanbase/colonymem/pkg/simtime"
	"github.com/oceanbase/colonymem/pkg/storage/oceanbase"
	"github.com/oceanbase/colonymem/pkg/storage/postgres"
	"github.com/oceanbase/colonymem/pkg/storage/sqlite"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

// Store providers.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
	StoreOceanBase = "oceanbase"
)

// Embedding and LLM providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
)

// Config contains the complete configuration for a colonymem client.
//
// Every section has usable defaults; DefaultConfig returns them and the
// loaders decode on top of it, so a config file only names what it
// changes.
//
// Example:
//
//	cfg := core.DefaultConfig()
//	cfg.Store = core.StoreConfig{
//	    Provider: core.StoreSQLite,
//	    SQLite:   sqlite.Config{DBPath: "./colony.db"},
//	}
//	cfg.Knowledge.AdaptiveThreshold = true
type Config struct {
	// Tiers configures tier capacities, decay rates and archival.
	Tiers memory.Config `json:"tiers" yaml:"tiers"`

	// Scoring configures the relevance scorer and scene weight overrides.
	Scoring scoring.Config `json:"scoring" yaml:"scoring"`

	// Knowledge configures knowledge matching, chaining and hybrid scoring.
	Knowledge knowledge.Config `json:"knowledge" yaml:"knowledge"`

	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Threshold configures the adaptive threshold trackers.
	Threshold threshold.Config `json:"threshold" yaml:"threshold"`

	Maintenance maintenance.Config `json:"maintenance" yaml:"maintenance"`
	Injection   InjectionConfig    `json:"injection" yaml:"injection"`
	Clock       simtime.Clock      `json:"clock" yaml:"clock"`
	Session     SessionConfig      `json:"session" yaml:"session"`

	// Normalize lists user rewrite rules applied to context text before
	// keyword extraction. Invalid rules are skipped.
	Normalize []normalize.Rule `json:"normalize" yaml:"normalize"`

	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// CacheConfig sizes the two injection caches.
type CacheConfig struct {
	Conversation cache.ConversationConfig `json:"conversation" yaml:"conversation"`
	Prompt       cache.PromptConfig       `json:"prompt" yaml:"prompt"`
}

// InjectionConfig controls BuildInjectionContext.
type InjectionConfig struct {
	// MaxMemories caps the memory lines of one injection. Default: 10.
	MaxMemories int `json:"max_memories" yaml:"max_memories"`

	// MinMemoryScore drops memories scoring below it. Ignored when
	// AdaptiveMemoryThreshold is on.
	MinMemoryScore float64 `json:"min_memory_score" yaml:"min_memory_score"`

	// AdaptiveMemoryThreshold takes the memory cut-off from the memory
	// threshold tracker.
	AdaptiveMemoryThreshold bool `json:"adaptive_memory_threshold" yaml:"adaptive_memory_threshold"`

	IncludeEventLog bool `json:"include_event_log" yaml:"include_event_log"`
	IncludeArchive  bool `json:"include_archive" yaml:"include_archive"`

	// Guidelines are fixed rule lines placed before the generated ones.
	Guidelines []string `json:"guidelines" yaml:"guidelines"`

	// ContextKeywords is the keyword count of the prompt cache context
	// fingerprint. Default: 8.
	ContextKeywords int `json:"context_keywords" yaml:"context_keywords"`
}

// SessionConfig configures the per-client session context.
type SessionConfig struct {
	// NodeID is the snowflake node (0-1023) used for entry ids.
	NodeID int64 `json:"node_id" yaml:"node_id"`

	// TTLTicks is the idle time after which the conversation dedup set
	// resets. Default: 2500.
	TTLTicks int64 `json:"ttl_ticks" yaml:"ttl_ticks"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: none, openai
type EmbedderConfig struct {
	Provider   string `json:"provider" yaml:"provider"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// Guard bounds embedding latency and request rate.
	Guard embedder.GuardConfig `json:"guard" yaml:"guard"`
}

// LLMConfig contains configuration for the summarization LLM.
//
// Supported providers: none, openai
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Timeout bounds one summary request. Default: 10s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Queue runs summaries through the delayed maintenance queue instead
	// of inline. It is implied whenever an LLM provider is configured.
	Queue bool `json:"queue" yaml:"queue"`
}

// StoreConfig selects and configures the snapshot store.
//
// Supported providers: memory, sqlite, postgres, oceanbase
type StoreConfig struct {
	Provider  string           `json:"provider" yaml:"provider"`
	SQLite    sqlite.Config    `json:"sqlite" yaml:"sqlite"`
	Postgres  postgres.Config  `json:"postgres" yaml:"postgres"`
	OceanBase oceanbase.Config `json:"oceanbase" yaml:"oceanbase"`
}

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `json:"level" yaml:"level"`

	// Development selects zap's development preset.
	Development bool `json:"development" yaml:"development"`

	// Encoding is json or console. Empty uses the preset's encoding.
	Encoding string `json:"encoding" yaml:"encoding"`
}

// DefaultConfig returns the default configuration: an in-memory store with
// keyword-only knowledge matching and rule-based summaries.
func DefaultConfig() *Config {
	return &Config{
		Tiers:       memory.DefaultConfig(),
		Scoring:     scoring.DefaultConfig(),
		Knowledge:   knowledge.DefaultConfig(),
		Threshold:   threshold.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
		Cache: CacheConfig{
			Conversation: cache.DefaultConversationConfig(),
			Prompt:       cache.DefaultPromptConfig(),
		},
		Injection: InjectionConfig{
			MaxMemories:     10,
			IncludeEventLog: true,
			IncludeArchive:  true,
			ContextKeywords: cache.DefaultFingerprintKeywords,
		},
		Clock:     simtime.Default(),
		Session:   SessionConfig{TTLTicks: 2500},
		Normalize: []normalize.Rule{},
		Embedder: EmbedderConfig{
			Provider: ProviderNone,
			Guard:    embedder.DefaultGuardConfig(),
		},
		LLM: LLMConfig{
			Provider: ProviderNone,
			Timeout:  10 * time.Second,
		},
		Store: StoreConfig{
			Provider: StoreMemory,
			SQLite:   sqlite.Config{DBPath: "./colonymem.db"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Overrides DefaultConfig with the COLONYMEM_* variables that are set
//
// Supported environment variables:
//   - COLONYMEM_STORE (memory, sqlite, postgres, oceanbase), COLONYMEM_COLLECTION
//   - COLONYMEM_SQLITE_PATH
//   - COLONYMEM_POSTGRES_HOST, _PORT, _USER, _PASSWORD, _DATABASE, _SSLMODE
//   - COLONYMEM_OCEANBASE_HOST, _PORT, _USER, _PASSWORD, _DATABASE
//   - COLONYMEM_EMBEDDING_PROVIDER, _API_KEY, _MODEL, _BASE_URL, _DIMS
//   - COLONYMEM_LLM_PROVIDER, _API_KEY, _MODEL, _BASE_URL, COLONYMEM_LLM_QUEUE
//   - COLONYMEM_ACTIVE_CAP, COLONYMEM_SITUATIONAL_CAP, COLONYMEM_EVENT_LOG_CAP
//   - COLONYMEM_ADAPTIVE_THRESHOLD, COLONYMEM_CHAINING, COLONYMEM_CHAIN_ROUNDS
//   - COLONYMEM_HYBRID_BALANCE, COLONYMEM_TICKS_PER_HOUR, COLONYMEM_NODE_ID
//   - COLONYMEM_LOG_LEVEL, COLONYMEM_LOG_DEVELOPMENT
//
// Returns a Config instance, or an error if a variable cannot be parsed.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	e := envReader{}

	cfg.Store.Provider = e.str("COLONYMEM_STORE", cfg.Store.Provider)
	collection := os.Getenv("COLONYMEM_COLLECTION")
	cfg.Store.SQLite = sqlite.Config{
		DBPath:         e.str("COLONYMEM_SQLITE_PATH", cfg.Store.SQLite.DBPath),
		CollectionName: collection,
	}
	cfg.Store.Postgres = postgres.Config{
		Host:           e.str("COLONYMEM_POSTGRES_HOST", "localhost"),
		Port:           e.int("COLONYMEM_POSTGRES_PORT", 5432),
		User:           e.str("COLONYMEM_POSTGRES_USER", "postgres"),
		Password:       os.Getenv("COLONYMEM_POSTGRES_PASSWORD"),
		DBName:         e.str("COLONYMEM_POSTGRES_DATABASE", "colonymem"),
		SSLMode:        e.str("COLONYMEM_POSTGRES_SSLMODE", "disable"),
		CollectionName: collection,
	}
	cfg.Store.OceanBase = oceanbase.Config{
		Host:           e.str("COLONYMEM_OCEANBASE_HOST", "127.0.0.1"),
		Port:           e.int("COLONYMEM_OCEANBASE_PORT", 2881),
		User:           e.str("COLONYMEM_OCEANBASE_USER", "root@sys"),
		Password:       os.Getenv("COLONYMEM_OCEANBASE_PASSWORD"),
		DBName:         e.str("COLONYMEM_OCEANBASE_DATABASE", "colonymem"),
		CollectionName: collection,
	}

	cfg.Embedder.Provider = e.str("COLONYMEM_EMBEDDING_PROVIDER", cfg.Embedder.Provider)
	cfg.Embedder.APIKey = os.Getenv("COLONYMEM_EMBEDDING_API_KEY")
	cfg.Embedder.Model = os.Getenv("COLONYMEM_EMBEDDING_MODEL")
	cfg.Embedder.BaseURL = os.Getenv("COLONYMEM_EMBEDDING_BASE_URL")
	cfg.Embedder.Dimensions = e.int("COLONYMEM_EMBEDDING_DIMS", 0)

	cfg.LLM.Provider = e.str("COLONYMEM_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.APIKey = os.Getenv("COLONYMEM_LLM_API_KEY")
	cfg.LLM.Model = os.Getenv("COLONYMEM_LLM_MODEL")
	cfg.LLM.BaseURL = os.Getenv("COLONYMEM_LLM_BASE_URL")
	cfg.LLM.Queue = e.bool("COLONYMEM_LLM_QUEUE", cfg.LLM.Queue)

	cfg.Tiers.Capacities.Active = e.int("COLONYMEM_ACTIVE_CAP", cfg.Tiers.Capacities.Active)
	cfg.Tiers.Capacities.Situational = e.int("COLONYMEM_SITUATIONAL_CAP", cfg.Tiers.Capacities.Situational)
	cfg.Tiers.Capacities.EventLog = e.int("COLONYMEM_EVENT_LOG_CAP", cfg.Tiers.Capacities.EventLog)

	cfg.Knowledge.AdaptiveThreshold = e.bool("COLONYMEM_ADAPTIVE_THRESHOLD", cfg.Knowledge.AdaptiveThreshold)
	cfg.Injection.AdaptiveMemoryThreshold = cfg.Knowledge.AdaptiveThreshold
	cfg.Knowledge.EnableChaining = e.bool("COLONYMEM_CHAINING", cfg.Knowledge.EnableChaining)
	cfg.Knowledge.MaxRounds = e.int("COLONYMEM_CHAIN_ROUNDS", cfg.Knowledge.MaxRounds)
	cfg.Knowledge.Balance = e.float("COLONYMEM_HYBRID_BALANCE", cfg.Knowledge.Balance)

	cfg.Clock.TicksPerHour = int64(e.int("COLONYMEM_TICKS_PER_HOUR", int(cfg.Clock.TicksPerHour)))
	cfg.Session.NodeID = int64(e.int("COLONYMEM_NODE_ID", int(cfg.Session.NodeID)))

	cfg.Log.Level = e.str("COLONYMEM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = e.bool("COLONYMEM_LOG_DEVELOPMENT", cfg.Log.Development)

	if len(e.errs) > 0 {
		return nil, NewMemoryError("LoadConfigFromEnv",
			fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(e.errs, "; ")))
	}
	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewMemoryError("LoadConfigFromEnvFile", fmt.Errorf("load .env file: %w", err))
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields missing
// from the file keep their defaults.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}
	return cfg, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Fields missing
// from the file keep their defaults. Durations are written as Go duration
// strings ("300ms", "10s").
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}
	return cfg, nil
}

// LoadConfigFile picks the loader from the file extension: .yaml and .yml
// use LoadConfigFromYAML, anything else LoadConfigFromJSON.
func LoadConfigFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	default:
		return LoadConfigFromJSON(path)
	}
}

// Validate checks the structural parts of the configuration. Value ranges
// that have a sensible default are repaired by the components themselves
// and are not reported here.
//
// Returns an error wrapping ErrInvalidConfig, nil otherwise.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	caps := c.Tiers.Capacities
	if caps.Active < 0 || caps.Situational < 0 || caps.EventLog < 0 {
		add("tier capacities must not be negative")
	}
	if c.Knowledge.Balance < 0 || c.Knowledge.Balance > 1 {
		add("knowledge.balance %v outside [0,1]", c.Knowledge.Balance)
	}
	if c.Knowledge.MaxRounds < 0 {
		add("knowledge.max_rounds must not be negative")
	}
	if c.Injection.MaxMemories < 0 {
		add("injection.max_memories must not be negative")
	}
	if c.Session.NodeID < 0 || c.Session.NodeID > 1023 {
		add("session.node_id %d outside [0,1023]", c.Session.NodeID)
	}

	switch c.Store.Provider {
	case "", StoreMemory, StorePostgres, StoreOceanBase:
	case StoreSQLite:
		if c.Store.SQLite.DBPath == "" {
			add("store.sqlite.db_path is required")
		}
	default:
		add("unknown store provider %q", c.Store.Provider)
	}

	switch c.Embedder.Provider {
	case "", ProviderNone:
	case ProviderOpenAI:
		if c.Embedder.APIKey == "" {
			add("embedder.api_key is required for %s", c.Embedder.Provider)
		}
	default:
		add("unknown embedder provider %q", c.Embedder.Provider)
	}

	switch c.LLM.Provider {
	case "", ProviderNone:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			add("llm.api_key is required for %s", c.LLM.Provider)
		}
	default:
		add("unknown llm provider %q", c.LLM.Provider)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; ")))
	}
	return nil
}

// envReader reads typed variables and collects parse failures.
type envReader struct {
	errs []string
}

func (r *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q is not an integer", key, v))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q is not a number", key, v))
		return def
	}
	return f
}

func (r *envReader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q is not a boolean", key, v))
		return def
	}
	return b
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i <= 5; i++ {
		for _, name := range []string{".env", ".env.example"} {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
