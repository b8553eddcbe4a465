package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/llm"
	"github.com/oceanbase/colonymem/pkg/textutil"
)

// Summarizer condenses a group of same-type entries, oldest first, into the
// content of one summary entry. Implementations must always return text.
type Summarizer interface {
	Summarize(ctx context.Context, t EntryType, entries []*Entry) string
}

// SimpleSummarizer joins truncated entry contents behind a count, e.g.
// "3x: found berries; ate berries; felt sick".
type SimpleSummarizer struct {
	// MaxEntryRunes truncates each entry. Zero means 60.
	MaxEntryRunes int
}

// Summarize implements Summarizer.
func (s SimpleSummarizer) Summarize(_ context.Context, _ EntryType, entries []*Entry) string {
	limit := s.MaxEntryRunes
	if limit <= 0 {
		limit = 60
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, textutil.Truncate(e.Content, limit))
	}
	return fmt.Sprintf("%dx: %s", len(entries), strings.Join(parts, "; "))
}

// LLMSummarizer asks an LLM provider for a one-sentence summary and falls
// back to a SimpleSummarizer when the call fails or times out.
type LLMSummarizer struct {
	provider llm.Provider
	timeout  time.Duration
	fallback SimpleSummarizer
	logger   *zap.Logger
}

// NewLLMSummarizer creates an LLM-backed summarizer.
//
// Parameters:
//   - provider: LLM provider used for generation
//   - timeout: per-call timeout (zero means 5s)
//   - logger: logger for fallback warnings (nil means no logging)
func NewLLMSummarizer(provider llm.Provider, timeout time.Duration, logger *zap.Logger) *LLMSummarizer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMSummarizer{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

const summarySystemPrompt = `You condense the memories of a colony simulation character.
Summarize the given memories in one short sentence written from the character's point of view.
Keep names, places and outcomes. Reply with the sentence only.`

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, t EntryType, entries []*Entry) string {
	if s == nil || s.provider == nil {
		return s.fallbackSummary(ctx, t, entries)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory type: %s\n", t)
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.Content)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.provider.GenerateWithMessages(callCtx, []llm.Message{
		llm.System(summarySystemPrompt),
		llm.User(b.String()),
	}, llm.WithTemperature(0.2), llm.WithMaxTokens(120))
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		s.logger.Warn("llm summary failed, using simple summary",
			zap.String("type", t.String()),
			zap.Int("entries", len(entries)),
			zap.Error(err))
		return s.fallbackSummary(ctx, t, entries)
	}
	return out
}

func (s *LLMSummarizer) fallbackSummary(ctx context.Context, t EntryType, entries []*Entry) string {
	var fb SimpleSummarizer
	if s != nil {
		fb = s.fallback
	}
	return fb.Summarize(ctx, t, entries)
}
