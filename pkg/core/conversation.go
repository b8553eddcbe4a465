package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/host"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/textutil"
)

// maxRoundSummaryRunes bounds the memory text of a recorded round.
const maxRoundSummaryRunes = 240

// RecordConversation registers a dialogue round and gives every
// participant one conversation memory pointing at it. A participant that
// already recorded this round in the current conversation is skipped, so
// hosts may call it once per listener without double-counting.
//
// The memory content is the round's lines joined and truncated. With
// exactly two participants each memory is related to the other one.
//
// Returns the new entry ids keyed by participant.
func (c *Client) RecordConversation(ctx context.Context, round memory.ConversationRound) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("RecordConversation", err)
	}
	participants := dedupStrings(round.Participants)
	if len(participants) == 0 || len(round.Lines) == 0 {
		return nil, NewMemoryError("RecordConversation", ErrInvalidInput)
	}
	if round.ID == "" {
		round.ID = c.session.NextID()
	}
	round.Participants = participants

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, NewMemoryError("RecordConversation", ErrClosed)
	}
	c.advance(round.Tick)
	owned := c.bank.AddRound(round)
	content := textutil.Truncate(strings.Join(owned.Lines, " / "), maxRoundSummaryRunes)

	ids := make(map[string]string, len(participants))
	for _, p := range participants {
		if !c.session.MarkSeen(p+"\x00round:"+owned.ID, owned.Tick) {
			continue
		}
		in := memory.NewEntry{
			Content:    content,
			Type:       memory.TypeConversation,
			Importance: -1,
			Timestamp:  owned.Tick,
			RoundID:    owned.ID,
		}
		if len(participants) == 2 {
			other := participants[0]
			if other == p {
				other = participants[1]
			}
			in.RelatedEntityID = other
			in.RelatedEntityName = host.DisplayName(c.host, other, other)
		}
		id, ok := c.bank.Insert(p, in)
		if !ok {
			continue
		}
		ids[p] = id
		c.markDirty(p)
	}
	c.roundsDirty = true

	c.logger.Debug("conversation recorded",
		zap.String("round_id", owned.ID),
		zap.Int("participants", len(participants)),
		zap.Int("memories", len(ids)))
	return ids, nil
}

// Round returns a registered conversation round.
func (c *Client) Round(id string) (*memory.ConversationRound, error) {
	r := c.bank.Round(id)
	if r == nil {
		return nil, NewMemoryError("Round", ErrNotFound)
	}
	return r, nil
}

// BatchAddMemories adds several memories in order. Each item fails or
// succeeds on its own; a duplicate is counted as skipped rather than
// failed.
func (c *Client) BatchAddMemories(ctx context.Context, items []BatchAddItem, now int64) (*BatchAddResult, error) {
	if len(items) == 0 {
		return nil, NewMemoryError("BatchAddMemories", ErrInvalidInput)
	}
	res := &BatchAddResult{
		IDs:    make([]string, len(items)),
		Errors: make([]error, len(items)),
	}
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			res.Errors[i] = NewMemoryError("BatchAddMemories", err)
			continue
		}
		id, err := c.AddMemory(ctx, it.AgentID, it.Content, now, it.Options...)
		switch {
		case err == nil:
			res.IDs[i] = id
			res.Added++
		case errors.Is(err, ErrDuplicateMemory):
			res.Skipped++
			res.Errors[i] = err
		default:
			res.Errors[i] = err
		}
	}
	return res, nil
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
