package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/maintenance"
	"github.com/oceanbase/colonymem/pkg/storage"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

// runnerSnapshot is the persisted maintenance state: the runner position,
// its queue and the client tick the queue delays are measured against.
type runnerSnapshot struct {
	Runner maintenance.State `json:"runner"`
	Tick   int64             `json:"tick"`
}

// Save writes every changed agent plus the shared blobs (knowledge,
// rounds, thresholds and maintenance state) to the snapshot store.
//
// Agents that failed to save stay marked and are retried by the next Save.
// Returns the number of agents written.
func (c *Client) Save(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, NewMemoryError("Save", ErrClosed)
	}
	return c.saveLocked(ctx, false)
}

// SaveAll writes every agent, changed or not.
func (c *Client) SaveAll(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, NewMemoryError("SaveAll", ErrClosed)
	}
	return c.saveLocked(ctx, true)
}

func (c *Client) saveLocked(ctx context.Context, all bool) (int, error) {
	agents := c.bank.Agents()
	saved := 0
	var errs []error
	for _, id := range agents {
		if !all && !c.dirty[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		payload, err := c.bank.EncodeAgent(id)
		if err == nil {
			err = c.store.SaveAgent(ctx, id, payload)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
			continue
		}
		delete(c.dirty, id)
		saved++
	}

	if all || c.knowledgeDirty {
		if err := c.saveJSON(ctx, storage.BlobKnowledge, c.library); err != nil {
			errs = append(errs, err)
		} else {
			c.knowledgeDirty = false
		}
	}
	if all || c.roundsDirty {
		c.bank.PruneRounds()
		payload, err := c.bank.EncodeRounds()
		if err == nil {
			err = c.store.SaveBlob(ctx, storage.BlobRounds, payload)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", storage.BlobRounds, err))
		} else {
			c.roundsDirty = false
		}
	}
	if err := c.saveJSON(ctx, storage.BlobThresholds, c.registry.Snapshot()); err != nil {
		errs = append(errs, err)
	}
	if err := c.saveJSON(ctx, storage.BlobRunner, runnerSnapshot{Runner: c.runner.State(), Tick: c.now}); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		c.logger.Warn("save incomplete", zap.Int("saved", saved), zap.Error(errors.Join(errs...)))
		return saved, NewMemoryError("Save", errors.Join(append([]error{ErrStorageOperation}, errs...)...))
	}
	c.logger.Debug("saved", zap.Int("agents", saved))
	return saved, nil
}

func (c *Client) saveJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := c.store.SaveBlob(ctx, key, payload); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Load replaces the in-memory state with the snapshot store's contents and
// runs the post-load fix-up: damaged stores are repaired, memories that
// refer to missing conversation rounds become plain memories and knowledge
// side tables are pruned.
//
// An agent whose snapshot cannot be decoded is skipped and reported; a
// missing blob leaves the corresponding state unchanged. Only store failures
// are returned as errors.
func (c *Client) Load(ctx context.Context) (*LoadReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, NewMemoryError("Load", ErrClosed)
	}

	ids, err := c.store.ListAgents(ctx)
	if err != nil {
		return nil, NewMemoryError("Load", errors.Join(ErrStorageOperation, err))
	}

	rep := &LoadReport{Agents: []string{}, Skipped: []string{}}
	for _, id := range c.bank.Agents() {
		c.bank.Drop(id)
	}
	c.bank.PruneRounds()
	for _, id := range ids {
		payload, err := c.store.LoadAgent(ctx, id)
		if err != nil {
			return nil, NewMemoryError("Load", errors.Join(ErrStorageOperation, err))
		}
		if _, err := c.bank.DecodeAgent(payload); err != nil {
			c.logger.Warn("skipping unreadable agent snapshot", zap.String("agent_id", id), zap.Error(err))
			rep.Skipped = append(rep.Skipped, id)
			continue
		}
		rep.Agents = append(rep.Agents, id)
	}

	if payload, ok, err := c.loadBlob(ctx, storage.BlobRounds); err != nil {
		return nil, err
	} else if ok {
		if err := c.bank.DecodeRounds(payload); err != nil {
			c.logger.Warn("skipping unreadable conversation rounds", zap.Error(err))
		}
	}
	if payload, ok, err := c.loadBlob(ctx, storage.BlobKnowledge); err != nil {
		return nil, err
	} else if ok {
		n, err := c.library.Decode(payload)
		if err != nil {
			c.logger.Warn("skipping unreadable knowledge library", zap.Error(err))
		}
		rep.KnowledgeRepairs = n
	}
	if payload, ok, err := c.loadBlob(ctx, storage.BlobThresholds); err != nil {
		return nil, err
	} else if ok {
		var snaps map[string]threshold.Snapshot
		if err := json.Unmarshal(payload, &snaps); err != nil {
			c.logger.Warn("skipping unreadable thresholds", zap.Error(err))
		} else {
			c.registry.Restore(snaps)
		}
	}
	if payload, ok, err := c.loadBlob(ctx, storage.BlobRunner); err != nil {
		return nil, err
	} else if ok {
		var snap runnerSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			c.logger.Warn("skipping unreadable maintenance state", zap.Error(err))
		} else {
			c.runner.Restore(snap.Runner)
			c.advance(snap.Tick)
		}
	}

	rep.Memory = c.bank.Fixup()

	// Repaired stores are written back on the next Save.
	c.dirty = make(map[string]bool)
	if rep.Memory.Repairs+rep.Memory.Dangling > 0 {
		for _, id := range rep.Agents {
			c.dirty[id] = true
		}
	}
	c.knowledgeDirty = rep.KnowledgeRepairs > 0
	c.roundsDirty = false
	c.guidelines.Clear()
	c.prompts.Clear()

	c.logger.Info("loaded",
		zap.Int("agents", len(rep.Agents)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("repairs", rep.Memory.Repairs),
		zap.Int("dangling_rounds", rep.Memory.Dangling),
		zap.Int("knowledge_repairs", rep.KnowledgeRepairs))
	return rep, nil
}

// loadBlob returns ok=false for a missing blob.
func (c *Client) loadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.store.LoadBlob(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewMemoryError("Load", errors.Join(ErrStorageOperation, fmt.Errorf("%s: %w", key, err)))
	}
	return payload, true, nil
}
