package core

import (
	"context"

	"github.com/oceanbase/colonymem/pkg/memory"
)

// defaultStreamBatch is used when a stream is opened with batchSize <= 0.
const defaultStreamBatch = 100

// MemoryBatch is one batch of a memory stream.
type MemoryBatch struct {
	// AgentID owns the memories of the batch.
	AgentID string

	// Memories are copies; changing them does not affect the bank.
	Memories []*memory.Entry

	// BatchIndex is the 0-based index of the batch in the stream.
	BatchIndex int

	// IsLastBatch is set on the final batch.
	IsLastBatch bool

	// Error ends the stream when set.
	Error error
}

// MemoriesStream streams the memories of the given agents in batches, tier
// by tier from Active to Archive. No agent ids means every agent.
//
// Each agent is copied under the client lock and then sent without holding
// it, so a slow consumer never stalls the simulation. The channel is closed
// after the last batch or after an error batch.
//
// Example:
//
//	for batch := range client.MemoriesStream(ctx, 50) {
//	    if batch.Error != nil {
//	        log.Fatal(batch.Error)
//	    }
//	    for _, e := range batch.Memories {
//	        export(batch.AgentID, e)
//	    }
//	}
func (c *Client) MemoriesStream(ctx context.Context, batchSize int, agentIDs ...string) <-chan *MemoryBatch {
	if batchSize <= 0 {
		batchSize = defaultStreamBatch
	}
	out := make(chan *MemoryBatch, 1)

	go func() {
		defer close(out)
		if len(agentIDs) == 0 {
			agentIDs = c.bank.Agents()
		}

		type pending struct {
			agentID string
			entries []*memory.Entry
		}
		var batches []pending
		for _, id := range agentIDs {
			entries := c.snapshot(id)
			for start := 0; start < len(entries); start += batchSize {
				end := min(start+batchSize, len(entries))
				batches = append(batches, pending{agentID: id, entries: entries[start:end]})
			}
		}

		for i, b := range batches {
			batch := &MemoryBatch{
				AgentID:     b.agentID,
				Memories:    b.entries,
				BatchIndex:  i,
				IsLastBatch: i == len(batches)-1,
			}
			select {
			case <-ctx.Done():
				out <- &MemoryBatch{BatchIndex: i, Error: NewMemoryError("MemoriesStream", ctx.Err())}
				return
			case out <- batch:
			}
		}
	}()
	return out
}

// snapshot copies every memory of an agent in tier order.
func (c *Client) snapshot(agentID string) []*memory.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.bank.Get(agentID)
	var out []*memory.Entry
	for _, t := range memory.AllTiers {
		for _, e := range s.Entries(t) {
			out = append(out, e.Clone())
		}
	}
	return out
}
