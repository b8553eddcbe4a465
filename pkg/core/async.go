package core

import (
	"context"
	"sync"
)

// AsyncClient runs client operations on their own goroutines.
//
// It suits hosts whose simulation thread must never block on an injection
// build or a store write: results arrive on channels and Wait or Close
// make sure every started operation finished.
//
// Example:
//
//	ac, _ := core.NewAsyncClient(cfg)
//	defer ac.Close()
//
//	res := <-ac.BuildInjectionContextAsync(ctx, "pawn_1", "pawn_2", "Any news?")
//	fmt.Println(res.Text)
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client.
//
// Parameters:
//   - cfg: Configuration; nil means DefaultConfig
//   - opts: Components that override the ones built from cfg
//
// Returns the asynchronous client, or an error if initialization fails.
func NewAsyncClient(cfg *Config, opts ...Option) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// BuildInjectionContextAsync builds an injection context in the background.
//
// Returns a channel that receives exactly one result and is then closed.
func (ac *AsyncClient) BuildInjectionContextAsync(ctx context.Context, agentID, listenerID, contextText string) <-chan InjectionResult {
	out := make(chan InjectionResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		out <- InjectionResult{
			AgentID: agentID,
			Text:    ac.BuildInjectionContext(ctx, agentID, listenerID, contextText),
		}
		close(out)
	}()
	return out
}

// AddResult is the outcome of an asynchronous add.
type AddResult struct {
	ID    string
	Error error
}

// AddMemoryAsync adds a memory in the background.
func (ac *AsyncClient) AddMemoryAsync(ctx context.Context, agentID, content string, now int64, opts ...AddOption) <-chan AddResult {
	out := make(chan AddResult, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		id, err := ac.AddMemory(ctx, agentID, content, now, opts...)
		out <- AddResult{ID: id, Error: err}
		close(out)
	}()
	return out
}

// SaveAsync saves changed agents in the background. The channel receives
// the Save error, nil on success.
func (ac *AsyncClient) SaveAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		_, err := ac.Save(ctx)
		out <- err
		close(out)
	}()
	return out
}

// Wait blocks until every operation started by the async methods finished.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
