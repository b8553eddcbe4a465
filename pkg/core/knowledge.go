package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/knowledge"
)

// AddKnowledge adds a fact to the shared library. A fact without an id gets
// one from the session. When an embedding provider is available the fact
// is embedded right away; a failed embedding leaves it keyword-only until
// IndexKnowledge runs again.
//
// Returns the fact id.
func (c *Client) AddKnowledge(ctx context.Context, e *knowledge.Entry) (string, error) {
	if e == nil || strings.TrimSpace(e.Content) == "" {
		return "", NewMemoryError("AddKnowledge", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = c.session.NextID()
	}
	if err := c.library.Add(e); err != nil {
		if errors.Is(err, knowledge.ErrDuplicateID) {
			return "", NewMemoryError("AddKnowledge", fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}
		return "", NewMemoryError("AddKnowledge", err)
	}
	c.knowledgeChanged()

	if c.embedder.Available() && c.cfg.Knowledge.EnableVector {
		if vec, ok := c.embedder.Embed(ctx, e.Tag+": "+e.Content); ok {
			c.library.SetEmbedding(e.ID, vec)
		}
	}
	c.logger.Debug("knowledge added", zap.String("id", e.ID), zap.String("tag", e.Tag))
	return e.ID, nil
}

// UpdateKnowledge applies fn to a fact and marks it user-edited. A content
// change drops the fact's embedding.
func (c *Client) UpdateKnowledge(id string, fn func(*knowledge.Entry)) error {
	ok := c.library.Update(id, func(e *knowledge.Entry) {
		fn(e)
		e.IsUserEdited = true
	})
	if !ok {
		return NewMemoryError("UpdateKnowledge", ErrNotFound)
	}
	c.knowledgeChanged()
	return nil
}

// RemoveKnowledge deletes a fact together with its flags and embedding.
func (c *Client) RemoveKnowledge(id string) error {
	if !c.library.Remove(id) {
		return NewMemoryError("RemoveKnowledge", ErrNotFound)
	}
	c.knowledgeChanged()
	return nil
}

// SetKnowledgeFlags sets a fact's chaining flags.
func (c *Client) SetKnowledgeFlags(id string, f knowledge.Flags) error {
	if !c.library.SetFlags(id, f) {
		return NewMemoryError("SetKnowledgeFlags", ErrNotFound)
	}
	c.knowledgeChanged()
	return nil
}

// SetGlobalExclude sets the keywords that suppress every fact when they
// appear in the context.
func (c *Client) SetGlobalExclude(keywords ...string) {
	c.library.SetGlobalExclude(keywords)
	c.knowledgeChanged()
}

// Knowledge returns the library's facts in insertion order. The entries are
// shared; change them through UpdateKnowledge.
func (c *Client) Knowledge() []*knowledge.Entry {
	return c.library.Entries()
}

// Library returns the knowledge library.
func (c *Client) Library() *knowledge.Library {
	return c.library
}

// IndexKnowledge embeds every fact that has no embedding yet and returns
// how many were embedded.
func (c *Client) IndexKnowledge(ctx context.Context) int {
	if !c.cfg.Knowledge.EnableVector {
		return 0
	}
	n := c.engine.IndexEmbeddings(ctx)
	if n > 0 {
		c.knowledgeChanged()
	}
	return n
}

// knowledgeChanged drops every cached prompt. Fact edits and flag changes
// do not move the counts the prompt cache validates against.
func (c *Client) knowledgeChanged() {
	c.prompts.Clear()
	c.mu.Lock()
	c.knowledgeDirty = true
	c.mu.Unlock()
}
