package core

import (
	"github.com/oceanbase/colonymem/pkg/memory"
)

// AgentStats summarizes one agent's memory bank.
type AgentStats struct {
	AgentID string

	// Tiers counts entries per tier.
	Tiers map[memory.Tier]int

	Total  int
	Pinned int

	// Knowledge is the number of enabled facts that apply to the agent.
	Knowledge int
}

// LoadReport describes a Load run.
type LoadReport struct {
	// Agents lists the agents whose snapshots were loaded.
	Agents []string

	// Skipped lists agents whose snapshots could not be decoded.
	Skipped []string

	// Memory reports the repairs of the post-load memory fix-up.
	Memory memory.FixupReport

	// KnowledgeRepairs counts facts repaired by the knowledge fix-up.
	KnowledgeRepairs int
}

// InjectionResult is the outcome of an asynchronous injection build.
type InjectionResult struct {
	AgentID string
	Text    string
}

// BatchAddItem is one memory of a BatchAddMemories call.
type BatchAddItem struct {
	AgentID string
	Content string
	Options []AddOption
}

// BatchAddResult reports a BatchAddMemories call. IDs and Errors are
// parallel to the input; a failed item has an empty id.
type BatchAddResult struct {
	IDs     []string
	Errors  []error
	Added   int
	Skipped int
}
