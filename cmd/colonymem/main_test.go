package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFlag, dbFlag, metricsFlag, tickFlag = "", "", false, 0
	t.Setenv("COLONYMEM_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDemoInspectMaintain(t *testing.T) {
	db := filepath.Join(t.TempDir(), "colony.db")

	out, err := execute(t, "--db", db, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "saved 2 agents")
	assert.Contains(t, out, "[Background Knowledge]")
	assert.Contains(t, out, "The village burned down two winters ago")

	out, err = execute(t, "--db", db, "inspect", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice: 4 memories, 1 pinned")
	assert.Contains(t, out, "Promised to keep the well clean")

	out, err = execute(t, "--db", db, "--metrics", "maintain", "--tick", "60000")
	require.NoError(t, err)
	assert.Contains(t, out, "tick 60000: agents=2")
	assert.Contains(t, out, "# metrics")

	out, err = execute(t, "--db", db, "inject", "bob", "alice", "How is the firebreak?", "--tick", "60000")
	require.NoError(t, err)
	assert.Contains(t, out, "[Memories]")
}

func TestInspectUnknownAgent(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	_, err := execute(t, "--db", db, "inspect", "nobody")
	assert.Error(t, err)
}

func TestCommandArgs(t *testing.T) {
	_, err := execute(t, "inspect")
	assert.Error(t, err)
	_, err = execute(t, "inject", "a", "b")
	assert.Error(t, err)
}
