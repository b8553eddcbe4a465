package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/core"
)

func TestMemoryError(t *testing.T) {
	err := core.NewMemoryError("AddMemory", core.ErrInvalidInput)
	require.Error(t, err)
	assert.Equal(t, "colonymem: AddMemory: invalid input", err.Error())
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	var target *core.MemoryError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "AddMemory", target.Op)
	assert.Equal(t, core.ErrInvalidInput, errors.Unwrap(err))
}

func TestNewMemoryErrorNil(t *testing.T) {
	assert.NoError(t, core.NewMemoryError("Save", nil))
}

func TestMemoryErrorJoined(t *testing.T) {
	cause := errors.New("disk full")
	err := core.NewMemoryError("Save", errors.Join(core.ErrStorageOperation, cause))
	assert.ErrorIs(t, err, core.ErrStorageOperation)
	assert.ErrorIs(t, err, cause)
}
