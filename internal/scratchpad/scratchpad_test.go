package scratchpad

import (
	"testing"

	"github.com/flowcore/agentrt/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestSeedAndGet(t *testing.T) {
	sp := New(logger.Noop{}, map[string]interface{}{"origin": "LAX"})
	v, ok := sp.Get("origin")
	assert.True(t, ok)
	assert.Equal(t, "LAX", v)
}

func TestSetOverwritesWithoutDeleting(t *testing.T) {
	sp := New(logger.Noop{}, nil)
	sp.Set("k", 1)
	sp.Set("k", 2)
	v, ok := sp.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestHasAndSnapshot(t *testing.T) {
	sp := New(logger.Noop{}, nil)
	assert.False(t, sp.Has("missing"))
	sp.Set("a", "x")
	sp.Set("b", "y")
	assert.True(t, sp.Has("a"))
	snap := sp.Snapshot()
	assert.Equal(t, map[string]interface{}{"a": "x", "b": "y"}, snap)

	// mutating the snapshot must not affect the scratchpad
	snap["a"] = "mutated"
	v, _ := sp.Get("a")
	assert.Equal(t, "x", v)
}
