package designer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/registry"
	"github.com/flowcore/agentrt/internal/store"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(logger.Noop{})
	require.NoError(t, r.Register(registry.Descriptor{
		Name: "web_search", Category: registry.CategorySearch, PermissionTier: registry.TierNone,
		Inputs: []string{"query"}, Outputs: []string{"results"},
		Invoke: registry.InvokeRef{Adapter: "web_search"},
	}, true))
	require.NoError(t, r.Register(registry.Descriptor{
		Name: "result_summarizer", Category: registry.CategoryAnalysis, PermissionTier: registry.TierNone,
		Inputs: []string{"results"}, Outputs: []string{"summary"},
		Invoke: registry.InvokeRef{Adapter: "result_summarizer"},
	}, true))
	return r
}

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	if onChunk != nil {
		onChunk(s.responses[i])
	}
	return s.responses[i], nil
}

const validPlan = `
name: trip search
description: search then summarize
steps:
  - stepName: search
    nodeName: web_search
    boundInputs:
      query: "lisbon trip"
    declaredOutputs: ["results"]
  - stepName: summarize
    nodeName: result_summarizer
    boundInputs:
      results: "$results"
    declaredOutputs: ["summary"]
edges:
  - from: search
    to: summarize
    actionLabel: default
`

func TestDesignSucceedsOnFirstValidPlan(t *testing.T) {
	reg := testRegistry(t)
	st, err := store.New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	llm := &scriptedLLM{responses: []string{validPlan}}
	d := New(llm, reg, st, logger.Noop{})

	tmpl, err := d.Design(context.Background(), "plan a trip to lisbon", nil, nil)
	require.NoError(t, err)
	assert.Len(t, tmpl.Steps, 2)
	assert.NotEmpty(t, tmpl.ID)
}

const planWithUnknownNode = `
name: bad plan
steps:
  - stepName: search
    nodeName: nonexistent_node
    declaredOutputs: ["results"]
edges: []
`

func TestDesignRetriesThenFails(t *testing.T) {
	reg := testRegistry(t)
	st, err := store.New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	llm := &scriptedLLM{responses: []string{planWithUnknownNode, planWithUnknownNode, planWithUnknownNode}}
	d := New(llm, reg, st, logger.Noop{})

	_, err = d.Design(context.Background(), "do something odd", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 3, llm.calls)
}

func TestDesignRecoversAfterRetry(t *testing.T) {
	reg := testRegistry(t)
	st, err := store.New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	llm := &scriptedLLM{responses: []string{planWithUnknownNode, validPlan}}
	d := New(llm, reg, st, logger.Noop{})

	tmpl, err := d.Design(context.Background(), "plan a trip", nil, nil)
	require.NoError(t, err)
	assert.Len(t, tmpl.Steps, 2)
	assert.Equal(t, 2, llm.calls)
}

func TestDesignRejectsUnresolvedInputReference(t *testing.T) {
	reg := testRegistry(t)
	st, err := store.New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	badRef := `
name: bad ref
steps:
  - stepName: summarize
    nodeName: result_summarizer
    boundInputs:
      results: "$never_written"
    declaredOutputs: ["summary"]
edges: []
`
	llm := &scriptedLLM{responses: []string{badRef, badRef, badRef}}
	d := New(llm, reg, st, logger.Noop{})

	_, err = d.Design(context.Background(), "q", nil, nil)
	assert.Error(t, err)
}
