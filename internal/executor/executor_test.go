package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentrt/internal/capability"
	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/interaction"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/permission"
	"github.com/flowcore/agentrt/internal/registry"
	"github.com/flowcore/agentrt/internal/scratchpad"
	"github.com/flowcore/agentrt/internal/store"
)

type fakeAdapter struct {
	prepareErr error
	runErrs    []error // consumed one per call; last repeats
	runCalls   int
	commitNext string
}

func (a *fakeAdapter) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	if a.prepareErr != nil {
		return nil, a.prepareErr
	}
	return bindings, nil
}

func (a *fakeAdapter) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	i := a.runCalls
	a.runCalls++
	if i < len(a.runErrs) && a.runErrs[i] != nil {
		return nil, a.runErrs[i]
	}
	return "ok", nil
}

func (a *fakeAdapter) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	sp.Set("done_"+a.commitNext, true)
	return a.commitNext, nil
}

type capturingSender struct {
	frames []string
}

func (c *capturingSender) Send(typ string, content interface{}) error {
	c.frames = append(c.frames, typ)
	return nil
}

func newHarness(t *testing.T) (*registry.Registry, *capability.Registry, *permission.Manager, *interaction.Hub, *capturingSender) {
	t.Helper()
	reg := registry.New(logger.Noop{})
	adapters := capability.NewRegistry()
	pm := permission.NewManager(logger.Noop{}, 0)
	t.Cleanup(pm.Stop)
	sender := &capturingSender{}
	hub := interaction.New(sender, logger.Noop{})
	return reg, adapters, pm, hub, sender
}

func TestRunTwoStepSuccess(t *testing.T) {
	reg, adapters, pm, hub, sender := newHarness(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "a", Category: registry.CategorySearch, PermissionTier: registry.TierNone,
		Invoke: registry.InvokeRef{Adapter: "a"},
	}, true))
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "b", Category: registry.CategoryAnalysis, PermissionTier: registry.TierNone,
		Invoke: registry.InvokeRef{Adapter: "b"},
	}, true))
	adapters.Bind("a", &fakeAdapter{commitNext: capability.DefaultAction})
	adapters.Bind("b", &fakeAdapter{commitNext: capability.DefaultAction})

	tmpl := store.Template{
		Steps: []store.Step{
			{StepName: "s1", NodeName: "a"},
			{StepName: "s2", NodeName: "b"},
		},
		Edges: []store.Edge{{From: "s1", To: "s2", ActionLabel: store.DefaultAction}},
	}
	sp := scratchpad.New(logger.Noop{}, nil)
	ex := New(reg, adapters, pm, hub, nil, logger.Noop{})

	outcome := ex.Run(context.Background(), "u1", "s1", tmpl, sp)
	assert.Empty(t, outcome.TerminalErrKind)
	require.Len(t, outcome.StepResults, 2)
	assert.True(t, outcome.StepResults[0].Success)
	assert.True(t, outcome.StepResults[1].Success)
	assert.Contains(t, sender.frames, "workflow_progress")
	assert.Contains(t, sender.frames, "node_complete")
}

func TestRunHaltsOnNonTransientCapabilityFailure(t *testing.T) {
	reg, adapters, pm, hub, _ := newHarness(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "a", Category: registry.CategorySearch, PermissionTier: registry.TierNone,
		Invoke: registry.InvokeRef{Adapter: "a"},
	}, true))
	adapters.Bind("a", &fakeAdapter{runErrs: []error{errors.New("boom")}})

	tmpl := store.Template{Steps: []store.Step{{StepName: "s1", NodeName: "a"}}}
	sp := scratchpad.New(logger.Noop{}, nil)
	ex := New(reg, adapters, pm, hub, nil, logger.Noop{})

	outcome := ex.Run(context.Background(), "u1", "s1", tmpl, sp)
	assert.Equal(t, errs.KindCapabilityFailed, outcome.TerminalErrKind)
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	reg, adapters, pm, hub, _ := newHarness(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "a", Category: registry.CategorySearch, PermissionTier: registry.TierNone,
		Invoke: registry.InvokeRef{Adapter: "a"},
	}, true))
	transient := errs.New("test", errs.KindCapabilityTransient, "s1", "flaky", errs.ErrCapabilityTransient)
	adapters.Bind("a", &fakeAdapter{runErrs: []error{transient}, commitNext: capability.DefaultAction})

	tmpl := store.Template{Steps: []store.Step{{StepName: "s1", NodeName: "a"}}}
	sp := scratchpad.New(logger.Noop{}, nil)
	ex := New(reg, adapters, pm, hub, nil, logger.Noop{})

	outcome := ex.Run(context.Background(), "u1", "s1", tmpl, sp)
	assert.Empty(t, outcome.TerminalErrKind)
	require.Len(t, outcome.StepResults, 1)
	assert.True(t, outcome.StepResults[0].Success)
}

func TestRunGatesPermissionAndHaltsOnDenial(t *testing.T) {
	reg, adapters, pm, hub, sender := newHarness(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "a", Category: registry.CategoryPayment, PermissionTier: registry.TierCritical,
		Invoke: registry.InvokeRef{Adapter: "a"},
	}, true))
	adapters.Bind("a", &fakeAdapter{commitNext: capability.DefaultAction})

	tmpl := store.Template{Steps: []store.Step{{StepName: "s1", NodeName: "a"}}}
	sp := scratchpad.New(logger.Noop{}, nil)
	ex := New(reg, adapters, pm, hub, nil, logger.Noop{})

	go func() {
		for i := 0; i < 50; i++ {
			pending := pm.ListPending("s1")
			if len(pending) > 0 {
				_ = pm.Respond(pending[0].ID, permission.StateDenied, "no thanks")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	outcome := ex.Run(context.Background(), "u1", "s1", tmpl, sp)
	assert.Equal(t, errs.KindPermissionDenied, outcome.TerminalErrKind)
	assert.Contains(t, sender.frames, "permission_request")
}

func TestRunCancelledContextYieldsSessionCancelled(t *testing.T) {
	reg, adapters, pm, hub, _ := newHarness(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "a", Category: registry.CategorySearch, PermissionTier: registry.TierNone,
		Invoke: registry.InvokeRef{Adapter: "a"},
	}, true))
	adapters.Bind("a", &fakeAdapter{commitNext: capability.DefaultAction})

	tmpl := store.Template{Steps: []store.Step{{StepName: "s1", NodeName: "a"}}}
	sp := scratchpad.New(logger.Noop{}, nil)
	ex := New(reg, adapters, pm, hub, nil, logger.Noop{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := ex.Run(ctx, "u1", "s1", tmpl, sp)
	assert.Equal(t, errs.KindSessionCancelled, outcome.TerminalErrKind)
}
