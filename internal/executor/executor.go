// Package executor implements the Executor Stage: interprets a
// WorkflowTemplate, dispatching nodes in dependency order, streaming
// progress, gating sensitive steps behind permission requests, retrying
// transient capability failures with backoff, and suspending at
// user-interaction points. Grounded on the teacher's topological dispatch
// loop in orchestration/workflow_dag.go and orchestration/workflow_executor.go.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/flowcore/agentrt/internal/capability"
	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/interaction"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/permission"
	"github.com/flowcore/agentrt/internal/protocol"
	"github.com/flowcore/agentrt/internal/registry"
	"github.com/flowcore/agentrt/internal/scratchpad"
	"github.com/flowcore/agentrt/internal/store"
	"github.com/flowcore/agentrt/internal/telemetry"
)

// maxTransientAttempts is the capability run retry ceiling (§4.6 step 3:
// "max 3 attempts").
const maxTransientAttempts = 3

// StepResult records the terminal outcome of one dispatched step, handed to
// the Optimizer on halt or completion.
type StepResult struct {
	StepName string
	NodeName string
	Success  bool
	ErrKind  errs.Kind
	Message  string
}

// Outcome is what the Executor hands the Optimizer when a template run ends
// (successfully or not), per §4.8.
type Outcome struct {
	Template         store.Template
	Scratchpad       map[string]interface{}
	StepResults      []StepResult
	TerminalErrKind  errs.Kind
}

// Pool bounds concurrent CPU-bound capability invocations process-wide
// (§5: "default 64").
type Pool struct {
	sem chan struct{}
}

// NewPool creates a worker pool with the given capacity.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 64
	}
	return &Pool{sem: make(chan struct{}, size)}
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() { <-p.sem }

// Executor interprets one WorkflowTemplate for one session.
type Executor struct {
	registry   *registry.Registry
	adapters   *capability.Registry
	permission *permission.Manager
	hub        *interaction.Hub
	pool       *Pool
	logger     logger.Logger
	rng        *rand.Rand
}

// New constructs an Executor.
func New(reg *registry.Registry, adapters *capability.Registry, pm *permission.Manager, hub *interaction.Hub, pool *Pool, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Noop{}
	}
	if pool == nil {
		pool = NewPool(0)
	}
	return &Executor{registry: reg, adapters: adapters, permission: pm, hub: hub, pool: pool, logger: log, rng: rand.New(rand.NewSource(1))}
}

// Run starts at the first step of tmpl in topological order and, after each
// completed step, follows the single outgoing edge SelectEdge picks for that
// step's action label, until a step with no matching edge; steps not on that
// path (including any further root steps) are not run. It starts from sp's
// current contents and returns the Outcome to hand the Optimizer. ctx
// cancellation unwinds with SessionCancelled (§5).
func (e *Executor) Run(ctx context.Context, userID, sessionID string, tmpl store.Template, sp *scratchpad.Scratchpad) Outcome {
	ctx, end := telemetry.Span(ctx, "executor.Run")
	defer end()

	ordered, err := store.ValidateDAG(tmpl.Steps, tmpl.Edges)
	if err != nil {
		return Outcome{Template: tmpl, Scratchpad: sp.Snapshot(), TerminalErrKind: errs.Classify(err)}
	}

	var results []StepResult
	total := len(ordered)
	current := ordered[0].StepName
	visited := map[string]bool{}

	for current != "" {
		if visited[current] {
			break // defensive: ValidateDAG already guarantees acyclicity
		}
		visited[current] = true

		step := findStep(ordered, current)
		idx := indexOf(ordered, current)

		select {
		case <-ctx.Done():
			return Outcome{Template: tmpl, Scratchpad: sp.Snapshot(), StepResults: results, TerminalErrKind: errs.KindSessionCancelled}
		default:
		}

		desc, derr := e.registry.Get(step.NodeName)
		if derr != nil {
			results = append(results, StepResult{StepName: step.StepName, NodeName: step.NodeName, Success: false, ErrKind: errs.KindInvalidInput, Message: derr.Error()})
			return Outcome{Template: tmpl, Scratchpad: sp.Snapshot(), StepResults: results, TerminalErrKind: errs.KindInvalidInput}
		}

		_ = e.hub.Emit(protocol.TypeWorkflowProgress, protocol.WorkflowProgressContent{
			StepIndex: idx, TotalSteps: total, StepName: step.StepName, NodeName: step.NodeName, Description: desc.Description,
		})

		nextAction, stepErr := e.runStep(ctx, userID, sessionID, step, desc, sp)
		if stepErr != nil {
			kind := errs.Classify(stepErr)
			results = append(results, StepResult{StepName: step.StepName, NodeName: step.NodeName, Success: false, ErrKind: kind, Message: stepErr.Error()})
			_ = e.hub.Emit(protocol.TypeNodeError, protocol.NodeErrorContent{StepName: step.StepName, ErrorKind: string(kind), Message: stepErr.Error()})
			return Outcome{Template: tmpl, Scratchpad: sp.Snapshot(), StepResults: results, TerminalErrKind: kind}
		}

		results = append(results, StepResult{StepName: step.StepName, NodeName: step.NodeName, Success: true})
		_ = e.hub.Emit(protocol.TypeNodeComplete, protocol.NodeCompleteContent{StepName: step.StepName})

		edge, ok := store.SelectEdge(store.OutgoingEdges(tmpl.Edges, step.StepName), nextAction)
		if !ok {
			current = "" // sink step reached
			break
		}
		current = edge.To
	}

	return Outcome{Template: tmpl, Scratchpad: sp.Snapshot(), StepResults: results}
}

func findStep(steps []store.Step, name string) store.Step {
	for _, s := range steps {
		if s.StepName == name {
			return s
		}
	}
	return store.Step{}
}

func indexOf(steps []store.Step, name string) int {
	for i, s := range steps {
		if s.StepName == name {
			return i
		}
	}
	return -1
}

// runStep performs the full prepare/[permission]/run-with-retry/commit cycle
// for one step (§4.6), returning the nextAction label on success.
func (e *Executor) runStep(ctx context.Context, userID, sessionID string, step store.Step, desc registry.Descriptor, sp *scratchpad.Scratchpad) (string, error) {
	adapter, err := e.adapters.Resolve(desc.Invoke.Adapter)
	if err != nil {
		return "", err
	}

	bindings := resolveBindings(step, sp)

	prepared, err := adapter.Prepare(ctx, sp, bindings)
	if err != nil {
		return "", errs.New("executor.runStep", errs.KindInvalidInput, step.StepName, "prepare failed", err)
	}

	if interactive, ok := adapter.(capability.Interactive); ok {
		prompt, fields, qerr := interactive.Question(ctx, prepared)
		if qerr != nil {
			return "", errs.New("executor.runStep", errs.KindInvalidInput, step.StepName, "question generation failed", qerr)
		}
		questionID, wait, aerr := e.hub.AskUser(prompt, fields)
		if aerr != nil {
			return "", errs.New("executor.runStep", errs.KindCapabilityFailed, step.StepName, "asking user", aerr)
		}
		e.logger.Debug("awaiting user response", map[string]interface{}{"step": step.StepName, "questionId": questionID})

		select {
		case reply := <-wait:
			if reply.Cancelled {
				return "", errs.New("executor.runStep", errs.KindUserCancelled, step.StepName, "session terminated before reply", errs.ErrUserCancelled)
			}
			var content interface{}
			var s string
			if jsonUnmarshalString(reply.Content, &s) {
				content = s
			} else {
				content = string(reply.Content)
			}
			prepared, err = interactive.WithResponse(prepared, content)
			if err != nil {
				return "", errs.New("executor.runStep", errs.KindInvalidInput, step.StepName, "folding user reply", err)
			}
		case <-ctx.Done():
			return "", errs.New("executor.runStep", errs.KindSessionCancelled, step.StepName, "session cancelled", errs.ErrSessionCancelled)
		}
	}

	if desc.PermissionTier != registry.TierNone || step.RequiresPermission {
		if err := e.gatePermission(ctx, userID, sessionID, step, desc); err != nil {
			return "", err
		}
	}

	result, err := e.runWithRetry(ctx, adapter, prepared, step.StepName)
	if err != nil {
		return "", err
	}

	nextAction, err := adapter.Commit(ctx, sp, prepared, result)
	if err != nil {
		return "", errs.New("executor.runStep", errs.KindCapabilityFailed, step.StepName, "commit failed", err)
	}
	if nextAction == "" {
		nextAction = capability.DefaultAction
	}
	return nextAction, nil
}

func (e *Executor) gatePermission(ctx context.Context, userID, sessionID string, step store.Step, desc registry.Descriptor) error {
	tier := permission.Tier(desc.PermissionTier)
	if tier == "" || desc.PermissionTier == registry.TierNone {
		tier = permission.TierBasic
	}
	details := map[string]interface{}{"step": step.StepName, "node": step.NodeName}
	requestID, wait, err := e.permission.Create(ctx, userID, sessionID, string(desc.Category), details, tier, 0)
	if err != nil {
		return errs.New("executor.gatePermission", errs.KindCapabilityFailed, step.StepName, "opening permission request", err)
	}

	req, err := e.permission.Get(requestID)
	if err != nil {
		return errs.New("executor.gatePermission", errs.KindCapabilityFailed, step.StepName, "reading permission request", err)
	}
	if err := e.hub.Emit(protocol.TypePermissionReq, protocol.PermissionRequestContent{
		RequestID:   requestID,
		Operation:   string(desc.Category),
		Description: fmt.Sprintf("%s requires %s approval to run %q", desc.Description, tier, step.StepName),
		Tier:        string(tier),
		ExpiresAt:   req.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		e.logger.Warn("failed to emit permission_request frame", map[string]interface{}{"step": step.StepName, "error": err.Error()})
	}

	select {
	case decision := <-wait:
		switch decision.State {
		case permission.StateGranted:
			return nil
		case permission.StateDenied:
			return errs.New("executor.gatePermission", errs.KindPermissionDenied, step.StepName, "permission denied", errs.ErrPermissionDenied)
		case permission.StateExpired:
			return errs.New("executor.gatePermission", errs.KindPermissionExpired, step.StepName, "permission expired", errs.ErrPermissionExpired)
		default:
			return errs.New("executor.gatePermission", errs.KindSessionCancelled, step.StepName, "permission cancelled", errs.ErrSessionCancelled)
		}
	case <-ctx.Done():
		return errs.New("executor.gatePermission", errs.KindSessionCancelled, step.StepName, "session cancelled while awaiting permission", errs.ErrSessionCancelled)
	}
}

// runWithRetry invokes adapter.Run, retrying classifiable transient errors
// with exponential backoff (§4.6 step 3).
func (e *Executor) runWithRetry(ctx context.Context, adapter capability.Adapter, prepared capability.Prepared, stepName string) (capability.Result, error) {
	if err := e.pool.acquire(ctx); err != nil {
		return nil, errs.New("executor.runWithRetry", errs.KindSessionCancelled, stepName, "waiting for worker pool", err)
	}
	defer e.pool.release()

	var lastErr error
	for attempt := 1; attempt <= maxTransientAttempts; attempt++ {
		result, err := adapter.Run(ctx, prepared)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errs.IsTransient(err) {
			return nil, errs.New("executor.runWithRetry", errs.KindCapabilityFailed, stepName, "capability run failed", err)
		}
		telemetry.Counter("executor.transient_retry")
		if attempt == maxTransientAttempts {
			break
		}
		delay := backoffDelay(attempt, e.rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.New("executor.runWithRetry", errs.KindSessionCancelled, stepName, "cancelled during backoff", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, errs.New("executor.runWithRetry", errs.KindCapabilityFailed, stepName, fmt.Sprintf("exhausted %d attempts", maxTransientAttempts), lastErr)
}

// jsonUnmarshalString reports whether raw decodes cleanly as a bare string.
func jsonUnmarshalString(raw []byte, out *string) bool {
	return json.Unmarshal(raw, out) == nil
}

// resolveBindings dereferences a step's bound inputs against the scratchpad
// into the flat map an Adapter.Prepare expects.
func resolveBindings(step store.Step, sp *scratchpad.Scratchpad) capability.StepBindings {
	out := make(capability.StepBindings, len(step.BoundInputs))
	for key, b := range step.BoundInputs {
		switch b.Kind {
		case store.BindingLiteral:
			out[key] = b.Literal
		case store.BindingReference:
			if v, ok := sp.Get(b.Ref); ok {
				out[key] = v
			}
		}
	}
	return out
}
