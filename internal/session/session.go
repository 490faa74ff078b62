// Package session implements one conversation's lifecycle: the phase state
// machine of §3 ("Session"), the per-session goroutine that sequences
// Designer -> Executor -> Optimizer, and the cancellation/deadline handling
// of §5. Grounded on the teacher's per-request orchestration loop in
// orchestration/orchestrator.go.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowcore/agentrt/internal/designer"
	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/executor"
	"github.com/flowcore/agentrt/internal/interaction"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/optimizer"
	"github.com/flowcore/agentrt/internal/permission"
	"github.com/flowcore/agentrt/internal/protocol"
	"github.com/flowcore/agentrt/internal/scratchpad"
	"github.com/flowcore/agentrt/internal/store"
	"github.com/flowcore/agentrt/internal/telemetry"
)

// Phase is the session's coarse state, per §3.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseDesigning          Phase = "designing"
	PhaseExecuting          Phase = "executing"
	PhaseAwaitingUser       Phase = "awaiting_user"
	PhaseAwaitingPermission Phase = "awaiting_permission"
	PhaseOptimizing         Phase = "optimizing"
	PhaseTerminal           Phase = "terminal"
)

// maxRedesignAttempts bounds the Optimizer's redesign loop at one retry
// (§4.8: "a second failure is terminal").
const maxRedesignAttempts = 1

// Deps bundles every stage the session sequences, injected so a process can
// share one Registry/Store/PermissionManager/Pool across many sessions
// while giving each session its own Scratchpad/Hub.
type Deps struct {
	Designer   *designer.Designer
	Executor   *executor.Executor
	Optimizer  *optimizer.Optimizer
	Permission *permission.Manager
	Logger     logger.Logger
	Deadline   time.Duration
}

// Session is one conversation: one scratchpad, one phase, one set of
// pending waiters (owned by its Hub), sequencing the four stages over
// however many chat/feedback turns the connection carries.
type Session struct {
	ID     string
	UserID string

	deps Deps
	hub  *interaction.Hub

	mu               sync.Mutex
	phase            Phase
	scratchpad       *scratchpad.Scratchpad
	currentTemplate  *store.Template
	redesignAttempts int

	cancel context.CancelFunc
}

// New creates a Session bound to hub (the transport-facing demultiplexer
// for this connection).
func New(id, userID string, deps Deps, hub *interaction.Hub) *Session {
	if deps.Logger == nil {
		deps.Logger = logger.Noop{}
	}
	return &Session{
		ID:         id,
		UserID:     userID,
		deps:       deps,
		hub:        hub,
		phase:      PhaseIdle,
		scratchpad: scratchpad.New(deps.Logger, nil),
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// HandleChat runs one full Designer -> Executor -> Optimizer cycle for a
// chat message, emitting protocol frames on the session's Hub throughout.
// Per §5, a session never processes a subsequent inbound chat turn until
// any pending waiter resolves — the caller (the transport read-loop) is
// responsible for only invoking HandleChat from idle.
func (s *Session) HandleChat(parent context.Context, question string) {
	deadline := s.deps.Deadline
	if deadline <= 0 {
		deadline = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, deadline)
	s.mu.Lock()
	s.cancel = cancel
	s.redesignAttempts = 0
	s.mu.Unlock()
	defer cancel()

	_, end := telemetry.Span(ctx, "session.HandleChat")
	defer end()

	_ = s.hub.Emit(protocol.TypeStart, protocol.StartContent{})
	s.runCycle(ctx, question)
}

func (s *Session) runCycle(ctx context.Context, question string) {
	s.setPhase(PhaseDesigning)
	tmpl, err := s.deps.Designer.Design(ctx, question, s.scratchpad.SnapshotKeys(), s.emitChunk)
	if err != nil {
		s.setPhase(PhaseTerminal)
		_ = s.hub.Emit(protocol.TypeEnd, protocol.EndContent{Status: protocol.EndFailed, Summary: "I couldn't design a workflow for that: " + err.Error()})
		return
	}

	s.mu.Lock()
	s.currentTemplate = &tmpl
	s.mu.Unlock()
	_ = s.hub.Emit(protocol.TypeWorkflowDesign, protocol.WorkflowDesignContent{Template: tmpl})

	s.executeAndOptimize(ctx, tmpl)
}

func (s *Session) executeAndOptimize(ctx context.Context, tmpl store.Template) {
	s.setPhase(PhaseExecuting)
	outcome := s.deps.Executor.Run(ctx, s.UserID, s.ID, tmpl, s.scratchpad)

	s.setPhase(PhaseOptimizing)
	s.mu.Lock()
	attempted := s.redesignAttempts >= maxRedesignAttempts
	s.mu.Unlock()

	verdict := s.deps.Optimizer.Diagnose(ctx, outcome, attempted)

	if verdict.RedesignedPlan != nil {
		s.mu.Lock()
		s.redesignAttempts++
		s.currentTemplate = verdict.RedesignedPlan
		s.mu.Unlock()
		_ = s.hub.Emit(protocol.TypeWorkflowDesign, protocol.WorkflowDesignContent{Template: *verdict.RedesignedPlan})
		s.executeAndOptimize(ctx, *verdict.RedesignedPlan)
		return
	}

	s.setPhase(PhaseTerminal)
	_ = s.hub.Emit(protocol.TypeEnd, protocol.EndContent{Status: verdict.Status, Summary: verdict.Summary})
	s.setPhase(PhaseIdle)
}

func (s *Session) emitChunk(content string) {
	_ = s.hub.Emit(protocol.TypeChunk, protocol.ChunkContent{Content: content})
}

// HandleFeedback absorbs an out-of-band feedback message, writing it onto
// the completed template's tail per §4.8.
func (s *Session) HandleFeedback(content string) {
	s.mu.Lock()
	tmpl := s.currentTemplate
	s.mu.Unlock()
	if tmpl == nil {
		s.deps.Logger.Warn("feedback received with no completed template", map[string]interface{}{"sessionId": s.ID})
		return
	}
	if err := s.deps.Optimizer.AbsorbFeedback(tmpl.ID, content); err != nil {
		s.deps.Logger.Warn("failed to absorb feedback", map[string]interface{}{"error": err.Error()})
	}
}

// HandleInbound routes any inbound frame: chat starts a new cycle (only
// from idle; otherwise treated as a no-op per §5's "new top-level chat"
// rule, left to the caller to sequence), user_response goes to the Hub,
// permission_response goes to the Permission Manager's Respond, feedback is
// absorbed directly.
func (s *Session) HandleInbound(ctx context.Context, typ string, content json.RawMessage) error {
	switch typ {
	case protocol.TypeChat:
		var c protocol.ChatContent
		if err := json.Unmarshal(content, &c); err != nil {
			return errs.New("session.HandleInbound", errs.KindInvalidInput, "", "malformed chat frame", err)
		}
		if s.Phase() != PhaseIdle {
			return nil
		}
		go s.HandleChat(ctx, c.Content)
		return nil
	case protocol.TypeFeedback:
		var c protocol.FeedbackContent
		if err := json.Unmarshal(content, &c); err != nil {
			return errs.New("session.HandleInbound", errs.KindInvalidInput, "", "malformed feedback frame", err)
		}
		s.HandleFeedback(c.Content)
		return nil
	case protocol.TypeUserResponse:
		s.hub.HandleInbound(typ, content)
		return nil
	case protocol.TypePermissionResponse:
		var c protocol.PermissionResponseContent
		if err := json.Unmarshal(content, &c); err != nil {
			return errs.New("session.HandleInbound", errs.KindInvalidInput, "", "malformed permission_response frame", err)
		}
		decision := permission.StateDenied
		if c.Granted {
			decision = permission.StateGranted
		}
		if err := s.deps.Permission.Respond(c.RequestID, decision, c.Response); err != nil {
			s.deps.Logger.Warn("permission_response did not match a pending request", map[string]interface{}{"requestId": c.RequestID, "error": err.Error()})
		}
		return nil
	default:
		return errs.New("session.HandleInbound", errs.KindInvalidInput, "", fmt.Sprintf("unknown inbound frame type %q", typ), errs.ErrInvalidInput)
	}
}

// Cancel tears the session down: resolves all outstanding waiters as
// cancelled, aborts the in-flight run, and releases any pending permission
// requests (§5 cancellation).
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.hub.CancelAll()
	if s.deps.Permission != nil {
		s.deps.Permission.CancelSession(s.ID)
	}
	s.setPhase(PhaseTerminal)
}
