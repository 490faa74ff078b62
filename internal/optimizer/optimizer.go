// Package optimizer implements the Optimizer Stage: post-execution
// diagnosis of an Executor Outcome, Store feedback, and the single
// redesign loop on qualifying failures (§4.8), grounded on the teacher's
// post-execution classification pass in orchestration/synthesizer.go.
package optimizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/executor"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/protocol"
	"github.com/flowcore/agentrt/internal/registry"
	"github.com/flowcore/agentrt/internal/store"
	"github.com/flowcore/agentrt/internal/telemetry"
)

// Redesigner is the narrow slice of the Designer the Optimizer needs for its
// one-shot redesign loop; kept as an interface so optimizer doesn't import
// designer's LLM-client plumbing it never touches directly.
type Redesigner interface {
	Design(ctx context.Context, question string, initialScratchpadKeys []string, onChunk func(string)) (store.Template, error)
}

// Verdict is the Optimizer's final report to the session for one turn.
type Verdict struct {
	Status          protocol.EndStatus
	Summary         string
	RedesignedPlan  *store.Template
}

// Optimizer diagnoses an Executor Outcome and decides what, if anything,
// the session should do next.
type Optimizer struct {
	store      *store.Store
	registry   *registry.Registry
	redesigner Redesigner
	logger     logger.Logger
}

// New constructs an Optimizer.
func New(st *store.Store, reg *registry.Registry, redesigner Redesigner, log logger.Logger) *Optimizer {
	if log == nil {
		log = logger.Noop{}
	}
	return &Optimizer{store: st, registry: reg, redesigner: redesigner, logger: log}
}

// Diagnose implements §4.8's decision table. redesignAttempted reports
// whether this call already represents the one allowed redesign retry (the
// session loop is responsible for not calling Diagnose a third time).
func (o *Optimizer) Diagnose(ctx context.Context, outcome executor.Outcome, redesignAttempted bool) Verdict {
	ctx, end := telemetry.Span(ctx, "optimizer.Diagnose")
	defer end()

	if outcome.TerminalErrKind == "" && hasSinkSuccess(outcome) {
		telemetry.Counter("optimizer.success")
		if err := o.store.Save(ctx, outcome.Template); err != nil {
			o.logger.Warn("failed to save template after successful run", map[string]interface{}{"error": err.Error()})
		}
		if err := o.store.RecordOutcome(ctx, outcome.Template.ID, 1); err != nil {
			o.logger.Warn("failed to record success outcome", map[string]interface{}{"error": err.Error()})
		}
		return Verdict{Status: protocol.EndOK, Summary: o.summarize(outcome)}
	}

	switch outcome.TerminalErrKind {
	case errs.KindPermissionDenied:
		telemetry.Counter("optimizer.permission_denied")
		if err := o.store.IncrementUsage(ctx, outcome.Template.ID); err != nil {
			o.logger.Warn("failed to record permission-denied usage", map[string]interface{}{"error": err.Error()})
		}
		return Verdict{Status: protocol.EndFailed, Summary: "The requested action was not authorized, so the workflow stopped here."}

	case errs.KindUserCancelled, errs.KindSessionCancelled:
		telemetry.Counter("optimizer.cancelled")
		return Verdict{Status: protocol.EndCancelled}

	case errs.KindInvalidInput, errs.KindDesignFailed, errs.KindCapabilityFailed:
		if err := o.store.RecordOutcome(ctx, outcome.Template.ID, 0); err != nil {
			o.logger.Warn("failed to record failure outcome", map[string]interface{}{"error": err.Error()})
		}
		if redesignAttempted || o.redesigner == nil {
			telemetry.Counter("optimizer.terminal_failure")
			return Verdict{Status: protocol.EndFailed, Summary: o.diagnosticSummary(outcome)}
		}
		telemetry.Counter("optimizer.redesign_attempt")
		newTmpl, err := o.redesigner.Design(ctx, outcome.Template.QuestionPattern, scratchpadKeys(outcome.Scratchpad), nil)
		if err != nil {
			return Verdict{Status: protocol.EndFailed, Summary: o.diagnosticSummary(outcome)}
		}
		return Verdict{Status: protocol.EndFailed, Summary: o.diagnosticSummary(outcome), RedesignedPlan: &newTmpl}

	default:
		if err := o.store.RecordOutcome(ctx, outcome.Template.ID, 0); err != nil {
			o.logger.Warn("failed to record failure outcome", map[string]interface{}{"error": err.Error()})
		}
		return Verdict{Status: protocol.EndFailed, Summary: o.diagnosticSummary(outcome)}
	}
}

// AbsorbFeedback writes free-text feedback onto a completed template's
// tail without altering its structure (§4.8 closing paragraph).
func (o *Optimizer) AbsorbFeedback(templateID, content string) error {
	return o.store.AppendFeedback(templateID, content)
}

func hasSinkSuccess(outcome executor.Outcome) bool {
	if len(outcome.StepResults) == 0 {
		return false
	}
	return outcome.StepResults[len(outcome.StepResults)-1].Success
}

// summarize builds a human-readable summary with one "<step> completed"
// entry per successful step whose node is categorized creation or analysis
// (§4.8); the nodes' own output is not included.
func (o *Optimizer) summarize(outcome executor.Outcome) string {
	var parts []string
	for _, r := range outcome.StepResults {
		if !r.Success {
			continue
		}
		desc, err := o.registry.Get(r.NodeName)
		if err != nil {
			continue
		}
		if desc.Category == registry.CategoryCreation || desc.Category == registry.CategoryAnalysis {
			parts = append(parts, fmt.Sprintf("%s completed", r.StepName))
		}
	}
	if len(parts) == 0 {
		return "Workflow completed successfully."
	}
	return strings.Join(parts, "; ")
}

func (o *Optimizer) diagnosticSummary(outcome executor.Outcome) string {
	var failing string
	for _, r := range outcome.StepResults {
		if !r.Success {
			failing = r.StepName
			break
		}
	}
	return fmt.Sprintf("Workflow failed at step %q: %s", failing, outcome.TerminalErrKind)
}

func scratchpadKeys(sp map[string]interface{}) []string {
	keys := make([]string, 0, len(sp))
	for k := range sp {
		keys = append(keys, k)
	}
	return keys
}
