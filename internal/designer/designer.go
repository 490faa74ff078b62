// Package designer turns a question into a validated WorkflowTemplate by
// prompting an LLM for a structured plan and retrying with validator
// feedback, grounded on the teacher's orchestrator.go planning loop
// (prompt assembly + strict parse + bounded retry) in
// orchestration/orchestrator.go.
package designer

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/registry"
	"github.com/flowcore/agentrt/internal/store"
	"github.com/flowcore/agentrt/internal/telemetry"
)

// maxAttempts bounds design attempts at 3 total (1 initial + 2 retries),
// per §4.5 / §7.
const maxAttempts = 3

// defaultSimilarCount is how many retrieved templates are shown to the LLM
// by default absent an override.
const defaultSimilarCount = 3

// LLMClient is the narrow boundary this package consumes; the concrete
// provider SDK is out of scope per spec.md §1's "Out of scope (external
// collaborators)" list. A streaming chunk callback lets the caller forward
// partial output as protocol `chunk` frames.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, onChunk func(string)) (string, error)
}

// planDocument is the wire shape the LLM is asked to emit — YAML, matching
// the registry's own configuration format (§6) and the teacher's general
// preference for YAML-first declarative documents over ad hoc JSON.
type planDocument struct {
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description"`
	Steps           []planStep        `yaml:"steps"`
	Edges           []planEdge        `yaml:"edges"`
	SharedStoreKeys []string          `yaml:"sharedStoreSchema"`
}

type planStep struct {
	StepName            string                 `yaml:"stepName"`
	NodeName             string                `yaml:"nodeName"`
	BoundInputs          map[string]interface{} `yaml:"boundInputs"`
	DeclaredOutputs      []string               `yaml:"declaredOutputs"`
	RequiresPermission   bool                   `yaml:"requiresPermission"`
}

type planEdge struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	ActionLabel string `yaml:"actionLabel"`
}

// Designer produces WorkflowTemplates from questions.
type Designer struct {
	llm      LLMClient
	registry *registry.Registry
	store    *store.Store
	logger   logger.Logger
}

// New constructs a Designer.
func New(llm LLMClient, reg *registry.Registry, st *store.Store, log logger.Logger) *Designer {
	if log == nil {
		log = logger.Noop{}
	}
	return &Designer{llm: llm, registry: reg, store: st, logger: log}
}

// Design produces a validated WorkflowTemplate for question, given any
// scratchpad keys already present at template entry (used to validate input
// references that aren't a prior step's output). onChunk, if non-nil,
// receives streamed LLM output for protocol `chunk` frames.
func (d *Designer) Design(ctx context.Context, question string, initialScratchpadKeys []string, onChunk func(string)) (store.Template, error) {
	ctx, end := telemetry.Span(ctx, "designer.Design")
	defer end()

	similar := d.store.FindSimilar(ctx, question, defaultSimilarCount)
	catalog := d.registry.SummarizeForPlanner()

	var lastErr error
	prompt := d.basePrompt(question, catalog, similar)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		telemetry.Counter("designer.attempt")
		raw, err := d.llm.Complete(ctx, prompt, onChunk)
		if err != nil {
			lastErr = errs.New("designer.Design", errs.KindDesignFailed, "", "llm call failed", err)
			prompt = d.retryPrompt(prompt, lastErr.Error())
			continue
		}

		plan, perr := parsePlan(raw)
		if perr != nil {
			lastErr = errs.New("designer.Design", errs.KindDesignFailed, "", "plan did not parse", perr)
			prompt = d.retryPrompt(prompt, lastErr.Error())
			continue
		}

		tmpl, verr := d.toTemplate(plan, initialScratchpadKeys)
		if verr != nil {
			lastErr = verr
			prompt = d.retryPrompt(prompt, verr.Error())
			continue
		}

		tmpl.QuestionPattern = question
		tmpl.ID = store.ComputeID(tmpl.Steps, tmpl.Edges)
		telemetry.Counter("designer.success")
		return tmpl, nil
	}

	telemetry.Counter("designer.failed")
	return store.Template{}, errs.New("designer.Design", errs.KindDesignFailed, "", fmt.Sprintf("failed after %d attempts", maxAttempts), lastErr)
}

func (d *Designer) basePrompt(question, catalog string, similar []store.Scored) string {
	var b strings.Builder
	b.WriteString("You are planning an agent workflow. Respond with a YAML document only.\n\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAvailable nodes:\n")
	b.WriteString(catalog)
	if len(similar) > 0 {
		b.WriteString("\n\nSimilar prior templates (for reference, do not copy blindly):\n")
		for _, s := range similar {
			fmt.Fprintf(&b, "- %s (score %.2f, success rate %.2f)\n", s.Template.Name, s.Score, s.Template.SuccessRate)
		}
	}
	b.WriteString("\nEmit a document with fields: name, description, steps (stepName, nodeName, boundInputs, declaredOutputs, requiresPermission), edges (from, to, actionLabel), sharedStoreSchema.\n")
	return b.String()
}

func (d *Designer) retryPrompt(prompt, validatorError string) string {
	return prompt + "\n\nYour previous plan was rejected: " + validatorError + "\nCorrect it and respond again with a complete YAML document.\n"
}

func parsePlan(raw string) (planDocument, error) {
	var doc planDocument
	trimmed := strings.TrimSpace(stripCodeFence(raw))
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return planDocument{}, err
	}
	return doc, nil
}

// stripCodeFence removes a leading/trailing ``` fence some LLMs wrap
// structured output in, despite being asked not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// toTemplate validates the parsed plan against the registry and the
// acyclicity/input-resolution invariants of §3, converting it into a
// store.Template on success.
func (d *Designer) toTemplate(plan planDocument, initialScratchpadKeys []string) (store.Template, error) {
	if len(plan.Steps) == 0 {
		return store.Template{}, errs.New("designer.toTemplate", errs.KindDesignFailed, "", "plan has zero steps", errs.ErrInvalidInput)
	}

	outputsByStep := make(map[string]map[string]bool, len(plan.Steps))
	steps := make([]store.Step, 0, len(plan.Steps))
	tagSet := make(map[string]struct{})

	for _, ps := range plan.Steps {
		desc, err := d.registry.Get(ps.NodeName)
		if err != nil {
			return store.Template{}, errs.New("designer.toTemplate", errs.KindDesignFailed, ps.StepName, fmt.Sprintf("unknown node %q", ps.NodeName), err)
		}
		tagSet[string(desc.Category)] = struct{}{}

		bindings := make(map[string]store.Binding, len(ps.BoundInputs))
		for key, v := range ps.BoundInputs {
			bindings[key] = resolveBinding(v)
		}
		steps = append(steps, store.Step{
			StepName:           ps.StepName,
			NodeName:           ps.NodeName,
			BoundInputs:        bindings,
			DeclaredOutputs:    ps.DeclaredOutputs,
			RequiresPermission: ps.RequiresPermission || desc.PermissionTier != registry.TierNone,
		})
		outputsByStep[ps.StepName] = make(map[string]bool, len(ps.DeclaredOutputs))
		for _, o := range ps.DeclaredOutputs {
			outputsByStep[ps.StepName][o] = true
		}
	}

	edges := make([]store.Edge, 0, len(plan.Edges))
	for _, pe := range plan.Edges {
		label := pe.ActionLabel
		if label == "" {
			label = store.DefaultAction
		}
		edges = append(edges, store.Edge{From: pe.From, To: pe.To, ActionLabel: label})
	}

	ordered, err := store.ValidateDAG(steps, edges)
	if err != nil {
		return store.Template{}, err
	}

	initialKeys := make(map[string]bool, len(initialScratchpadKeys))
	for _, k := range initialScratchpadKeys {
		initialKeys[k] = true
	}
	seenOutputs := make(map[string]bool)
	for _, s := range ordered {
		for inputKey, b := range s.BoundInputs {
			if b.Kind != store.BindingReference {
				continue
			}
			if !seenOutputs[b.Ref] && !initialKeys[b.Ref] {
				return store.Template{}, errs.New("designer.toTemplate", errs.KindDesignFailed, s.StepName,
					fmt.Sprintf("input %q references unresolved scratchpad key %q", inputKey, b.Ref), errs.ErrInvalidInput)
			}
		}
		for o := range outputsByStep[s.StepName] {
			seenOutputs[o] = true
		}
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}

	return store.Template{
		Name:              plan.Name,
		Description:       plan.Description,
		Steps:             steps,
		Edges:             edges,
		SharedStoreSchema: plan.SharedStoreKeys,
		Tags:              tags,
	}, nil
}

// resolveBinding interprets a YAML-decoded binding value: a string of the
// form "$stepOutput" is a reference, anything else is a literal.
func resolveBinding(v interface{}) store.Binding {
	if s, ok := v.(string); ok && strings.HasPrefix(s, "$") {
		return store.Binding{Kind: store.BindingReference, Ref: strings.TrimPrefix(s, "$")}
	}
	return store.Binding{Kind: store.BindingLiteral, Literal: v}
}
