package store

import (
	"fmt"

	"github.com/flowcore/agentrt/internal/errs"
)

// ValidateDAG checks the acyclicity invariant and returns the steps in
// topological order. It also rejects templates with zero steps (§8
// boundary: "a template with zero steps is rejected at save").
func ValidateDAG(steps []Step, edges []Edge) ([]Step, error) {
	if len(steps) == 0 {
		return nil, errs.New("store.ValidateDAG", errs.KindInvalidInput, "", "template has zero steps", errs.ErrInvalidInput)
	}

	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		if _, dup := byName[s.StepName]; dup {
			return nil, errs.New("store.ValidateDAG", errs.KindInvalidInput, s.StepName, "duplicate step name", errs.ErrInvalidInput)
		}
		byName[s.StepName] = s
	}

	adj := make(map[string][]string, len(steps))
	indegree := make(map[string]int, len(steps))
	for _, s := range steps {
		indegree[s.StepName] = 0
	}
	for _, e := range edges {
		if _, ok := byName[e.From]; !ok {
			return nil, errs.New("store.ValidateDAG", errs.KindInvalidInput, "", fmt.Sprintf("edge references unknown step %q", e.From), errs.ErrInvalidInput)
		}
		if _, ok := byName[e.To]; !ok {
			return nil, errs.New("store.ValidateDAG", errs.KindInvalidInput, "", fmt.Sprintf("edge references unknown step %q", e.To), errs.ErrInvalidInput)
		}
		adj[e.From] = append(adj[e.From], e.To)
		indegree[e.To]++
	}

	// Kahn's algorithm, processing ready nodes in declared step order for a
	// deterministic result.
	queue := make([]string, 0, len(steps))
	for _, s := range steps {
		if indegree[s.StepName] == 0 {
			queue = append(queue, s.StepName)
		}
	}

	ordered := make([]Step, 0, len(steps))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[name])
		for _, next := range adj[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(steps) {
		return nil, errs.New("store.ValidateDAG", errs.KindInvalidInput, "", "workflow graph contains a cycle", errs.ErrCyclic)
	}
	return ordered, nil
}

// OutgoingEdges returns every edge leaving stepName, in declared order.
func OutgoingEdges(edges []Edge, stepName string) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.From == stepName {
			out = append(out, e)
		}
	}
	return out
}

// SelectEdge implements §4.6 step 4's edge selector: prefer an edge whose
// label matches the returned action, fall back to "default", otherwise the
// step has no successor on this branch (not an error).
func SelectEdge(edges []Edge, action string) (Edge, bool) {
	var fallback Edge
	haveFallback := false
	for _, e := range edges {
		if e.ActionLabel == action {
			return e, true
		}
		if e.ActionLabel == DefaultAction {
			fallback = e
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

// DefaultAction is the edge label treated as the unique fallback (§9: "this
// spec pins it to default as the unique fallback").
const DefaultAction = "default"
