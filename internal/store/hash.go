package store

import (
	"sort"

	"github.com/flowcore/agentrt/internal/hashutil"
)

// canonicalHashable is the subset of a template that determines its
// identity: two templates with the same steps and edges (regardless of
// name/description/timestamps) are the same template and must coalesce to
// the same ID.
type canonicalHashable struct {
	Steps []Step `json:"steps"`
	Edges []Edge `json:"edges"`
}

// ComputeID derives the template's stable content-addressed ID from a
// canonical hash of {steps, edges}, per §3 ("id: stable, derived from a
// canonical hash of {steps, edges}").
func ComputeID(steps []Step, edges []Edge) string {
	sortedSteps := append([]Step(nil), steps...)
	sort.Slice(sortedSteps, func(i, j int) bool { return sortedSteps[i].StepName < sortedSteps[j].StepName })
	sortedEdges := append([]Edge(nil), edges...)
	sort.Slice(sortedEdges, func(i, j int) bool {
		if sortedEdges[i].From != sortedEdges[j].From {
			return sortedEdges[i].From < sortedEdges[j].From
		}
		return sortedEdges[i].To < sortedEdges[j].To
	})
	id, err := hashutil.Fingerprint(canonicalHashable{Steps: sortedSteps, Edges: sortedEdges})
	if err != nil {
		// Marshal of a plain struct of strings/maps/slices cannot fail; this
		// branch exists only to satisfy the compiler.
		return ""
	}
	return id
}
