// Package capability implements the Capability Adapters layer: a uniform
// three-phase invocation façade (prepare/run/commit) over otherwise
// heterogeneous node implementations. Adapters are the only part of the
// system that writes node outputs into the scratchpad; the Executor only
// reads it to resolve step bindings before Prepare.
package capability

import (
	"context"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/scratchpad"
)

// StepBindings is the resolved mapping from a node's declared input keys to
// concrete values for one step invocation (literals or scratchpad lookups
// already dereferenced by the Executor).
type StepBindings map[string]interface{}

// Adapter is the three-phase contract every capability implements.
//
//   - Prepare projects scratchpad + bindings into the node's typed inputs.
//     It is pure: no I/O, no side effects. InvalidInput failures belong here.
//   - Run performs the actual work (may do I/O) and must be idempotent on
//     retry — the Executor may call it again after a transient failure with
//     the exact same Prepared value.
//   - Commit writes declared outputs into the scratchpad and returns an
//     optional next-action label consumed by the edge selector.
type Adapter interface {
	Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings StepBindings) (Prepared, error)
	Run(ctx context.Context, prepared Prepared) (Result, error)
	Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared Prepared, result Result) (nextAction string, err error)
}

// Prepared is the adapter-specific projection of scratchpad + bindings
// produced by Prepare and consumed by Run. Concrete adapters type-assert
// it back to their own struct.
type Prepared interface{}

// Result is the adapter-specific output of Run, consumed by Commit.
type Result interface{}

// DefaultAction is the edge label Commit returns when a node doesn't need to
// steer control flow.
const DefaultAction = "default"

// Interactive is implemented by adapters backing a user-interaction node
// (§4.6 "if a node is a user-interaction node"). The Executor type-asserts
// for this interface after Prepare; when present, it asks Question before
// calling Run, suspends for a matching user_response, and calls
// WithResponse to fold the reply into Prepared before Run/Commit proceed as
// usual. Adapters that never suspend simply don't implement it.
type Interactive interface {
	Adapter
	Question(ctx context.Context, prepared Prepared) (prompt string, fields []string, err error)
	WithResponse(prepared Prepared, response interface{}) (Prepared, error)
}

// Registry resolves adapter names (the NodeDescriptor.Invoke.Adapter field)
// to concrete Adapter implementations, and tells the Node Registry's loader
// whether a name can be bound before it accepts a descriptor.
type Registry struct {
	byName map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Adapter)}
}

// Bind associates an adapter implementation with a name. Re-binding a name
// overwrites the previous adapter; this is a startup-time convenience, not a
// concurrency-safe runtime operation.
func (r *Registry) Bind(name string, a Adapter) {
	r.byName[name] = a
}

// CanBind implements registry.Binder.
func (r *Registry) CanBind(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Resolve looks up the adapter bound to name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, errs.New("capability.Resolve", errs.KindCapabilityFailed, "", "no adapter bound to "+name, errs.ErrNotFound)
	}
	return a, nil
}
