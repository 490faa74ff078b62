// Package registry implements the Node Registry: a read-after-startup
// catalog of capability descriptors, loaded from a declarative configuration
// document and summarized into LLM-consumable prompt material for the
// Designer stage.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/logger"
)

// Category is the coarse classification used for catalog browsing and tags.
type Category string

const (
	CategorySearch          Category = "search"
	CategoryAnalysis        Category = "analysis"
	CategoryCommunication   Category = "communication"
	CategoryBooking         Category = "booking"
	CategoryPayment         Category = "payment"
	CategoryTransformation  Category = "transformation"
	CategoryCreation        Category = "creation"
	CategoryUtility         Category = "utility"
)

var validCategories = map[Category]bool{
	CategorySearch: true, CategoryAnalysis: true, CategoryCommunication: true,
	CategoryBooking: true, CategoryPayment: true, CategoryTransformation: true,
	CategoryCreation: true, CategoryUtility: true,
}

// PermissionTier is the coarse UX classification of sensitivity a node
// carries; it strictly orders permission UX (none < basic < sensitive < critical).
type PermissionTier string

const (
	TierNone      PermissionTier = "none"
	TierBasic     PermissionTier = "basic"
	TierSensitive PermissionTier = "sensitive"
	TierCritical  PermissionTier = "critical"
)

var tierRank = map[PermissionTier]int{
	TierNone: 0, TierBasic: 1, TierSensitive: 2, TierCritical: 3,
}

// Less reports whether tier a is strictly less sensitive than b.
func (t PermissionTier) Less(other PermissionTier) bool {
	return tierRank[t] < tierRank[other]
}

func validTier(t PermissionTier) bool {
	_, ok := tierRank[t]
	return ok
}

// Example is a few-shot {inputs -> outputs} pair attached to a descriptor.
type Example struct {
	Inputs  map[string]interface{} `json:"inputs" yaml:"inputs"`
	Outputs map[string]interface{} `json:"outputs" yaml:"outputs"`
}

// InvokeRef names the capability implementation bound to a descriptor; the
// Capability Adapter layer resolves this to a concrete prepare/run/commit
// implementation at load time.
type InvokeRef struct {
	Adapter string `json:"adapter" yaml:"adapter"`
}

// Descriptor is an immutable record in the registry, matching §3's
// NodeDescriptor.
type Descriptor struct {
	Name                 string         `json:"name" yaml:"name"`
	Description          string         `json:"description" yaml:"description"`
	Category             Category       `json:"category" yaml:"category"`
	PermissionTier       PermissionTier `json:"permissionTier" yaml:"permissionTier"`
	Inputs               []string       `json:"inputs" yaml:"inputs"`
	Outputs              []string       `json:"outputs" yaml:"outputs"`
	Examples             []Example      `json:"examples,omitempty" yaml:"examples,omitempty"`
	EstimatedCost        float64        `json:"estimatedCost" yaml:"estimatedCost"`
	EstimatedTimeSeconds float64        `json:"estimatedTimeSeconds" yaml:"estimatedTimeSeconds"`
	Invoke               InvokeRef      `json:"invoke" yaml:"invoke"`
}

var nameRe = mustNameMatcher()

// Registry is the read-after-startup node catalog. Reads take a shared
// read lock and are safe for concurrent use; Register is only expected to
// run during startup, but is itself safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
	logger logger.Logger
}

// New creates an empty Registry.
func New(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Noop{}
	}
	return &Registry{byName: make(map[string]Descriptor), logger: log}
}

// Register adds a descriptor to the registry. It fails with ErrDuplicateName
// if the name is already taken, and ErrInvalidDescriptor if the descriptor's
// category/tier/name/invoke target don't pass validation (§4.1 startup
// contract: these failures are meant to be fatal at process startup).
func (r *Registry) Register(d Descriptor, bound bool) error {
	if err := validate(d, bound); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		return errs.New("registry.Register", errs.KindInvalidDescriptor, "", fmt.Sprintf("duplicate node name %q", d.Name), errs.ErrDuplicateName)
	}
	r.byName[d.Name] = d
	r.logger.Debug("node registered", map[string]interface{}{"name": d.Name, "category": d.Category, "tier": d.PermissionTier})
	return nil
}

func validate(d Descriptor, bound bool) error {
	if !nameRe.MatchString(d.Name) {
		return errs.New("registry.validate", errs.KindInvalidDescriptor, "", fmt.Sprintf("node name %q does not match [a-z][a-z0-9_]*", d.Name), errs.ErrInvalidDescriptor)
	}
	if !validCategories[d.Category] {
		return errs.New("registry.validate", errs.KindInvalidDescriptor, "", fmt.Sprintf("unknown category %q for node %q", d.Category, d.Name), errs.ErrInvalidDescriptor)
	}
	if !validTier(d.PermissionTier) {
		return errs.New("registry.validate", errs.KindInvalidDescriptor, "", fmt.Sprintf("unknown permissionTier %q for node %q", d.PermissionTier, d.Name), errs.ErrInvalidDescriptor)
	}
	if bound && d.Invoke.Adapter == "" {
		return errs.New("registry.validate", errs.KindInvalidDescriptor, "", fmt.Sprintf("node %q has no bindable invoke target", d.Name), errs.ErrInvalidDescriptor)
	}
	return nil
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, errs.New("registry.Get", "", "", fmt.Sprintf("node %q not found", name), errs.ErrNotFound)
	}
	return d, nil
}

// ListAll returns every descriptor in deterministic ascending-name order.
func (r *Registry) ListAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory returns every descriptor in a category, ascending by name.
func (r *Registry) ListByCategory(cat Category) []Descriptor {
	all := r.ListAll()
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if d.Category == cat {
			out = append(out, d)
		}
	}
	return out
}

// SummarizeForPlanner renders a bounded, LLM-consumable catalog listing —
// the single source of truth passed to the Designer stage.
func (r *Registry) SummarizeForPlanner() string {
	all := r.ListAll()
	var b strings.Builder
	b.WriteString("Available nodes:\n")
	for _, d := range all {
		fmt.Fprintf(&b, "- %s (%s, permission=%s): %s\n", d.Name, d.Category, d.PermissionTier, d.Description)
		fmt.Fprintf(&b, "  inputs=%s outputs=%s\n", strings.Join(d.Inputs, ","), strings.Join(d.Outputs, ","))
		for _, ex := range d.Examples {
			fmt.Fprintf(&b, "  example: %v -> %v\n", ex.Inputs, ex.Outputs)
		}
	}
	return b.String()
}
