package registry

import (
	"fmt"
	"io"
	"strings"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/logger"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of the registry configuration file (§6:
// "one JSON document with a top-level nodes mapping"). yaml.v3 unmarshals
// JSON too (JSON is a subset of YAML), so one loader serves both formats.
type document struct {
	Nodes map[string]Descriptor `json:"nodes" yaml:"nodes"`
}

// Binder reports whether an InvokeRef's adapter name can be bound to a
// concrete capability implementation. The Capability
// Adapters package implements this; Registry only needs the existence
// check at load time.
type Binder interface {
	CanBind(adapter string) bool
}

// Load parses a registry configuration document and registers every entry.
// Per §4.1's startup contract, an unknown category/permissionTier or an
// unbindable invoke target fails the whole load (the caller should treat
// this as fatal and abort the process).
func Load(r io.Reader, log logger.Logger, binder Binder) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New("registry.Load", errs.KindInvalidDescriptor, "", "reading registry document", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errs.New("registry.Load", errs.KindInvalidDescriptor, "", "parsing registry document", err)
	}

	reg := New(log)
	for name, d := range doc.Nodes {
		if d.Name == "" {
			d.Name = name
		}
		if d.Name != name {
			return nil, errs.New("registry.Load", errs.KindInvalidDescriptor, "", fmt.Sprintf("node key %q does not match descriptor name %q", name, d.Name), errs.ErrInvalidDescriptor)
		}
		if binder != nil && d.Invoke.Adapter != "" && !binder.CanBind(d.Invoke.Adapter) {
			return nil, errs.New("registry.Load", errs.KindInvalidDescriptor, "", fmt.Sprintf("node %q invoke target %q cannot be bound", name, d.Invoke.Adapter), errs.ErrInvalidDescriptor)
		}
		if err := reg.Register(d, binder != nil); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadJSON is a convenience wrapper over Load for callers that only ever
// deal in the JSON form described by §6.
func LoadJSON(data []byte, log logger.Logger, binder Binder) (*Registry, error) {
	return Load(strings.NewReader(string(data)), log, binder)
}
