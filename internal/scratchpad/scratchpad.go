// Package scratchpad implements the per-session dataplane between workflow
// steps: a monotonic key-value map where writes never delete but may
// overwrite a previously-written key, with overwrites logged.
package scratchpad

import (
	"sync"

	"github.com/flowcore/agentrt/internal/logger"
)

// Scratchpad is exclusive to its owning session; there is no cross-session
// sharing (§5).
type Scratchpad struct {
	mu     sync.RWMutex
	values map[string]interface{}
	logger logger.Logger
}

// New creates an empty Scratchpad, optionally seeded with initial entry
// keys already present at template entry (per §3, step input references may
// target these).
func New(log logger.Logger, seed map[string]interface{}) *Scratchpad {
	if log == nil {
		log = logger.Noop{}
	}
	values := make(map[string]interface{}, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Scratchpad{values: values, logger: log}
}

// Get reads a key; ok is false if the key was never written.
func (s *Scratchpad) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set writes a key, logging when it overwrites an existing value.
func (s *Scratchpad) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.values[key]; existed {
		s.logger.Debug("scratchpad key overwritten", map[string]interface{}{"key": key})
	}
	s.values[key] = value
}

// Has reports whether a key has ever been written.
func (s *Scratchpad) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// SnapshotKeys returns the set of keys currently written, useful for
// validating a template's input references against what's already present
// at template entry.
func (s *Scratchpad) SnapshotKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of every key currently set, useful for
// passing to the Optimizer after execution halts.
func (s *Scratchpad) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
