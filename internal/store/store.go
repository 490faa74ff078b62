package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/telemetry"
)

// emaWeight is the weight given to the new outcome when recomputing
// successRate, per §4.3: "recomputed against an EMA of outcomes with weight
// 0.3 for the new outcome."
const emaWeight = 0.3

// Store persists accepted templates, retrieves candidates similar to a new
// question, and tracks success. The default implementation is filesystem-
// backed (one JSON document per template, per §6) with an in-memory index
// guarded by a reader-writer lock — writers exclude readers for the span of
// a template save, matching §5's shared-resource policy.
type Store struct {
	root   string
	mu     sync.RWMutex
	byID   map[string]Template
	logger logger.Logger
	cache  *redisCache
}

// New creates a Store rooted at dir. The directory is created if it doesn't
// already exist; existing *.json documents are loaded eagerly so
// findSimilar has something to search on process start.
func New(dir string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Noop{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New("store.New", errs.KindStoreIO, "", "creating store root", err)
	}
	s := &Store{root: dir, byID: make(map[string]Template), logger: log}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithRedisCache behaves like New but additionally fronts Get with a
// shared Redis cache at redisAddr. FindSimilar still ranks only this
// process's in-memory index. The filesystem remains the source of truth;
// Redis is repopulated on every Save/RecordOutcome/IncrementUsage/
// AppendFeedback and invalidated on Delete.
func NewWithRedisCache(dir string, log logger.Logger, redisAddr string) (*Store, error) {
	s, err := New(dir, log)
	if err != nil {
		return nil, err
	}
	cache, err := newRedisCache(redisAddr, log)
	if err != nil {
		return nil, errs.New("store.NewWithRedisCache", errs.KindStoreIO, "", "connecting to redis cache", err)
	}
	s.cache = cache
	return s, nil
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errs.New("store.loadAll", errs.KindStoreIO, "", "reading store root", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			s.logger.Warn("failed to read template file", map[string]interface{}{"file": e.Name(), "error": err.Error()})
			continue
		}
		var t Template
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Warn("failed to parse template file", map[string]interface{}{"file": e.Name(), "error": err.Error()})
			continue
		}
		s.byID[t.ID] = t
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

// Save validates the template's graph (rejecting cycles and zero-step
// templates) and persists it; node names are not checked against the
// Registry here. Save-then-Load round-trips field-wise equal, per §8.
//
// Re-saving a template whose content-hash id already exists (§8 scenario 4:
// "id either equals A.id (re-use)") must not clobber the usage stats
// RecordOutcome owns — usageCount/successRate/lastUsedAt/createdAt/feedback
// carry over from the existing record so repeated Designer retrieval of the
// same template never resets its learned history.
func (s *Store) Save(ctx context.Context, t Template) error {
	ctx, end := telemetry.Span(ctx, "store.Save")
	defer end()

	if _, err := ValidateDAG(t.Steps, t.Edges); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = ComputeID(t.Steps, t.Edges)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[t.ID]; ok {
		t.UsageCount = existing.UsageCount
		t.SuccessRate = existing.SuccessRate
		t.LastUsedAt = existing.LastUsedAt
		t.CreatedAt = existing.CreatedAt
		t.Feedback = existing.Feedback
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = timeNow()
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errs.New("store.Save", errs.KindStoreIO, "", "marshaling template", err)
	}

	if err := os.WriteFile(s.path(t.ID), data, 0o644); err != nil {
		telemetry.Counter("store.save.io_error")
		return errs.New("store.Save", errs.KindStoreIO, "", "writing template file", err)
	}
	s.byID[t.ID] = t
	telemetry.Counter("store.save.ok")
	if s.cache != nil {
		s.cache.put(ctx, t)
	}
	return nil
}

// Get retrieves a template by ID, preferring the Redis cache when one is
// configured and falling back to the in-process index on a miss.
func (s *Store) Get(id string) (Template, error) {
	if s.cache != nil {
		if t, ok := s.cache.get(context.Background(), id); ok {
			return t, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return Template{}, errs.New("store.Get", "", "", fmt.Sprintf("template %q not found", id), errs.ErrNotFound)
	}
	return t, nil
}

// Delete removes a template from the index, filesystem, and cache.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return errs.New("store.Delete", "", "", fmt.Sprintf("template %q not found", id), errs.ErrNotFound)
	}
	delete(s.byID, id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errs.New("store.Delete", errs.KindStoreIO, "", "removing template file", err)
	}
	if s.cache != nil {
		s.cache.invalidate(context.Background(), id)
	}
	return nil
}

// FindSimilar returns up to k candidates ordered by descending similarity
// score to question, per §4.3/§4.5 (the Designer's default N is 3, but the
// Store itself is agnostic to the caller's k).
func (s *Store) FindSimilar(ctx context.Context, question string, k int) []Scored {
	_, end := telemetry.Span(ctx, "store.FindSimilar")
	defer end()

	s.mu.RLock()
	candidates := make([]Template, 0, len(s.byID))
	for _, t := range s.byID {
		candidates = append(candidates, t)
	}
	s.mu.RUnlock()

	ranked := rankSimilar(question, candidates)
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// RecordOutcome updates usageCount/successRate/lastUsedAt after an
// execution. outcome is 1.0 for success, 0.0 for an explicit failure that
// should count against the template (PermissionDenied/UserCancelled/
// SessionCancelled must NOT reach here — the Optimizer is responsible for
// filtering those out before calling RecordOutcome).
func (s *Store) RecordOutcome(ctx context.Context, id string, outcome float64) error {
	_, end := telemetry.Span(ctx, "store.RecordOutcome")
	defer end()

	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return errs.New("store.RecordOutcome", "", "", fmt.Sprintf("template %q not found", id), errs.ErrNotFound)
	}
	previousCount := t.UsageCount
	t.UsageCount++
	if previousCount == 0 {
		t.SuccessRate = outcome
	} else {
		t.SuccessRate = emaWeight*outcome + (1-emaWeight)*t.SuccessRate
	}
	t.LastUsedAt = timeNow()
	s.byID[id] = t
	s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errs.New("store.RecordOutcome", errs.KindStoreIO, "", "marshaling template", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		// Per §7, StoreIO failures are logged and execution is not aborted
		// by learning failures — the caller decides whether to surface this.
		s.logger.Warn("failed to persist recorded outcome", map[string]interface{}{"id": id, "error": err.Error()})
		return errs.New("store.RecordOutcome", errs.KindStoreIO, "", "persisting outcome", err)
	}
	if s.cache != nil {
		s.cache.put(ctx, t)
	}
	return nil
}

// IncrementUsage bumps usageCount/lastUsedAt without touching successRate,
// for outcomes that count as a use of the template but shouldn't move its
// success statistic either way (§8 scenario 2: PermissionDenied "records
// usage but does NOT decrement successRate").
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	_, end := telemetry.Span(ctx, "store.IncrementUsage")
	defer end()

	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return errs.New("store.IncrementUsage", "", "", fmt.Sprintf("template %q not found", id), errs.ErrNotFound)
	}
	t.UsageCount++
	t.LastUsedAt = timeNow()
	s.byID[id] = t
	s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errs.New("store.IncrementUsage", errs.KindStoreIO, "", "marshaling template", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		s.logger.Warn("failed to persist incremented usage", map[string]interface{}{"id": id, "error": err.Error()})
		return errs.New("store.IncrementUsage", errs.KindStoreIO, "", "persisting usage increment", err)
	}
	if s.cache != nil {
		s.cache.put(ctx, t)
	}
	return nil
}

// AppendFeedback writes free-text feedback onto a completed template's tail
// without altering its structure (§4.8).
func (s *Store) AppendFeedback(id string, feedback string) error {
	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return errs.New("store.AppendFeedback", "", "", fmt.Sprintf("template %q not found", id), errs.ErrNotFound)
	}
	t.Feedback = append(t.Feedback, feedback)
	s.byID[id] = t
	s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errs.New("store.AppendFeedback", errs.KindStoreIO, "", "marshaling template", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return errs.New("store.AppendFeedback", errs.KindStoreIO, "", "persisting feedback", err)
	}
	if s.cache != nil {
		s.cache.put(context.Background(), t)
	}
	return nil
}

// Stats summarizes the store for operability endpoints.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{CountsByCategory: map[string]int{}}
	var total float64
	for _, t := range s.byID {
		st.TotalTemplates++
		total += t.SuccessRate
		for _, tag := range t.Tags {
			st.CountsByCategory[tag]++
		}
	}
	if st.TotalTemplates > 0 {
		st.AvgSuccessRate = total / float64(st.TotalTemplates)
	}
	return st
}

// timeNow is a var so tests can pin it; production just calls time.Now.
var timeNow = func() time.Time { return time.Now() }
