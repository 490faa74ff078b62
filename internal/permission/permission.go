// Package permission implements the create/track/resolve/expire lifecycle
// for permission requests, including duplicate coalescing and a background
// expiry sweep, grounded on the teacher's RedisCheckpointStore expiry
// processor in orchestration/hitl_checkpoint_store.go (a periodic ticker
// goroutine guarded by a start/stop mutex).
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/hashutil"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/telemetry"
)

// State is a PermissionRequest's lifecycle stage. Monotone: pending is the
// only non-terminal state.
type State string

const (
	StatePending   State = "pending"
	StateGranted   State = "granted"
	StateDenied    State = "denied"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Tier mirrors the registry's permission tiers relevant to a request
// (permission requests are never tier "none" — a none-tier node never opens
// one).
type Tier string

const (
	TierBasic     Tier = "basic"
	TierSensitive Tier = "sensitive"
	TierCritical  Tier = "critical"
)

// fallbackDefaultTTL is the request lifetime used when NewManager isn't
// given an explicit default (§3: "expiresAt: default createdAt + 5 min").
const fallbackDefaultTTL = 5 * time.Minute

// hardCap bounds every awaitable regardless of the request's own expiresAt
// (§5: "Permission awaitables have a hard upper bound of 10 minutes").
const hardCap = 10 * time.Minute

// sweepInterval is how often pending requests are checked for expiry (§4.4).
const sweepInterval = 1 * time.Second

// Request is a single permission ask.
type Request struct {
	ID         string
	UserID     string
	SessionID  string
	Operation  string
	Details    map[string]interface{}
	Tier       Tier
	State      State
	CreatedAt  time.Time
	DecidedAt  *time.Time
	ExpiresAt  time.Time
	Reason     string
}

// Decision is what an awaitable resolves with.
type Decision struct {
	State  State
	Reason string
}

type waiter struct {
	ch chan Decision
}

// Manager tracks live requests in memory, keyed by session for coalescing
// and globally by id.
type Manager struct {
	mu         sync.Mutex
	byID       map[string]*Request
	waiters    map[string]*waiter
	coalesce   map[string]string // sessionID + fingerprint -> requestID
	logger     logger.Logger
	stopCh     chan struct{}
	stoppedWg  sync.WaitGroup
	sweepOnce  sync.Once
	defaultTTL time.Duration
}

// NewManager constructs a Manager and starts its background sweep goroutine.
// defaultTTL is the request lifetime Create falls back to when called with
// ttl<=0 (the PERMISSION_DEFAULT_TTL_SECONDS configuration knob); a value
// <=0 here falls back to fallbackDefaultTTL. Callers must call Stop to
// release it.
func NewManager(log logger.Logger, defaultTTL time.Duration) *Manager {
	if log == nil {
		log = logger.Noop{}
	}
	if defaultTTL <= 0 {
		defaultTTL = fallbackDefaultTTL
	}
	m := &Manager{
		byID:       make(map[string]*Request),
		waiters:    make(map[string]*waiter),
		coalesce:   make(map[string]string),
		logger:     log,
		stopCh:     make(chan struct{}),
		defaultTTL: defaultTTL,
	}
	m.stoppedWg.Add(1)
	go m.sweepLoop()
	return m
}

// Stop halts the background sweep. Safe to call once.
func (m *Manager) Stop() {
	m.sweepOnce.Do(func() { close(m.stopCh) })
	m.stoppedWg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.stoppedWg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweepExpired(now)
		}
	}
}

func (m *Manager) sweepExpired(now time.Time) {
	m.mu.Lock()
	var expired []*Request
	for _, r := range m.byID {
		if r.State == StatePending && now.After(r.ExpiresAt) {
			r.State = StateExpired
			expired = append(expired, r)
		}
	}
	var toResolve []chan Decision
	for _, r := range expired {
		if w, ok := m.waiters[r.ID]; ok {
			toResolve = append(toResolve, w.ch)
			delete(m.waiters, r.ID)
		}
	}
	m.mu.Unlock()

	for _, r := range expired {
		telemetry.Counter("permission.expired")
		m.logger.Info("permission request expired", map[string]interface{}{"id": r.ID, "operation": r.Operation})
	}
	for _, ch := range toResolve {
		ch <- Decision{State: StateExpired}
		close(ch)
	}
}

func coalesceKey(sessionID, operation, fingerprint string) string {
	return sessionID + "|" + operation + "|" + fingerprint
}

// Create opens a permission request, coalescing with any existing pending
// request in the same session with the same (operation, canonicalized
// details). Returns the request id and a channel that resolves exactly once
// with the final Decision.
func (m *Manager) Create(ctx context.Context, userID, sessionID, operation string, details map[string]interface{}, tier Tier, ttl time.Duration) (string, <-chan Decision, error) {
	_, end := telemetry.Span(ctx, "permission.Create")
	defer end()

	fingerprint, err := hashutil.Fingerprint(details)
	if err != nil {
		return "", nil, errs.New("permission.Create", errs.KindInvalidInput, "", "fingerprinting details", err)
	}
	key := coalesceKey(sessionID, operation, fingerprint)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.coalesce[key]; ok {
		if existing, ok := m.byID[existingID]; ok && existing.State == StatePending {
			telemetry.Counter("permission.coalesced")
			return existing.ID, m.waiterChan(existing.ID), nil
		}
		delete(m.coalesce, key)
	}

	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if ttl > hardCap {
		ttl = hardCap
	}

	now := time.Now()
	req := &Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Operation: operation,
		Details:   details,
		Tier:      tier,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.byID[req.ID] = req
	m.coalesce[key] = req.ID
	w := &waiter{ch: make(chan Decision, 1)}
	m.waiters[req.ID] = w
	telemetry.Counter("permission.created")
	return req.ID, w.ch, nil
}

func (m *Manager) waiterChan(id string) <-chan Decision {
	if w, ok := m.waiters[id]; ok {
		return w.ch
	}
	w := &waiter{ch: make(chan Decision, 1)}
	m.waiters[id] = w
	return w.ch
}

// Respond resolves a pending request to granted or denied.
func (m *Manager) Respond(requestID string, decision State, reason string) error {
	if decision != StateGranted && decision != StateDenied {
		return errs.New("permission.Respond", errs.KindInvalidInput, "", "decision must be granted or denied", errs.ErrInvalidInput)
	}
	m.mu.Lock()
	req, ok := m.byID[requestID]
	if !ok {
		m.mu.Unlock()
		return errs.New("permission.Respond", "", "", "request not found", errs.ErrNotFound)
	}
	if req.State != StatePending {
		m.mu.Unlock()
		return errs.New("permission.Respond", "", "", "request already decided", errs.ErrAlreadyDecided)
	}
	now := time.Now()
	req.State = decision
	req.DecidedAt = &now
	req.Reason = reason
	w, hasWaiter := m.waiters[requestID]
	if hasWaiter {
		delete(m.waiters, requestID)
	}
	m.mu.Unlock()

	telemetry.Counter("permission.responded", "decision", string(decision))
	if hasWaiter {
		w.ch <- Decision{State: decision, Reason: reason}
		close(w.ch)
	}
	return nil
}

// Cancel transitions a pending request to cancelled, e.g. on session
// teardown.
func (m *Manager) Cancel(requestID string) error {
	m.mu.Lock()
	req, ok := m.byID[requestID]
	if !ok {
		m.mu.Unlock()
		return errs.New("permission.Cancel", "", "", "request not found", errs.ErrNotFound)
	}
	if req.State != StatePending {
		m.mu.Unlock()
		return nil
	}
	req.State = StateCancelled
	w, hasWaiter := m.waiters[requestID]
	if hasWaiter {
		delete(m.waiters, requestID)
	}
	m.mu.Unlock()

	if hasWaiter {
		w.ch <- Decision{State: StateCancelled}
		close(w.ch)
	}
	return nil
}

// CancelSession cancels every pending request belonging to sessionID — used
// on session teardown so no waiter is left dangling (§5 cancellation).
func (m *Manager) CancelSession(sessionID string) {
	m.mu.Lock()
	var ids []string
	for id, r := range m.byID {
		if r.SessionID == sessionID && r.State == StatePending {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Cancel(id)
	}
}

// ListPending returns every currently pending request, optionally filtered
// by session.
func (m *Manager) ListPending(sessionID string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.byID {
		if r.State != StatePending {
			continue
		}
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// Get retrieves a request by id.
func (m *Manager) Get(requestID string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[requestID]
	if !ok {
		return Request{}, errs.New("permission.Get", "", "", "request not found", errs.ErrNotFound)
	}
	return *r, nil
}
