package permission

import (
	"context"
	"testing"
	"time"

	"github.com/flowcore/agentrt/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	m := NewManager(logger.Noop{}, 0)
	t.Cleanup(m.Stop)
	return m
}

func TestNewManagerUsesConfiguredDefaultTTL(t *testing.T) {
	m := NewManager(logger.Noop{}, 2*time.Minute)
	t.Cleanup(m.Stop)

	id, _, err := m.Create(context.Background(), "u1", "s1", "booking", nil, TierBasic, 0)
	require.NoError(t, err)
	got, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, got.ExpiresAt.Sub(got.CreatedAt))
}

func TestCreateAndRespondGranted(t *testing.T) {
	m := newTestManager(t)
	id, awaitable, err := m.Create(context.Background(), "u1", "s1", "payment", map[string]interface{}{"amount": 10}, TierSensitive, 0)
	require.NoError(t, err)
	require.NoError(t, m.Respond(id, StateGranted, "looks fine"))

	select {
	case d := <-awaitable:
		assert.Equal(t, StateGranted, d.State)
		assert.Equal(t, "looks fine", d.Reason)
	case <-time.After(time.Second):
		t.Fatal("awaitable did not resolve")
	}
}

func TestCreateCoalescesDuplicateDetails(t *testing.T) {
	m := newTestManager(t)
	details := map[string]interface{}{"amount": 10, "recipient": "acme"}
	id1, _, err := m.Create(context.Background(), "u1", "s1", "payment", details, TierSensitive, 0)
	require.NoError(t, err)
	id2, _, err := m.Create(context.Background(), "u1", "s1", "payment", details, TierSensitive, 0)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	pending := m.ListPending("s1")
	require.Len(t, pending, 1)
}

func TestRespondNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.Respond("nonexistent", StateGranted, "")
	assert.Error(t, err)
}

func TestRespondTwiceFailsAlreadyDecided(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.Create(context.Background(), "u1", "s1", "booking", nil, TierBasic, 0)
	require.NoError(t, err)
	require.NoError(t, m.Respond(id, StateDenied, ""))
	err = m.Respond(id, StateGranted, "")
	assert.Error(t, err)
}

func TestCancelResolvesAwaitable(t *testing.T) {
	m := newTestManager(t)
	id, awaitable, err := m.Create(context.Background(), "u1", "s1", "booking", nil, TierBasic, 0)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(id))

	select {
	case d := <-awaitable:
		assert.Equal(t, StateCancelled, d.State)
	case <-time.After(time.Second):
		t.Fatal("awaitable did not resolve")
	}
}

func TestExpirySweepResolvesAwaitable(t *testing.T) {
	m := newTestManager(t)
	id, awaitable, err := m.Create(context.Background(), "u1", "s1", "booking", nil, TierBasic, 5*time.Millisecond)
	require.NoError(t, err)

	select {
	case d := <-awaitable:
		assert.Equal(t, StateExpired, d.State)
	case <-time.After(3 * time.Second):
		t.Fatal("request did not expire in time")
	}

	got, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)
}

func TestTTLHardCapped(t *testing.T) {
	m := newTestManager(t)
	id, _, err := m.Create(context.Background(), "u1", "s1", "booking", nil, TierBasic, 30*time.Minute)
	require.NoError(t, err)
	got, err := m.Get(id)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.ExpiresAt.Sub(got.CreatedAt), hardCap)
}

func TestCancelSessionCancelsAllPending(t *testing.T) {
	m := newTestManager(t)
	_, a1, err := m.Create(context.Background(), "u1", "s1", "booking", map[string]interface{}{"x": 1}, TierBasic, 0)
	require.NoError(t, err)
	_, a2, err := m.Create(context.Background(), "u1", "s1", "payment", map[string]interface{}{"y": 2}, TierBasic, 0)
	require.NoError(t, err)

	m.CancelSession("s1")

	for _, ch := range []<-chan Decision{a1, a2} {
		select {
		case d := <-ch:
			assert.Equal(t, StateCancelled, d.State)
		case <-time.After(time.Second):
			t.Fatal("awaitable did not resolve on session cancel")
		}
	}
}
