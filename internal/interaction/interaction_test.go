package interaction

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/protocol"
)

type recordingSender struct {
	frames []frame
}

type frame struct {
	typ     string
	content interface{}
}

func (r *recordingSender) Send(typ string, content interface{}) error {
	r.frames = append(r.frames, frame{typ: typ, content: content})
	return nil
}

func TestAskUserThenUserResponseResolves(t *testing.T) {
	s := &recordingSender{}
	h := New(s, logger.Noop{})

	qid, wait, err := h.AskUser("Which city?", []string{"city"})
	require.NoError(t, err)
	require.Len(t, s.frames, 1)
	assert.Equal(t, protocol.TypeUserQuestion, s.frames[0].typ)

	content, _ := json.Marshal("Lisbon")
	payload, _ := json.Marshal(protocol.UserResponseContent{QuestionID: qid, Content: content})
	var raw json.RawMessage = payload
	h.HandleInbound(protocol.TypeUserResponse, raw)

	select {
	case reply := <-wait:
		assert.False(t, reply.Cancelled)
		s, ok := func() (string, bool) {
			var v string
			if err := json.Unmarshal(reply.Content, &v); err != nil {
				return "", false
			}
			return v, true
		}()
		assert.True(t, ok)
		assert.Equal(t, "Lisbon", s)
	case <-time.After(time.Second):
		t.Fatal("waiter did not resolve")
	}
}

func TestUnroutedUserResponseIsDropped(t *testing.T) {
	s := &recordingSender{}
	h := New(s, logger.Noop{})
	payload, _ := json.Marshal(protocol.UserResponseContent{QuestionID: "nonexistent"})
	h.HandleInbound(protocol.TypeUserResponse, payload)
	// No panic, no send — nothing to assert beyond "it didn't crash".
}

func TestPermissionRequestFrameCanBeEmittedDirectly(t *testing.T) {
	s := &recordingSender{}
	h := New(s, logger.Noop{})

	err := h.Emit(protocol.TypePermissionReq, protocol.PermissionRequestContent{
		RequestID: "req-1", Operation: "payment", Description: "charge $10", Tier: "sensitive", ExpiresAt: time.Now().Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Len(t, s.frames, 1)
	assert.Equal(t, protocol.TypePermissionReq, s.frames[0].typ)
}

func TestCancelAllResolvesOutstandingWaiters(t *testing.T) {
	s := &recordingSender{}
	h := New(s, logger.Noop{})

	_, userWait, err := h.AskUser("q?", nil)
	require.NoError(t, err)

	h.CancelAll()

	select {
	case reply := <-userWait:
		assert.True(t, reply.Cancelled)
	case <-time.After(time.Second):
		t.Fatal("user waiter did not resolve on cancel")
	}
}
