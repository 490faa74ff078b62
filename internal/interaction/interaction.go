// Package interaction implements the Interaction Stage: a thin demultiplexer
// between a session's outbound message stream and the waiters the Executor
// registers while awaiting a user reply, grounded on the
// teacher's request/response correlation pattern in
// orchestration/contextual_re_resolver.go (a done channel keyed by request
// id, resolved exactly once).
package interaction

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/protocol"
)

// Sender delivers an outbound frame on the session's transport. The
// transport itself (WebSocket, in-process channel, etc.) is out of scope
// (spec.md §1); Sender is the narrow boundary this package consumes.
type Sender interface {
	Send(typ string, content interface{}) error
}

// Hub demultiplexes inbound user_response frames to the exact waiter
// awaiting them, and emits outbound frames (user_question among them) with
// a waiter registered atomically beforehand (§4.7: "a waiter is registered
// atomically before the message leaves the session"). Permission requests
// are tracked by permission.Manager instead — it is the single source of
// truth for a request's lifecycle (coalescing, TTL, expiry sweep), so the
// Hub only carries the outbound permission_request frame and the inbound
// permission_response routes straight to the Manager (see session.HandleInbound).
type Hub struct {
	mu              sync.Mutex
	sender          Sender
	logger          logger.Logger
	questionWaiters map[string]chan UserReply
}

// UserReply is what a user_response resolves a waiter with.
type UserReply struct {
	Content   json.RawMessage
	Cancelled bool
}

// New constructs a Hub bound to sender.
func New(sender Sender, log logger.Logger) *Hub {
	if log == nil {
		log = logger.Noop{}
	}
	return &Hub{
		sender:          sender,
		logger:          log,
		questionWaiters: make(map[string]chan UserReply),
	}
}

// AskUser emits a user_question frame and returns a channel that resolves
// exactly once with the matching user_response (or Cancelled on teardown).
func (h *Hub) AskUser(question string, fields []string) (questionID string, wait <-chan UserReply, err error) {
	h.mu.Lock()
	questionID = uuid.NewString()
	ch := make(chan UserReply, 1)
	h.questionWaiters[questionID] = ch
	h.mu.Unlock()

	if sendErr := h.sender.Send(protocol.TypeUserQuestion, protocol.UserQuestionContent{
		QuestionID: questionID, Question: question, Fields: fields,
	}); sendErr != nil {
		h.mu.Lock()
		delete(h.questionWaiters, questionID)
		h.mu.Unlock()
		return "", nil, errs.New("interaction.AskUser", "", "", "sending user_question", sendErr)
	}
	return questionID, ch, nil
}

// Emit sends a frame that doesn't register a waiter (workflow_progress,
// node_complete, node_error, start, chunk, end, workflow_design,
// permission_request) — ordering of these relative to waiter-registering
// sends is the caller's responsibility (§5 ordering guarantees).
func (h *Hub) Emit(typ string, content interface{}) error {
	return h.sender.Send(typ, content)
}

// HandleInbound routes a decoded inbound user_response frame to its waiter.
// Unrouted messages are dropped with a warning (§4.7). permission_response
// is not handled here — session.HandleInbound routes it straight to
// permission.Manager.Respond, the single owner of that lifecycle.
func (h *Hub) HandleInbound(typ string, content json.RawMessage) {
	switch typ {
	case protocol.TypeUserResponse:
		var c protocol.UserResponseContent
		if err := json.Unmarshal(content, &c); err != nil {
			h.logger.Warn("malformed user_response", map[string]interface{}{"error": err.Error()})
			return
		}
		h.mu.Lock()
		ch, ok := h.questionWaiters[c.QuestionID]
		if ok {
			delete(h.questionWaiters, c.QuestionID)
		}
		h.mu.Unlock()
		if !ok {
			h.logger.Warn("user_response with no matching waiter", map[string]interface{}{"questionId": c.QuestionID})
			return
		}
		ch <- UserReply{Content: c.Content}
		close(ch)

	default:
		h.logger.Warn("unrouted inbound frame", map[string]interface{}{"type": typ})
	}
}

// CancelAll resolves every outstanding user_response waiter as cancelled,
// for session teardown (§5 cancellation: "resolves all outstanding waiters
// with cancelled"). Pending permission requests are released separately via
// permission.Manager.CancelSession (see session.Cancel).
func (h *Hub) CancelAll() {
	h.mu.Lock()
	questions := h.questionWaiters
	h.questionWaiters = make(map[string]chan UserReply)
	h.mu.Unlock()

	for _, ch := range questions {
		ch <- UserReply{Cancelled: true}
		close(ch)
	}
}
