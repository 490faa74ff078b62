package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/protocol"
	"github.com/flowcore/agentrt/internal/session"
)

// upgrader promotes an HTTP connection to a WebSocket per spec.md §6
// ("framing is { type, content } JSON", "intended over WebSocket").
// gorilla/websocket is the teacher pack's transport library of choice
// (rashadism-openchoreo, stherrien-gorax both depend on it); the session
// protocol itself is transport-agnostic, so this file is the only place
// that imports it.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts a *websocket.Conn to interaction.Sender, serializing
// concurrent writes behind a mutex (gorilla/websocket connections are not
// safe for concurrent writers).
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(typ string, content interface{}) error {
	frame, err := protocol.Encode(typ, content)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

// serveSession upgrades the connection, builds a Session wired against the
// shared process-level dependencies, and pumps inbound frames to it until
// the socket closes.
func serveSession(w http.ResponseWriter, r *http.Request, newSession func(sender *wsSender) (*session.Session, string)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sender := &wsSender{conn: conn}
	sess, sessionID := newSession(sender)
	log := logger.New(logger.LevelInfo, false).With(map[string]interface{}{"sessionId": sessionID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer sess.Cancel()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Info("connection closed", map[string]interface{}{"error": err.Error()})
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn("malformed frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		if err := sess.HandleInbound(ctx, frame.Type, frame.Content); err != nil {
			log.Warn("frame handling failed", map[string]interface{}{"type": frame.Type, "error": err.Error()})
		}
	}
}
