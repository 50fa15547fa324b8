package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/advisorlabs/clerk/internal/agent"
)

const (
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
	wsMaxMessageBytes = 1 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Message string `json:"message"`
}

// handleChatStream upgrades to a WebSocket and relays stream events as
// JSON frames. The client sends {"message": "..."} frames; each one runs a
// full conversation turn whose events are written back in order, ending
// with the done or error event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	user := requestUser(r)
	ctx := r.Context()

	// The connection allows one concurrent writer; the ping loop and the
	// event relay share writeMu.
	var writeMu sync.Mutex
	write := func(messageType int, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(messageType, payload)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "user_id", user.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if in.Message == "" {
			if err := writeEventFrame(write, &agent.StreamEvent{Type: agent.EventError, Error: "message is required"}); err != nil {
				return
			}
			continue
		}

		events, err := s.engine.ChatStream(ctx, user, in.Message)
		if err != nil {
			s.logger.Error("chat stream failed", "user_id", user.ID, "error", err)
			if err := writeEventFrame(write, &agent.StreamEvent{Type: agent.EventError, Error: "chat failed"}); err != nil {
				return
			}
			continue
		}

		for ev := range events {
			if err := writeEventFrame(write, ev); err != nil {
				s.logger.Warn("websocket write failed", "user_id", user.ID, "error", err)
				return
			}
		}
	}
}

func writeEventFrame(write func(int, []byte) error, ev *agent.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return write(websocket.TextMessage, payload)
}
