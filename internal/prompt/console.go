// Package prompt asks moderators yes/no questions over a websocket console.
//
// A moderator opens GET /api/v1/communities/:community_id/console; while it
// is connected, confirmations for that moderator's commands in that community
// are pushed there and answered with {"id": ..., "answer": "yes"}. Without a
// console, or when no answer arrives in time, a prompt counts as declined.
package prompt

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

const (
	writeWait      = 10 * time.Second    // 允许写入消息到对端的最大时间
	pongWait       = 60 * time.Second    // 允许读取下一个 pong 消息的最大时间
	pingPeriod     = (pongWait * 9) / 10 // 发送 ping 到对端的周期。必须小于 pongWait
	maxMessageSize = 1024                // 允许来自对端的最大消息大小
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is pushed to the console.
type Message struct {
	Type    string `json:"type"` // "prompt" 或 "notice"
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Reply is read from the console.
type Reply struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// Console tracks one connection per (community, moderator) and implements
// autorole.Prompter.
type Console struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      *logger.Logger
}

var _ autorole.Prompter = (*Console)(nil)

func NewConsole(log *logger.Logger) *Console {
	return &Console{
		sessions: make(map[string]*session),
		log:      log.Named("console"),
	}
}

func sessionKey(community, moderator string) string {
	return community + "/" + moderator
}

// Connected reports whether the moderator has a console open.
func (c *Console) Connected(community, moderator string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionKey(community, moderator)]
	return ok
}

// Confirm pushes p to the moderator's console and waits for an answer.
func (c *Console) Confirm(ctx context.Context, p autorole.Prompt) bool {
	c.mu.Lock()
	s := c.sessions[sessionKey(p.Community, p.Moderator)]
	c.mu.Unlock()
	if s == nil {
		return false
	}

	id := uuid.NewString()
	answer := s.expect(id)
	defer s.forget(id)

	if !s.push(ctx, Message{Type: "prompt", ID: id, Message: p.Message}) {
		return false
	}
	select {
	case yes := <-answer:
		return yes
	case <-ctx.Done():
		s.push(context.Background(), Message{Type: "notice", ID: id, Message: "Request timed out."})
		return false
	case <-s.done:
		return false
	}
}

// Serve upgrades the request and runs the session until the peer leaves.
// An older console of the same moderator is closed.
func (c *Console) Serve(w http.ResponseWriter, r *http.Request, community, moderator string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("Failed to upgrade console connection", zap.Error(err))
		return
	}

	s := newSession(conn, c.log.WithFields(
		zap.String("community_id", community),
		zap.String("moderator_id", moderator),
	))
	key := sessionKey(community, moderator)

	c.mu.Lock()
	old := c.sessions[key]
	c.sessions[key] = s
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	go s.writePump()
	s.readPump()

	c.mu.Lock()
	if c.sessions[key] == s {
		delete(c.sessions, key)
	}
	c.mu.Unlock()
}

// Close drops every console.
func (c *Console) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*session)
	c.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// parseAnswer accepts yes/y/no/n in any case.
func parseAnswer(s string) (yes, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	return false, false
}
