package prompt

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// session 代表一个控制台连接
type session struct {
	conn *websocket.Conn
	send chan Message
	log  *logger.Logger

	mu      sync.Mutex
	pending map[string]chan bool // prompt id -> 答案

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, log *logger.Logger) *session {
	return &session{
		conn:    conn,
		send:    make(chan Message, 16),
		log:     log,
		pending: make(map[string]chan bool),
		done:    make(chan struct{}),
	}
}

func (s *session) expect(id string) <-chan bool {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *session) answer(id string, yes bool) bool {
	s.mu.Lock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		ch <- yes
	}
	return ok
}

// push 将消息放入发送队列，连接关闭或 ctx 结束时返回 false
func (s *session) push(ctx context.Context, m Message) bool {
	select {
	case s.send <- m:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// readPump 读取版主的回复
func (s *session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var reply Reply
		if err := s.conn.ReadJSON(&reply); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("Console closed", zap.Error(err))
			}
			return
		}

		yes, ok := parseAnswer(reply.Answer)
		if !ok {
			// 非 yes/no 的回复忽略，提示继续等待
			continue
		}
		if !s.answer(reply.ID, yes) {
			s.log.Debug("Answer for unknown prompt", zap.String("prompt_id", reply.ID))
		}
	}
}

// writePump 将队列中的消息写入连接，并定期发送 ping
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case m := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
