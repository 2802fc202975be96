package chat

import (
	"sync"

	"github.com/cloudwego/eino/schema"
)

// SessionStore 进程内多轮对话记忆。进程重启即清空，持久化审计
// 走数据库的 queries 表。
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	turnMu sync.Mutex // 串行化同一会话的并发轮次
	msgs   []*schema.Message
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session)}
}

func (s *SessionStore) get(sessionID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
	}
	return sess
}

// Lock 获取会话的轮次锁，返回解锁函数。同一会话同时只处理一轮。
func (s *SessionStore) Lock(sessionID string) func() {
	sess := s.get(sessionID)
	sess.turnMu.Lock()
	return sess.turnMu.Unlock
}

// History 返回会话消息的副本，按时间先后排列
func (s *SessionStore) History(sessionID string) []*schema.Message {
	sess := s.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*schema.Message, len(sess.msgs))
	copy(out, sess.msgs)
	return out
}

// Append 追加一轮消息。只在一轮完整结束后调用，中断的轮次不入记忆。
func (s *SessionStore) Append(sessionID string, msgs ...*schema.Message) {
	sess := s.get(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.msgs = append(sess.msgs, msgs...)
}

// Delete 丢弃整个会话记忆
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
