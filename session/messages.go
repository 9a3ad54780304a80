package session

import (
	"sync"

	"github.com/samber/lo"
)

// messageLog is the append-only chat history. Only the event loop writes;
// readers on other goroutines get copies.
type messageLog struct {
	mu       sync.RWMutex
	messages []ChatMessage
	ids      map[string]struct{}
}

func newMessageLog() *messageLog {
	return &messageLog{ids: make(map[string]struct{})}
}

// append adds msg, clamping its timestamp so the log never goes back in
// time. Messages with an ID already present are dropped. The stored copy is
// returned.
func (l *messageLog) append(msg ChatMessage) (ChatMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID != "" {
		if _, seen := l.ids[msg.ID]; seen {
			return ChatMessage{}, false
		}
		l.ids[msg.ID] = struct{}{}
	}

	if n := len(l.messages); n > 0 {
		if last := l.messages[n-1].Timestamp; msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}

	l.messages = append(l.messages, msg)
	return msg, true
}

func (l *messageLog) contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

func (l *messageLog) snapshot() []ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ChatMessage(nil), l.messages...)
}

// texts returns the text messages in log order.
func (l *messageLog) texts() []ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Filter(l.messages, func(m ChatMessage, _ int) bool {
		return m.Kind == KindText
	})
}

func (l *messageLog) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	l.ids = make(map[string]struct{})
}
