package wsclient

import (
	"sync"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Handler receives an envelope whose body can be decoded with env.Decode.
type Handler func(env protocol.Envelope)

// ListenerID identifies a registration for Off.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

type listeners struct {
	mu     sync.RWMutex
	next   ListenerID
	byType map[string][]listener
}

func (l *listeners) add(msgType string, fn Handler) ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.byType == nil {
		l.byType = make(map[string][]listener)
	}
	l.next++
	l.byType[msgType] = append(l.byType[msgType], listener{id: l.next, fn: fn})
	return l.next
}

func (l *listeners) remove(msgType string, id ListenerID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.byType[msgType]
	for i, entry := range list {
		if entry.id == id {
			l.byType[msgType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(l.byType[msgType]) == 0 {
		delete(l.byType, msgType)
	}
}

// snapshot copies the handlers so they can run without the lock held.
func (l *listeners) snapshot(msgType string) []Handler {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.byType[msgType]
	out := make([]Handler, len(list))
	for i, entry := range list {
		out[i] = entry.fn
	}
	return out
}
