package chat

import (
	"context"

	"github.com/Tyrowin/roomchat/internal/store"
)

// DefaultHistoryLimit is how many messages each room keeps.
const DefaultHistoryLimit = 20

// MessagesDocument maps room ids to their recent messages.
type MessagesDocument map[string][]Message

// MessageLog keeps the most recent messages of every room.
type MessageLog struct {
	doc   *store.Document[MessagesDocument]
	limit int
}

// OpenMessageLog loads the message document from the backend.
func OpenMessageLog(ctx context.Context, backend store.Backend, limit int, opts ...store.Option) (*MessageLog, error) {
	doc, err := store.Open(ctx, backend, MessagesKey, func() MessagesDocument {
		return MessagesDocument{}
	}, opts...)
	if err != nil {
		return nil, err
	}
	return NewMessageLog(doc, limit), nil
}

// NewMessageLog wraps an opened document.
func NewMessageLog(doc *store.Document[MessagesDocument], limit int) *MessageLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MessageLog{doc: doc, limit: limit}
}

// Limit returns the per-room cap.
func (l *MessageLog) Limit() int {
	return l.limit
}

// Append adds msg to its room, drops the oldest entries beyond the cap, and
// schedules a write.
func (l *MessageLog) Append(msg Message) error {
	if msg.RoomID == "" {
		return ErrRoomIDRequired
	}

	return l.doc.Update(func(d *MessagesDocument) error {
		if *d == nil {
			*d = MessagesDocument{}
		}
		msgs := append((*d)[msg.RoomID], msg)
		if over := len(msgs) - l.limit; over > 0 {
			msgs = append([]Message(nil), msgs[over:]...)
		}
		(*d)[msg.RoomID] = msgs
		return nil
	})
}

// Recent returns up to the last Limit messages of a room, oldest first.
func (l *MessageLog) Recent(roomID string) []Message {
	out := []Message{}
	l.doc.View(func(d *MessagesDocument) {
		msgs := (*d)[roomID]
		if over := len(msgs) - l.limit; over > 0 {
			msgs = msgs[over:]
		}
		out = append(out, msgs...)
	})
	return out
}

// Close flushes pending writes.
func (l *MessageLog) Close(ctx context.Context) error {
	return l.doc.Close(ctx)
}
