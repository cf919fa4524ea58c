// Package chat holds the chat domain: messages, rooms, users, and the
// persistence-backed collections the connection hub reads and mutates.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Document keys used with a store.Backend.
const (
	RoomsKey    = "db_rooms.json"
	UsersKey    = "db_users.json"
	MessagesKey = "db_messages.json"
)

// MessageType is open-ended; USER and SYSTEM are the ones the server emits.
type MessageType string

const (
	MessageTypeUser   MessageType = "USER"
	MessageTypeSystem MessageType = "SYSTEM"
)

const (
	systemSenderID = "system"
	systemUserName = "System"
)

var (
	ErrRoomIDRequired     = errors.New("chat: room id is required")
	ErrContentRequired    = errors.New("chat: message content is required")
	ErrRoomNameRequired   = errors.New("chat: room name is required")
	ErrUserExists         = errors.New("chat: user already exists")
	ErrInvalidCredentials = errors.New("chat: name and password are required")

	// errNoChange aborts a document update without scheduling a write.
	errNoChange = errors.New("chat: no change")
)

// Message is a single chat line in a room. Messages are never mutated.
type Message struct {
	ID       string      `json:"id"`
	RoomID   string      `json:"roomId"`
	SenderID string      `json:"senderId"`
	UserName string      `json:"userName"`
	Content  string      `json:"content"`
	SentAt   string      `json:"sentAt"`
	Type     MessageType `json:"type"`
}

// Room is a named channel. Members is kept for the document shape but is not
// used for access control.
type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	Members     []string `json:"members"`
}

// User is a stored account. Session tokens are never part of the record.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PasswordHash string `json:"passwordHash"`
	RegisteredAt string `json:"registeredAt"`
}

// PublicUser is the view of a user that is safe to send to other clients.
type PublicUser struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RegisteredAt string `json:"registeredAt"`
}

// Public strips the password hash.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, RegisteredAt: u.RegisteredAt}
}

// Session is what a successful login hands back to the client.
type Session struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// NewSession issues a fresh token for the user.
func NewSession(u User) Session {
	return Session{ID: u.ID, Name: u.Name, Token: uuid.NewString()}
}

// NewUserMessage builds a USER message. Content must be non-empty.
func NewUserMessage(roomID, senderID, userName, content string) (Message, error) {
	if roomID == "" {
		return Message{}, ErrRoomIDRequired
	}
	if content == "" {
		return Message{}, ErrContentRequired
	}
	return Message{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		SenderID: senderID,
		UserName: userName,
		Content:  content,
		SentAt:   timestamp(),
		Type:     MessageTypeUser,
	}, nil
}

// NewJoinMessage builds the SYSTEM message announcing a user joining a room.
func NewJoinMessage(roomID, userName string) (Message, error) {
	if roomID == "" {
		return Message{}, ErrRoomIDRequired
	}
	return Message{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		SenderID: systemSenderID,
		UserName: systemUserName,
		Content:  userName + " has joined the room!",
		SentAt:   timestamp(),
		Type:     MessageTypeSystem,
	}, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
