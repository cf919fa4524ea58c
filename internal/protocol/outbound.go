package protocol

import (
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

type Welcome struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type Pong struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type MessageEvent struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

type AuthResult struct {
	Type     string       `json:"type"`
	UserData chat.Session `json:"userData"`
}

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RoomData struct {
	Type        string         `json:"type"`
	RoomID      string         `json:"roomId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Messages    []chat.Message `json:"messages"`
}

type RoomsList struct {
	Type  string      `json:"type"`
	Rooms []chat.Room `json:"rooms"`
}

type RoomCreated struct {
	Type string    `json:"type"`
	Room chat.Room `json:"room"`
}

type RoomDeleted struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type UsersList struct {
	Type  string            `json:"type"`
	Users []chat.PublicUser `json:"users"`
}

func NewWelcome() Welcome {
	return Welcome{Type: TypeWelcome, Msg: welcomeText}
}

func NewPong(now time.Time) Pong {
	return Pong{Type: TypePong, TS: now.UnixMilli()}
}

func NewMessageEvent(m chat.Message) MessageEvent {
	return MessageEvent{Type: TypeNewMessage, Message: m}
}

func NewAuthResult(s chat.Session) AuthResult {
	return AuthResult{Type: TypeAuthResult, UserData: s}
}

func NewError(message string) ErrorReply {
	return ErrorReply{Type: TypeError, Message: message}
}

// NewRoomData falls back to "Unknown Room" when the room does not exist.
func NewRoomData(roomID string, room *chat.Room, messages []chat.Message) RoomData {
	d := RoomData{
		Type:     TypeRoomData,
		RoomID:   roomID,
		Name:     "Unknown Room",
		Messages: messages,
	}
	if room != nil {
		d.Name = room.Name
		d.Description = room.Description
	}
	if d.Messages == nil {
		d.Messages = []chat.Message{}
	}
	return d
}

func NewRoomsList(rooms []chat.Room) RoomsList {
	if rooms == nil {
		rooms = []chat.Room{}
	}
	return RoomsList{Type: TypeGetRooms, Rooms: rooms}
}

func NewRoomCreated(r chat.Room) RoomCreated {
	return RoomCreated{Type: TypeRoomCreated, Room: r}
}

func NewRoomDeleted(roomID string) RoomDeleted {
	return RoomDeleted{Type: TypeRoomDeleted, RoomID: roomID}
}

func NewUsersList(users []chat.PublicUser) UsersList {
	if users == nil {
		users = []chat.PublicUser{}
	}
	return UsersList{Type: TypeUsersList, Users: users}
}
