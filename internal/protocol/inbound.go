package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed wraps frames that are not a JSON object.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrMissingField wraps known messages lacking a required field.
	ErrMissingField = errors.New("protocol: missing required field")
)

// Inbound is a decoded client message. The concrete types below are the
// only implementations; Unknown covers every unrecognised type.
type Inbound interface {
	MessageType() string
	inbound()
}

type Hello struct {
	Client string `json:"client"`
	User   string `json:"user"`
}

type Ping struct {
	TS int64 `json:"ts,omitempty"`
}

type NewMessage struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	UserName string `json:"userName"`
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type Login struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type GetRoomData struct {
	RoomID string `json:"roomId"`
}

type GetRooms struct{}

// CreateRoom carries its fields inside a "payload" object on the wire.
type CreateRoom struct {
	Name        string
	Description string
}

type DeleteRooms struct {
	RoomID string `json:"roomId"`
}

type GetUsers struct{}

// Unknown is any message whose type is not recognised.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Hello) MessageType() string       { return TypeHello }
func (Ping) MessageType() string        { return TypePing }
func (NewMessage) MessageType() string  { return TypeNewMessage }
func (JoinRoom) MessageType() string    { return TypeJoinRoom }
func (Login) MessageType() string       { return TypeLogin }
func (GetRoomData) MessageType() string { return TypeGetRoomData }
func (GetRooms) MessageType() string    { return TypeGetRooms }
func (CreateRoom) MessageType() string  { return TypeCreateRoom }
func (DeleteRooms) MessageType() string { return TypeDeleteRooms }
func (GetUsers) MessageType() string    { return TypeGetUsers }
func (u Unknown) MessageType() string   { return u.Type }

func (Hello) inbound()       {}
func (Ping) inbound()        {}
func (NewMessage) inbound()  {}
func (JoinRoom) inbound()    {}
func (Login) inbound()       {}
func (GetRoomData) inbound() {}
func (GetRooms) inbound()    {}
func (CreateRoom) inbound()  {}
func (DeleteRooms) inbound() {}
func (GetUsers) inbound()    {}
func (Unknown) inbound()     {}

type createRoomWire struct {
	Payload *struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"payload"`
}

// Decode parses one frame. Errors wrap ErrMalformed or ErrMissingField.
func Decode(raw []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case TypeHello:
		var m Hello
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return check(m, requireFields(head.Type, field{"client", m.Client}, field{"user", m.User}))

	case TypePing:
		var m Ping
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeNewMessage:
		var m NewMessage
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return check(m, requireFields(head.Type,
			field{"roomId", m.RoomID},
			field{"senderId", m.SenderID},
			field{"content", m.Content},
			field{"userName", m.UserName}))

	case TypeJoinRoom:
		var m JoinRoom
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return check(m, requireFields(head.Type, field{"roomId", m.RoomID}, field{"userName", m.UserName}))

	case TypeLogin:
		var m Login
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return check(m, requireFields(head.Type, field{"name", m.Name}, field{"password", m.Password}))

	case TypeGetRoomData:
		var m GetRoomData
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return check(m, requireFields(head.Type, field{"roomId", m.RoomID}))

	case TypeGetRooms:
		return GetRooms{}, nil

	case TypeCreateRoom:
		var w createRoomWire
		if err := unmarshal(raw, &w); err != nil {
			return nil, err
		}
		if w.Payload == nil {
			return nil, fmt.Errorf("%w: %s.payload", ErrMissingField, head.Type)
		}
		m := CreateRoom{Name: w.Payload.Name, Description: w.Payload.Description}
		return check(m, requireFields(head.Type, field{"payload.name", m.Name}))

	case TypeDeleteRooms:
		var m DeleteRooms
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return check(m, requireFields(head.Type, field{"roomId", m.RoomID}))

	case TypeGetUsers:
		return GetUsers{}, nil

	default:
		return Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func unmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

type field struct {
	name  string
	value string
}

func requireFields(msgType string, fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, msgType, f.name)
		}
	}
	return nil
}

func check(m Inbound, err error) (Inbound, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
