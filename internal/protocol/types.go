// Package protocol defines the JSON envelopes exchanged over the chat
// WebSocket. Every envelope carries a "type" field; the set of types is
// open, so decoding yields Unknown for anything not listed here.
package protocol

// Client to server.
const (
	TypeHello       = "HELLO"
	TypePing        = "PING"
	TypeNewMessage  = "NEW_MESSAGE"
	TypeJoinRoom    = "JOIN_ROOM"
	TypeLogin       = "LOGIN"
	TypeGetRoomData = "GET_ROOM_DATA"
	TypeGetRooms    = "GET_ROOMS"
	TypeCreateRoom  = "CREATE_ROOM"
	TypeDeleteRooms = "DELETE_ROOMS"
	TypeGetUsers    = "GET_USERS"
)

// Server to client. NEW_MESSAGE and GET_ROOMS are reused as reply types.
const (
	TypeWelcome     = "WELCOME"
	TypePong        = "PONG"
	TypeAuthResult  = "AUTH_RESULT"
	TypeError       = "ERROR"
	TypeRoomData    = "ROOM_DATA"
	TypeRoomCreated = "ROOM_CREATED"
	TypeRoomDeleted = "ROOM_DELETED"
	TypeUsersList   = "USERS_LIST"
)

// Error reply texts.
const (
	ErrTextInvalidCredentials = "Invalid credentials"
	ErrTextCreateUserFailed   = "Failed to create new user"
	ErrTextRoomNotFound       = "Room not found"
	ErrTextCreateRoomFailed   = "Failed to create room"
)

const welcomeText = "Hello from WS server!"
