package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// conn is the part of a Client the router needs.
type conn interface {
	Addr() string
	Reply(v any)
	Bind(s chat.Session)
	Logger() *zerolog.Logger
}

type broadcaster interface {
	Broadcast(v any) error
}

// router applies decoded messages to the stores and answers them.
type router struct {
	stores *chat.Stores
	out    broadcaster
	logger zerolog.Logger
	ctx    context.Context
	now    func() time.Time
}

func newRouter(stores *chat.Stores, h *Hub, logger zerolog.Logger) *router {
	return &router{
		stores: stores,
		out:    h,
		logger: logger,
		ctx:    h.ctx,
		now:    time.Now,
	}
}

func (rt *router) dispatch(c conn, msg protocol.Inbound) {
	log := c.Logger()

	switch m := msg.(type) {
	case protocol.Hello:
		log.Info().Str("client", m.Client).Str("user", m.User).Msg("Client said hello")

	case protocol.Ping:
		c.Reply(protocol.NewPong(rt.now()))

	case protocol.NewMessage:
		rt.handleNewMessage(c, m)

	case protocol.JoinRoom:
		rt.handleJoinRoom(c, m)

	case protocol.Login:
		rt.handleLogin(c, m)

	case protocol.GetRoomData:
		var room *chat.Room
		if r, ok := rt.stores.Rooms.Get(m.RoomID); ok {
			room = &r
		}
		c.Reply(protocol.NewRoomData(m.RoomID, room, rt.stores.Messages.Recent(m.RoomID)))

	case protocol.GetRooms:
		c.Reply(protocol.NewRoomsList(rt.stores.Rooms.List()))

	case protocol.CreateRoom:
		rt.handleCreateRoom(c, m)

	case protocol.DeleteRooms:
		rt.handleDeleteRoom(c, m)

	case protocol.GetUsers:
		c.Reply(protocol.NewUsersList(rt.stores.Users.List()))

	default:
		log.Info().Str(logging.FieldMsgType, msg.MessageType()).Msg("Ignoring message of unknown type")
	}
}

func (rt *router) handleNewMessage(c conn, m protocol.NewMessage) {
	msg, err := chat.NewUserMessage(m.RoomID, m.SenderID, m.UserName, m.Content)
	if err != nil {
		c.Logger().Warn().Err(err).Msg("Rejecting chat message")
		return
	}
	rt.appendAndBroadcast(c, msg)
}

func (rt *router) handleJoinRoom(c conn, m protocol.JoinRoom) {
	msg, err := chat.NewJoinMessage(m.RoomID, m.UserName)
	if err != nil {
		c.Logger().Warn().Err(err).Msg("Rejecting join")
		return
	}
	rt.appendAndBroadcast(c, msg)
}

func (rt *router) appendAndBroadcast(c conn, msg chat.Message) {
	if err := rt.stores.Messages.Append(msg); err != nil {
		c.Logger().Error().Err(err).Str(logging.FieldRoomID, msg.RoomID).Msg("Failed to append message")
		return
	}
	rt.broadcast(protocol.NewMessageEvent(msg))
}

// handleLogin signs in an existing user or registers a new one. When a
// concurrent login registered the same name first, the password is checked
// against that account instead.
func (rt *router) handleLogin(c conn, m protocol.Login) {
	name := strings.TrimSpace(m.Name)
	users := rt.stores.Users
	log := c.Logger().With().Str(logging.FieldUsername, name).Logger()

	if user, ok := users.FindByName(name); ok {
		rt.verify(c, &log, user, m.Password)
		return
	}

	user, err := users.Create(name, m.Password)
	switch {
	case err == nil:
		log.Info().Str(logging.FieldUserID, user.ID).Msg("Registered new user")
		rt.authenticated(c, user)
	case errors.Is(err, chat.ErrUserExists):
		existing, ok := users.FindByName(name)
		if !ok {
			c.Reply(protocol.NewError(protocol.ErrTextInvalidCredentials))
			return
		}
		rt.verify(c, &log, existing, m.Password)
	default:
		log.Error().Err(err).Msg("Failed to create user")
		c.Reply(protocol.NewError(protocol.ErrTextCreateUserFailed))
	}
}

func (rt *router) verify(c conn, log *zerolog.Logger, user chat.User, password string) {
	if !rt.stores.Users.Verify(user, password) {
		log.Warn().Msg("Login rejected")
		c.Reply(protocol.NewError(protocol.ErrTextInvalidCredentials))
		return
	}
	rt.authenticated(c, user)
}

func (rt *router) authenticated(c conn, user chat.User) {
	session := chat.NewSession(user)
	c.Bind(session)
	c.Reply(protocol.NewAuthResult(session))
}

func (rt *router) handleCreateRoom(c conn, m protocol.CreateRoom) {
	room, err := rt.stores.Rooms.Create(m.Name, m.Description)
	if err != nil {
		c.Logger().Warn().Err(err).Msg("Failed to create room")
		c.Reply(protocol.NewError(protocol.ErrTextCreateRoomFailed))
		return
	}
	c.Logger().Info().Str(logging.FieldRoomID, room.ID).Msg("Room created")
	rt.broadcast(protocol.NewRoomCreated(room))
}

// handleDeleteRoom broadcasts the deletion even when persisting it failed;
// the in-memory registry no longer has the room either way.
func (rt *router) handleDeleteRoom(c conn, m protocol.DeleteRooms) {
	removed, err := rt.stores.Rooms.Delete(rt.ctx, m.RoomID)
	if !removed {
		c.Reply(protocol.NewError(protocol.ErrTextRoomNotFound))
		return
	}
	if err != nil {
		c.Logger().Error().Err(err).Str(logging.FieldRoomID, m.RoomID).Msg("Room deletion not persisted")
	}
	rt.broadcast(protocol.NewRoomDeleted(m.RoomID))
}

func (rt *router) broadcast(v any) {
	if err := rt.out.Broadcast(v); err != nil {
		rt.logger.Warn().Err(err).Msg("Broadcast dropped")
	}
}
