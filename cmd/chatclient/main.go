// Command chatclient is a terminal client for the room chat server. It logs
// in (registering on first use), joins a room, prints the room history and
// new messages, and sends every line read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/wsclient"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "chat server WebSocket URL")
	user := flag.String("user", "guest", "user name")
	password := flag.String("password", "", "password (registers the user on first login)")
	room := flag.String("room", "lobby", "room id to join")
	origin := flag.String("origin", "http://localhost:8080", "Origin header sent on connect")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *password == "" {
		fmt.Fprintln(os.Stderr, "-password is required")
		os.Exit(2)
	}

	logger := logging.NewWithWriter(logging.Config{Level: *logLevel, Pretty: true}, os.Stderr)

	var session atomic.Pointer[chat.Session]
	var client *wsclient.Client
	ready := make(chan struct{})

	login := func(protocol.Envelope) {
		<-ready
		err := client.Send(protocol.TypeLogin, protocol.Login{Name: *user, Password: *password})
		if err != nil {
			logger.Warn().Err(err).Msg("Login not sent")
		}
	}

	onAuth := func(env protocol.Envelope) {
		var res protocol.AuthResult
		if err := env.Decode(&res); err != nil {
			logger.Warn().Err(err).Msg("Bad AUTH_RESULT")
			return
		}
		s := res.UserData
		session.Store(&s)
		fmt.Printf("* signed in as %s\n", s.Name)

		_ = client.Send(protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: *room, UserName: s.Name})
		_ = client.Send(protocol.TypeGetRoomData, protocol.GetRoomData{RoomID: *room})
	}

	onRoomData := func(env protocol.Envelope) {
		var data protocol.RoomData
		if err := env.Decode(&data); err != nil {
			return
		}
		fmt.Printf("* %s (%s)\n", data.Name, data.RoomID)
		for _, m := range data.Messages {
			printMessage(m)
		}
	}

	onMessage := func(env protocol.Envelope) {
		var ev protocol.MessageEvent
		if err := env.Decode(&ev); err != nil || ev.Message.RoomID != *room {
			return
		}
		printMessage(ev.Message)
	}

	onError := func(env protocol.Envelope) {
		var reply protocol.ErrorReply
		if err := env.Decode(&reply); err == nil {
			fmt.Fprintf(os.Stderr, "! %s\n", reply.Message)
		}
	}

	client = wsclient.New(*url,
		wsclient.WithHeader(http.Header{"Origin": []string{*origin}}),
		wsclient.WithHello("chatclient", *user),
		wsclient.WithLogger(logger),
		wsclient.WithListener(protocol.TypeWelcome, login),
		wsclient.WithListener(protocol.TypeAuthResult, onAuth),
		wsclient.WithListener(protocol.TypeRoomData, onRoomData),
		wsclient.WithListener(protocol.TypeNewMessage, onMessage),
		wsclient.WithListener(protocol.TypeError, onError),
	)
	close(ready)
	defer func() { _ = client.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			sendLine(client, session.Load(), *room, line)
		}
	}
}

func sendLine(client *wsclient.Client, s *chat.Session, room, line string) {
	if line == "" {
		return
	}
	if s == nil {
		fmt.Fprintln(os.Stderr, "! not signed in yet")
		return
	}
	err := client.Send(protocol.TypeNewMessage, protocol.NewMessage{
		RoomID:   room,
		SenderID: s.ID,
		UserName: s.Name,
		Content:  line,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "! %v\n", err)
	}
}

func printMessage(m chat.Message) {
	if m.Type == chat.MessageTypeSystem {
		fmt.Printf("  -- %s\n", m.Content)
		return
	}
	fmt.Printf("[%s] %s: %s\n", m.SentAt, m.UserName, m.Content)
}
