package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Stores bundles the three persistence-backed collections. It is built
// once at startup and handed to the hub.
type Stores struct {
	Messages *MessageLog
	Users    *Directory
	Rooms    *Registry
}

// StoresConfig controls OpenStores.
type StoresConfig struct {
	HistoryLimit int
	Hasher       PasswordHasher
	Options      []store.Option
}

// OpenStores loads all three documents from the backend.
func OpenStores(ctx context.Context, backend store.Backend, cfg StoresConfig) (*Stores, error) {
	messages, err := OpenMessageLog(ctx, backend, cfg.HistoryLimit, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to open message log: %w", err)
	}
	users, err := OpenDirectory(ctx, backend, cfg.Hasher, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to open user directory: %w", err)
	}
	rooms, err := OpenRegistry(ctx, backend, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to open room registry: %w", err)
	}
	return &Stores{Messages: messages, Users: users, Rooms: rooms}, nil
}

// Close flushes every store, returning all flush errors joined.
func (s *Stores) Close(ctx context.Context) error {
	return errors.Join(
		s.Messages.Close(ctx),
		s.Users.Close(ctx),
		s.Rooms.Close(ctx),
	)
}
