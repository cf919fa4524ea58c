package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/store"
)

// RoomsDocument is the persisted shape of the room registry.
type RoomsDocument struct {
	Rooms []Room `json:"rooms"`
}

// Registry is the set of known rooms.
type Registry struct {
	doc *store.Document[RoomsDocument]
}

// OpenRegistry loads the room document from the backend.
func OpenRegistry(ctx context.Context, backend store.Backend, opts ...store.Option) (*Registry, error) {
	doc, err := store.Open(ctx, backend, RoomsKey, func() RoomsDocument {
		return RoomsDocument{Rooms: []Room{}}
	}, opts...)
	if err != nil {
		return nil, err
	}
	return NewRegistry(doc), nil
}

// NewRegistry wraps an opened document.
func NewRegistry(doc *store.Document[RoomsDocument]) *Registry {
	return &Registry{doc: doc}
}

// List returns all rooms in creation order.
func (r *Registry) List() []Room {
	out := []Room{}
	r.doc.View(func(doc *RoomsDocument) {
		out = append(out, doc.Rooms...)
	})
	return out
}

// Get returns the room with the given id.
func (r *Registry) Get(id string) (Room, bool) {
	var (
		room Room
		ok   bool
	)
	r.doc.View(func(doc *RoomsDocument) {
		for _, candidate := range doc.Rooms {
			if candidate.ID == id {
				room, ok = candidate, true
				return
			}
		}
	})
	return room, ok
}

// Create adds a room and schedules a write.
func (r *Registry) Create(name, description string) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, ErrRoomNameRequired
	}

	room := Room{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   timestamp(),
		Members:     []string{},
	}

	if err := r.doc.Update(func(doc *RoomsDocument) error {
		doc.Rooms = append(doc.Rooms, room)
		return nil
	}); err != nil {
		return Room{}, err
	}
	return room, nil
}

// Delete removes a room and waits until the change is persisted. It
// reports false when no room has the id.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	var removed bool

	// Update schedules a coalesced write; Sync below supersedes it.
	_ = r.doc.Update(func(doc *RoomsDocument) error {
		for i, room := range doc.Rooms {
			if room.ID == id {
				doc.Rooms = append(doc.Rooms[:i:i], doc.Rooms[i+1:]...)
				removed = true
				return nil
			}
		}
		return errNoChange
	})
	if !removed {
		return false, nil
	}

	if err := r.doc.Sync(ctx); err != nil {
		return true, fmt.Errorf("room %s deleted but not persisted: %w", id, err)
	}
	return true, nil
}

// Close flushes pending writes.
func (r *Registry) Close(ctx context.Context) error {
	return r.doc.Close(ctx)
}
