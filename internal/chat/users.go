package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/store"
)

// UsersDocument is the persisted shape of the user directory.
type UsersDocument struct {
	Users []User `json:"users"`
}

// Directory looks up and registers users.
type Directory struct {
	doc    *store.Document[UsersDocument]
	hasher PasswordHasher
}

// OpenDirectory loads the user document from the backend.
func OpenDirectory(ctx context.Context, backend store.Backend, hasher PasswordHasher, opts ...store.Option) (*Directory, error) {
	doc, err := store.Open(ctx, backend, UsersKey, func() UsersDocument {
		return UsersDocument{Users: []User{}}
	}, opts...)
	if err != nil {
		return nil, err
	}
	return NewDirectory(doc, hasher), nil
}

// NewDirectory wraps an opened document. A nil hasher means bcrypt.
func NewDirectory(doc *store.Document[UsersDocument], hasher PasswordHasher) *Directory {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Directory{doc: doc, hasher: hasher}
}

// FindByName returns the user with the exact name.
func (d *Directory) FindByName(name string) (User, bool) {
	var (
		found User
		ok    bool
	)
	d.doc.View(func(doc *UsersDocument) {
		found, ok = findUser(doc.Users, name)
	})
	return found, ok
}

func findUser(users []User, name string) (User, bool) {
	for _, u := range users {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}

// Create registers a new user. The name is checked again under the
// document lock, so two concurrent first logins with the same name cannot
// both succeed; the loser gets ErrUserExists.
func (d *Directory) Create(name, password string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	hash, err := d.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Name:         name,
		PasswordHash: hash,
		RegisteredAt: timestamp(),
	}

	err = d.doc.Update(func(doc *UsersDocument) error {
		if _, exists := findUser(doc.Users, name); exists {
			return ErrUserExists
		}
		doc.Users = append(doc.Users, user)
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Verify checks password against the user's stored hash.
func (d *Directory) Verify(user User, password string) bool {
	if user.PasswordHash == "" {
		return false
	}
	return d.hasher.Compare(user.PasswordHash, password)
}

// List returns every user without password hashes.
func (d *Directory) List() []PublicUser {
	out := []PublicUser{}
	d.doc.View(func(doc *UsersDocument) {
		for _, u := range doc.Users {
			out = append(out, u.Public())
		}
	})
	return out
}

// Close flushes pending writes.
func (d *Directory) Close(ctx context.Context) error {
	return d.doc.Close(ctx)
}
