package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by updates whose target row or document does not exist.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("store: not found")

// DataStore is the document store consumed by the relay.
// SQLiteStore, PostgresStore, MongoStore and MemoryStore implement it.
type DataStore interface {
	Close() error
	Ping(ctx context.Context) error
	InitSchema(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	FindUserByID(ctx context.Context, id string) (*User, error)
	SetOnlineStatus(ctx context.Context, id string, online bool) error
	SetLastActive(ctx context.Context, id string, at time.Time) error

	// Matches
	CreateMatch(ctx context.Context, match *Match) error
	FindMatchByID(ctx context.Context, id string) (*Match, error)
	FindMatchByParticipants(ctx context.Context, a, b string) (*Match, error)
	SetVoiceCallEnabled(ctx context.Context, matchID string, enabled bool) error
	TouchLastMessageAt(ctx context.Context, matchID string, at time.Time) error
	IncrementUnread(ctx context.Context, matchID, userID string) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the newest limit messages of a match, oldest first.
	ListMessages(ctx context.Context, matchID string, limit int) ([]Message, error)
}

// Open connects to the store selected by driver.
func Open(ctx context.Context, driver, url, mongoDatabase string) (DataStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(url)
	case "postgres":
		return NewPostgresStore(ctx, url)
	case "mongo":
		return NewMongoStore(ctx, url, mongoDatabase)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func prepareUser(u *User) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastActive.IsZero() {
		u.LastActive = now
	}
}

func prepareMatch(m *Match) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastMessageAt.IsZero() {
		m.LastMessageAt = m.CreatedAt
	}
}

func prepareMessage(msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
}
