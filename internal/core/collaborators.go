package core

import (
	"context"
	"time"

	"github.com/lovelink/realtime-relay/internal/store"
)

// Emitter pushes events to live socket connections. Emit reports false when the
// connection is gone or its send queue is full; callers treat that as a delivery miss.
type Emitter interface {
	Emit(connID, event string, payload any) bool
	EmitAll(event string, payload any)
}

type UserStore interface {
	SetOnlineStatus(ctx context.Context, id string, online bool) error
	SetLastActive(ctx context.Context, id string, at time.Time) error
}

type MatchStore interface {
	FindMatchByParticipants(ctx context.Context, a, b string) (*store.Match, error)
	SetVoiceCallEnabled(ctx context.Context, matchID string, enabled bool) error
	TouchLastMessageAt(ctx context.Context, matchID string, at time.Time) error
	IncrementUnread(ctx context.Context, matchID, userID string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
}

// SendLimiter caps AI-directed sends per user. A nil limiter allows everything.
type SendLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// SendLimiterFunc adapts a function to SendLimiter.
type SendLimiterFunc func(ctx context.Context, userID string) (bool, error)

func (f SendLimiterFunc) Allow(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}
