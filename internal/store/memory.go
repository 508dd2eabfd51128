package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local DataStore for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	matches  map[string]Match
	messages []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		matches: make(map[string]Match),
	}
}

func (s *MemoryStore) Close() error                        { return nil }
func (s *MemoryStore) Ping(ctx context.Context) error       { return nil }
func (s *MemoryStore) InitSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	prepareUser(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *MemoryStore) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	return s.updateUser(id, func(u *User) { u.IsOnline = online })
}

func (s *MemoryStore) SetLastActive(ctx context.Context, id string, at time.Time) error {
	return s.updateUser(id, func(u *User) { u.LastActive = at })
}

func (s *MemoryStore) updateUser(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&user)
	s.users[id] = user
	return nil
}

func (s *MemoryStore) CreateMatch(ctx context.Context, match *Match) error {
	prepareMatch(match)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[match.ID]; exists {
		return fmt.Errorf("match %s already exists", match.ID)
	}
	s.matches[match.ID] = *match
	return nil
}

func (s *MemoryStore) FindMatchByID(ctx context.Context, id string) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[id]
	if !ok {
		return nil, nil
	}
	return &match, nil
}

func (s *MemoryStore) FindMatchByParticipants(ctx context.Context, a, b string) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Match
	for _, m := range s.matches {
		if (m.User1ID == a && m.User2ID == b) || (m.User1ID == b && m.User2ID == a) {
			if found == nil || m.CreatedAt.After(found.CreatedAt) {
				match := m
				found = &match
			}
		}
	}
	return found, nil
}

func (s *MemoryStore) SetVoiceCallEnabled(ctx context.Context, matchID string, enabled bool) error {
	return s.updateMatch(matchID, func(m *Match) error {
		m.VoiceCallEnabled = enabled
		return nil
	})
}

func (s *MemoryStore) TouchLastMessageAt(ctx context.Context, matchID string, at time.Time) error {
	return s.updateMatch(matchID, func(m *Match) error {
		m.LastMessageAt = at
		return nil
	})
}

func (s *MemoryStore) IncrementUnread(ctx context.Context, matchID, userID string) error {
	return s.updateMatch(matchID, func(m *Match) error {
		switch userID {
		case m.User1ID:
			m.UnreadCount1++
		case m.User2ID:
			m.UnreadCount2++
		default:
			return ErrNotFound
		}
		return nil
	})
}

func (s *MemoryStore) updateMatch(id string, fn func(*Match) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&match); err != nil {
		return err
	}
	s.matches[id] = match
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, msg := range s.messages {
		if msg.MatchID == matchID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
