package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			is_ai BOOLEAN NOT NULL DEFAULT FALSE,
			is_online BOOLEAN NOT NULL DEFAULT FALSE,
			last_active TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			user1_id TEXT NOT NULL,
			user2_id TEXT NOT NULL,
			voice_call_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			last_message_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			unread_count1 INTEGER NOT NULL DEFAULT 0,
			unread_count2 INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_matches_participants ON matches (user1_id, user2_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches (id),
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_match ON messages (match_id, created_at);
	`)
	return err
}

// CreateUser inserts a user record.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	prepareUser(user)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, is_ai, is_online, last_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Name, user.IsAI, user.IsOnline, user.LastActive, user.CreatedAt)
	return err
}

// FindUserByID retrieves a user by ID.
func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_ai, is_online, last_active, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Name,
		&user.IsAI,
		&user.IsOnline,
		&user.LastActive,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SetOnlineStatus flips a user's online flag.
func (s *PostgresStore) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	return s.execOne(ctx, `UPDATE users SET is_online = $1 WHERE id = $2`, online, id)
}

// SetLastActive records when a user was last seen.
func (s *PostgresStore) SetLastActive(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, `UPDATE users SET last_active = $1 WHERE id = $2`, at, id)
}

// CreateMatch inserts a match record.
func (s *PostgresStore) CreateMatch(ctx context.Context, match *Match) error {
	prepareMatch(match)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matches (id, user1_id, user2_id, voice_call_enabled, last_message_at, unread_count1, unread_count2, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, match.ID, match.User1ID, match.User2ID, match.VoiceCallEnabled, match.LastMessageAt,
		match.UnreadCount1, match.UnreadCount2, match.CreatedAt)
	return err
}

// FindMatchByID retrieves a match by ID.
func (s *PostgresStore) FindMatchByID(ctx context.Context, id string) (*Match, error) {
	return s.scanMatch(s.pool.QueryRow(ctx, `
		SELECT id, user1_id, user2_id, voice_call_enabled, last_message_at, unread_count1, unread_count2, created_at
		FROM matches WHERE id = $1
	`, id))
}

// FindMatchByParticipants retrieves the most recent match between a and b, in either order.
func (s *PostgresStore) FindMatchByParticipants(ctx context.Context, a, b string) (*Match, error) {
	return s.scanMatch(s.pool.QueryRow(ctx, `
		SELECT id, user1_id, user2_id, voice_call_enabled, last_message_at, unread_count1, unread_count2, created_at
		FROM matches
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
		ORDER BY created_at DESC
		LIMIT 1
	`, a, b))
}

func (s *PostgresStore) scanMatch(row pgx.Row) (*Match, error) {
	m := &Match{}
	err := row.Scan(
		&m.ID,
		&m.User1ID,
		&m.User2ID,
		&m.VoiceCallEnabled,
		&m.LastMessageAt,
		&m.UnreadCount1,
		&m.UnreadCount2,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// SetVoiceCallEnabled toggles voice calling for a match.
func (s *PostgresStore) SetVoiceCallEnabled(ctx context.Context, matchID string, enabled bool) error {
	return s.execOne(ctx, `UPDATE matches SET voice_call_enabled = $1 WHERE id = $2`, enabled, matchID)
}

// TouchLastMessageAt updates the match's last activity time.
func (s *PostgresStore) TouchLastMessageAt(ctx context.Context, matchID string, at time.Time) error {
	return s.execOne(ctx, `UPDATE matches SET last_message_at = $1 WHERE id = $2`, at, matchID)
}

// IncrementUnread bumps the unread counter belonging to userID.
func (s *PostgresStore) IncrementUnread(ctx context.Context, matchID, userID string) error {
	return s.execOne(ctx, `
		UPDATE matches SET
			unread_count1 = unread_count1 + CASE WHEN user1_id = $2 THEN 1 ELSE 0 END,
			unread_count2 = unread_count2 + CASE WHEN user2_id = $2 THEN 1 ELSE 0 END
		WHERE id = $1 AND (user1_id = $2 OR user2_id = $2)
	`, matchID, userID)
}

// CreateMessage inserts a message document.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, match_id, sender_id, receiver_id, content, type, is_read, is_delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.MatchID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Type,
		msg.IsRead, msg.IsDelivered, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the newest limit messages of a match, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, match_id, sender_id, receiver_id, content, type, is_read, is_delivered, created_at
		FROM messages
		WHERE match_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, matchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID,
			&msg.MatchID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&msg.Type,
			&msg.IsRead,
			&msg.IsDelivered,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
