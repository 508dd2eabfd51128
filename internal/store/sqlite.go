package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// Writes come from many goroutines; sqlite serialises them anyway.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err = store.InitSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        is_ai BOOLEAN NOT NULL DEFAULT FALSE,
        is_online BOOLEAN NOT NULL DEFAULT FALSE,
        last_active DATETIME NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS matches (
        id TEXT PRIMARY KEY,
        user1_id TEXT NOT NULL,
        user2_id TEXT NOT NULL,
        voice_call_enabled BOOLEAN NOT NULL DEFAULT FALSE,
        last_message_at DATETIME NOT NULL,
        unread_count1 INTEGER NOT NULL DEFAULT 0,
        unread_count2 INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_matches_participants ON matches (user1_id, user2_id);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        match_id TEXT NOT NULL,
        sender_id TEXT NOT NULL,
        receiver_id TEXT NOT NULL,
        content TEXT NOT NULL,
        type TEXT NOT NULL DEFAULT 'text',
        is_read BOOLEAN NOT NULL DEFAULT FALSE,
        is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (match_id) REFERENCES matches (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_match ON messages (match_id, created_at);
    `
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// User methods
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	prepareUser(user)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, is_ai, is_online, last_active, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.IsAI, user.IsOnline, user.LastActive, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, is_ai, is_online, last_active, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Name, &user.IsAI, &user.IsOnline, &user.LastActive, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	return s.execOne(ctx, "UPDATE users SET is_online = ? WHERE id = ?", online, id)
}

func (s *SQLiteStore) SetLastActive(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "UPDATE users SET last_active = ? WHERE id = ?", at.UTC(), id)
}

// Match methods
func (s *SQLiteStore) CreateMatch(ctx context.Context, match *Match) error {
	prepareMatch(match)
	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO matches (id, user1_id, user2_id, voice_call_enabled, last_message_at, unread_count1, unread_count2, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare match insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, match.ID, match.User1ID, match.User2ID, match.VoiceCallEnabled,
		match.LastMessageAt, match.UnreadCount1, match.UnreadCount2, match.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute match insert: %w", err)
	}
	return nil
}

const sqliteMatchColumns = "id, user1_id, user2_id, voice_call_enabled, last_message_at, unread_count1, unread_count2, created_at"

func (s *SQLiteStore) FindMatchByID(ctx context.Context, id string) (*Match, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteMatchColumns+" FROM matches WHERE id = ?", id)
	return scanSQLiteMatch(row)
}

func (s *SQLiteStore) FindMatchByParticipants(ctx context.Context, a, b string) (*Match, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteMatchColumns+` FROM matches
        WHERE (user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)
        ORDER BY created_at DESC LIMIT 1`, a, b, b, a)
	return scanSQLiteMatch(row)
}

func scanSQLiteMatch(row *sql.Row) (*Match, error) {
	var m Match
	err := row.Scan(&m.ID, &m.User1ID, &m.User2ID, &m.VoiceCallEnabled, &m.LastMessageAt,
		&m.UnreadCount1, &m.UnreadCount2, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) SetVoiceCallEnabled(ctx context.Context, matchID string, enabled bool) error {
	return s.execOne(ctx, "UPDATE matches SET voice_call_enabled = ? WHERE id = ?", enabled, matchID)
}

func (s *SQLiteStore) TouchLastMessageAt(ctx context.Context, matchID string, at time.Time) error {
	return s.execOne(ctx, "UPDATE matches SET last_message_at = ? WHERE id = ?", at.UTC(), matchID)
}

func (s *SQLiteStore) IncrementUnread(ctx context.Context, matchID, userID string) error {
	return s.execOne(ctx, `
        UPDATE matches SET
            unread_count1 = unread_count1 + CASE WHEN user1_id = ? THEN 1 ELSE 0 END,
            unread_count2 = unread_count2 + CASE WHEN user2_id = ? THEN 1 ELSE 0 END
        WHERE id = ? AND (user1_id = ? OR user2_id = ?)`,
		userID, userID, matchID, userID, userID)
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)
	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO messages (id, match_id, sender_id, receiver_id, content, type, is_read, is_delivered, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, msg.ID, msg.MatchID, msg.SenderID, msg.ReceiverID, msg.Content,
		msg.Type, msg.IsRead, msg.IsDelivered, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	query := `
        SELECT id, match_id, sender_id, receiver_id, content, type, is_read, is_delivered, created_at
        FROM messages
        WHERE match_id = ?
        ORDER BY created_at DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, matchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.MatchID, &msg.SenderID, &msg.ReceiverID, &msg.Content,
			&msg.Type, &msg.IsRead, &msg.IsDelivered, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
