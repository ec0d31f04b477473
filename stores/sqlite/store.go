package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"realtime-chat/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT,
	full_name TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_members (
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, position)
);
CREATE INDEX IF NOT EXISTS conversation_members_user ON conversation_members (user_id);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	message TEXT,
	file_paths TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages (conversation_id, id);
`

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens the database and creates the schema.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serialises writers; sqlite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	log := logrus.WithField("user_id", id)

	user := core.User{ID: id}
	var email, fullName sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT email, full_name, created_at, updated_at FROM users WHERE id = ?", id).
		Scan(&email, &fullName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("User not found")
			return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve user")
		return nil, err
	}
	user.Email = email.String
	user.FullName = fullName.String
	return &user, nil
}

func (s *sqliteStore) SaveUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	log := logrus.WithField("user_id", user.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT created_at FROM users WHERE id = ?", user.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
		_, err = tx.ExecContext(ctx,
			"INSERT INTO users (id, email, full_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			user.ID, user.Email, user.FullName, createdAt, now)
	case err == nil:
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET email = ?, full_name = ?, updated_at = ? WHERE id = ?",
			user.Email, user.FullName, now, user.ID)
	}
	if err != nil {
		log.WithError(err).Error("Failed to save user")
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	user.CreatedAt = createdAt
	user.UpdatedAt = now
	log.Debug("User saved")
	return nil
}

func (s *sqliteStore) CreateConversation(ctx context.Context, members []string) (*core.Conversation, error) {
	conversation := &core.Conversation{
		ID:        ulid.Make().String(),
		Members:   append([]string(nil), members...),
		CreatedAt: time.Now().UTC(),
	}
	log := logrus.WithField("conversation_id", conversation.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at) VALUES (?, ?)",
		conversation.ID, conversation.CreatedAt); err != nil {
		log.WithError(err).Error("Failed to create conversation")
		return nil, err
	}
	for i, member := range members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, user_id, position) VALUES (?, ?, ?)",
			conversation.ID, member, i); err != nil {
			log.WithError(err).Error("Failed to add conversation member")
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.WithField("members", members).Info("Conversation created successfully")
	return conversation, nil
}

func (s *sqliteStore) FindConversation(ctx context.Context, id string) (*core.Conversation, error) {
	conversations, err := s.queryConversations(ctx,
		"SELECT c.id, c.created_at FROM conversations c WHERE c.id = ?", id)
	if err != nil {
		logrus.WithError(err).WithField("conversation_id", id).Error("Failed to retrieve conversation")
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	return conversations[0], nil
}

func (s *sqliteStore) ListConversations(ctx context.Context, userID string) ([]*core.Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT c.id, c.created_at FROM conversations c
		WHERE c.id IN (SELECT conversation_id FROM conversation_members WHERE user_id = ?)
		ORDER BY c.id`, userID)
}

func (s *sqliteStore) FindConversationBetween(ctx context.Context, members ...string) (*core.Conversation, error) {
	query := "SELECT c.id, c.created_at FROM conversations c"
	args := make([]any, 0, len(members))
	conditions := make([]string, 0, len(members))
	for _, member := range members {
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM conversation_members m WHERE m.conversation_id = c.id AND m.user_id = ?)")
		args = append(args, member)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.id LIMIT 1"

	conversations, err := s.queryConversations(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation between %v: %w", members, core.ErrNotFound)
	}
	return conversations[0], nil
}

func (s *sqliteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	conversations := make([]*core.Conversation, 0)
	for rows.Next() {
		var c core.Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		conversations = append(conversations, &c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range conversations {
		if c.Members, err = s.members(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (s *sqliteStore) members(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM conversation_members WHERE conversation_id = ? ORDER BY position", conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *sqliteStore) CreateMessage(ctx context.Context, message *core.Message) error {
	if message.ConversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if message.FilePaths == nil {
		message.FilePaths = []string{}
	}
	filePaths, err := json.Marshal(message.FilePaths)
	if err != nil {
		return fmt.Errorf("encode file paths: %w", err)
	}

	message.ID = ulid.Make().String()
	message.CreatedAt = time.Now().UTC()
	log := logrus.WithFields(logrus.Fields{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
	})

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, message, file_paths, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		message.ID, message.ConversationID, message.SenderID, message.Message, string(filePaths), message.CreatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to create message")
		return err
	}
	log.Info("Message created successfully")
	return nil
}

func (s *sqliteStore) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	log := logrus.WithField("conversation_id", conversationID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sender_id, message, file_paths, created_at FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID)
	if err != nil {
		log.WithError(err).Error("Failed to list messages")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close message rows")
		}
	}()

	messages := make([]*core.Message, 0)
	for rows.Next() {
		m := core.Message{ConversationID: conversationID}
		var text, filePaths sql.NullString
		if err := rows.Scan(&m.ID, &m.SenderID, &text, &filePaths, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Message = text.String
		m.FilePaths = []string{}
		if filePaths.Valid && filePaths.String != "" {
			if err := json.Unmarshal([]byte(filePaths.String), &m.FilePaths); err != nil {
				log.WithError(err).WithField("message_id", m.ID).Warn("Ignoring malformed file paths")
			}
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
