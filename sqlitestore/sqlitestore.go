// Package sqlitestore is a convo.ConversationStore backed by SQLite, built
// the way the teacher's SQL-backed session service is: a schema created on
// first use, messages appended inside transactions, and history read back
// in sequence order.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agentrt/convo"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	id VARCHAR(255) PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	max_messages INTEGER NOT NULL DEFAULT 0,
	max_characters INTEGER NOT NULL DEFAULT 0,
	strict_lookup INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id VARCHAR(255) NOT NULL,
	message_id VARCHAR(255) NOT NULL,
	sequence_num INTEGER NOT NULL,
	message_json TEXT NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv ON conversation_messages(conversation_id, sequence_num);
`

// Store implements convo.ConversationStore against a single SQLite database
// file. It is safe for concurrent use; database/sql pools connections
// internally and every multi-statement operation runs inside a transaction.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers; avoid SQLITE_BUSY churn.

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ convo.ConversationStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, id string) (*convo.Conversation, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT created_at, updated_at, max_messages, max_characters, strict_lookup
FROM conversations WHERE id = ?`, id)

	var conv convo.Conversation
	conv.ID = id
	var strict int
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt, &conv.Policy.MaxMessages, &conv.Policy.MaxCharacters, &strict); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query conversation %q: %w", id, err)
	}
	conv.Policy.StrictLookup = strict != 0

	messages, err := s.GetHistory(ctx, id)
	if err != nil {
		return nil, false, err
	}
	conv.Messages = messages
	return &conv, true, nil
}

func (s *Store) Set(ctx context.Context, id string, conv *convo.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	strict := 0
	if conv.Policy.StrictLookup {
		strict = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, created_at, updated_at, max_messages, max_characters, strict_lookup)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	updated_at = excluded.updated_at,
	max_messages = excluded.max_messages,
	max_characters = excluded.max_characters,
	strict_lookup = excluded.strict_lookup
`, id, conv.CreatedAt, conv.UpdatedAt, conv.Policy.MaxMessages, conv.Policy.MaxCharacters, strict); err != nil {
		return fmt.Errorf("upsert conversation %q: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("clear messages for %q: %w", id, err)
	}
	for i, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, id, int64(i)+1, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages for %q: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation %q: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AddMessage(ctx context.Context, id string, msg convo.Message) error {
	return s.AddMessages(ctx, id, []convo.Message{msg})
}

func (s *Store) AddMessages(ctx context.Context, id string, msgs []convo.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, created_at, updated_at, max_messages, max_characters, strict_lookup)
VALUES (?, ?, ?, 0, 0, 0)
ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
`, id, now, now); err != nil {
		return fmt.Errorf("ensure conversation %q: %w", id, err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence_num), 0) FROM conversation_messages WHERE conversation_id = ?`, id).Scan(&next); err != nil {
		return fmt.Errorf("read sequence number for %q: %w", id, err)
	}

	for i, msg := range msgs {
		if err := insertMessage(ctx, tx, id, next+int64(i)+1, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, seq int64, msg convo.Message) error {
	data, err := convo.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message %q: %w", msg.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_messages (conversation_id, message_id, sequence_num, message_json)
VALUES (?, ?, ?, ?)
`, conversationID, msg.ID, seq, string(data)); err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) GetHistory(ctx context.Context, id string) ([]convo.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT message_json FROM conversation_messages
WHERE conversation_id = ?
ORDER BY sequence_num ASC
`, id)
	if err != nil {
		return nil, fmt.Errorf("query history for %q: %w", id, err)
	}
	defer rows.Close()

	var out []convo.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg, err := convo.DecodeMessage([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history for %q: %w", id, err)
	}
	return out, nil
}
