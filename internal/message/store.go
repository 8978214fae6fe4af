package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// InsertPublisher receives the raw payload of every committed insert for
// fan-out to live subscribers. Delivery is best-effort: a publish failure
// is logged, not returned, since the row itself is already durable.
type InsertPublisher interface {
	PublishMessageInsert(data []byte) error
}

// Store manages chat messages in PostgreSQL.
type Store struct {
	db  *sql.DB
	bus InsertPublisher // may be nil in tests
}

// NewStore creates a message store backed by the given database handle.
// If bus is non-nil, every successful insert is announced on it.
func NewStore(db *sql.DB, bus InsertPublisher) *Store {
	return &Store{db: db, bus: bus}
}

// Recent returns up to limit messages joined with their authors, ordered
// newest-first as the store naturally yields them. Callers wanting
// display order reverse the result.
func (s *Store) Recent(ctx context.Context, limit int) ([]Message, error) {
	const query = `
		SELECT m.id, m.content, m.author_id, m.created_at, u.handle, u.role
		FROM messages m
		JOIN users u ON u.id = m.author_id
		ORDER BY m.created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("message: query recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Content, &m.AuthorID, &m.CreatedAt,
			&m.Author.Handle, &m.Author.Role); err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: rows: %w", err)
	}
	return msgs, nil
}

// ByID fetches a single message joined with its author. Returns an error
// wrapping sql.ErrNoRows if either the message or its author row is gone.
func (s *Store) ByID(ctx context.Context, id string) (Message, error) {
	const query = `
		SELECT m.id, m.content, m.author_id, m.created_at, u.handle, u.role
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.id = $1`

	var m Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Content,
		&m.AuthorID, &m.CreatedAt, &m.Author.Handle, &m.Author.Role)
	if err != nil {
		return Message{}, fmt.Errorf("message: fetch %s: %w", id, err)
	}
	return m, nil
}

// Insert writes a new message with a store-assigned UUID and announces the
// raw insert payload on the bus. The announcement carries only row columns;
// subscribers resolve the author join themselves.
func (s *Store) Insert(ctx context.Context, content, authorID string) error {
	const query = `
		INSERT INTO messages (id, content, author_id)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	id := uuid.New().String()
	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, query, id, content, authorID).Scan(&createdAt); err != nil {
		return fmt.Errorf("message: insert: %w", err)
	}

	if s.bus != nil {
		raw := RawInsert{ID: id, Content: content, AuthorID: authorID, CreatedAt: createdAt}
		data, err := json.Marshal(raw)
		if err != nil {
			log.Printf("[message] marshal insert event for %s: %v", id, err)
			return nil
		}
		if err := s.bus.PublishMessageInsert(data); err != nil {
			log.Printf("[message] publish insert event for %s: %v", id, err)
		}
	}
	return nil
}

// Delete removes a message row. Deleting an already-deleted message is not
// an error; the caller's local removal is keyed by ID either way.
func (s *Store) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM messages WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("message: delete %s: %w", id, err)
	}
	return nil
}

// UpsertAuthor registers an author row so history and by-ID joins resolve.
// A repeated upsert refreshes the handle and role for the same ID.
func (s *Store) UpsertAuthor(ctx context.Context, id, handle, role string) error {
	const query = `
		INSERT INTO users (id, handle, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET handle = EXCLUDED.handle, role = EXCLUDED.role`

	if role == "" {
		role = DefaultRole
	}
	if _, err := s.db.ExecContext(ctx, query, id, handle, role); err != nil {
		return fmt.Errorf("message: upsert author %s: %w", id, err)
	}
	return nil
}
