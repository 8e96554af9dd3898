package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxTitleRunes    = 200
)

type Conversation struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Messages    []Message `json:"messages,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ErrInvalidTitle is returned by RenameConversation for empty titles.
var ErrInvalidTitle = errors.New("title must not be empty")

func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (Conversation, error) {
	now := s.timestamp()
	c := Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     clampTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, owner_id, title, last_message, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`),
		c.ID, c.OwnerID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// EnsureConversation returns the owner's conversation id, creating a new
// conversation when id is empty, unknown or owned by someone else.
func (s *Store) EnsureConversation(ctx context.Context, ownerID, id, title string) (Conversation, error) {
	if id = strings.TrimSpace(id); id != "" {
		c, err := s.conversation(ctx, s.db, ownerID, id)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Conversation{}, err
		}
		s.logger.Debug("conversation not found, creating", "conversation_id", id)
	}
	return s.CreateConversation(ctx, ownerID, title)
}

// AppendMessages stores msgs in order inside one transaction and bumps the
// conversation's last_message and updated_at. Positions continue the
// conversation's sequence, so concurrent turns never interleave; the metadata
// of the last commit wins.
func (s *Store) AppendMessages(ctx context.Context, convID string, msgs ...Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	out := make([]Message, len(msgs))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		// Touching the conversation first takes its row lock, which
		// serializes position allocation per conversation.
		last := msgs[len(msgs)-1].Content
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET last_message = ?, updated_at = ? WHERE id = ?`),
			truncateRunes(last, 500), now, convID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		} else if n == 0 {
			return ErrNotFound
		}

		var next int64
		err = tx.QueryRowContext(ctx, s.rebind(
			`SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE conversation_id = ?`), convID).Scan(&next)
		if err != nil {
			return fmt.Errorf("next message position: %w", err)
		}

		insert := s.rebind(`INSERT INTO messages (id, conversation_id, role, content, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
		for i, m := range msgs {
			m.ID = uuid.NewString()
			m.ConversationID = convID
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			m.CreatedAt = m.CreatedAt.UTC()
			if _, err := tx.ExecContext(ctx, insert, m.ID, m.ConversationID, m.Role, m.Content, next+int64(i), m.CreatedAt); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			out[i] = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, ownerID, convID string, limit int) ([]Message, error) {
	if _, err := s.conversation(ctx, s.db, ownerID, convID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ?
		 ORDER BY position DESC
		 LIMIT ?`), convID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListConversations returns the owner's conversations, most recently updated
// first. limit is clamped to [1, MaxListLimit]; zero means DefaultListLimit.
func (s *Store) ListConversations(ctx context.Context, ownerID string, limit int) ([]Conversation, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, owner_id, title, last_message, created_at, updated_at FROM conversations
		 WHERE owner_id = ?
		 ORDER BY updated_at DESC, created_at DESC
		 LIMIT ?`), ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// GetConversation returns the conversation with all of its messages.
func (s *Store) GetConversation(ctx context.Context, ownerID, id string) (Conversation, error) {
	c, err := s.conversation(ctx, s.db, ownerID, id)
	if err != nil {
		return Conversation{}, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ?
		 ORDER BY position ASC`), id)
	if err != nil {
		return Conversation{}, fmt.Errorf("conversation messages: %w", err)
	}
	c.Messages, err = scanMessages(rows)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Store) DeleteConversation(ctx context.Context, ownerID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.conversation(ctx, tx, ownerID, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id = ?`), id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ? AND owner_id = ?`), id, ownerID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

func (s *Store) RenameConversation(ctx context.Context, ownerID, id, title string) (Conversation, error) {
	title = clampTitle(title)
	if title == "" {
		return Conversation{}, ErrInvalidTitle
	}
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND owner_id = ?`),
		title, now, id, ownerID)
	if err != nil {
		return Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Conversation{}, ErrNotFound
	}
	return s.conversation(ctx, s.db, ownerID, id)
}

func (s *Store) conversation(ctx context.Context, q queryer, ownerID, id string) (Conversation, error) {
	var c Conversation
	err := q.QueryRowContext(ctx, s.rebind(
		`SELECT id, owner_id, title, last_message, created_at, updated_at FROM conversations
		 WHERE id = ? AND owner_id = ?`), id, ownerID).
		Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return out, nil
}

func clampTitle(title string) string {
	return truncateRunes(strings.Join(strings.Fields(title), " "), MaxTitleRunes)
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
