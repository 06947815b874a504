package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/models"
)

// ErrChatNotFound is returned when a message is appended to a chat that does not exist.
var ErrChatNotFound = errors.New("chat not found")

// ChatRepo is the PostgreSQL chat store.
type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

func (r *ChatRepo) Create(ctx context.Context, title string) (*models.Chat, error) {
	c := &models.Chat{
		ID:       uuid.New().String(),
		Title:    title,
		Messages: []models.Message{},
		Found:    true,
	}

	query := `INSERT INTO chats (id, title) VALUES ($1, $2) RETURNING created_at`
	if err := r.pool.QueryRow(ctx, query, c.ID, c.Title).Scan(&c.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func (r *ChatRepo) List(ctx context.Context) ([]models.ChatSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, title, created_at FROM chats ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.ChatSummary, 0)
	for rows.Next() {
		var c models.ChatSummary
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (r *ChatRepo) Get(ctx context.Context, id string) (*models.Chat, error) {
	c := &models.Chat{ID: id, Messages: []models.Message{}}

	err := r.pool.QueryRow(ctx, `SELECT title, created_at FROM chats WHERE id = $1`, id).Scan(&c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	c.Found = true

	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, role, content, time
		FROM messages
		WHERE chat_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	c.Messages, err = scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Recent returns the newest limit messages of a chat in conversation order.
func (r *ChatRepo) Recent(ctx context.Context, id string, limit int) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, role, content, time FROM (
			SELECT id, chat_id, role, content, time
			FROM messages
			WHERE chat_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *ChatRepo) AppendMessage(ctx context.Context, chatID string, role models.Role, content string) (*models.Message, error) {
	m := &models.Message{ChatID: chatID, Role: role, Content: content}

	// Single statement so a concurrent delete cannot leave an orphaned message.
	query := `
		INSERT INTO messages (chat_id, role, content)
		SELECT $1::text, $2::text, $3::text
		WHERE EXISTS (SELECT 1 FROM chats WHERE id = $1::text)
		RETURNING id, time`

	err := r.pool.QueryRow(ctx, query, chatID, string(role), content).Scan(&m.ID, &m.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return m, nil
}

func (r *ChatRepo) Rename(ctx context.Context, id, title string) (bool, error) {
	tag, err := r.pool.Exec(ctx, "UPDATE chats SET title = $1 WHERE id = $2", title, id)
	if err != nil {
		return false, fmt.Errorf("failed to rename chat: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ChatRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE chat_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM chats WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return tx.Commit(ctx)
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m    models.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.Time); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}
