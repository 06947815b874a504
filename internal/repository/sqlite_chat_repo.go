package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chatrelay-backend/internal/models"
)

// timeLayout is fixed-width so lexical order on the TEXT columns is chronological.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteChatRepo is the embedded chat store.
type SQLiteChatRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteChatRepo(db *sql.DB) *SQLiteChatRepo {
	return &SQLiteChatRepo{db: db, now: time.Now}
}

func (r *SQLiteChatRepo) timestamp() (time.Time, string) {
	t := r.now().UTC().Truncate(time.Microsecond)
	return t, t.Format(timeLayout)
}

func (r *SQLiteChatRepo) Create(ctx context.Context, title string) (*models.Chat, error) {
	created, createdText := r.timestamp()
	c := &models.Chat{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: created,
		Messages:  []models.Message{},
		Found:     true,
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO chats (id, title, created_at) VALUES (?, ?, ?)`, c.ID, c.Title, createdText)
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}
	return c, nil
}

func (r *SQLiteChatRepo) List(ctx context.Context) ([]models.ChatSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, created_at FROM chats ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "listing chats")
	}
	defer rows.Close()

	chats := make([]models.ChatSummary, 0)
	for rows.Next() {
		var (
			c       models.ChatSummary
			created string
		)
		if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
			return nil, errors.Wrap(err, "scanning chat")
		}
		if c.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, errors.Wrapf(err, "parsing created_at of chat %s", c.ID)
		}
		chats = append(chats, c)
	}
	return chats, errors.Wrap(rows.Err(), "reading chats")
}

func (r *SQLiteChatRepo) Get(ctx context.Context, id string) (*models.Chat, error) {
	c := &models.Chat{ID: id, Messages: []models.Message{}}

	var created string
	err := r.db.QueryRowContext(ctx, `SELECT title, created_at FROM chats WHERE id = ?`, id).Scan(&c.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting chat")
	}
	if c.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, errors.Wrapf(err, "parsing created_at of chat %s", id)
	}
	c.Found = true

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, time
		FROM messages
		WHERE chat_id = ?
		ORDER BY id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "getting messages")
	}
	if c.Messages, err = scanSQLiteMessages(rows); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *SQLiteChatRepo) Recent(ctx context.Context, id string, limit int) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, time FROM (
			SELECT id, chat_id, role, content, time
			FROM messages
			WHERE chat_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id`, id, limit)
	if err != nil {
		return nil, errors.Wrap(err, "getting recent messages")
	}
	return scanSQLiteMessages(rows)
}

func (r *SQLiteChatRepo) AppendMessage(ctx context.Context, chatID string, role models.Role, content string) (*models.Message, error) {
	t, text := r.timestamp()
	m := &models.Message{ChatID: chatID, Role: role, Content: content, Time: t}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, role, content, time)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM chats WHERE id = ?)
		RETURNING id`, chatID, string(role), content, text, chatID).Scan(&m.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "appending message")
	}
	return m, nil
}

func (r *SQLiteChatRepo) Rename(ctx context.Context, id, title string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return false, errors.Wrap(err, "renaming chat")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "renaming chat")
	}
	return n > 0, nil
}

func (r *SQLiteChatRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning delete")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting chat")
	}
	return errors.Wrap(tx.Commit(), "committing delete")
}

func scanSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m    models.Message
			role string
			at   string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &at); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}
		t, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing time of message %d", m.ID)
		}
		m.Role = models.Role(role)
		m.Time = t
		messages = append(messages, m)
	}
	return messages, errors.Wrap(rows.Err(), "reading messages")
}
