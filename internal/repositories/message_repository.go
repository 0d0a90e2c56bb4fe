package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mentorship-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, connection_id, sender_id, content, read, created_at`

// MessageRepository defines interactions for connection messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, connectionID, senderID, content string) (models.Message, error)
	ListMessages(ctx context.Context, connectionID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkRead(ctx context.Context, connectionID, readerID string, ids []string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the durable row.
func (r *MessageRepo) CreateMessage(ctx context.Context, connectionID, senderID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (connection_id, sender_id, content) VALUES ($1, $2, $3) RETURNING `+messageColumns, connectionID, senderID, content).
		StructScan(&msg)
	return msg, err
}

// ListMessages returns every message of a connection, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, connectionID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE connection_id=$1 ORDER BY created_at ASC`, connectionID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead flips the read flag on the given messages. Only messages in the
// connection that readerID did not send are touched.
func (r *MessageRepo) MarkRead(ctx context.Context, connectionID, readerID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE
        WHERE id = ANY($1) AND connection_id=$2 AND sender_id<>$3 AND read = FALSE`, pq.Array(ids), connectionID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
