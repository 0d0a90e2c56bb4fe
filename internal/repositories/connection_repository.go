package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"mentorship-chat/internal/models"
)

var ErrConnectionNotFound = errors.New("connection not found")

// ConnectionRepository abstracts connection lookups.
type ConnectionRepository interface {
	GetConnection(ctx context.Context, connectionID string) (models.Connection, error)
	IsParticipant(ctx context.Context, connectionID, userID string) (bool, error)
}

// ConnectionRepo is a sqlx implementation of ConnectionRepository.
type ConnectionRepo struct {
	db *sqlx.DB
}

// NewConnectionRepo constructs a ConnectionRepo.
func NewConnectionRepo(db *sqlx.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

// GetConnection fetches a connection by id.
func (r *ConnectionRepo) GetConnection(ctx context.Context, connectionID string) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, `SELECT id, mentor_id, mentee_id, status, created_at, updated_at FROM connections WHERE id=$1`, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, err
}

// IsParticipant checks whether a user is the mentor or mentee of the connection.
func (r *ConnectionRepo) IsParticipant(ctx context.Context, connectionID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM connections WHERE id=$1 AND (mentor_id=$2 OR mentee_id=$2))`, connectionID, userID)
	return exists, err
}
