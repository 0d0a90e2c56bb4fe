package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mentorship-chat/internal/models"
)

// ProfileRepository resolves profile display data.
type ProfileRepository interface {
	BulkProfiles(ctx context.Context, ids []string) ([]models.Profile, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// BulkProfiles fetches the profiles for ids in one query. Unknown ids are skipped.
func (r *ProfileRepo) BulkProfiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	profiles := []models.Profile{}
	if len(ids) == 0 {
		return profiles, nil
	}
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, name FROM profiles WHERE id = ANY($1)`, pq.Array(ids))
	return profiles, err
}
