package repository

import (
	"context"

	"github.com/hray3182/MedAlarm/internal/database"
	"github.com/hray3182/MedAlarm/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Ensure creates the user row if missing, keeping an existing name
func (r *UserRepository) Ensure(ctx context.Context, userID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO "user" (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	return err
}

// Upsert creates the user or refreshes its display name
func (r *UserRepository) Upsert(ctx context.Context, userID int64, userName string) (*models.User, error) {
	user := &models.User{}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO "user" (user_id, user_name) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET user_name = EXCLUDED.user_name
		 RETURNING user_id, user_name`,
		userID, userName,
	).Scan(&user.UserID, &user.UserName)
	if err != nil {
		return nil, err
	}
	return user, nil
}
