package repository

import (
	"context"
	"time"

	"github.com/hray3182/MedAlarm/internal/database"
)

type IntakeRepository struct {
	db *database.DB
}

func NewIntakeRepository(db *database.DB) *IntakeRepository {
	return &IntakeRepository{db: db}
}

// dateOf returns the local calendar date of t as a UTC midnight, which is
// how DATE columns are bound
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MarkTaken records an intake for the calendar day of at. Marking twice is a no-op.
func (r *IntakeRepository) MarkTaken(ctx context.Context, medicationID string, userID int64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO medication_intakes (medication_id, user_id, taken_on, taken_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (medication_id, taken_on) DO NOTHING`,
		medicationID, userID, dateOf(at), at,
	)
	return err
}

func (r *IntakeRepository) Unmark(ctx context.Context, medicationID string, userID int64, day time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM medication_intakes WHERE medication_id = $1 AND user_id = $2 AND taken_on = $3`,
		medicationID, userID, dateOf(day),
	)
	return err
}

// TakenOn returns the set of medication IDs taken on the calendar day of day
func (r *IntakeRepository) TakenOn(ctx context.Context, userID int64, day time.Time) (map[string]bool, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT medication_id FROM medication_intakes WHERE user_id = $1 AND taken_on = $2`,
		userID, dateOf(day),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		taken[id] = true
	}
	return taken, rows.Err()
}
