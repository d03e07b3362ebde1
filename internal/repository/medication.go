package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hray3182/MedAlarm/internal/database"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/jackc/pgx/v5"
)

type MedicationRepository struct {
	db *database.DB
}

func NewMedicationRepository(db *database.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

// Create validates the time and inserts the medication, assigning a new ID
// when none is set
func (r *MedicationRepository) Create(ctx context.Context, med *models.Medication) error {
	if _, _, err := models.ParseClock(med.Time); err != nil {
		return err
	}
	if med.ID == "" {
		med.ID = uuid.New().String()
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO medications (medication_id, user_id, name, dosage, time)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		med.ID, med.UserID, med.Name, med.Dosage, med.Time,
	).Scan(&med.CreatedAt)
}

func (r *MedicationRepository) GetByUserID(ctx context.Context, userID int64) ([]models.Medication, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT medication_id, user_id, name, dosage, time, created_at
		 FROM medications WHERE user_id = $1 ORDER BY time ASC, name ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var medications []models.Medication
	for rows.Next() {
		var med models.Medication
		if err := rows.Scan(&med.ID, &med.UserID, &med.Name, &med.Dosage, &med.Time, &med.CreatedAt); err != nil {
			return nil, err
		}
		medications = append(medications, med)
	}
	return medications, rows.Err()
}

// GetByID returns nil, nil when the medication does not exist
func (r *MedicationRepository) GetByID(ctx context.Context, medicationID string, userID int64) (*models.Medication, error) {
	med := &models.Medication{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT medication_id, user_id, name, dosage, time, created_at
		 FROM medications WHERE medication_id = $1 AND user_id = $2`,
		medicationID, userID,
	).Scan(&med.ID, &med.UserID, &med.Name, &med.Dosage, &med.Time, &med.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return med, nil
}

func (r *MedicationRepository) Update(ctx context.Context, med *models.Medication) error {
	if _, _, err := models.ParseClock(med.Time); err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE medications SET name = $1, dosage = $2, time = $3
		 WHERE medication_id = $4 AND user_id = $5`,
		med.Name, med.Dosage, med.Time, med.ID, med.UserID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("medication %s not found", med.ID)
	}
	return nil
}

// Delete removes the medication and its intake history. It reports whether
// a row was deleted.
func (r *MedicationRepository) Delete(ctx context.Context, medicationID string, userID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM medications WHERE medication_id = $1 AND user_id = $2`,
		medicationID, userID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
