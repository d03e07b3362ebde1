package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/MedAlarm/internal/models"
)

type medicationSource interface {
	GetByUserID(ctx context.Context, userID int64) ([]models.Medication, error)
	GetByID(ctx context.Context, medicationID string, userID int64) (*models.Medication, error)
}

type intakeLog interface {
	MarkTaken(ctx context.Context, medicationID string, userID int64, at time.Time) error
	TakenOn(ctx context.Context, userID int64, day time.Time) (map[string]bool, error)
}

// Store is the record store of one user, as read by the alarm scheduler
type Store struct {
	medications medicationSource
	intakes     intakeLog
	userID      int64
	now         func() time.Time
}

func NewStore(medications medicationSource, intakes intakeLog, userID int64) *Store {
	return &Store{
		medications: medications,
		intakes:     intakes,
		userID:      userID,
		now:         time.Now,
	}
}

func (s *Store) GetMedications(ctx context.Context) ([]models.Medication, error) {
	meds, err := s.medications.GetByUserID(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load medications: %w", err)
	}
	return meds, nil
}

func (s *Store) GetTakenToday(ctx context.Context) (map[string]bool, error) {
	taken, err := s.intakes.TakenOn(ctx, s.userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load today's intakes: %w", err)
	}
	return taken, nil
}

func (s *Store) MarkTaken(ctx context.Context, medicationID string) error {
	if err := s.intakes.MarkTaken(ctx, medicationID, s.userID, s.now()); err != nil {
		return fmt.Errorf("failed to mark %s taken: %w", medicationID, err)
	}
	return nil
}

func (s *Store) GetMedication(ctx context.Context, medicationID string) (*models.Medication, error) {
	return s.medications.GetByID(ctx, medicationID, s.userID)
}
