package alarm

import (
	"errors"
	"fmt"
	"time"

	"github.com/hray3182/MedAlarm/internal/models"
)

// ErrBadTime marks a medication whose scheduled time cannot be parsed
var ErrBadTime = errors.New("malformed medication time")

// Skip reports a medication the detector could not evaluate
type Skip struct {
	Medication models.Medication
	Err        error
}

// Due returns the medications newly due at now, in input order. A
// medication is due iff it is not taken today, has no live suppression,
// its time equals the current "HH:MM" and that occurrence has not fired.
// Medications with a malformed time are returned in skipped instead.
//
// Due does not modify its arguments.
func Due(
	now time.Time,
	medications []models.Medication,
	takenToday map[string]bool,
	suppressions Suppressions,
	fired FiredOccurrences,
) (due []models.Medication, skipped []Skip) {
	current := models.Clock(now)

	for _, med := range medications {
		if takenToday[med.ID] {
			continue
		}
		if suppressions.Live(med.ID, now) {
			continue
		}
		if _, _, err := models.ParseClock(med.Time); err != nil {
			skipped = append(skipped, Skip{Medication: med, Err: fmt.Errorf("%w: %v", ErrBadTime, err)})
			continue
		}
		if med.Time != current {
			continue
		}
		if fired.Has(KeyFor(med.ID, now)) {
			continue
		}
		due = append(due, med)
	}
	return due, skipped
}
