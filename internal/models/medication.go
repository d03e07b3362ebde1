package models

import (
	"fmt"
	"sort"
	"time"
)

// TimeLayout is the 24-hour time-of-day format medications are scheduled in
const TimeLayout = "15:04"

type Medication struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage"`
	Time      string    `json:"time"` // "HH:MM", 24-hour local time
	CreatedAt time.Time `json:"created_at"`
}

// ParseClock parses an "HH:MM" string and returns hour and minute.
// Single-digit hours ("8:00") are rejected so the value compares
// byte-for-byte against a formatted clock.
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != len(TimeLayout) {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Clock formats t as "HH:MM" in its own location
func Clock(t time.Time) string {
	return t.Format(TimeLayout)
}

// MinutesOfDay returns the scheduled time as minutes after midnight
func (m *Medication) MinutesOfDay() (int, error) {
	h, min, err := ParseClock(m.Time)
	if err != nil {
		return 0, err
	}
	return h*60 + min, nil
}

// Intake records that a medication was taken on a calendar day
type Intake struct {
	MedicationID string    `json:"medication_id"`
	UserID       int64     `json:"user_id"`
	TakenOn      time.Time `json:"taken_on"`
	TakenAt      time.Time `json:"taken_at"`
}

// Display12h formats the scheduled time as "h:MM AM/PM". Malformed values
// are returned unchanged.
func (m *Medication) Display12h() string {
	h, min, err := ParseClock(m.Time)
	if err != nil {
		return m.Time
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, min, suffix)
}

// NextDue returns the earliest medication not yet taken whose time is at or
// after now's minute, or nil. Medications with a malformed time are ignored.
func NextDue(medications []Medication, takenToday map[string]bool, now time.Time) *Medication {
	current := now.Hour()*60 + now.Minute()

	var next *Medication
	nextAt := 0
	for i := range medications {
		med := &medications[i]
		if takenToday[med.ID] {
			continue
		}
		at, err := med.MinutesOfDay()
		if err != nil || at < current {
			continue
		}
		if next == nil || at < nextAt {
			next, nextAt = med, at
		}
	}
	return next
}

// SortByTime orders medications by scheduled time, then name
func SortByTime(medications []Medication) {
	sort.SliceStable(medications, func(i, j int) bool {
		if medications[i].Time != medications[j].Time {
			return medications[i].Time < medications[j].Time
		}
		return medications[i].Name < medications[j].Name
	})
}
