// Package intent defines the messages exchanged between the foreground alarm
// controller and the background notification dispatcher, and the bus that
// carries them.
//
// The schema is closed: every message carries a Kind from a fixed set and is
// validated on decode. Anything else is dropped by the receiver.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/MedAlarm/internal/models"
)

// Kind tags an intent
type Kind string

const (
	KindMarkTaken         Kind = "mark_taken"
	KindSnooze            Kind = "snooze"
	KindShowNotification  Kind = "show_notification"
	KindScheduleAlarm     Kind = "schedule_alarm"
	KindCloseNotification Kind = "close_notification" // the foreground settled the alarm
)

// DateLayout formats Intent.Date
const DateLayout = "2006-01-02"

var (
	// ErrUnknownKind is returned when a message carries a tag outside the schema
	ErrUnknownKind = errors.New("unknown intent kind")
	// ErrInvalid is returned when a known kind is missing required fields
	ErrInvalid = errors.New("invalid intent")
)

// Intent is a single fire-and-forget command. Fields beyond Kind and
// MedicationID are only meaningful for the kinds noted. Date is the day of
// the alarm occurrence the intent belongs to; a receiver drops take and
// snooze intents for any other day.
type Intent struct {
	ID           string             `json:"id"`
	Kind         Kind               `json:"kind"`
	MedicationID string             `json:"medication_id"`
	Date         string             `json:"date,omitempty"`
	Medication   *models.Medication `json:"medication,omitempty"` // show_notification, schedule_alarm
	Title        string             `json:"title,omitempty"`      // show_notification
	Body         string             `json:"body,omitempty"`       // show_notification
	DelayMs      int64              `json:"delay_ms,omitempty"`   // schedule_alarm
	Minutes      int                `json:"minutes,omitempty"`    // snooze
	SentAt       time.Time          `json:"sent_at"`
}

func newIntent(kind Kind, medicationID string) Intent {
	return Intent{
		ID:           uuid.New().String(),
		Kind:         kind,
		MedicationID: medicationID,
		SentAt:       time.Now(),
	}
}

// MarkTaken builds a MARK_TAKEN intent for the occurrence on date
func MarkTaken(medicationID, date string) Intent {
	in := newIntent(KindMarkTaken, medicationID)
	in.Date = date
	return in
}

// Snooze builds a SNOOZE intent for the occurrence on date
func Snooze(medicationID string, minutes int, date string) Intent {
	in := newIntent(KindSnooze, medicationID)
	in.Minutes = minutes
	in.Date = date
	return in
}

// CloseNotification builds a CLOSE_NOTIFICATION intent
func CloseNotification(medicationID, date string) Intent {
	in := newIntent(KindCloseNotification, medicationID)
	in.Date = date
	return in
}

// OnDate returns a copy of in tagged with the occurrence date
func (in Intent) OnDate(date string) Intent {
	in.Date = date
	return in
}

// Stale reports whether in belongs to an occurrence on a day other than
// today. Intents without a date are never stale.
func (in Intent) Stale(today string) bool {
	return in.Date != "" && in.Date != today
}

// ShowNotification builds a SHOW_NOTIFICATION intent
func ShowNotification(title, body string, med models.Medication) Intent {
	in := newIntent(KindShowNotification, med.ID)
	in.Title = title
	in.Body = body
	in.Medication = &med
	return in
}

// ScheduleAlarm builds a SCHEDULE_ALARM intent that fires after delay
func ScheduleAlarm(med models.Medication, delay time.Duration) Intent {
	in := newIntent(KindScheduleAlarm, med.ID)
	in.Medication = &med
	in.DelayMs = delay.Milliseconds()
	return in
}

// Delay returns DelayMs as a duration
func (in Intent) Delay() time.Duration {
	return time.Duration(in.DelayMs) * time.Millisecond
}

// Validate checks the kind-specific required fields
func (in Intent) Validate() error {
	switch in.Kind {
	case KindMarkTaken:
		if in.MedicationID == "" {
			return fmt.Errorf("%w: mark_taken without medication_id", ErrInvalid)
		}
		if err := validDate(in.Date); err != nil {
			return fmt.Errorf("%w: mark_taken %v", ErrInvalid, err)
		}
	case KindSnooze:
		if in.MedicationID == "" {
			return fmt.Errorf("%w: snooze without medication_id", ErrInvalid)
		}
		if err := validDate(in.Date); err != nil {
			return fmt.Errorf("%w: snooze %v", ErrInvalid, err)
		}
		if in.Minutes <= 0 {
			return fmt.Errorf("%w: snooze minutes must be positive, got %d", ErrInvalid, in.Minutes)
		}
	case KindShowNotification:
		if in.Title == "" {
			return fmt.Errorf("%w: show_notification without title", ErrInvalid)
		}
	case KindScheduleAlarm:
		if in.Medication == nil || in.Medication.ID == "" {
			return fmt.Errorf("%w: schedule_alarm without medication", ErrInvalid)
		}
		if in.DelayMs < 0 {
			return fmt.Errorf("%w: negative delay %d", ErrInvalid, in.DelayMs)
		}
	case KindCloseNotification:
		if in.MedicationID == "" {
			return fmt.Errorf("%w: close_notification without medication_id", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	if in.Date != "" {
		if _, err := time.Parse(DateLayout, in.Date); err != nil {
			return fmt.Errorf("%w: bad date %q", ErrInvalid, in.Date)
		}
	}
	return nil
}

// validDate requires a date on actions that settle an occurrence
func validDate(date string) error {
	if date == "" {
		return errors.New("without date")
	}
	return nil
}

// Encode validates and serializes an intent for the wire
func Encode(in Intent) ([]byte, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(in)
}

// Decode parses and validates a wire message
func Decode(data []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := in.Validate(); err != nil {
		return Intent{}, err
	}
	if in.Medication != nil && in.MedicationID == "" {
		in.MedicationID = in.Medication.ID
	}
	return in, nil
}
