package alarm

import (
	"sort"
	"time"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/models"
)

// DateLayout formats the calendar-date part of an occurrence key
const DateLayout = intent.DateLayout

// OccurrenceKey identifies one due minute of one medication on one day
type OccurrenceKey struct {
	MedicationID string
	Date         string
	Time         string
}

// KeyFor returns the occurrence key of medicationID at the minute containing t
func KeyFor(medicationID string, t time.Time) OccurrenceKey {
	return OccurrenceKey{
		MedicationID: medicationID,
		Date:         t.Format(DateLayout),
		Time:         models.Clock(t),
	}
}

// IsZero reports whether k is the zero key
func (k OccurrenceKey) IsZero() bool {
	return k == OccurrenceKey{}
}

// FiredOccurrences records the occurrences an alarm was already raised for
type FiredOccurrences map[OccurrenceKey]struct{}

func (f FiredOccurrences) Has(k OccurrenceKey) bool {
	_, ok := f[k]
	return ok
}

func (f FiredOccurrences) Add(k OccurrenceKey) {
	f[k] = struct{}{}
}

func (f FiredOccurrences) Remove(k OccurrenceKey) {
	delete(f, k)
}

// RemoveMedication drops every key of medicationID on date
func (f FiredOccurrences) RemoveMedication(medicationID, date string) {
	for k := range f {
		if k.MedicationID == medicationID && k.Date == date {
			delete(f, k)
		}
	}
}

func (f FiredOccurrences) Clear() {
	for k := range f {
		delete(f, k)
	}
}

// Suppressions maps a medication ID to the instant its snooze ends
type Suppressions map[string]time.Time

// Live reports whether medicationID is suppressed at now
func (s Suppressions) Live(medicationID string, now time.Time) bool {
	until, ok := s[medicationID]
	return ok && now.Before(until)
}

// Set inserts or overwrites the suppression for medicationID
func (s Suppressions) Set(medicationID string, until time.Time) {
	s[medicationID] = until
}

// Prune removes entries whose deadline has passed and returns their IDs,
// earliest deadline first
func (s Suppressions) Prune(now time.Time) []string {
	var expired []string
	for id, until := range s {
		if !now.Before(until) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		a, b := s[expired[i]], s[expired[j]]
		if a.Equal(b) {
			return expired[i] < expired[j]
		}
		return a.Before(b)
	})
	for _, id := range expired {
		delete(s, id)
	}
	return expired
}

func (s Suppressions) Clear() {
	for id := range s {
		delete(s, id)
	}
}
