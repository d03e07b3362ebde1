package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/metrics"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/rs/zerolog"
)

// TestMedicationID is the ID of the synthetic medication rung by test alarms.
// Resolving it as taken never touches the record store.
const TestMedicationID = "test"

// RecordStore is the persistent medication store the core reads from
type RecordStore interface {
	GetMedications(ctx context.Context) ([]models.Medication, error)
	GetTakenToday(ctx context.Context) (map[string]bool, error)
	MarkTaken(ctx context.Context, medicationID string) error
	// GetMedication returns nil, nil when the medication does not exist
	GetMedication(ctx context.Context, medicationID string) (*models.Medication, error)
}

// Tone is the local audible channel
type Tone interface {
	Start() error
	Stop()
}

// Background is the outbound side of the reconciliation channel
type Background interface {
	ToBackground(in intent.Intent) bool
}

// Outcome is how a ringing alarm ended
type Outcome string

const (
	OutcomeTaken     Outcome = "taken"
	OutcomeSnoozed   Outcome = "snoozed"
	OutcomeDismissed Outcome = "dismissed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeClosed    Outcome = "closed"
)

// Resolution is the argument to Resolve. Minutes is only used by snoozes.
type Resolution struct {
	Outcome Outcome
	Minutes int
}

func Taken() Resolution { return Resolution{Outcome: OutcomeTaken} }

func Snoozed(minutes int) Resolution { return Resolution{Outcome: OutcomeSnoozed, Minutes: minutes} }

func Dismissed() Resolution { return Resolution{Outcome: OutcomeDismissed} }

func timedOut() Resolution { return Resolution{Outcome: OutcomeTimeout} }

// closed ends a ring because the foreground is going away. The platform
// notification stays actionable.
func closed() Resolution { return Resolution{Outcome: OutcomeClosed} }

// State is Idle when Ringing is false
type State struct {
	Ringing    bool              `json:"ringing"`
	Medication models.Medication `json:"medication"`
	StartedAt  time.Time         `json:"started_at"`
}

// Machine is the alarm state machine. It is not safe for concurrent use:
// the foreground scheduler goroutine is its only caller.
type Machine struct {
	store        RecordStore
	tone         Tone
	background   Background
	fired        FiredOccurrences
	suppressions Suppressions
	ringTimeout  time.Duration
	now          func() time.Time

	state    State
	key      OccurrenceKey
	cycle    uint64
	timer    *time.Timer
	timeouts chan uint64
	logger   zerolog.Logger
}

// NewMachine creates an idle machine that mutates the given dedup and
// snooze maps on snooze.
func NewMachine(store RecordStore, tone Tone, background Background, fired FiredOccurrences, suppressions Suppressions, ringTimeout time.Duration) *Machine {
	return &Machine{
		store:        store,
		tone:         tone,
		background:   background,
		fired:        fired,
		suppressions: suppressions,
		ringTimeout:  ringTimeout,
		now:          time.Now,
		timeouts:     make(chan uint64, 1),
		logger:       log.WithComponent("alarm"),
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Ringing reports whether an alarm is ringing
func (m *Machine) Ringing() bool {
	return m.state.Ringing
}

// RingingFor reports whether the ringing alarm belongs to medicationID
func (m *Machine) RingingFor(medicationID string) bool {
	return m.state.Ringing && m.state.Medication.ID == medicationID
}

// Timeouts delivers the cycle number of alarms whose ring duration elapsed.
// Pass each value to Expire from the owning goroutine.
func (m *Machine) Timeouts() <-chan uint64 {
	return m.timeouts
}

// Trigger starts ringing for med. key is the occurrence that caused the
// alarm, or the zero key for explicit rings. Trigger is a no-op returning
// false while another alarm is ringing.
func (m *Machine) Trigger(med models.Medication, key OccurrenceKey, source string) bool {
	if m.state.Ringing {
		m.logger.Debug().
			Str("medication_id", med.ID).
			Str("ringing_id", m.state.Medication.ID).
			Msg("Alarm already ringing, not preempting")
		return false
	}

	m.cycle++
	m.state = State{Ringing: true, Medication: med, StartedAt: m.now()}
	m.key = key
	metrics.Ringing.Set(1)
	metrics.AlarmsTriggered.WithLabelValues(source).Inc()

	logger := log.WithMedication(m.logger, med.ID)
	logger.Info().Str("name", med.Name).Str("source", source).Msg("Alarm ringing")

	// Each channel fails on its own; none of them may block the others.
	if err := m.tone.Start(); err != nil {
		logger.Warn().Err(err).Msg("Tone unavailable, continuing with notifications only")
	}

	title := fmt.Sprintf("⏰ Time for %s!", med.Name)
	body := fmt.Sprintf("Dosage: %s", med.Dosage)
	date := m.state.StartedAt.Format(DateLayout)
	if !m.background.ToBackground(intent.ShowNotification(title, body, med).OnDate(date)) {
		logger.Warn().Msg("Background dispatcher unreachable, platform notification skipped")
	}

	// Anything still queued belongs to an earlier cycle
	select {
	case <-m.timeouts:
	default:
	}
	cycle := m.cycle
	m.timer = time.AfterFunc(m.ringTimeout, func() {
		select {
		case m.timeouts <- cycle:
		default:
		}
	})
	return true
}

// Expire resolves the alarm as timed out if cycle is still ringing.
// Stale cycles are ignored.
func (m *Machine) Expire(cycle uint64) {
	if !m.state.Ringing || cycle != m.cycle {
		return
	}
	m.Resolve(context.Background(), timedOut())
}

// Resolve ends the ringing alarm. Resolving while idle is a no-op and
// returns false.
func (m *Machine) Resolve(ctx context.Context, res Resolution) bool {
	if !m.state.Ringing {
		return false
	}

	med := m.state.Medication
	key := m.key
	date := m.state.StartedAt.Format(DateLayout)

	m.tone.Stop()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = State{}
	m.key = OccurrenceKey{}
	metrics.Ringing.Set(0)
	metrics.AlarmsResolved.WithLabelValues(string(res.Outcome)).Inc()

	logger := log.WithMedication(m.logger, med.ID)

	switch res.Outcome {
	case OutcomeTaken:
		if med.ID != TestMedicationID {
			if err := m.store.MarkTaken(ctx, med.ID); err != nil {
				logger.Error().Err(err).Msg("Failed to mark medication taken")
			}
		}
		m.closeNotification(logger, med.ID, date)
		logger.Info().Msg("Alarm resolved: taken")

	case OutcomeSnoozed:
		minutes := res.Minutes
		if minutes <= 0 {
			minutes = 5
		}
		until := m.now().Add(time.Duration(minutes) * time.Minute)
		m.suppressions.Set(med.ID, until)
		if !key.IsZero() {
			m.fired.Remove(key)
		}
		metrics.ActiveSuppressions.Set(float64(len(m.suppressions)))

		if !m.background.ToBackground(intent.ScheduleAlarm(med, time.Duration(minutes)*time.Minute).OnDate(date)) {
			logger.Warn().Msg("Background dispatcher unreachable, snooze re-ring is foreground only")
		}
		logger.Info().Time("until", until).Msg("Alarm snoozed")

	case OutcomeTimeout:
		// The notification keeps its buttons so the dose can still be
		// settled from the chat
		logger.Info().Dur("after", m.ringTimeout).Msg("Alarm dismissed: no response")

	case OutcomeClosed:
		logger.Info().Msg("Alarm stopped: foreground closed")

	default:
		m.closeNotification(logger, med.ID, date)
		logger.Info().Msg("Alarm dismissed")
	}
	return true
}

func (m *Machine) closeNotification(logger zerolog.Logger, medicationID, date string) {
	if !m.background.ToBackground(intent.CloseNotification(medicationID, date)) {
		logger.Warn().Msg("Background dispatcher unreachable, notification left open")
	}
}
