package alarm

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/metrics"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/rs/zerolog"
)

var (
	// ErrNotRinging is returned by Do for take/snooze actions while idle
	ErrNotRinging = errors.New("no alarm is ringing")
	// ErrStopped is returned by Do once the scheduler loop has exited
	ErrStopped = errors.New("scheduler stopped")
)

// Config tunes a Scheduler
type Config struct {
	CheckInterval time.Duration
	RingTimeout   time.Duration
	SnoozeMinutes int
	// StartupTakenID marks a medication taken before the first check. It is
	// set when the background dispatcher opens a foreground for a take action.
	StartupTakenID string
}

// ActionKind is a request from the foreground alarm surface
type ActionKind string

const (
	ActionStatus  ActionKind = "status"
	ActionTake    ActionKind = "take"
	ActionSnooze  ActionKind = "snooze"
	ActionDismiss ActionKind = "dismiss"
	ActionTest    ActionKind = "test"
)

// Action is passed to Do. Minutes is used by ActionSnooze; zero means the
// configured default.
type Action struct {
	Kind    ActionKind
	Minutes int
}

type actionRequest struct {
	action Action
	reply  chan actionReply
}

type actionReply struct {
	state State
	err   error
}

// Scheduler is the foreground context: it polls the record store, owns the
// dedup and snooze state, and drives the alarm machine. Every piece of that
// state is touched only by the goroutine running Start.
type Scheduler struct {
	store         RecordStore
	machine       *Machine
	inbox         *intent.Inbox
	fired         FiredOccurrences
	suppressions  Suppressions
	rering        map[string]struct{}
	badTimes      map[string]struct{}
	checkInterval time.Duration
	snoozeMinutes int
	startupTaken  string
	now           func() time.Time
	notifyCh      chan struct{}
	actions       chan actionRequest
	done          chan struct{}
	logger        zerolog.Logger
}

// New creates a foreground scheduler. inbox receives intents from the
// background dispatcher and may be nil.
func New(store RecordStore, tone Tone, background Background, inbox *intent.Inbox, cfg Config) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 12 * time.Second
	}
	if cfg.SnoozeMinutes <= 0 {
		cfg.SnoozeMinutes = 5
	}

	fired := make(FiredOccurrences)
	suppressions := make(Suppressions)

	return &Scheduler{
		store:         store,
		machine:       NewMachine(store, tone, background, fired, suppressions, cfg.RingTimeout),
		inbox:         inbox,
		fired:         fired,
		suppressions:  suppressions,
		rering:        make(map[string]struct{}),
		badTimes:      make(map[string]struct{}),
		checkInterval: cfg.CheckInterval,
		snoozeMinutes: cfg.SnoozeMinutes,
		startupTaken:  cfg.StartupTakenID,
		now:           time.Now,
		notifyCh:      make(chan struct{}, 1),
		actions:       make(chan actionRequest),
		done:          make(chan struct{}),
		logger:        log.WithComponent("scheduler"),
	}
}

// Notify triggers an immediate check. Non-blocking if a check is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// Channel already has a pending notification, skip
	}
}

// Do runs an action on the scheduler goroutine and returns the resulting state
func (s *Scheduler) Do(ctx context.Context, action Action) (State, error) {
	req := actionRequest{action: action, reply: make(chan actionReply, 1)}

	select {
	case s.actions <- req:
	case <-s.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.state, r.err
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Start runs the loop until ctx is cancelled. All timers it arms are
// released on return and a ringing alarm is dismissed.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.checkInterval).Msg("Scheduler started")

	ticker := time.NewTicker(s.checkInterval)
	midnight := time.NewTimer(untilMidnight(s.now()))
	defer func() {
		ticker.Stop()
		midnight.Stop()
		s.machine.Resolve(context.Background(), closed())
		if s.inbox != nil {
			s.inbox.Close()
		}
		close(s.done)
		s.logger.Info().Msg("Scheduler stopped")
	}()

	var inboxC <-chan []byte
	if s.inbox != nil {
		inboxC = s.inbox.C()
	}

	s.applyStartup(ctx)
	s.check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		case <-s.notifyCh:
			s.logger.Debug().Msg("Scheduler triggered by notification")
			s.check(ctx)
		case <-midnight.C:
			s.resetDay()
			midnight.Reset(untilMidnight(s.now()))
		case cycle := <-s.machine.Timeouts():
			s.machine.Expire(cycle)
		case data, ok := <-inboxC:
			if !ok {
				inboxC = nil
				continue
			}
			if in, ok := intent.Receive(data); ok {
				s.handleIntent(ctx, in)
			}
		case req := <-s.actions:
			state, err := s.handleAction(ctx, req.action)
			req.reply <- actionReply{state: state, err: err}
		}
	}
}

// untilMidnight returns the time left until the next local midnight
func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

func (s *Scheduler) applyStartup(ctx context.Context) {
	if s.startupTaken == "" {
		return
	}
	id := s.startupTaken
	s.startupTaken = ""
	s.markTaken(ctx, id)
}

// check is one poll
func (s *Scheduler) check(ctx context.Context) {
	now := s.now()
	metrics.SchedulerTicks.Inc()

	medications, err := s.store.GetMedications(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get medications")
		metrics.SchedulerSkipped.WithLabelValues("store").Inc()
		return
	}
	taken, err := s.store.GetTakenToday(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get today's intakes")
		metrics.SchedulerSkipped.WithLabelValues("store").Inc()
		return
	}

	for _, id := range s.suppressions.Prune(now) {
		s.rering[id] = struct{}{}
	}

	due, skipped := Due(now, medications, taken, s.suppressions, s.fired)
	for _, sk := range skipped {
		metrics.SchedulerSkipped.WithLabelValues("bad_time").Inc()
		if _, seen := s.badTimes[sk.Medication.ID]; seen {
			continue
		}
		s.badTimes[sk.Medication.ID] = struct{}{}
		logger := log.WithMedication(s.logger, sk.Medication.ID)
		logger.Warn().Err(sk.Err).Msg("Skipping medication until tomorrow")
	}

	for _, med := range due {
		// The key goes in before any side effect so no later tick can fire it again
		key := KeyFor(med.ID, now)
		s.fired.Add(key)
		s.machine.Trigger(med, key, "schedule")
	}

	s.reringSnoozed(now, medications, taken)
	metrics.ActiveSuppressions.Set(float64(len(s.suppressions)))
}

// reringSnoozed explicitly re-triggers medications whose snooze lapsed. The
// minute-match detector cannot do this since the original time has passed.
func (s *Scheduler) reringSnoozed(now time.Time, medications []models.Medication, taken map[string]bool) {
	if len(s.rering) == 0 {
		return
	}

	byID := make(map[string]models.Medication, len(medications))
	for _, med := range medications {
		byID[med.ID] = med
	}

	ids := make([]string, 0, len(s.rering))
	for id := range s.rering {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		med, exists := byID[id]
		if !exists || taken[id] || s.suppressions.Live(id, now) {
			delete(s.rering, id)
			continue
		}
		if s.machine.Ringing() {
			// Retry on a later tick once the current alarm resolves
			return
		}
		key := KeyFor(id, now)
		if s.fired.Has(key) {
			delete(s.rering, id)
			continue
		}
		delete(s.rering, id)
		s.fired.Add(key)
		s.machine.Trigger(med, key, "snooze")
	}
}

func (s *Scheduler) resetDay() {
	s.fired.Clear()
	s.suppressions.Clear()
	for id := range s.rering {
		delete(s.rering, id)
	}
	for id := range s.badTimes {
		delete(s.badTimes, id)
	}
	metrics.MidnightResets.Inc()
	metrics.ActiveSuppressions.Set(0)
	s.logger.Info().Msg("Daily alarm state reset")
}

// handleIntent applies an intent from the background. Both kinds are
// idempotent: a duplicate or late copy changes nothing that matters. An
// intent tagged with another day belongs to an alarm that is long settled
// and is dropped.
func (s *Scheduler) handleIntent(ctx context.Context, in intent.Intent) {
	logger := log.WithMedication(s.logger, in.MedicationID).With().Str("kind", string(in.Kind)).Logger()

	if in.Stale(s.now().Format(DateLayout)) {
		logger.Info().Str("date", in.Date).Msg("Ignoring intent for an earlier day's alarm")
		metrics.IntentsDropped.WithLabelValues("stale").Inc()
		return
	}

	switch in.Kind {
	case intent.KindMarkTaken:
		s.markTaken(ctx, in.MedicationID)

	case intent.KindSnooze:
		if s.machine.RingingFor(in.MedicationID) {
			s.machine.Resolve(ctx, Snoozed(in.Minutes))
			return
		}
		if in.MedicationID != TestMedicationID && !s.exists(ctx, in.MedicationID) {
			return
		}
		now := s.now()
		s.suppressions.Set(in.MedicationID, now.Add(time.Duration(in.Minutes)*time.Minute))
		s.fired.RemoveMedication(in.MedicationID, now.Format(DateLayout))
		delete(s.rering, in.MedicationID)
		metrics.ActiveSuppressions.Set(float64(len(s.suppressions)))
		logger.Info().Int("minutes", in.Minutes).Msg("Snooze applied from notification")

	default:
		logger.Debug().Msg("Ignoring intent not addressed to the foreground")
	}
}

// markTaken resolves a matching ringing alarm as taken, or marks the
// medication in the store directly
func (s *Scheduler) markTaken(ctx context.Context, id string) {
	if s.machine.RingingFor(id) {
		s.machine.Resolve(ctx, Taken())
		return
	}
	if id == TestMedicationID || !s.exists(ctx, id) {
		return
	}
	logger := log.WithMedication(s.logger, id)
	if err := s.store.MarkTaken(ctx, id); err != nil {
		logger.Error().Err(err).Msg("Failed to mark medication taken")
		return
	}
	delete(s.rering, id)
	logger.Info().Msg("Medication marked taken")
}

func (s *Scheduler) exists(ctx context.Context, id string) bool {
	logger := log.WithMedication(s.logger, id)
	med, err := s.store.GetMedication(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to look up medication")
		return false
	}
	if med == nil {
		logger.Warn().Msg("Intent references unknown medication, skipping")
		metrics.SchedulerSkipped.WithLabelValues("unknown_medication").Inc()
		return false
	}
	return true
}

func (s *Scheduler) handleAction(ctx context.Context, action Action) (State, error) {
	switch action.Kind {
	case ActionStatus:
	case ActionTake:
		if !s.machine.Resolve(ctx, Taken()) {
			return s.machine.State(), ErrNotRinging
		}
	case ActionSnooze:
		minutes := action.Minutes
		if minutes <= 0 {
			minutes = s.snoozeMinutes
		}
		if !s.machine.Resolve(ctx, Snoozed(minutes)) {
			return s.machine.State(), ErrNotRinging
		}
	case ActionDismiss:
		s.machine.Resolve(ctx, Dismissed())
	case ActionTest:
		s.machine.Trigger(models.Medication{
			ID:     TestMedicationID,
			Name:   "Test Alarm",
			Dosage: "Testing alarm sound",
			Time:   models.Clock(s.now()),
		}, OccurrenceKey{}, "test")
	}
	return s.machine.State(), nil
}
