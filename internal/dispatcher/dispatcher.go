// Package dispatcher is the background context. It raises platform
// notifications for alarms, keeps snoozed alarms armed even when no
// foreground is attached, and relays the user's notification choice back to
// the foreground as intents.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/metrics"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/rs/zerolog"
)

// SnoozeMinutes is the snooze length offered on platform notifications
const SnoozeMinutes = 5

// ErrExpired is returned by HandleAction for a take or snooze pressed on the
// notification of an earlier day's alarm
var ErrExpired = errors.New("alarm notification expired")

// Permission is the platform notification permission state
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PermissionProvider reports and requests notification permission
type PermissionProvider interface {
	CurrentPermission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
}

// ActionKind identifies a notification button
type ActionKind string

const (
	ActionTake    ActionKind = "take"
	ActionSnooze  ActionKind = "snooze"
	ActionDismiss ActionKind = "dismiss"
)

// Action is one notification button
type Action struct {
	Kind  ActionKind
	Label string
}

// DefaultActions are attached to every alarm notification
var DefaultActions = []Action{
	{Kind: ActionTake, Label: "✓ Mark as Taken"},
	{Kind: ActionSnooze, Label: fmt.Sprintf("⏰ Snooze %d min", SnoozeMinutes)},
	{Kind: ActionDismiss, Label: "✕ Dismiss"},
}

// Notification is a platform notification for one alarm occurrence. Date
// is the occurrence day; its actions expire with it.
type Notification struct {
	Title      string
	Body       string
	Medication models.Medication
	Date       string
	Actions    []Action
}

// Notifier raises platform notifications. Implementations must be safe for
// concurrent use; armed alarms fire on their own goroutines.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	// Close removes the actions from the notification of medicationID's
	// alarm on date
	Close(ctx context.Context, medicationID, date string) error
}

// Launcher delivers a take for the occurrence on date to a foreground,
// opening one that marks medicationID taken on startup if none is running
type Launcher interface {
	Open(ctx context.Context, medicationID, date string) error
}

// Foregrounds is the outbound side of the bus as seen from the background
type Foregrounds interface {
	FirstClient() (string, bool)
	ToClient(id string, in intent.Intent) bool
	Broadcast(in intent.Intent) int
}

// Dispatcher is the background notification dispatcher
type Dispatcher struct {
	inbox       *intent.Inbox
	foregrounds Foregrounds
	notifier    Notifier
	permission  PermissionProvider
	launcher    Launcher

	mu     sync.Mutex
	timers map[string]*time.Timer

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a dispatcher reading from inbox
func New(inbox *intent.Inbox, foregrounds Foregrounds, notifier Notifier, permission PermissionProvider, launcher Launcher) *Dispatcher {
	return &Dispatcher{
		inbox:       inbox,
		foregrounds: foregrounds,
		notifier:    notifier,
		permission:  permission,
		launcher:    launcher,
		timers:      make(map[string]*time.Timer),
		now:         time.Now,
		logger:      log.WithComponent("dispatcher"),
	}
}

// Run consumes the inbox until ctx is cancelled or the inbox is closed
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Msg("Dispatcher started")
	defer func() {
		d.Stop()
		d.logger.Info().Msg("Dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-d.inbox.C():
			if !ok {
				return
			}
			if in, ok := intent.Receive(data); ok {
				d.handle(ctx, in)
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, in intent.Intent) {
	switch in.Kind {
	case intent.KindShowNotification:
		n := Notification{Title: in.Title, Body: in.Body, Date: d.dateOf(in), Actions: DefaultActions}
		if in.Medication != nil {
			n.Medication = *in.Medication
		}
		d.notify(ctx, n)

	case intent.KindScheduleAlarm:
		d.schedule(ctx, *in.Medication, in.Delay(), d.dateOf(in))

	case intent.KindCloseNotification:
		d.close(ctx, in.MedicationID, d.dateOf(in))

	default:
		logger := log.WithMedication(d.logger, in.MedicationID)
		logger.Debug().
			Str("kind", string(in.Kind)).
			Msg("Ignoring intent not addressed to the background")
	}
}

func (d *Dispatcher) today() string {
	return d.now().Format(intent.DateLayout)
}

// dateOf returns the occurrence date of in, defaulting to today
func (d *Dispatcher) dateOf(in intent.Intent) string {
	if in.Date != "" {
		return in.Date
	}
	return d.today()
}

// schedule arms a one-shot alarm notification for med's occurrence on date.
// Re-arming the same medication replaces the pending timer.
func (d *Dispatcher) schedule(ctx context.Context, med models.Medication, delay time.Duration, date string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[med.ID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.timers[med.ID] != timer {
			d.mu.Unlock()
			return
		}
		delete(d.timers, med.ID)
		d.mu.Unlock()

		d.notify(ctx, alarmNotification(med, date))
	})
	d.timers[med.ID] = timer

	logger := log.WithMedication(d.logger, med.ID)
	logger.Info().Dur("delay", delay).Msg("Alarm armed")
}

// Pending returns the number of armed alarms
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// close cancels a pending re-ring of the medication and retires its
// notification
func (d *Dispatcher) close(ctx context.Context, medicationID, date string) {
	d.mu.Lock()
	if t, ok := d.timers[medicationID]; ok {
		t.Stop()
		delete(d.timers, medicationID)
	}
	d.mu.Unlock()

	if err := d.notifier.Close(ctx, medicationID, date); err != nil {
		logger := log.WithMedication(d.logger, medicationID)
		logger.Warn().Err(err).Msg("Failed to close notification")
	}
}

func alarmNotification(med models.Medication, date string) Notification {
	return Notification{
		Title:      fmt.Sprintf("⏰ Time for %s!", med.Name),
		Body:       fmt.Sprintf("Dosage: %s", med.Dosage),
		Medication: med,
		Date:       date,
		Actions:    DefaultActions,
	}
}

func (d *Dispatcher) notify(ctx context.Context, n Notification) {
	logger := log.WithMedication(d.logger, n.Medication.ID)

	if p := d.permission.CurrentPermission(); p != PermissionGranted {
		logger.Warn().Str("permission", string(p)).Msg("Notification permission not granted, skipping")
		metrics.NotificationsSent.WithLabelValues("no_permission").Inc()
		return
	}

	if err := d.notifier.Notify(ctx, n); err != nil {
		logger.Error().Err(err).Msg("Failed to show notification")
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsSent.WithLabelValues("ok").Inc()
}

// HandleAction relays a notification button press for the occurrence on
// date; an empty date means today. Take and snooze for any other day return
// ErrExpired. Delivery is best-effort: a snooze with no attached foreground
// is lost.
func (d *Dispatcher) HandleAction(ctx context.Context, action ActionKind, medicationID, date string) error {
	metrics.NotificationActions.WithLabelValues(string(action)).Inc()
	logger := log.WithMedication(d.logger, medicationID).With().Str("action", string(action)).Logger()

	today := d.today()
	if date == "" {
		date = today
	}
	if date != today && (action == ActionTake || action == ActionSnooze) {
		logger.Info().Str("date", date).Msg("Ignoring action on an earlier day's alarm")
		return ErrExpired
	}

	switch action {
	case ActionTake:
		if id, ok := d.foregrounds.FirstClient(); ok && d.foregrounds.ToClient(id, intent.MarkTaken(medicationID, date)) {
			logger.Info().Str("client", id).Msg("Relayed take to foreground")
			return nil
		}
		logger.Info().Msg("No foreground reachable, handing take to the launcher")
		if err := d.launcher.Open(ctx, medicationID, date); err != nil {
			return fmt.Errorf("failed to deliver take: %w", err)
		}
		return nil

	case ActionSnooze:
		if n := d.foregrounds.Broadcast(intent.Snooze(medicationID, SnoozeMinutes, date)); n == 0 {
			logger.Warn().Msg("No foreground attached, snooze lost")
		} else {
			logger.Info().Int("clients", n).Msg("Relayed snooze to foregrounds")
		}
		return nil

	case ActionDismiss:
		logger.Debug().Msg("Notification dismissed")
		return nil

	default:
		return fmt.Errorf("unknown notification action %q", action)
	}
}

// Wake is the hook for platform background wake-ups. Nothing is scheduled
// from it: armed timers only exist while the process runs.
func (d *Dispatcher) Wake(tag string) {
	d.logger.Debug().Str("tag", tag).Msg("Background wake ignored")
}

// Stop cancels every armed alarm
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}
