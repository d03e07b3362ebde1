package alarm

import (
	"context"
	"errors"
	"sync"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/rs/zerolog"
)

var (
	// ErrNoForeground is returned when no foreground scheduler is running
	ErrNoForeground = errors.New("no foreground running")
	// ErrForegroundBusy is returned when the running foreground's inbox
	// refused an intent
	ErrForegroundBusy = errors.New("foreground inbox full")
)

// Host runs at most one foreground scheduler at a time and can open a new
// one on request from the background, e.g. after the previous foreground
// was closed.
type Host struct {
	store RecordStore
	tone  Tone
	bus   *intent.Bus
	cfg   Config

	mu      sync.Mutex
	parent  context.Context
	current *Scheduler
	inboxID string
	cancel  context.CancelFunc
	done    chan struct{}

	logger zerolog.Logger
}

func NewHost(store RecordStore, tone Tone, bus *intent.Bus, cfg Config) *Host {
	return &Host{
		store:  store,
		tone:   tone,
		bus:    bus,
		cfg:    cfg,
		logger: log.WithComponent("host"),
	}
}

// Run starts a foreground and blocks until ctx is cancelled and the
// running foreground has stopped
func (h *Host) Run(ctx context.Context) {
	h.mu.Lock()
	h.parent = ctx
	h.mu.Unlock()

	if err := h.Start(""); err != nil {
		h.logger.Error().Err(err).Msg("Failed to start foreground")
	}

	<-ctx.Done()
	h.Stop()
}

// Start opens a foreground if none is running. takenID is passed as the
// startup parameter.
func (h *Host) Start(takenID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.parent == nil {
		return errors.New("host is not running")
	}
	if h.parent.Err() != nil {
		return h.parent.Err()
	}
	if h.current != nil {
		return nil
	}

	cfg := h.cfg
	cfg.StartupTakenID = takenID
	inbox := h.bus.Attach()
	sched := New(h.store, h.tone, h.bus, inbox, cfg)

	ctx, cancel := context.WithCancel(h.parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()

	h.current, h.inboxID, h.cancel, h.done = sched, inbox.ID, cancel, done
	h.logger.Info().Str("client", inbox.ID).Str("startup_taken", takenID).Msg("Foreground opened")
	return nil
}

// Stop closes the running foreground, detaching it from the bus. It is a
// no-op when none is running.
func (h *Host) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.current, h.inboxID, h.cancel, h.done = nil, "", nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	h.logger.Info().Msg("Foreground closed")
}

// Running reports whether a foreground is running
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// Open implements the background launcher. A running foreground receives
// the take as an intent instead; if its inbox refuses it the take fails.
func (h *Host) Open(ctx context.Context, medicationID, date string) error {
	h.mu.Lock()
	inboxID := h.inboxID
	h.mu.Unlock()

	if inboxID == "" {
		return h.Start(medicationID)
	}
	if !h.bus.ToClient(inboxID, intent.MarkTaken(medicationID, date)) {
		return ErrForegroundBusy
	}
	return nil
}

// Do forwards an action to the running foreground
func (h *Host) Do(ctx context.Context, action Action) (State, error) {
	h.mu.Lock()
	sched := h.current
	h.mu.Unlock()

	if sched == nil {
		return State{}, ErrNoForeground
	}
	return sched.Do(ctx, action)
}

// Notify wakes the running foreground for an immediate check
func (h *Host) Notify() {
	h.mu.Lock()
	sched := h.current
	h.mu.Unlock()

	if sched != nil {
		sched.Notify()
	}
}
