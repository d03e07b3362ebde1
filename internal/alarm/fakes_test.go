package alarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/hray3182/MedAlarm/internal/models"
)

type fakeStore struct {
	mu          sync.Mutex
	medications []models.Medication
	taken       map[string]bool
	marked      []string
	err         error
}

func newFakeStore(meds ...models.Medication) *fakeStore {
	return &fakeStore{medications: meds, taken: make(map[string]bool)}
}

func (s *fakeStore) GetMedications(ctx context.Context) ([]models.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.Medication(nil), s.medications...), nil
}

func (s *fakeStore) GetTakenToday(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]bool, len(s.taken))
	for k, v := range s.taken {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) MarkTaken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.taken[id] = true
	s.marked = append(s.marked, id)
	return nil
}

func (s *fakeStore) GetMedication(ctx context.Context, id string) (*models.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, med := range s.medications {
		if med.ID == id {
			m := med
			return &m, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) markedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marked...)
}

var errStoreDown = errors.New("store down")

type fakeTone struct {
	mu      sync.Mutex
	starts  int
	stops   int
	failing bool
}

func (t *fakeTone) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	if t.failing {
		return errors.New("no audio")
	}
	return nil
}

func (t *fakeTone) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *fakeTone) counts() (starts, stops int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts, t.stops
}

type fakeBackground struct {
	mu      sync.Mutex
	intents []intent.Intent
	down    bool
}

func (b *fakeBackground) ToBackground(in intent.Intent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return false
	}
	b.intents = append(b.intents, in)
	return true
}

func (b *fakeBackground) kinds() []intent.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]intent.Kind, 0, len(b.intents))
	for _, in := range b.intents {
		kinds = append(kinds, in.Kind)
	}
	return kinds
}

func (b *fakeBackground) last() intent.Intent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.intents[len(b.intents)-1]
}

// clock is a settable time source shared by a scheduler and its machine
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// today is the occurrence date of every at() time
const today = "2026-03-14"

func at(hour, min, sec int) time.Time {
	return time.Date(2026, time.March, 14, hour, min, sec, 0, time.Local)
}

func med(id, hhmm string) models.Medication {
	return models.Medication{ID: id, Name: "Med " + id, Dosage: "1 pill", Time: hhmm}
}

type harness struct {
	store      *fakeStore
	tone       *fakeTone
	background *fakeBackground
	clock      *clock
	sched      *Scheduler
}

func newHarness(start time.Time, meds ...models.Medication) *harness {
	h := &harness{
		store:      newFakeStore(meds...),
		tone:       &fakeTone{},
		background: &fakeBackground{},
		clock:      &clock{now: start},
	}
	h.sched = New(h.store, h.tone, h.background, nil, Config{
		CheckInterval: time.Hour,
		RingTimeout:   time.Hour,
		SnoozeMinutes: 5,
	})
	h.sched.now = h.clock.Now
	h.sched.machine.now = h.clock.Now
	return h
}

// checkAt moves the clock and runs one poll
func (h *harness) checkAt(t time.Time) {
	h.clock.Set(t)
	h.sched.check(context.Background())
}
