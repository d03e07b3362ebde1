package alarm

import (
	"context"
	"testing"
	"time"

	"github.com/hray3182/MedAlarm/internal/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(ringTimeout time.Duration) (*Machine, *fakeStore, *fakeTone, *fakeBackground, *clock) {
	store := newFakeStore(med("1", "08:00"), med("2", "08:00"))
	tone := &fakeTone{}
	bg := &fakeBackground{}
	c := &clock{now: at(8, 0, 5)}
	m := NewMachine(store, tone, bg, FiredOccurrences{}, Suppressions{}, ringTimeout)
	m.now = c.Now
	return m, store, tone, bg, c
}

func TestTriggerRingsAllChannels(t *testing.T) {
	m, _, tone, bg, _ := newTestMachine(time.Hour)

	ok := m.Trigger(med("1", "08:00"), KeyFor("1", at(8, 0, 3)), "schedule")

	require.True(t, ok)
	assert.True(t, m.RingingFor("1"))
	assert.Equal(t, at(8, 0, 5), m.State().StartedAt)
	starts, _ := tone.counts()
	assert.Equal(t, 1, starts)

	require.Equal(t, []intent.Kind{intent.KindShowNotification}, bg.kinds())
	in := bg.last()
	assert.Equal(t, "⏰ Time for Med 1!", in.Title)
	assert.Equal(t, "Dosage: 1 pill", in.Body)
	assert.Equal(t, "1", in.MedicationID)
	assert.Equal(t, today, in.Date)
}

func TestTriggerWhileRingingIsNoop(t *testing.T) {
	m, _, tone, bg, _ := newTestMachine(time.Hour)

	require.True(t, m.Trigger(med("1", "08:00"), OccurrenceKey{}, "schedule"))
	assert.False(t, m.Trigger(med("2", "08:00"), OccurrenceKey{}, "schedule"))

	assert.True(t, m.RingingFor("1"))
	starts, _ := tone.counts()
	assert.Equal(t, 1, starts)
	assert.Len(t, bg.kinds(), 1)
}

func TestTriggerSurvivesChannelFailures(t *testing.T) {
	m, _, tone, bg, _ := newTestMachine(time.Hour)
	tone.failing = true
	bg.down = true

	assert.True(t, m.Trigger(med("1", "08:00"), OccurrenceKey{}, "schedule"))
	assert.True(t, m.Ringing())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		resolution Resolution
		wantMarked []string
		wantKinds  []intent.Kind
		wantSup    bool
	}{
		{
			name:       "taken",
			resolution: Taken(),
			wantMarked: []string{"1"},
			wantKinds:  []intent.Kind{intent.KindShowNotification, intent.KindCloseNotification},
		},
		{
			name:       "snoozed",
			resolution: Snoozed(5),
			wantKinds:  []intent.Kind{intent.KindShowNotification, intent.KindScheduleAlarm},
			wantSup:    true,
		},
		{
			name:       "dismissed",
			resolution: Dismissed(),
			wantKinds:  []intent.Kind{intent.KindShowNotification, intent.KindCloseNotification},
		},
		{
			name:       "foreground closed",
			resolution: closed(),
			wantKinds:  []intent.Kind{intent.KindShowNotification},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, tone, bg, _ := newTestMachine(time.Hour)
			key := KeyFor("1", at(8, 0, 3))
			m.fired.Add(key)
			require.True(t, m.Trigger(med("1", "08:00"), key, "schedule"))

			assert.True(t, m.Resolve(context.Background(), tt.resolution))

			assert.False(t, m.Ringing())
			_, stops := tone.counts()
			assert.Equal(t, 1, stops)
			assert.Equal(t, tt.wantMarked, store.markedIDs())
			assert.Equal(t, tt.wantKinds, bg.kinds())
			assert.Equal(t, tt.wantSup, m.suppressions.Live("1", at(8, 0, 6)))
			assert.Equal(t, !tt.wantSup, m.fired.Has(key))
		})
	}
}

func TestSnoozeSetsDeadlineAndSchedulesAlarm(t *testing.T) {
	m, _, _, bg, _ := newTestMachine(time.Hour)
	require.True(t, m.Trigger(med("1", "08:00"), KeyFor("1", at(8, 0, 3)), "schedule"))

	m.Resolve(context.Background(), Snoozed(5))

	assert.Equal(t, at(8, 5, 5), m.suppressions["1"])
	in := bg.last()
	assert.Equal(t, intent.KindScheduleAlarm, in.Kind)
	assert.Equal(t, 5*time.Minute, in.Delay())
	require.NotNil(t, in.Medication)
	assert.Equal(t, "1", in.Medication.ID)
	assert.Equal(t, today, in.Date)
}

func TestSettledAlarmClosesItsNotification(t *testing.T) {
	m, _, _, bg, _ := newTestMachine(time.Hour)
	require.True(t, m.Trigger(med("1", "08:00"), KeyFor("1", at(8, 0, 3)), "schedule"))

	m.Resolve(context.Background(), Taken())

	in := bg.last()
	assert.Equal(t, intent.KindCloseNotification, in.Kind)
	assert.Equal(t, "1", in.MedicationID)
	assert.Equal(t, today, in.Date)
}

func TestResolveWhenIdleIsNoop(t *testing.T) {
	m, store, tone, bg, _ := newTestMachine(time.Hour)

	assert.False(t, m.Resolve(context.Background(), Taken()))
	assert.False(t, m.Resolve(context.Background(), Snoozed(5)))

	_, stops := tone.counts()
	assert.Zero(t, stops)
	assert.Empty(t, store.markedIDs())
	assert.Empty(t, bg.kinds())
	assert.Empty(t, m.suppressions)
}

func TestTestAlarmTakenSkipsStore(t *testing.T) {
	m, store, _, _, _ := newTestMachine(time.Hour)
	require.True(t, m.Trigger(med(TestMedicationID, "08:00"), OccurrenceKey{}, "test"))

	m.Resolve(context.Background(), Taken())

	assert.Empty(t, store.markedIDs())
}

func TestRingTimeoutExpires(t *testing.T) {
	m, store, tone, bg, _ := newTestMachine(5 * time.Millisecond)
	require.True(t, m.Trigger(med("1", "08:00"), OccurrenceKey{}, "schedule"))

	var cycle uint64
	select {
	case cycle = <-m.Timeouts():
	case <-time.After(time.Second):
		t.Fatal("ring timeout never fired")
	}
	m.Expire(cycle)

	assert.False(t, m.Ringing())
	assert.Empty(t, store.markedIDs())
	_, stops := tone.counts()
	assert.Equal(t, 1, stops)
	// The chat buttons stay usable after the foreground gives up
	assert.Equal(t, []intent.Kind{intent.KindShowNotification}, bg.kinds())

	// A second expiry for the same cycle changes nothing
	m.Expire(cycle)
	_, stops = tone.counts()
	assert.Equal(t, 1, stops)
}

func TestStaleTimeoutIgnored(t *testing.T) {
	m, _, _, _, _ := newTestMachine(time.Hour)
	require.True(t, m.Trigger(med("1", "08:00"), OccurrenceKey{}, "schedule"))
	stale := m.cycle
	m.Resolve(context.Background(), Dismissed())
	require.True(t, m.Trigger(med("2", "08:00"), OccurrenceKey{}, "schedule"))

	m.Expire(stale)

	assert.True(t, m.RingingFor("2"))
}
