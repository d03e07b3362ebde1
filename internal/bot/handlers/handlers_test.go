package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/MedAlarm/internal/ai"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner int64 = 1001

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts returns the text of every message and edit sent
func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (s *fakeSender) lastText() string {
	texts := s.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type memMeds struct {
	meds []models.Medication
	next int
}

func (m *memMeds) Create(ctx context.Context, med *models.Medication) error {
	m.next++
	med.ID = strings.Repeat(string(rune('a'+m.next-1)), 8) + "-0000"
	m.meds = append(m.meds, *med)
	return nil
}

func (m *memMeds) GetByUserID(ctx context.Context, userID int64) ([]models.Medication, error) {
	return append([]models.Medication(nil), m.meds...), nil
}

func (m *memMeds) GetByID(ctx context.Context, id string, userID int64) (*models.Medication, error) {
	for _, med := range m.meds {
		if med.ID == id {
			found := med
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memMeds) Delete(ctx context.Context, id string, userID int64) (bool, error) {
	for i, med := range m.meds {
		if med.ID == id {
			m.meds = append(m.meds[:i], m.meds[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type memIntakes struct {
	taken map[string]bool
}

func (m *memIntakes) Unmark(ctx context.Context, id string, userID int64, day time.Time) error {
	delete(m.taken, id)
	return nil
}

func (m *memIntakes) TakenOn(ctx context.Context, userID int64, day time.Time) (map[string]bool, error) {
	return m.taken, nil
}

type memUsers struct{ upserted []int64 }

func (m *memUsers) Upsert(ctx context.Context, id int64, name string) (*models.User, error) {
	m.upserted = append(m.upserted, id)
	return &models.User{UserID: id, UserName: name}, nil
}

type recordedAction struct {
	action dispatcher.ActionKind
	id     string
	date   string
}

type fakeActions struct {
	calls []recordedAction
	err   error
}

func (f *fakeActions) HandleAction(ctx context.Context, action dispatcher.ActionKind, id, date string) error {
	f.calls = append(f.calls, recordedAction{action, id, date})
	return f.err
}

type fakeParser struct {
	draft *ai.Draft
	err   error
}

func (f *fakeParser) ParseMedication(ctx context.Context, text string) (*ai.Draft, error) {
	return f.draft, f.err
}

type counter struct{ n int }

func (c *counter) Notify() { c.n++ }

func (c *counter) Grant() { c.n++ }

type fixture struct {
	h       *Handlers
	sender  *fakeSender
	meds    *memMeds
	intakes *memIntakes
	users   *memUsers
	actions *fakeActions
	parser  *fakeParser
	refresh *counter
	grants  *counter
}

func newFixture(meds ...models.Medication) *fixture {
	f := &fixture{
		sender:  &fakeSender{},
		meds:    &memMeds{meds: meds},
		intakes: &memIntakes{taken: map[string]bool{}},
		users:   &memUsers{},
		actions: &fakeActions{},
		parser:  &fakeParser{},
		refresh: &counter{},
		grants:  &counter{},
	}
	repos := &Repositories{User: f.users, Medication: f.meds, Intake: f.intakes}
	f.h = New(f.sender, repos, f.actions, f.parser, f.refresh, f.grants, owner)
	f.h.now = func() time.Time { return time.Date(2026, 10, 16, 8, 30, 0, 0, time.Local) }
	return f
}

func command(chatID int64, text string) *tgbotapi.Message {
	name, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID, FirstName: "Sam", UserName: "sam"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func text(chatID int64, body string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: body,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID},
	}
}

func TestParseAddArgs(t *testing.T) {
	tests := []struct {
		args    string
		want    models.Medication
		wantErr bool
	}{
		{args: "08:00 Aspirin | 100 mg", want: models.Medication{Name: "Aspirin", Dosage: "100 mg", Time: "08:00"}},
		{args: "21:30 Vitamin D", want: models.Medication{Name: "Vitamin D", Time: "21:30"}},
		{args: "8:00 Aspirin", wantErr: true},
		{args: "08:00", wantErr: true},
		{args: "08:00  | 5 mg", wantErr: true},
		{args: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := parseAddArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindByPrefix(t *testing.T) {
	meds := []models.Medication{{ID: "abc123"}, {ID: "abd456"}, {ID: "xyz"}}

	med, err := findByPrefix(meds, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", med.ID)

	_, err = findByPrefix(meds, "ab")
	assert.ErrorIs(t, err, errAmbiguous)

	_, err = findByPrefix(meds, "q")
	assert.ErrorIs(t, err, errNoMatch)

	med, err = findByPrefix(meds, "xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", med.ID)
}

func TestCallbackData(t *testing.T) {
	data := CallbackData(dispatcher.ActionSnooze, "m-1", "2026-10-16")
	assert.Equal(t, "snooze:m-1:2026-10-16", data)

	action, id, date, ok := ParseCallbackData(data)
	assert.True(t, ok)
	assert.Equal(t, dispatcher.ActionSnooze, action)
	assert.Equal(t, "m-1", id)
	assert.Equal(t, "2026-10-16", date)

	// Buttons sent before dates were attached cannot be matched to an alarm
	for _, bad := range []string{"", "take", "take:", "take:m-1", "take:m-1:", "open:m-1:2026-10-16", "take:m:1:2026-10-16"} {
		_, _, _, ok := ParseCallbackData(bad)
		assert.False(t, ok, bad)
	}
}

func TestUnknownChatIsRejected(t *testing.T) {
	f := newFixture()

	f.h.HandleCommand(context.Background(), command(999, "/add 08:00 Aspirin"))

	assert.Empty(t, f.meds.meds)
	assert.Contains(t, f.sender.lastText(), "private")
}

func TestStartGrantsPermission(t *testing.T) {
	f := newFixture()

	f.h.HandleCommand(context.Background(), command(owner, "/start"))

	assert.Equal(t, 1, f.grants.n)
	assert.Equal(t, []int64{owner}, f.users.upserted)
	assert.Contains(t, f.sender.lastText(), "Sam")
}

func TestAddCommand(t *testing.T) {
	f := newFixture()

	f.h.HandleCommand(context.Background(), command(owner, "/add 13:15 Metformin | 500 mg"))

	require.Len(t, f.meds.meds, 1)
	med := f.meds.meds[0]
	assert.Equal(t, owner, med.UserID)
	assert.Equal(t, "13:15", med.Time)
	assert.Equal(t, 1, f.refresh.n)
	assert.Contains(t, f.sender.lastText(), "1:15 PM")
}

func TestAddCommandUsage(t *testing.T) {
	f := newFixture()

	f.h.HandleCommand(context.Background(), command(owner, "/add noon Aspirin"))

	assert.Empty(t, f.meds.meds)
	assert.Contains(t, f.sender.lastText(), "Usage")
}

func TestListAndNext(t *testing.T) {
	f := newFixture(
		models.Medication{ID: "aaaaaaaa-1", Name: "Evening", Time: "20:00"},
		models.Medication{ID: "bbbbbbbb-2", Name: "Morning", Time: "08:00"},
		models.Medication{ID: "cccccccc-3", Name: "Noon", Time: "12:00"},
	)
	f.intakes.taken["bbbbbbbb-2"] = true
	ctx := context.Background()

	f.h.HandleCommand(ctx, command(owner, "/meds"))
	list := f.sender.lastText()
	assert.Less(t, strings.Index(list, "Morning"), strings.Index(list, "Noon"))
	assert.Contains(t, list, "1 of 3 taken")
	assert.Contains(t, list, "`aaaaaaaa`")

	f.h.HandleCommand(ctx, command(owner, "/next"))
	assert.Contains(t, f.sender.lastText(), "Noon")
}

func TestTakenGoesThroughDispatcher(t *testing.T) {
	f := newFixture(models.Medication{ID: "aaaaaaaa-1", Name: "Aspirin", Time: "08:00"})

	f.h.HandleCommand(context.Background(), command(owner, "/taken aaaa"))

	assert.Equal(t, []recordedAction{{dispatcher.ActionTake, "aaaaaaaa-1", ""}}, f.actions.calls)
	assert.Contains(t, f.sender.lastText(), "Aspirin")
}

func TestUntakeAndDelete(t *testing.T) {
	f := newFixture(models.Medication{ID: "aaaaaaaa-1", Name: "Aspirin", Time: "08:00"})
	f.intakes.taken["aaaaaaaa-1"] = true
	ctx := context.Background()

	f.h.HandleCommand(ctx, command(owner, "/untake aaaaaaaa"))
	assert.False(t, f.intakes.taken["aaaaaaaa-1"])

	f.h.HandleCommand(ctx, command(owner, "/delete aaaaaaaa"))
	assert.Empty(t, f.meds.meds)
	assert.Equal(t, 2, f.refresh.n)

	f.h.HandleCommand(ctx, command(owner, "/delete aaaaaaaa"))
	assert.Contains(t, f.sender.lastText(), "no medication matches")
}

func TestCallbackQuery(t *testing.T) {
	tests := []struct {
		data     string
		wantCall []recordedAction
		wantText string
	}{
		{data: "take:aaaaaaaa-1:2026-10-16", wantCall: []recordedAction{{dispatcher.ActionTake, "aaaaaaaa-1", "2026-10-16"}}, wantText: "Marked as taken"},
		{data: "snooze:aaaaaaaa-1:2026-10-16", wantCall: []recordedAction{{dispatcher.ActionSnooze, "aaaaaaaa-1", "2026-10-16"}}, wantText: "Snoozed 5 min"},
		{data: "take:aaaaaaaa-1"},
		{data: "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			f := newFixture(models.Medication{ID: "aaaaaaaa-1", Name: "Aspirin", Time: "08:00"})

			f.h.HandleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
				ID:      "cb",
				Data:    tt.data,
				Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: owner}},
			})

			assert.Equal(t, tt.wantCall, f.actions.calls)
			if tt.wantText != "" {
				assert.Contains(t, f.sender.lastText(), tt.wantText)
			}
		})
	}
}

func TestCallbackQueryActionError(t *testing.T) {
	f := newFixture()
	f.actions.err = errors.New("launch failed")

	f.h.HandleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    "take:x:2026-10-16",
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: owner}},
	})

	assert.Contains(t, f.sender.lastText(), "Could not record")
}

func TestCallbackQueryOnExpiredAlarm(t *testing.T) {
	f := newFixture(models.Medication{ID: "aaaaaaaa-1", Name: "Aspirin", Time: "20:00"})
	f.actions.err = dispatcher.ErrExpired

	f.h.HandleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    "take:aaaaaaaa-1:2026-10-15",
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: owner}},
	})

	assert.Equal(t, []recordedAction{{dispatcher.ActionTake, "aaaaaaaa-1", "2026-10-15"}}, f.actions.calls)
	assert.Contains(t, f.sender.lastText(), "has expired")
	assert.NotContains(t, f.sender.lastText(), "Marked as taken")
}

func TestFreeTextCreatesMedication(t *testing.T) {
	f := newFixture()
	f.parser.draft = &ai.Draft{Action: "add_medication", Name: "Zinc", Dosage: "25 mg", Time: "09:00", Confidence: 0.9}

	f.h.HandleMessage(context.Background(), text(owner, "zinc 25mg at 9"))

	require.Len(t, f.meds.meds, 1)
	assert.Equal(t, "Zinc", f.meds.meds[0].Name)
	assert.Equal(t, owner, f.meds.meds[0].UserID)
}

func TestFreeTextNotMedicationRelaysMessage(t *testing.T) {
	f := newFixture()
	f.parser.draft = &ai.Draft{Action: "unknown", Message: "What time should I remind you?"}
	f.parser.err = ai.ErrNotMedication

	f.h.HandleMessage(context.Background(), text(owner, "zinc"))

	assert.Empty(t, f.meds.meds)
	assert.Equal(t, "What time should I remind you?", f.sender.lastText())
}

func TestFreeTextWithoutAI(t *testing.T) {
	f := newFixture()
	f.h.ai = nil

	f.h.HandleMessage(context.Background(), text(owner, "zinc at 9"))

	assert.Contains(t, f.sender.lastText(), "/add")
}
