package bot

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent    []tgbotapi.Chattable
	sendErr error
	nextID  int
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.sendErr != nil {
		return tgbotapi.Message{}, s.sendErr
	}
	s.sent = append(s.sent, c)
	s.nextID++
	return tgbotapi.Message{MessageID: s.nextID}, nil
}

func (s *recordingSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.sent = append(s.sent, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type stubChats struct {
	err error
}

func (s *stubChats) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	if s.err != nil {
		return tgbotapi.Chat{}, s.err
	}
	return tgbotapi.Chat{ID: config.ChatID}, nil
}

var note = dispatcher.Notification{
	Title:      "⏰ Time for Aspirin!",
	Body:       "Dosage: 100 mg",
	Medication: models.Medication{ID: "m1", Name: "Aspirin"},
	Date:       "2026-03-14",
	Actions:    dispatcher.DefaultActions,
}

func TestNotifySendsKeyboard(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, 42, nil)

	require.NoError(t, n.Notify(context.Background(), note))

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "Time for Aspirin!")
	assert.Contains(t, msg.Text, "Dosage: 100 mg")

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	row := markup.InlineKeyboard[0]
	require.Len(t, row, 3)
	assert.Equal(t, "✓ Mark as Taken", row[0].Text)
	assert.Equal(t, "take:m1:2026-03-14", *row[0].CallbackData)
	assert.Equal(t, "snooze:m1:2026-03-14", *row[1].CallbackData)
	assert.Equal(t, "dismiss:m1:2026-03-14", *row[2].CallbackData)
}

func TestNotifyReplacesPreviousMessage(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, 42, nil)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, note))
	require.NoError(t, n.Notify(ctx, note))

	require.Len(t, sender.sent, 3)
	del, ok := sender.sent[1].(tgbotapi.DeleteMessageConfig)
	require.True(t, ok)
	assert.Equal(t, 1, del.MessageID)
}

func TestCloseRemovesButtons(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, 42, nil)
	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, note))

	require.NoError(t, n.Close(ctx, "m1", "2026-03-14"))

	require.Len(t, sender.sent, 2)
	edit, ok := sender.sent[1].(tgbotapi.EditMessageReplyMarkupConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), edit.ChatID)
	assert.Equal(t, 1, edit.MessageID)
	require.NotNil(t, edit.ReplyMarkup)
	assert.Empty(t, edit.ReplyMarkup.InlineKeyboard)

	// The message is retired; the next alarm does not delete it
	require.NoError(t, n.Close(ctx, "m1", "2026-03-14"))
	require.NoError(t, n.Notify(ctx, note))
	require.Len(t, sender.sent, 3)
	_, ok = sender.sent[2].(tgbotapi.MessageConfig)
	assert.True(t, ok)
}

func TestCloseIgnoresOtherOccurrences(t *testing.T) {
	tests := []struct {
		name string
		id   string
		date string
	}{
		{name: "other day", id: "m1", date: "2026-03-13"},
		{name: "other medication", id: "m2", date: "2026-03-14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			n := NewNotifier(sender, 42, nil)
			ctx := context.Background()
			require.NoError(t, n.Notify(ctx, note))

			require.NoError(t, n.Close(ctx, tt.id, tt.date))

			assert.Len(t, sender.sent, 1)
		})
	}
}

func TestNotifyForbiddenDeniesPermission(t *testing.T) {
	sender := &recordingSender{sendErr: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}
	perm := NewPermission(&stubChats{}, 42)
	perm.Grant()
	n := NewNotifier(sender, 42, perm)

	err := n.Notify(context.Background(), note)

	assert.Error(t, err)
	assert.Equal(t, dispatcher.PermissionDenied, perm.CurrentPermission())
}

func TestRequestPermission(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    dispatcher.Permission
		wantErr bool
	}{
		{name: "reachable", want: dispatcher.PermissionGranted},
		{name: "blocked", err: &tgbotapi.Error{Code: 403, Message: "Forbidden"}, want: dispatcher.PermissionDenied},
		{name: "network", err: errors.New("dial tcp: timeout"), want: dispatcher.PermissionDefault, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perm := NewPermission(&stubChats{err: tt.err}, 42)
			assert.Equal(t, dispatcher.PermissionDefault, perm.CurrentPermission())

			got, err := perm.RequestPermission(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, perm.CurrentPermission())
		})
	}
}
