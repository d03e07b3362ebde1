package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/MedAlarm/internal/bot/handlers"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/rs/zerolog"
)

// ChatReader looks up a chat, see tgbotapi.BotAPI.GetChat
type ChatReader interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Permission tracks whether the bot may message the owner. It starts as
// default, becomes granted once the owner's chat is reachable and denied
// when Telegram refuses delivery (the owner blocked the bot).
type Permission struct {
	api    ChatReader
	chatID int64

	mu      sync.RWMutex
	current dispatcher.Permission

	logger zerolog.Logger
}

func NewPermission(api ChatReader, chatID int64) *Permission {
	return &Permission{
		api:     api,
		chatID:  chatID,
		current: dispatcher.PermissionDefault,
		logger:  log.WithComponent("permission"),
	}
}

func (p *Permission) CurrentPermission() dispatcher.Permission {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// RequestPermission probes the owner's chat and records the result. It
// never blocks alarms; a failure only affects platform notifications.
func (p *Permission) RequestPermission(ctx context.Context) (dispatcher.Permission, error) {
	_, err := p.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: p.chatID}})
	if err != nil {
		if isForbidden(err) {
			p.set(dispatcher.PermissionDenied)
			return dispatcher.PermissionDenied, nil
		}
		return p.CurrentPermission(), fmt.Errorf("failed to reach owner chat: %w", err)
	}
	p.set(dispatcher.PermissionGranted)
	return dispatcher.PermissionGranted, nil
}

// Grant records that the owner opened the chat
func (p *Permission) Grant() {
	p.set(dispatcher.PermissionGranted)
}

func (p *Permission) deny() {
	p.set(dispatcher.PermissionDenied)
}

func (p *Permission) set(perm dispatcher.Permission) {
	p.mu.Lock()
	changed := p.current != perm
	p.current = perm
	p.mu.Unlock()

	if changed {
		p.logger.Info().Str("permission", string(perm)).Msg("Notification permission changed")
	}
}

func isForbidden(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && tgErr.Code == http.StatusForbidden
}

// Notifier raises alarm notifications in the owner's chat. Each medication
// keeps at most one live alarm message: the previous one is deleted first.
type Notifier struct {
	api        handlers.Sender
	chatID     int64
	permission *Permission

	mu   sync.Mutex
	last map[string]sentAlarm // medication ID -> live alarm message

	logger zerolog.Logger
}

type sentAlarm struct {
	messageID int
	date      string
}

func NewNotifier(api handlers.Sender, chatID int64, permission *Permission) *Notifier {
	return &Notifier{
		api:        api,
		chatID:     chatID,
		permission: permission,
		last:       make(map[string]sentAlarm),
		logger:     log.WithComponent("notifier"),
	}
}

func (n *Notifier) Notify(ctx context.Context, note dispatcher.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := note.Medication.ID

	// Delete previous message if exists (to avoid flooding)
	if prev, ok := n.last[id]; ok {
		if _, err := n.api.Request(tgbotapi.NewDeleteMessage(n.chatID, prev.messageID)); err != nil {
			// The old message might have been deleted by the user
			n.logger.Debug().Err(err).Int("message_id", prev.messageID).Msg("Failed to delete previous alarm message")
		}
		delete(n.last, id)
	}

	msg := tgbotapi.NewMessage(n.chatID, formatNotification(note))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(note.Actions) > 0 && id != "" {
		msg.ReplyMarkup = actionKeyboard(id, note.Date, note.Actions)
	}

	sent, err := n.api.Send(msg)
	if err != nil {
		if isForbidden(err) && n.permission != nil {
			n.permission.deny()
		}
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.last[id] = sentAlarm{messageID: sent.MessageID, date: note.Date}
	logger := log.WithMedication(n.logger, id)
	logger.Info().Int("message_id", sent.MessageID).Msg("Sent alarm notification")
	return nil
}

// Close strips the buttons from the live alarm message of medicationID if it
// belongs to the occurrence on date. The message itself stays in the chat.
func (n *Notifier) Close(ctx context.Context, medicationID, date string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, ok := n.last[medicationID]
	if !ok || prev.date != date {
		return nil
	}
	delete(n.last, medicationID)

	edit := tgbotapi.NewEditMessageReplyMarkup(n.chatID, prev.messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := n.api.Request(edit); err != nil {
		return fmt.Errorf("failed to remove alarm buttons: %w", err)
	}
	return nil
}

func formatNotification(note dispatcher.Notification) string {
	text := "*" + tgbotapi.EscapeText(tgbotapi.ModeMarkdown, note.Title) + "*"
	if note.Body != "" {
		text += "\n" + tgbotapi.EscapeText(tgbotapi.ModeMarkdown, note.Body)
	}
	return text
}

func actionKeyboard(medicationID, date string, actions []dispatcher.Action) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Label, handlers.CallbackData(a.Kind, medicationID, date)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
}
