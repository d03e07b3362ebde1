package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/MedAlarm/internal/ai"
	"github.com/hray3182/MedAlarm/internal/alarm"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/rs/zerolog"
)

// Sender is the subset of the Telegram API the bot uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, med *models.Medication) error
	GetByUserID(ctx context.Context, userID int64) ([]models.Medication, error)
	GetByID(ctx context.Context, medicationID string, userID int64) (*models.Medication, error)
	Delete(ctx context.Context, medicationID string, userID int64) (bool, error)
}

type IntakeRepository interface {
	Unmark(ctx context.Context, medicationID string, userID int64, day time.Time) error
	TakenOn(ctx context.Context, userID int64, day time.Time) (map[string]bool, error)
}

type UserRepository interface {
	Upsert(ctx context.Context, userID int64, userName string) (*models.User, error)
}

type Repositories struct {
	User       UserRepository
	Medication MedicationRepository
	Intake     IntakeRepository
}

// ActionHandler relays notification button presses, see dispatcher.Dispatcher
type ActionHandler interface {
	HandleAction(ctx context.Context, action dispatcher.ActionKind, medicationID, date string) error
}

// MedicationParser turns free text into a medication draft, see ai.Client
type MedicationParser interface {
	ParseMedication(ctx context.Context, text string) (*ai.Draft, error)
}

// Refresher wakes the foreground scheduler after the schedule changed
type Refresher interface {
	Notify()
}

// Granter is told when the owner opens the chat, which is what lets the
// bot message them
type Granter interface {
	Grant()
}

type Handlers struct {
	api       Sender
	repos     *Repositories
	actions   ActionHandler
	ai        MedicationParser
	refresher Refresher
	granter   Granter
	owner     int64
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates the handlers for the owner's chat. aiParser may be nil to
// disable free text entry.
func New(api Sender, repos *Repositories, actions ActionHandler, aiParser MedicationParser, refresher Refresher, granter Granter, owner int64) *Handlers {
	return &Handlers{
		api:       api,
		repos:     repos,
		actions:   actions,
		ai:        aiParser,
		refresher: refresher,
		granter:   granter,
		owner:     owner,
		now:       time.Now,
		logger:    log.WithComponent("bot"),
	}
}

// authorized rejects chats other than the owner's. The daemon serves one
// person's schedule.
func (h *Handlers) authorized(chatID int64) bool {
	if chatID == h.owner {
		return true
	}
	h.logger.Warn().Int64("chat_id", chatID).Msg("Ignoring update from unknown chat")
	h.sendMessage(chatID, "🔒 This bot is private.")
	return false
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if !h.authorized(msg.Chat.ID) {
		return
	}

	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "help":
		h.handleHelp(ctx, msg)
	case "add":
		h.handleAdd(ctx, msg)
	case "meds":
		h.handleList(ctx, msg)
	case "next":
		h.handleNext(ctx, msg)
	case "taken":
		h.handleTaken(ctx, msg)
	case "untake":
		h.handleUntake(ctx, msg)
	case "delete":
		h.handleDelete(ctx, msg)
	default:
		h.sendMessage(msg.Chat.ID, "Unknown command, see /help")
	}
}

func (h *Handlers) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !h.authorized(msg.Chat.ID) {
		return
	}
	h.handleAIMessage(ctx, msg)
}

// HandleCallbackQuery handles alarm notification buttons. Data is
// "<action>:<medication id>:<occurrence date>".
func (h *Handlers) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	// Answer callback to remove loading state
	answer := tgbotapi.NewCallback(callback.ID, "")
	if _, err := h.api.Request(answer); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to answer callback")
	}

	if callback.Message == nil || !h.authorized(callback.Message.Chat.ID) {
		return
	}

	action, medicationID, date, ok := ParseCallbackData(callback.Data)
	if !ok {
		h.logger.Debug().Str("data", callback.Data).Msg("Ignoring malformed callback data")
		return
	}

	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	err := h.actions.HandleAction(ctx, action, medicationID, date)
	if errors.Is(err, dispatcher.ErrExpired) {
		h.editMessageText(chatID, messageID, fmt.Sprintf("⌛ This alarm from %s has expired", escape(date)))
		return
	}
	if err != nil {
		logger := log.WithMedication(h.logger, medicationID)
		logger.Error().Err(err).Str("action", string(action)).Msg("Failed to handle notification action")
		h.editMessageText(chatID, messageID, "⚠️ Could not record that, please try again")
		return
	}

	name := h.medicationName(ctx, medicationID)
	switch action {
	case dispatcher.ActionTake:
		h.editMessageText(chatID, messageID, fmt.Sprintf("✅ Marked as taken: *%s*", escape(name)))
	case dispatcher.ActionSnooze:
		h.editMessageText(chatID, messageID, fmt.Sprintf("⏰ Snoozed %d min: *%s*", dispatcher.SnoozeMinutes, escape(name)))
	case dispatcher.ActionDismiss:
		h.deleteMessage(chatID, messageID)
	}
}

// CallbackData encodes a notification button for the alarm occurrence on
// date
func CallbackData(action dispatcher.ActionKind, medicationID, date string) string {
	return string(action) + ":" + medicationID + ":" + date
}

// ParseCallbackData decodes CallbackData output. Buttons without a date
// cannot be tied to an occurrence and are rejected.
func ParseCallbackData(data string) (dispatcher.ActionKind, string, string, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	switch kind := dispatcher.ActionKind(parts[0]); kind {
	case dispatcher.ActionTake, dispatcher.ActionSnooze, dispatcher.ActionDismiss:
		return kind, parts[1], parts[2], true
	}
	return "", "", "", false
}

func (h *Handlers) medicationName(ctx context.Context, medicationID string) string {
	if medicationID == alarm.TestMedicationID {
		return "Test Alarm"
	}
	med, err := h.repos.Medication.GetByID(ctx, medicationID, h.owner)
	if err != nil || med == nil {
		return medicationID
	}
	return med.Name
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func (h *Handlers) editMessageText(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.api.Send(edit); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to edit message")
	}
}

func (h *Handlers) deleteMessage(chatID int64, messageID int) {
	if _, err := h.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to delete message")
	}
}

func (h *Handlers) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.api.Send(msg); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send message")
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From != nil {
		if _, err := h.repos.User.Upsert(ctx, msg.From.ID, msg.From.UserName); err != nil {
			h.logger.Error().Err(err).Msg("Failed to save user")
		}
	}
	h.granter.Grant()

	name := "there"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}

	text := fmt.Sprintf(`👋 Hi %s!

I'm MedAlarm. I ring an alarm at the exact minute each of your medications is due, and send the reminder here with buttons to mark it taken or snooze it.

You can tell me about a medication in plain words, for example:
• "Metformin 500 mg every day at 12:30"
• "vitamin D at 8am"

Use /help to see all commands`, escape(name))
	h.sendMessage(msg.Chat.ID, text)
}

func (h *Handlers) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	text := `📖 *Commands*

/add <HH:MM> <name> | <dosage> - add a daily medication
/meds - today's medications
/next - next upcoming dose
/taken <id> - mark taken today
/untake <id> - mark not taken today
/delete <id> - remove a medication

IDs can be shortened to their first characters as shown in /meds.

💡 You can also just describe a medication in plain words!`
	h.sendMessage(msg.Chat.ID, text)
}
