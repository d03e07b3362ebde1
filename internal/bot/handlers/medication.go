package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/models"
)

// shortIDLen is how many ID characters /meds shows
const shortIDLen = 8

var (
	errNoMatch   = errors.New("no medication matches that id")
	errAmbiguous = errors.New("more than one medication matches that id")
)

// parseAddArgs parses "<HH:MM> <name> [| <dosage>]"
func parseAddArgs(args string) (models.Medication, error) {
	args = strings.TrimSpace(args)
	clock, rest, found := strings.Cut(args, " ")
	if !found {
		return models.Medication{}, fmt.Errorf("missing medication name")
	}
	if _, _, err := models.ParseClock(clock); err != nil {
		return models.Medication{}, err
	}

	name, dosage, _ := strings.Cut(rest, "|")
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Medication{}, fmt.Errorf("missing medication name")
	}

	return models.Medication{
		Name:   name,
		Dosage: strings.TrimSpace(dosage),
		Time:   clock,
	}, nil
}

// findByPrefix resolves a full or shortened ID
func findByPrefix(medications []models.Medication, prefix string) (*models.Medication, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errNoMatch
	}

	var match *models.Medication
	for i := range medications {
		med := &medications[i]
		if med.ID == prefix {
			return med, nil
		}
		if strings.HasPrefix(med.ID, prefix) {
			if match != nil {
				return nil, errAmbiguous
			}
			match = med
		}
	}
	if match == nil {
		return nil, errNoMatch
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func (h *Handlers) handleAdd(ctx context.Context, msg *tgbotapi.Message) {
	med, err := parseAddArgs(msg.CommandArguments())
	if err != nil {
		h.sendMessage(msg.Chat.ID, "Usage: /add <HH:MM> <name> | <dosage>\nExample: /add 08:00 Aspirin | 100 mg")
		return
	}
	h.createMedication(ctx, msg.Chat.ID, med)
}

func (h *Handlers) createMedication(ctx context.Context, chatID int64, med models.Medication) {
	med.UserID = h.owner
	if err := h.repos.Medication.Create(ctx, &med); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create medication")
		h.sendMessage(chatID, "Failed to add medication, please try again later")
		return
	}
	h.refresher.Notify()

	text := fmt.Sprintf("💊 Added *%s* every day at %s", escape(med.Name), med.Display12h())
	if med.Dosage != "" {
		text += fmt.Sprintf("\nDosage: %s", escape(med.Dosage))
	}
	text += fmt.Sprintf("\nID: `%s`", shortID(med.ID))
	h.sendMessage(chatID, text)
}

func (h *Handlers) loadToday(ctx context.Context) ([]models.Medication, map[string]bool, error) {
	meds, err := h.repos.Medication.GetByUserID(ctx, h.owner)
	if err != nil {
		return nil, nil, err
	}
	taken, err := h.repos.Intake.TakenOn(ctx, h.owner, h.now())
	if err != nil {
		return nil, nil, err
	}
	models.SortByTime(meds)
	return meds, taken, nil
}

// formatList renders today's medications with their taken status
func formatList(meds []models.Medication, taken map[string]bool) string {
	if len(meds) == 0 {
		return "💊 No medications yet. Add one with /add"
	}

	done := 0
	var sb strings.Builder
	sb.WriteString("💊 *Today's medications*\n\n")
	for i := range meds {
		med := &meds[i]
		status := "⬜"
		if taken[med.ID] {
			status = "✅"
			done++
		}
		sb.WriteString(fmt.Sprintf("%s *%s* %s\n", status, med.Display12h(), escape(med.Name)))
		if med.Dosage != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", escape(med.Dosage)))
		}
		sb.WriteString(fmt.Sprintf("   `%s`\n", shortID(med.ID)))
	}
	sb.WriteString(fmt.Sprintf("\n%d of %d taken", done, len(meds)))
	return sb.String()
}

func (h *Handlers) handleList(ctx context.Context, msg *tgbotapi.Message) {
	meds, taken, err := h.loadToday(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list medications")
		h.sendMessage(msg.Chat.ID, "Failed to load medications, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, formatList(meds, taken))
}

func (h *Handlers) handleNext(ctx context.Context, msg *tgbotapi.Message) {
	meds, taken, err := h.loadToday(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load medications")
		h.sendMessage(msg.Chat.ID, "Failed to load medications, please try again later")
		return
	}

	next := models.NextDue(meds, taken, h.now())
	if next == nil {
		h.sendMessage(msg.Chat.ID, "🎉 Nothing else due today")
		return
	}

	text := fmt.Sprintf("⏭ *Next:* %s at %s", escape(next.Name), next.Display12h())
	if next.Dosage != "" {
		text += fmt.Sprintf("\nDosage: %s", escape(next.Dosage))
	}
	h.sendMessage(msg.Chat.ID, text)
}

// resolve looks up the medication named by the command argument and
// reports failures to the chat
func (h *Handlers) resolve(ctx context.Context, msg *tgbotapi.Message) *models.Medication {
	arg := msg.CommandArguments()
	if strings.TrimSpace(arg) == "" {
		h.sendMessage(msg.Chat.ID, fmt.Sprintf("Usage: /%s <id>", msg.Command()))
		return nil
	}

	meds, err := h.repos.Medication.GetByUserID(ctx, h.owner)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load medications")
		h.sendMessage(msg.Chat.ID, "Failed to load medications, please try again later")
		return nil
	}

	med, err := findByPrefix(meds, arg)
	if err != nil {
		h.sendMessage(msg.Chat.ID, "❓ "+err.Error()+", see /meds")
		return nil
	}
	return med
}

// handleTaken goes through the dispatcher like a notification button so a
// ringing alarm for the medication is resolved too
func (h *Handlers) handleTaken(ctx context.Context, msg *tgbotapi.Message) {
	med := h.resolve(ctx, msg)
	if med == nil {
		return
	}
	if err := h.actions.HandleAction(ctx, dispatcher.ActionTake, med.ID, ""); err != nil {
		h.logger.Error().Err(err).Msg("Failed to mark medication taken")
		h.sendMessage(msg.Chat.ID, "Failed to mark as taken, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Marked as taken: *%s*", escape(med.Name)))
}

func (h *Handlers) handleUntake(ctx context.Context, msg *tgbotapi.Message) {
	med := h.resolve(ctx, msg)
	if med == nil {
		return
	}
	if err := h.repos.Intake.Unmark(ctx, med.ID, h.owner, h.now()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmark medication")
		h.sendMessage(msg.Chat.ID, "Failed to update, please try again later")
		return
	}
	h.refresher.Notify()
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("↩️ Marked as not taken: *%s*", escape(med.Name)))
}

func (h *Handlers) handleDelete(ctx context.Context, msg *tgbotapi.Message) {
	med := h.resolve(ctx, msg)
	if med == nil {
		return
	}
	deleted, err := h.repos.Medication.Delete(ctx, med.ID, h.owner)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to delete medication")
		h.sendMessage(msg.Chat.ID, "Failed to delete, please try again later")
		return
	}
	if !deleted {
		h.sendMessage(msg.Chat.ID, "❓ Medication already removed")
		return
	}
	h.refresher.Notify()
	h.sendMessage(msg.Chat.ID, fmt.Sprintf("🗑 Deleted *%s*", escape(med.Name)))
}
