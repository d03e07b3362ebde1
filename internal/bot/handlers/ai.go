package handlers

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/MedAlarm/internal/ai"
)

func (h *Handlers) handleAIMessage(ctx context.Context, msg *tgbotapi.Message) {
	if h.ai == nil {
		h.sendMessage(msg.Chat.ID, "Natural language entry is not enabled, use /add instead")
		return
	}

	h.logger.Debug().Str("text", msg.Text).Msg("Incoming message")

	draft, err := h.ai.ParseMedication(ctx, msg.Text)
	if errors.Is(err, ai.ErrNotMedication) {
		response := "I couldn't find a medication and a time in that. Try \"Aspirin 100 mg at 08:00\" or use /add"
		if draft != nil && draft.Message != "" {
			response = draft.Message
		}
		h.sendMessage(msg.Chat.ID, response)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse medication")
		h.sendMessage(msg.Chat.ID, "Sorry, I couldn't process that right now. Please try again or use /add")
		return
	}

	h.logger.Debug().
		Str("name", draft.Name).
		Str("time", draft.Time).
		Float64("confidence", draft.Confidence).
		Str("raw", draft.RawResponse).
		Msg("Parsed medication")

	h.createMedication(ctx, msg.Chat.ID, draft.Medication(h.owner))
}
