package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/MedAlarm/internal/models"
	"github.com/sashabaranov/go-openai"
)

// ErrNotMedication is returned when the text does not describe a medication
var ErrNotMedication = errors.New("message does not describe a medication")

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	client completer
	model  string
}

func New(apiKey, baseURL, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Draft is a medication parsed from free text. Message is the assistant's
// reply when the text could not be parsed.
type Draft struct {
	Action      string  `json:"action"`
	Name        string  `json:"name"`
	Dosage      string  `json:"dosage"`
	Time        string  `json:"time"`
	Confidence  float64 `json:"confidence"`
	Message     string  `json:"ai_message"`
	RawResponse string  `json:"-"`
}

// Medication converts the draft to a medication for userID
func (d *Draft) Medication(userID int64) models.Medication {
	return models.Medication{
		UserID: userID,
		Name:   d.Name,
		Dosage: d.Dosage,
		Time:   d.Time,
	}
}

const systemPromptTemplate = `You turn a user's message into a daily medication schedule entry.

Current time: %s

Set action to "add_medication" when the message names a medication to take every day at a time of day, otherwise "unknown".

Rules:
1. time is 24-hour "HH:MM" with a leading zero, e.g. "08:00" or "21:30". Convert "8am", "noon", "9 in the evening" accordingly.
2. dosage is free text such as "500 mg" or "1 tablet". Use an empty string when not given.
3. If the time is missing, set action to "unknown" and ask for it in ai_message.
4. ai_message is a short friendly reply to show the user.`

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(systemPromptTemplate, now.Format("2006-01-02 15:04 (Monday)"))
}

// JSON Schema for structured output
var draftSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["add_medication", "unknown"],
			"description": "Whether the message describes a medication to schedule"
		},
		"name": {
			"type": "string",
			"description": "Medication name"
		},
		"dosage": {
			"type": "string",
			"description": "Dosage, free text"
		},
		"time": {
			"type": "string",
			"description": "Daily time of day as HH:MM, 24-hour"
		},
		"confidence": {
			"type": "number",
			"minimum": 0,
			"maximum": 1,
			"description": "Confidence score between 0 and 1"
		},
		"ai_message": {
			"type": "string",
			"description": "Friendly message to show the user"
		}
	},
	"required": ["action", "name", "dosage", "time", "confidence", "ai_message"],
	"additionalProperties": false
}`)

// ParseMedication asks the model to extract a medication from text. A
// result that is not a usable medication returns the draft together with
// ErrNotMedication so the caller can relay the model's message.
func (c *Client) ParseMedication(ctx context.Context, text string) (*Draft, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt(time.Now()),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "medication",
				Schema: draftSchema,
				Strict: true,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call AI API: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from AI")
	}

	content := resp.Choices[0].Message.Content
	draft := &Draft{RawResponse: content}

	if err := json.Unmarshal([]byte(content), draft); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}

	draft.Name = strings.TrimSpace(draft.Name)
	draft.Dosage = strings.TrimSpace(draft.Dosage)
	draft.Time = strings.TrimSpace(draft.Time)

	if draft.Action != "add_medication" || draft.Name == "" || draft.Confidence < 0.5 {
		return draft, ErrNotMedication
	}
	if _, _, err := models.ParseClock(draft.Time); err != nil {
		return draft, fmt.Errorf("%w: %v", ErrNotMedication, err)
	}

	return draft, nil
}
