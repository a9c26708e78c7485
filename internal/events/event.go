package events

import (
	"context"
	"encoding/json"

	"github.com/suPer8Hu/lovely-prompts/internal/models"
)

// Type is an update event code. Keep in sync with the webapp.
type Type string

const (
	NewChatPrompt    Type = "new_chp"
	UpdateChatPrompt Type = "up_chp"
	DeleteChatPrompt Type = "del_chp"

	NewCompletionPrompt    Type = "new_cop"
	UpdateCompletionPrompt Type = "up_cop"
	DeleteCompletionPrompt Type = "del_cop"

	NewChatResponse    Type = "new_chr"
	UpdateChatResponse Type = "up_chr"
	DeleteChatResponse Type = "del_chr"

	NewCompletionResponse    Type = "new_cor"
	UpdateCompletionResponse Type = "up_cor"
	DeleteCompletionResponse Type = "del_cor"

	StreamChatResponse       Type = "stream_chr"
	StreamCompletionResponse Type = "stream_cor"
)

type Op int

const (
	OpNew Op = iota
	OpUpdate
	OpDelete
	OpStream
)

// PromptEvent picks the event code for a prompt mutation.
func PromptEvent(kind models.Kind, op Op) Type {
	if kind == models.KindCompletion {
		return [...]Type{NewCompletionPrompt, UpdateCompletionPrompt, DeleteCompletionPrompt, UpdateCompletionPrompt}[op]
	}
	return [...]Type{NewChatPrompt, UpdateChatPrompt, DeleteChatPrompt, UpdateChatPrompt}[op]
}

// ResponseEvent picks the event code for a response mutation.
func ResponseEvent(kind models.Kind, op Op) Type {
	if kind == models.KindCompletion {
		return [...]Type{NewCompletionResponse, UpdateCompletionResponse, DeleteCompletionResponse, StreamCompletionResponse}[op]
	}
	return [...]Type{NewChatResponse, UpdateChatResponse, DeleteChatResponse, StreamChatResponse}[op]
}

type Event struct {
	Type Type            `json:"event"`
	Data json.RawMessage `json:"data"`
}

// New marshals data into an Event.
func New(t Type, data any) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: b}, nil
}

// Broadcaster delivers an event to every subscriber of a project.
type Broadcaster interface {
	Broadcast(ctx context.Context, project string, evt Event) error
}
