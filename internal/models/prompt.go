package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Prompt is a request sent to a model: either structured chat messages or
// raw completion text. It owns its responses.
type Prompt struct {
	SQLRow
	Chunk

	Prompt           datatypes.JSONSlice[ChatMessage] `json:"prompt,omitempty" validate:"omitempty,dive"`
	CompletionPrompt *string                          `json:"completion_prompt,omitempty" gorm:"type:text"`
	Responses        []Response                       `json:"responses,omitempty" gorm:"foreignKey:PromptID;constraint:OnDelete:CASCADE" validate:"omitempty,dive"`

	Kind    Kind   `json:"-" gorm:"size:16;index;not null"`
	Project string `json:"-" gorm:"size:64;index"`
	Synced  bool   `json:"-" gorm:"default:false;index"`
}

func (Prompt) TableName() string { return "prompts" }

// MarshalJSON writes "prompt" whenever the history is present, even when it
// is empty, and always for chat prompts.
func (p Prompt) MarshalJSON() ([]byte, error) {
	type plain Prompt
	out := struct {
		plain
		Prompt *datatypes.JSONSlice[ChatMessage] `json:"prompt,omitempty"`
	}{plain: plain(p)}
	if p.Prompt != nil || p.Kind == KindChat {
		history := p.Prompt
		if history == nil {
			history = datatypes.JSONSlice[ChatMessage]{}
		}
		out.Prompt = &history
	}
	return json.Marshal(out)
}
