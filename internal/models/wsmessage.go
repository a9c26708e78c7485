package models

// Action is the closed set of mutations a WSMessage may carry.
type Action string

const (
	ActionReplace Action = "replace"
	ActionAppend  Action = "append"
	ActionDelete  Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionReplace, ActionAppend, ActionDelete:
		return true
	}
	return false
}

// WSMessage is one incremental field mutation of a response, sent over a
// live connection.
type WSMessage struct {
	ID       string `json:"id" validate:"required"`
	PromptID string `json:"prompt_id" validate:"required"`
	Action   Action `json:"action" validate:"required,oneof=replace append delete"`
	Key      string `json:"key" validate:"required"`
	Value    string `json:"value"`
}
