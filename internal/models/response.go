package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Response is a generated answer to a Prompt. Fields outside the known set
// travel in Extra.
type Response struct {
	SQLRow
	ChatMessage

	PromptID    string            `json:"prompt_id" gorm:"size:26;index;not null" validate:"required"`
	StopReason  *string           `json:"stop_reason,omitempty" gorm:"size:64"`
	TokIn       *int              `json:"tok_in,omitempty" validate:"omitempty,gte=0"`
	TokOut      *int              `json:"tok_out,omitempty" validate:"omitempty,gte=0"`
	TokMax      *int              `json:"tok_max,omitempty" validate:"omitempty,gte=0"`
	Model       *string           `json:"model,omitempty" gorm:"size:128"`
	Temperature *float64          `json:"temperature,omitempty"`
	Provider    *string           `json:"provider,omitempty" gorm:"size:64"`
	Meta        datatypes.JSONMap `json:"meta,omitempty"`
	Extra       datatypes.JSONMap `json:"extra,omitempty"`

	Kind    Kind   `json:"-" gorm:"size:16;index;not null"`
	Project string `json:"-" gorm:"size:64;index"`
	Synced  bool   `json:"-" gorm:"default:false;index"`
}

func (Response) TableName() string { return "responses" }

// ResponseFields are the JSON keys a Response knows about.
var ResponseFields = map[string]struct{}{
	"id": {}, "created": {}, "updated": {},
	"title": {}, "comment": {}, "role": {}, "content": {},
	"prompt_id": {}, "stop_reason": {},
	"tok_in": {}, "tok_out": {}, "tok_max": {},
	"model": {}, "temperature": {}, "provider": {},
	"meta": {}, "extra": {},
}

// MarshalJSON keeps an empty "meta" or "extra" object distinct from an
// absent one.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	out := struct {
		plain
		Meta  *datatypes.JSONMap `json:"meta,omitempty"`
		Extra *datatypes.JSONMap `json:"extra,omitempty"`
	}{plain: plain(r)}
	if r.Meta != nil {
		out.Meta = &r.Meta
	}
	if r.Extra != nil {
		out.Extra = &r.Extra
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the known fields and folds any other top-level key
// into Extra.
func (r *Response) UnmarshalJSON(b []byte) error {
	type plain Response
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if _, known := ResponseFields[k]; known {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if p.Extra == nil {
			p.Extra = datatypes.JSONMap{}
		}
		p.Extra[k] = val
	}

	*r = Response(p)
	return nil
}
