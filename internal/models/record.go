package models

import "time"

// Chunk is the optional title/comment pair shared by every record.
type Chunk struct {
	Title   *string `json:"title,omitempty" gorm:"type:text"`
	Comment *string `json:"comment,omitempty" gorm:"type:text"`
}

// SQLRow carries identity and audit timestamps of a persisted record.
type SQLRow struct {
	ID      string    `json:"id" gorm:"primaryKey;size:26" validate:"required"`
	Created time.Time `json:"created" gorm:"autoCreateTime;index" validate:"required"`
	Updated time.Time `json:"updated" gorm:"autoUpdateTime" validate:"required,gtefield=Created"`
}

type ChatMessage struct {
	Chunk
	Role    *string `json:"role,omitempty" gorm:"size:32"`
	Content *string `json:"content,omitempty" gorm:"type:text"`
}

// Kind separates chat prompts (structured messages) from completion prompts
// (raw text). It is a storage column only.
type Kind string

const (
	KindChat       Kind = "chat"
	KindCompletion Kind = "completion"
)

func (k Kind) Valid() bool {
	return k == KindChat || k == KindCompletion
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T { return &v }
