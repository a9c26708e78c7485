package syncer

import "context"

type Entity string

const (
	EntityPrompt   Entity = "prompt"
	EntityResponse Entity = "response"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Message asks the worker to mirror one local row into the remote database.
type Message struct {
	Project string `json:"project"`
	Entity  Entity `json:"entity"`
	ID      string `json:"id"`
	Op      Op     `json:"op"`
}

// Publisher queues sync messages.
type Publisher interface {
	PublishSync(ctx context.Context, msg Message) error
}
