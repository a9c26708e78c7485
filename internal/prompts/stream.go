package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/suPer8Hu/lovely-prompts/internal/events"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/syncer"
)

var (
	ErrUnknownKey    = errors.New("unknown response field")
	ErrNotAppendable = errors.New("field does not support append")
	ErrInvalidValue  = errors.New("invalid value for field")
)

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldInt
	fieldFloat
	fieldObject
)

// streamFields are the response columns a stream may touch.
var streamFields = map[string]fieldKind{
	"title":       fieldString,
	"comment":     fieldString,
	"role":        fieldString,
	"content":     fieldString,
	"stop_reason": fieldString,
	"model":       fieldString,
	"provider":    fieldString,
	"tok_in":      fieldInt,
	"tok_out":     fieldInt,
	"tok_max":     fieldInt,
	"temperature": fieldFloat,
	"meta":        fieldObject,
}

func stringField(r *models.Response, key string) **string {
	switch key {
	case "title":
		return &r.Title
	case "comment":
		return &r.Comment
	case "role":
		return &r.Role
	case "content":
		return &r.Content
	case "stop_reason":
		return &r.StopReason
	case "model":
		return &r.Model
	case "provider":
		return &r.Provider
	}
	return nil
}

func intField(r *models.Response, key string) **int {
	switch key {
	case "tok_in":
		return &r.TokIn
	case "tok_out":
		return &r.TokOut
	case "tok_max":
		return &r.TokMax
	}
	return nil
}

// columnValue returns the value to write for key; nil clears the column.
func columnValue(r *models.Response, key string) any {
	switch streamFields[key] {
	case fieldString:
		if v := *stringField(r, key); v != nil {
			return *v
		}
	case fieldInt:
		if v := *intField(r, key); v != nil {
			return *v
		}
	case fieldFloat:
		if r.Temperature != nil {
			return *r.Temperature
		}
	case fieldObject:
		if r.Meta != nil {
			return r.Meta
		}
	}
	return nil
}

// Stream applies incremental edits to one response. Edits are kept in memory
// and written back by Flush.
type Stream struct {
	svc     *Service
	repo    *Repo
	project string
	kind    models.Kind

	resp  models.Response
	dirty map[string]struct{}
}

// OpenStream starts a stream on an existing response.
func (s *Service) OpenStream(ctx context.Context, project string, kind models.Kind, id string) (*Stream, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	r, err := repo.GetResponse(ctx, kind, id)
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return &Stream{
		svc:     s,
		repo:    repo,
		project: project,
		kind:    kind,
		resp:    *r,
		dirty:   make(map[string]struct{}),
	}, nil
}

func (st *Stream) ResponseID() string { return st.resp.ID }

func (st *Stream) PromptID() string { return st.resp.PromptID }

// Response returns a copy of the in-memory state.
func (st *Stream) Response() models.Response { return st.resp }

// Apply applies one edit and forwards it to subscribers. The returned message
// carries the response and prompt ids.
func (st *Stream) Apply(ctx context.Context, msg *models.WSMessage) (*models.WSMessage, error) {
	fk, ok := streamFields[msg.Key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, msg.Key)
	}

	unlock := st.svc.lock(st.resp.ID)
	defer unlock()

	r := &st.resp
	switch msg.Action {
	case models.ActionReplace:
		if err := replaceField(r, msg.Key, fk, msg.Value); err != nil {
			return nil, err
		}
	case models.ActionAppend:
		if fk != fieldString {
			return nil, fmt.Errorf("%w: %q", ErrNotAppendable, msg.Key)
		}
		p := stringField(r, msg.Key)
		cur := ""
		if *p != nil {
			cur = **p
		}
		*p = models.Ptr(cur + msg.Value)
	case models.ActionDelete:
		clearField(r, msg.Key, fk)
	default:
		return nil, fmt.Errorf("unknown action %q", msg.Action)
	}
	st.dirty[msg.Key] = struct{}{}

	out := *msg
	out.ID = r.ID
	out.PromptID = r.PromptID
	st.svc.emit(ctx, st.project, events.ResponseEvent(st.kind, events.OpStream), &out)
	return &out, nil
}

func replaceField(r *models.Response, key string, fk fieldKind, value string) error {
	switch fk {
	case fieldString:
		*stringField(r, key) = models.Ptr(value)
	case fieldInt:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return fmt.Errorf("%w %q: want a non-negative integer, got %q", ErrInvalidValue, key, value)
		}
		*intField(r, key) = &n
	case fieldFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%w %q: want a number, got %q", ErrInvalidValue, key, value)
		}
		r.Temperature = &f
	case fieldObject:
		var m map[string]any
		if err := json.Unmarshal([]byte(value), &m); err != nil || m == nil {
			return fmt.Errorf("%w %q: want a JSON object", ErrInvalidValue, key)
		}
		r.Meta = datatypes.JSONMap(m)
	}
	return nil
}

func clearField(r *models.Response, key string, fk fieldKind) {
	switch fk {
	case fieldString:
		*stringField(r, key) = nil
	case fieldInt:
		*intField(r, key) = nil
	case fieldFloat:
		r.Temperature = nil
	case fieldObject:
		r.Meta = nil
	}
}

// Dirty reports whether there are edits not yet written.
func (st *Stream) Dirty() bool {
	unlock := st.svc.lock(st.resp.ID)
	defer unlock()
	return len(st.dirty) > 0
}

// Flush writes pending edits and emits the regular update event. Only the
// columns touched by the stream are written.
func (st *Stream) Flush(ctx context.Context) error {
	unlock := st.svc.lock(st.resp.ID)
	defer unlock()

	if len(st.dirty) == 0 {
		return nil
	}

	now := time.Now().UTC()
	cols := map[string]any{"updated": now, "synced": false}
	for key := range st.dirty {
		cols[key] = columnValue(&st.resp, key)
	}
	found, err := st.repo.UpdateResponseColumns(ctx, st.resp.ID, cols)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	st.dirty = make(map[string]struct{})

	fresh, err := st.repo.GetResponse(ctx, st.kind, st.resp.ID)
	if err != nil {
		return notFound(err, ErrNotFound)
	}
	st.resp = *fresh

	st.svc.emit(ctx, st.project, events.ResponseEvent(st.kind, events.OpUpdate), fresh)
	st.svc.enqueue(ctx, syncer.Message{Project: st.project, Entity: syncer.EntityResponse, ID: fresh.ID, Op: syncer.OpUpsert})
	return nil
}

// Close flushes any remaining edits.
func (st *Stream) Close(ctx context.Context) error {
	return st.Flush(ctx)
}
