package prompts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
	"github.com/suPer8Hu/lovely-prompts/internal/events"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/syncer"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrPromptNotFound = errors.New("prompt not found")
	ErrKindMismatch   = errors.New("payload does not match prompt kind")
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ProjectStore resolves a project name to its database.
type ProjectStore interface {
	Open(ctx context.Context, name string) (*gorm.DB, error)
	Create(ctx context.Context, name string) (*gorm.DB, error)
}

type Service struct {
	projects ProjectStore
	events   events.Broadcaster
	sync     syncer.Publisher

	// per-response write locks, keyed by response id
	locks keyedLocks
}

// NewService wires the service. bc and pub may be nil.
func NewService(projects ProjectStore, bc events.Broadcaster, pub syncer.Publisher) *Service {
	return &Service{projects: projects, events: bc, sync: pub}
}

func clampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit
}

func (s *Service) repo(ctx context.Context, project string) (*Repo, error) {
	gdb, err := s.projects.Open(ctx, project)
	if err != nil {
		return nil, err
	}
	return NewRepo(gdb), nil
}

func (s *Service) lock(id string) func() {
	return s.locks.lock(id)
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// checkKind rejects payloads whose body does not match the route's prompt kind.
func checkKind(kind models.Kind, p *models.Prompt) error {
	switch kind {
	case models.KindChat:
		if p.Prompt == nil || p.CompletionPrompt != nil {
			return fmt.Errorf("%w: chat prompts carry \"prompt\" and no \"completion_prompt\"", ErrKindMismatch)
		}
	case models.KindCompletion:
		if p.CompletionPrompt == nil || len(p.Prompt) > 0 {
			return fmt.Errorf("%w: completion prompts carry \"completion_prompt\" and no \"prompt\"", ErrKindMismatch)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrKindMismatch, kind)
	}
	return nil
}

func (s *Service) ListPrompts(ctx context.Context, project string, kind models.Kind, skip, limit int) ([]models.Prompt, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	skip, limit = clampPage(skip, limit)
	return repo.ListPrompts(ctx, kind, skip, limit)
}

func (s *Service) GetPrompt(ctx context.Context, project string, kind models.Kind, id string) (*models.Prompt, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	p, err := repo.GetPrompt(ctx, kind, id)
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return p, nil
}

// CreatePrompt stores a new prompt, creating the project on first use.
func (s *Service) CreatePrompt(ctx context.Context, project string, kind models.Kind, in *models.Prompt) (*models.Prompt, error) {
	if err := checkKind(kind, in); err != nil {
		return nil, err
	}
	gdb, err := s.projects.Create(ctx, project)
	if err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	p := &models.Prompt{
		Chunk:            in.Chunk,
		Prompt:           in.Prompt,
		CompletionPrompt: in.CompletionPrompt,
		Responses:        []models.Response{},
		Kind:             kind,
		Project:          project,
	}
	p.ID = id

	if err := NewRepo(gdb).CreatePrompt(ctx, p); err != nil {
		return nil, err
	}

	s.emit(ctx, project, events.PromptEvent(kind, events.OpNew), p)
	s.enqueue(ctx, syncer.Message{Project: project, Entity: syncer.EntityPrompt, ID: p.ID, Op: syncer.OpUpsert})
	return p, nil
}

// UpdatePrompt replaces the mutable fields of a prompt.
func (s *Service) UpdatePrompt(ctx context.Context, project string, kind models.Kind, id string, in *models.Prompt) (*models.Prompt, error) {
	if err := checkKind(kind, in); err != nil {
		return nil, err
	}
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	p, err := repo.GetPrompt(ctx, kind, id)
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}

	p.Chunk = in.Chunk
	p.Prompt = in.Prompt
	p.CompletionPrompt = in.CompletionPrompt
	p.Updated = time.Now().UTC()
	p.Synced = false
	if err := repo.SavePrompt(ctx, p); err != nil {
		return nil, err
	}

	s.emit(ctx, project, events.PromptEvent(kind, events.OpUpdate), p)
	s.enqueue(ctx, syncer.Message{Project: project, Entity: syncer.EntityPrompt, ID: p.ID, Op: syncer.OpUpsert})
	return p, nil
}

// DeletePrompt removes a prompt together with its responses.
func (s *Service) DeletePrompt(ctx context.Context, project string, kind models.Kind, id string) error {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return err
	}
	found, err := repo.DeletePrompt(ctx, kind, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	s.emit(ctx, project, events.PromptEvent(kind, events.OpDelete), map[string]string{"id": id})
	s.enqueue(ctx, syncer.Message{Project: project, Entity: syncer.EntityPrompt, ID: id, Op: syncer.OpDelete})
	return nil
}

func (s *Service) ListResponses(ctx context.Context, project string, kind models.Kind, skip, limit int) ([]models.Response, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	skip, limit = clampPage(skip, limit)
	return repo.ListResponses(ctx, kind, skip, limit)
}

func (s *Service) GetResponse(ctx context.Context, project string, kind models.Kind, id string) (*models.Response, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	r, err := repo.GetResponse(ctx, kind, id)
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return r, nil
}

// copyMutable copies every client-writable response field.
func copyMutable(dst, src *models.Response) {
	dst.ChatMessage = src.ChatMessage
	dst.StopReason = src.StopReason
	dst.TokIn = src.TokIn
	dst.TokOut = src.TokOut
	dst.TokMax = src.TokMax
	dst.Model = src.Model
	dst.Temperature = src.Temperature
	dst.Provider = src.Provider
	dst.Meta = src.Meta
	dst.Extra = src.Extra
}

// CreateResponse stores a response to an existing prompt of the same kind.
func (s *Service) CreateResponse(ctx context.Context, project string, kind models.Kind, in *models.Response) (*models.Response, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetPrompt(ctx, kind, in.PromptID); err != nil {
		return nil, notFound(err, fmt.Errorf("%w: %q", ErrPromptNotFound, in.PromptID))
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	r := &models.Response{PromptID: in.PromptID, Kind: kind, Project: project}
	copyMutable(r, in)
	r.ID = id

	if err := repo.CreateResponse(ctx, r); err != nil {
		return nil, err
	}

	s.emit(ctx, project, events.ResponseEvent(kind, events.OpNew), r)
	s.enqueue(ctx, syncer.Message{Project: project, Entity: syncer.EntityResponse, ID: r.ID, Op: syncer.OpUpsert})
	return r, nil
}

// UpdateResponse replaces the mutable fields of a response. prompt_id is
// immutable and ignored.
func (s *Service) UpdateResponse(ctx context.Context, project string, kind models.Kind, id string, in *models.Response) (*models.Response, error) {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(id)
	defer unlock()

	r, err := repo.GetResponse(ctx, kind, id)
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	copyMutable(r, in)
	r.Updated = time.Now().UTC()
	r.Synced = false
	if err := repo.SaveResponse(ctx, r); err != nil {
		return nil, err
	}

	s.emit(ctx, project, events.ResponseEvent(kind, events.OpUpdate), r)
	s.enqueue(ctx, syncer.Message{Project: project, Entity: syncer.EntityResponse, ID: r.ID, Op: syncer.OpUpsert})
	return r, nil
}

func (s *Service) DeleteResponse(ctx context.Context, project string, kind models.Kind, id string) error {
	repo, err := s.repo(ctx, project)
	if err != nil {
		return err
	}

	unlock := s.lock(id)
	defer unlock()

	r, err := repo.GetResponse(ctx, kind, id)
	if err != nil {
		return notFound(err, ErrNotFound)
	}
	found, err := repo.DeleteResponse(ctx, kind, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	s.emit(ctx, project, events.ResponseEvent(kind, events.OpDelete), map[string]string{"id": id, "prompt_id": r.PromptID})
	s.enqueue(ctx, syncer.Message{Project: project, Entity: syncer.EntityResponse, ID: id, Op: syncer.OpDelete})
	return nil
}

func (s *Service) emit(ctx context.Context, project string, t events.Type, data any) {
	if s.events == nil {
		return
	}
	evt, err := events.New(t, data)
	if err != nil {
		log.Printf("event encode failed event=%s err=%v", t, err)
		return
	}
	if err := s.events.Broadcast(ctx, project, evt); err != nil {
		log.Printf("event broadcast failed project=%s event=%s err=%v", project, t, err)
	}
}

// enqueue hands a row to the sync worker. The local write already succeeded,
// so a failure is logged and the row stays unsynced.
func (s *Service) enqueue(ctx context.Context, msg syncer.Message) {
	if s.sync == nil {
		return
	}
	if err := s.sync.PublishSync(ctx, msg); err != nil {
		log.Printf("sync enqueue failed project=%s entity=%s id=%s op=%s err=%v", msg.Project, msg.Entity, msg.ID, msg.Op, err)
	}
}
