package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/lovely-prompts/internal/models"
)

var ErrBadMessage = errors.New("bad sync message")

// ProjectOpener resolves a project name to its local database.
type ProjectOpener interface {
	Open(ctx context.Context, name string) (*gorm.DB, error)
}

// Syncer mirrors local project rows into one shared remote database.
type Syncer struct {
	projects ProjectOpener
	remote   *gorm.DB
}

func New(projects ProjectOpener, remote *gorm.DB) *Syncer {
	return &Syncer{projects: projects, remote: remote}
}

// Migrate creates the mirror tables in the remote database.
func (s *Syncer) Migrate() error {
	return s.remote.AutoMigrate(&models.Prompt{}, &models.Response{})
}

func (m Message) Validate() error {
	if m.Project == "" || m.ID == "" {
		return fmt.Errorf("%w: project and id are required", ErrBadMessage)
	}
	if m.Entity != EntityPrompt && m.Entity != EntityResponse {
		return fmt.Errorf("%w: entity %q", ErrBadMessage, m.Entity)
	}
	if m.Op != OpUpsert && m.Op != OpDelete {
		return fmt.Errorf("%w: op %q", ErrBadMessage, m.Op)
	}
	return nil
}

// Handle applies one sync message.
func (s *Syncer) Handle(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Op == OpDelete {
		return s.delete(ctx, msg)
	}

	local, err := s.projects.Open(ctx, msg.Project)
	if err != nil {
		return err
	}
	switch msg.Entity {
	case EntityPrompt:
		return s.upsertPrompt(ctx, local, msg)
	default:
		return s.upsertResponse(ctx, local, msg)
	}
}

func (s *Syncer) upsertPrompt(ctx context.Context, local *gorm.DB, msg Message) error {
	var p models.Prompt
	if err := local.WithContext(ctx).Where("id = ?", msg.ID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// deleted after it was queued; the delete message follows
			log.Printf("sync skip project=%s entity=prompt id=%s reason=gone", msg.Project, msg.ID)
			return nil
		}
		return err
	}
	p.Project = msg.Project
	p.Synced = true

	if err := s.remote.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&p).Error; err != nil {
		return fmt.Errorf("remote upsert prompt %s: %w", p.ID, err)
	}
	return markSynced(ctx, local, &models.Prompt{}, p.ID, p.Updated)
}

func (s *Syncer) upsertResponse(ctx context.Context, local *gorm.DB, msg Message) error {
	var r models.Response
	if err := local.WithContext(ctx).Where("id = ?", msg.ID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("sync skip project=%s entity=response id=%s reason=gone", msg.Project, msg.ID)
			return nil
		}
		return err
	}
	// workers run concurrently, so the parent may not be mirrored yet
	if err := s.upsertPrompt(ctx, local, Message{Project: msg.Project, Entity: EntityPrompt, ID: r.PromptID, Op: OpUpsert}); err != nil {
		return err
	}

	r.Project = msg.Project
	r.Synced = true

	if err := s.remote.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&r).Error; err != nil {
		return fmt.Errorf("remote upsert response %s: %w", r.ID, err)
	}
	return markSynced(ctx, local, &models.Response{}, r.ID, r.Updated)
}

// markSynced flags the local row, unless it changed after it was read.
func markSynced(ctx context.Context, local *gorm.DB, model any, id string, updated any) error {
	return local.WithContext(ctx).Model(model).
		Where("id = ? AND updated = ?", id, updated).
		UpdateColumn("synced", true).Error
}

func (s *Syncer) delete(ctx context.Context, msg Message) error {
	return s.remote.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if msg.Entity == EntityPrompt {
			if err := tx.Where("prompt_id = ?", msg.ID).Delete(&models.Response{}).Error; err != nil {
				return err
			}
			return tx.Where("id = ?", msg.ID).Delete(&models.Prompt{}).Error
		}
		return tx.Where("id = ?", msg.ID).Delete(&models.Response{}).Error
	})
}
