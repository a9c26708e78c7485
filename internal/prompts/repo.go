package prompts

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/lovely-prompts/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func preloadResponses(db *gorm.DB) *gorm.DB {
	return db.Order("created ASC")
}

// ListPrompts returns prompts newest first, each with its responses oldest first.
func (r *Repo) ListPrompts(ctx context.Context, kind models.Kind, skip, limit int) ([]models.Prompt, error) {
	var out []models.Prompt
	if err := r.db.WithContext(ctx).
		Preload("Responses", preloadResponses).
		Where("kind = ?", kind).
		Order("created DESC").
		Offset(skip).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetPrompt(ctx context.Context, kind models.Kind, id string) (*models.Prompt, error) {
	var p models.Prompt
	if err := r.db.WithContext(ctx).
		Preload("Responses", preloadResponses).
		Where("id = ? AND kind = ?", id, kind).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

func (r *Repo) SavePrompt(ctx context.Context, p *models.Prompt) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error
}

// DeletePrompt removes a prompt and its responses. It reports whether the
// prompt existed.
func (r *Repo) DeletePrompt(ctx context.Context, kind models.Kind, id string) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND kind = ?", id, kind).Delete(&models.Prompt{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		return tx.Where("prompt_id = ?", id).Delete(&models.Response{}).Error
	})
	return found, err
}

// ListResponses returns responses newest first.
func (r *Repo) ListResponses(ctx context.Context, kind models.Kind, skip, limit int) ([]models.Response, error) {
	var out []models.Response
	if err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created DESC").
		Offset(skip).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetResponse(ctx context.Context, kind models.Kind, id string) (*models.Response, error) {
	var resp models.Response
	if err := r.db.WithContext(ctx).
		Where("id = ? AND kind = ?", id, kind).
		First(&resp).Error; err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *Repo) CreateResponse(ctx context.Context, resp *models.Response) error {
	return r.db.WithContext(ctx).Create(resp).Error
}

func (r *Repo) SaveResponse(ctx context.Context, resp *models.Response) error {
	return r.db.WithContext(ctx).Save(resp).Error
}

// UpdateResponseColumns writes a partial update. It reports whether the row
// still exists.
func (r *Repo) UpdateResponseColumns(ctx context.Context, id string, cols map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Response{}).
		Where("id = ?", id).
		Updates(cols)
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) DeleteResponse(ctx context.Context, kind models.Kind, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND kind = ?", id, kind).
		Delete(&models.Response{})
	return res.RowsAffected > 0, res.Error
}
