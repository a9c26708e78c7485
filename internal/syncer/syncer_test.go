package syncer_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/lovely-prompts/internal/db"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
	"github.com/suPer8Hu/lovely-prompts/internal/prompts"
	"github.com/suPer8Hu/lovely-prompts/internal/syncer"
)

type queue struct{ msgs []syncer.Message }

func (q *queue) PublishSync(_ context.Context, m syncer.Message) error {
	q.msgs = append(q.msgs, m)
	return nil
}

// drain hands every queued message to the syncer, in order.
func (q *queue) drain(t *testing.T, s *syncer.Syncer) {
	t.Helper()
	for _, m := range q.msgs {
		require.NoError(t, s.Handle(context.Background(), m))
	}
	q.msgs = nil
}

func setup(t *testing.T) (*prompts.Service, *queue, *syncer.Syncer, *gorm.DB, *project.Manager) {
	t.Helper()
	dir := t.TempDir()
	mgr := project.NewManager(dir, logger.Silent)
	t.Cleanup(func() { _ = mgr.Close() })

	remote, err := db.OpenSQLite(filepath.Join(dir, "remote.db"), logger.Silent)
	require.NoError(t, err)

	s := syncer.New(mgr, remote)
	require.NoError(t, s.Migrate())

	q := &queue{}
	return prompts.NewService(mgr, nil, q), q, s, remote, mgr
}

func TestHandle_UpsertMirrorsAndMarksSynced(t *testing.T) {
	svc, q, s, remote, mgr := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, "demo", models.KindChat, &models.Prompt{
		Chunk:  models.Chunk{Title: models.Ptr("t")},
		Prompt: []models.ChatMessage{{Content: models.Ptr("hi")}},
	})
	require.NoError(t, err)
	r, err := svc.CreateResponse(ctx, "demo", models.KindChat, &models.Response{PromptID: p.ID, TokIn: models.Ptr(5)})
	require.NoError(t, err)
	q.drain(t, s)

	var rp models.Prompt
	require.NoError(t, remote.Where("id = ?", p.ID).First(&rp).Error)
	assert.Equal(t, "demo", rp.Project)
	assert.Equal(t, "t", *rp.Title)

	var rr models.Response
	require.NoError(t, remote.Where("id = ?", r.ID).First(&rr).Error)
	assert.Equal(t, 5, *rr.TokIn)

	local, err := mgr.Open(ctx, "demo")
	require.NoError(t, err)
	var lp models.Prompt
	require.NoError(t, local.Where("id = ?", p.ID).First(&lp).Error)
	assert.True(t, lp.Synced)

	// a second upsert overwrites the mirror
	_, err = svc.UpdateResponse(ctx, "demo", models.KindChat, r.ID, &models.Response{TokIn: models.Ptr(9)})
	require.NoError(t, err)
	q.drain(t, s)
	require.NoError(t, remote.Where("id = ?", r.ID).First(&rr).Error)
	assert.Equal(t, 9, *rr.TokIn)
}

func TestHandle_DeletePromptRemovesResponses(t *testing.T) {
	svc, q, s, remote, _ := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, "demo", models.KindCompletion, &models.Prompt{CompletionPrompt: models.Ptr("x")})
	require.NoError(t, err)
	_, err = svc.CreateResponse(ctx, "demo", models.KindCompletion, &models.Response{PromptID: p.ID})
	require.NoError(t, err)
	q.drain(t, s)

	require.NoError(t, svc.DeletePrompt(ctx, "demo", models.KindCompletion, p.ID))
	q.drain(t, s)

	var n int64
	require.NoError(t, remote.Model(&models.Prompt{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, remote.Model(&models.Response{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandle_SkipsRowsDeletedBeforeSync(t *testing.T) {
	svc, q, s, remote, _ := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, "demo", models.KindCompletion, &models.Prompt{CompletionPrompt: models.Ptr("x")})
	require.NoError(t, err)
	require.NoError(t, svc.DeletePrompt(ctx, "demo", models.KindCompletion, p.ID))
	q.drain(t, s)

	var n int64
	require.NoError(t, remote.Model(&models.Prompt{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandle_RejectsBadMessages(t *testing.T) {
	_, _, s, _, _ := setup(t)
	ctx := context.Background()

	cases := []syncer.Message{
		{Entity: syncer.EntityPrompt, ID: "x", Op: syncer.OpUpsert},
		{Project: "demo", Entity: "user", ID: "x", Op: syncer.OpUpsert},
		{Project: "demo", Entity: syncer.EntityPrompt, ID: "x", Op: "merge"},
	}
	for _, m := range cases {
		assert.ErrorIs(t, s.Handle(ctx, m), syncer.ErrBadMessage)
	}

	err := s.Handle(ctx, syncer.Message{Project: "ghost", Entity: syncer.EntityPrompt, ID: "x", Op: syncer.OpUpsert})
	assert.ErrorIs(t, err, project.ErrNotFound)
}

func TestHandle_ResponseBeforePrompt(t *testing.T) {
	svc, q, s, remote, _ := setup(t)
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, "demo", models.KindChat, &models.Prompt{Prompt: []models.ChatMessage{}})
	require.NoError(t, err)
	r, err := svc.CreateResponse(ctx, "demo", models.KindChat, &models.Response{PromptID: p.ID})
	require.NoError(t, err)

	// deliver the response message first
	require.Len(t, q.msgs, 2)
	require.NoError(t, s.Handle(ctx, q.msgs[1]))

	var n int64
	require.NoError(t, remote.Model(&models.Prompt{}).Where("id = ?", p.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
	require.NoError(t, remote.Model(&models.Response{}).Where("id = ?", r.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}
