package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/melody_go_server/internal/model"
	"github.com/qs3c/melody_go_server/internal/testutil"
)

func TestLyricsRepository_Resolve(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewLyricsRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	job := testutil.TestJob(t, db, user.ID)

	rec := &model.LyricsRecord{JobID: job.ID, Provider: "suno", TaskID: "lyr-1", Status: model.LyricsStatusPending}
	require.NoError(t, repo.Create(ctx, rec))

	found, err := repo.GetByTaskID(ctx, "lyr-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.JobID)

	n, err := repo.Resolve(ctx, rec.ID, map[string]interface{}{"status": model.LyricsStatusCompleted, "text": "la"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Resolve(ctx, rec.ID, map[string]interface{}{"status": model.LyricsStatusFailed})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLyricsRepository_DeleteStale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewLyricsRepository(db)
	ctx := context.Background()
	user := testutil.TestUser(t, db)
	done := testutil.TestJob(t, db, user.ID, testutil.WithStatus(model.JobStatusCompleted))
	active := testutil.TestJob(t, db, user.ID)

	old := time.Now().Add(-60 * 24 * time.Hour)
	for i, jobID := range []string{done.ID, active.ID} {
		rec := &model.LyricsRecord{JobID: jobID, Provider: "suno", TaskID: []string{"a", "b"}[i], Status: model.LyricsStatusCompleted}
		require.NoError(t, repo.Create(ctx, rec))
		db.Model(&model.LyricsRecord{}).Where("id = ?", rec.ID).UpdateColumn("updated_at", old)
	}

	before := time.Now().Add(-30 * 24 * time.Hour)
	n, err := repo.CountStale(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteStale(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByTaskID(ctx, "b")
	assert.NoError(t, err)
}
