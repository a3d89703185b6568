package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"taskpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordTestRun(t *testing.T, repo *RunRepo, taskID string, status core.RunStatus) *core.Run {
	t.Helper()
	run := &core.Run{
		TaskID:    taskID,
		TaskName:  "task-" + taskID,
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
	repo.RecordRun(context.Background(), run)
	require.NotEmpty(t, run.ID)
	return run
}

func TestRunRepoRecordAndGet(t *testing.T) {
	repo := NewRunRepo(openTestStore(t), testLogger(), 20)
	ctx := context.Background()

	errMsg := "boom"
	ended := time.Now().UTC()
	run := &core.Run{
		TaskID:    "t1",
		TaskName:  "task-t1",
		Status:    core.RunStatusFailed,
		StartedAt: ended.Add(-time.Second),
		EndedAt:   &ended,
		Error:     &errMsg,
	}
	repo.RecordRun(ctx, run)

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	require.NotNil(t, got.EndedAt)
}

func TestRunRepoGetMissing(t *testing.T) {
	repo := NewRunRepo(openTestStore(t), testLogger(), 20)
	_, err := repo.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunRepoListNewestFirst(t *testing.T) {
	repo := NewRunRepo(openTestStore(t), testLogger(), 20)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run := recordTestRun(t, repo, "t1", core.RunStatusSucceeded)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}
	recordTestRun(t, repo, "other", core.RunStatusSucceeded)

	runs, err := repo.List(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	t.Run("limit and offset", func(t *testing.T) {
		page, err := repo.List(ctx, "t1", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[1], page[0].ID)
	})
}

func TestRunRepoRetentionPrunes(t *testing.T) {
	repo := NewRunRepo(openTestStore(t), testLogger(), 3)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		run := &core.Run{
			TaskID:    "t1",
			TaskName:  fmt.Sprintf("run-%d", i),
			Status:    core.RunStatusSucceeded,
			StartedAt: time.Now().UTC(),
		}
		repo.RecordRun(ctx, run)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := repo.List(ctx, "t1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3, "only the newest retention window survives")
	assert.Equal(t, "run-5", runs[0].TaskName)
}
