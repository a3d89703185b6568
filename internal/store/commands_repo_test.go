package store

import (
	"context"
	"testing"

	"taskpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandRepo(t *testing.T) *CommandRepo {
	t.Helper()
	return NewCommandRepo(openTestStore(t), testLogger())
}

func TestCommandRepoAddAndList(t *testing.T) {
	repo := newTestCommandRepo(t)
	ctx := context.Background()

	added := repo.Add(ctx, "greet", `console.log("hi")`, "says hi")
	require.NotNil(t, added)
	assert.NotEmpty(t, added.ID)
	assert.False(t, added.IsRemote)

	local := repo.GetLocal(ctx)
	require.Len(t, local, 1)
	assert.Equal(t, "greet", local[0].Name)
	assert.Equal(t, `console.log("hi")`, local[0].Code)
}

func TestCommandRepoFieldMigration(t *testing.T) {
	store := openTestStore(t)
	repo := NewCommandRepo(store, testLogger())
	ctx := context.Background()

	// Records written before IDs and names were mandatory.
	seed := []map[string]string{
		{"code": "1"},
		{"name": "named", "code": "2"},
	}
	require.NoError(t, store.Set(ctx, "custom_commands", seed))

	local := repo.GetLocal(ctx)
	require.Len(t, local, 2)
	for _, c := range local {
		assert.NotEmpty(t, c.ID)
		assert.NotEmpty(t, c.Name)
	}
	assert.Contains(t, local[0].Name, "unnamed-")
	assert.Equal(t, "named", local[1].Name)

	// The repair is persisted, not recomputed per read.
	again := repo.GetLocal(ctx)
	assert.Equal(t, local[0].ID, again[0].ID)
}

func TestCommandRepoRemove(t *testing.T) {
	repo := newTestCommandRepo(t)
	ctx := context.Background()

	a := repo.Add(ctx, "a", "1", "")
	b := repo.Add(ctx, "b", "2", "")
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.True(t, repo.Remove(ctx, a.ID))
	local := repo.GetLocal(ctx)
	require.Len(t, local, 1)
	assert.Equal(t, b.ID, local[0].ID)

	// Removing an unknown ID reports absence and leaves the list alone.
	assert.False(t, repo.Remove(ctx, "missing"))
	require.Len(t, repo.GetLocal(ctx), 1)
}

func TestCommandRepoGetAllMergesRemoteFirst(t *testing.T) {
	repo := newTestCommandRepo(t)
	ctx := context.Background()

	require.NotNil(t, repo.Add(ctx, "local-cmd", "1", ""))
	require.True(t, repo.SaveRemoteCache(ctx, []core.Command{
		{ID: "r1", Name: "remote-cmd", Code: "2", IsRemote: true},
	}))

	t.Run("remote disabled", func(t *testing.T) {
		all := repo.GetAll(ctx)
		require.Len(t, all, 1)
		assert.Equal(t, "local-cmd", all[0].Name)
	})

	t.Run("remote enabled", func(t *testing.T) {
		repo.SetRemoteEnabled(ctx, true)
		all := repo.GetAll(ctx)
		require.Len(t, all, 2)
		assert.Equal(t, "remote-cmd", all[0].Name)
		assert.True(t, all[0].IsRemote)
		assert.Equal(t, "local-cmd", all[1].Name)
	})
}

func TestCommandRepoSaveFiltersRemote(t *testing.T) {
	repo := newTestCommandRepo(t)
	ctx := context.Background()

	mixed := []core.Command{
		{ID: "l1", Name: "local", Code: "1"},
		{ID: "r1", Name: "remote", Code: "2", IsRemote: true},
	}
	require.True(t, repo.Save(ctx, mixed))

	local := repo.GetLocal(ctx)
	require.Len(t, local, 1)
	assert.Equal(t, "local", local[0].Name)
}

func TestCommandRepoImportExport(t *testing.T) {
	repo := newTestCommandRepo(t)
	ctx := context.Background()

	taken := repo.Import(ctx, []core.Command{
		{Name: "one", Code: "1"},
		{Name: "", Code: "2"},     // missing name, skipped
		{Name: "three", Code: ""}, // missing code, skipped
		{Name: "four", Code: "4", Description: "fourth"},
	})
	assert.Equal(t, 2, taken)

	exported := repo.Export(ctx)
	require.Len(t, exported, 2)
	for _, c := range exported {
		assert.Empty(t, c.ID, "export strips identity")
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Code)
	}
}

func TestCommandRepoClearRemoteCache(t *testing.T) {
	repo := newTestCommandRepo(t)
	ctx := context.Background()

	require.True(t, repo.SaveRemoteCache(ctx, []core.Command{{ID: "r1", Name: "r", Code: "1", IsRemote: true}}))
	assert.False(t, repo.LastSync(ctx).IsZero())

	repo.ClearRemoteCache(ctx)
	assert.Empty(t, repo.RemoteCache(ctx))
	assert.True(t, repo.LastSync(ctx).IsZero())
}
