package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storyboard-backend/internal/models"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })
	return s
}

func TestMemoryStore_TaskLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	task := &models.Task{ID: "v1", ProjectID: "p1", Status: models.TaskStatusQueued, ShotIDs: []string{"a", "b"}}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.ErrorIs(t, s.CreateTask(ctx, task), ErrConflict)

	got, err := s.GetTask(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())

	// Returned copies do not alias stored state.
	got.ShotIDs[0] = "mutated"
	again, _ := s.GetTask(ctx, "v1")
	assert.Equal(t, "a", again.ShotIDs[0])

	status := models.TaskStatusProcessing
	progress := 40
	updated, err := s.UpdateTask(ctx, "v1", models.TaskUpdate{Status: &status, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, updated.Status)
	assert.Equal(t, 40, updated.Progress)
	assert.Equal(t, "p1", updated.ProjectID)

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateTask(ctx, "missing", models.TaskUpdate{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListingOrderAndFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []models.Task{
		{ID: "t3", ProjectID: "p1", SceneID: "sc1", Status: models.TaskStatusQueued, CreatedAt: base.Add(3 * time.Minute)},
		{ID: "t1", ProjectID: "p1", SceneID: "sc1", Status: models.TaskStatusProcessing, CreatedAt: base.Add(time.Minute)},
		{ID: "t2", ProjectID: "p2", Status: models.TaskStatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "t4", ProjectID: "p2", Status: models.TaskStatus("moderating"), CreatedAt: base.Add(4 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, s.CreateTask(ctx, &seed[i]))
	}

	open, err := s.ListTasksByStatus(ctx, "", models.NonTerminalStatuses, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, taskIDs(open))

	limited, err := s.ListTasksByStatus(ctx, "", models.NonTerminalStatuses, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, taskIDs(limited))

	byProject, err := s.ListTasksByStatus(ctx, "p2", []models.TaskStatus{models.TaskStatusCompleted}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, taskIDs(byProject))

	unfinished, err := s.ListOpenTasks(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "t4"}, taskIDs(unfinished))

	// The project filter applies before the limit.
	scoped, err := s.ListOpenTasks(ctx, "p2", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"t4"}, taskIDs(scoped))

	byIDs, err := s.ListTasksByIDs(ctx, []string{"t4", "nope", "t2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t4", "t2"}, taskIDs(byIDs))

	byScene, err := s.ListTasksByScene(ctx, "sc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, taskIDs(byScene))
}

func TestMemoryStore_ListUnreconciledTasks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	for _, seed := range []models.Task{
		{ID: "old", ProjectID: "p1", Status: models.TaskStatusCompleted},
		{ID: "other", ProjectID: "p2", Status: models.TaskStatusCompleted},
		{ID: "open", ProjectID: "p1", Status: models.TaskStatusProcessing},
		{ID: "new", ProjectID: "p1", Status: models.TaskStatusCompleted},
	} {
		seed := seed
		require.NoError(t, s.CreateTask(ctx, &seed))
		clock = clock.Add(time.Minute)
	}

	pending, err := s.ListUnreconciledTasks(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "other", "new"}, taskIDs(pending))

	done := clock
	_, err = s.UpdateTask(ctx, "other", models.TaskUpdate{ReconciledAt: &done})
	require.NoError(t, err)

	// Touching a task moves it to the back of the queue.
	_, err = s.UpdateTask(ctx, "old", models.TaskUpdate{})
	require.NoError(t, err)

	pending, err = s.ListUnreconciledTasks(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, taskIDs(pending))

	scoped, err := s.ListUnreconciledTasks(ctx, "p2", 0)
	require.NoError(t, err)
	assert.Empty(t, scoped)

	first, err := s.ListUnreconciledTasks(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, taskIDs(first))

	got, err := s.GetTask(ctx, "other")
	require.NoError(t, err)
	require.NotNil(t, got.ReconciledAt)
	assert.True(t, done.Equal(*got.ReconciledAt))
}

func TestMemoryStore_EntitiesCloneMetadata(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	shot := &models.Shot{ID: "s1", ProjectID: "p1", Metadata: models.Metadata{"note": []byte(`"keep"`)}}
	require.NoError(t, s.SaveShot(ctx, shot))
	assert.False(t, shot.UpdatedAt.IsZero())

	shot.Metadata["note"] = []byte(`"changed"`)
	got, err := s.GetShot(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `"keep"`, string(got.Metadata["note"]))

	require.NoError(t, s.SaveScene(ctx, &models.Scene{ID: "sc1", ProjectID: "p1"}))
	scene, err := s.GetScene(ctx, "sc1")
	require.NoError(t, err)
	assert.Equal(t, "p1", scene.ProjectID)

	require.NoError(t, s.SaveCharacter(ctx, &models.Character{ID: "c1", UserID: "u1", Name: "Mara"}))
	ch, err := s.GetCharacter(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Mara", ch.Name)

	_, err = s.GetShot(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetScene(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCharacter(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func taskIDs(tasks []*models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}
