package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storyboard-backend/internal/models"
	"storyboard-backend/internal/services"
)

func aggTask(id string, status models.TaskStatus, progress int, offset time.Duration) *models.Task {
	return &models.Task{
		ID:        id,
		Status:    status,
		Progress:  progress,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
	}
}

func TestComputeSceneAggregate(t *testing.T) {
	cases := []struct {
		name     string
		tasks    []*models.Task
		status   models.AggregateStatus
		progress int
	}{
		{
			name:   "empty",
			status: models.AggregateProcessing,
		},
		{
			name: "all completed",
			tasks: []*models.Task{
				aggTask("a", models.TaskStatusCompleted, 80, 0),
				aggTask("b", models.TaskStatusCompleted, 100, time.Second),
			},
			status:   models.AggregateSuccess,
			progress: 100,
		},
		{
			name: "failure dominates",
			tasks: []*models.Task{
				aggTask("a", models.TaskStatusCompleted, 100, 0),
				aggTask("b", models.TaskStatusFailed, 20, time.Second),
				aggTask("c", models.TaskStatusProcessing, 30, 2*time.Second),
			},
			status:   models.AggregateFailed,
			progress: 50,
		},
		{
			name: "in flight mix",
			tasks: []*models.Task{
				aggTask("a", models.TaskStatusQueued, 0, 0),
				aggTask("b", models.TaskStatusProcessing, 50, time.Second),
				aggTask("c", models.TaskStatusCompleted, 10, 2*time.Second),
			},
			status:   models.AggregateProcessing,
			progress: 50,
		},
		{
			name: "rounded mean",
			tasks: []*models.Task{
				aggTask("a", models.TaskStatusProcessing, 33, 0),
				aggTask("b", models.TaskStatusProcessing, 34, time.Second),
			},
			status:   models.AggregateProcessing,
			progress: 34,
		},
		{
			name: "out of range progress is clamped",
			tasks: []*models.Task{
				aggTask("a", models.TaskStatusProcessing, 250, 0),
				aggTask("b", models.TaskStatusProcessing, -10, time.Second),
			},
			status:   models.AggregateProcessing,
			progress: 50,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := services.ComputeSceneAggregate(tc.tasks)
			assert.Equal(t, tc.status, gen.Status)
			assert.Equal(t, tc.progress, gen.Progress)
			assert.Len(t, gen.Tasks, len(tc.tasks))
		})
	}
}

func TestComputeSceneAggregate_RepresentativeTask(t *testing.T) {
	gen := services.ComputeSceneAggregate([]*models.Task{
		aggTask("newest", models.TaskStatusProcessing, 10, 5*time.Second),
		aggTask("oldest", models.TaskStatusProcessing, 10, 0),
	})
	assert.Equal(t, "newest", gen.TaskID)
	assert.Equal(t, []string{"newest", "oldest"}, gen.Tasks)
}

func TestComputeSceneAggregate_VideoURLOnlyForSingleTask(t *testing.T) {
	one := aggTask("a", models.TaskStatusCompleted, 100, 0)
	one.ProviderURL = "https://provider/a.mp4"
	one.DurableURL = "https://storage/a.mp4"

	gen := services.ComputeSceneAggregate([]*models.Task{one})
	assert.Equal(t, "https://storage/a.mp4", gen.VideoURL)

	two := aggTask("b", models.TaskStatusCompleted, 100, time.Second)
	two.DurableURL = "https://storage/b.mp4"
	gen = services.ComputeSceneAggregate([]*models.Task{one, two})
	assert.Empty(t, gen.VideoURL)
	assert.Equal(t, models.AggregateSuccess, gen.Status)
}

func TestSceneRollup_PreservesOtherMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveScene(ctx, &models.Scene{
		ID:        "scene-1",
		ProjectID: testProject,
		Metadata:  models.Metadata{"mood": json.RawMessage(`"noir"`)},
	}))
	h.task(models.Task{ID: "t1", SceneID: "scene-1", ShotID: "s1", Status: models.TaskStatusProcessing, Progress: 40})

	gen, err := h.svc.Rollup().Rollup(ctx, "scene-1")
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, 40, gen.Progress)

	scene, err := h.store.GetScene(ctx, "scene-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"noir"`, string(scene.Metadata["mood"]))
	stored, ok, err := scene.Metadata.SoraGeneration()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", stored.TaskID)

	assert.Len(t, h.events.ofType(models.EventSceneRollup), 1)
}

func TestSceneRollup_NoTasksLeavesSceneAlone(t *testing.T) {
	h := newHarness(t)
	h.scene("scene-1")

	gen, err := h.svc.Rollup().Rollup(context.Background(), "scene-1")
	require.NoError(t, err)
	assert.Nil(t, gen)

	_, ok := h.sceneGeneration("scene-1")
	assert.False(t, ok)
	assert.Empty(t, h.events.ofType(models.EventSceneRollup))
}

func TestSceneRollup_MissingScene(t *testing.T) {
	h := newHarness(t)
	h.task(models.Task{ID: "t1", SceneID: "ghost", ShotID: "s1"})

	gen, err := h.svc.Rollup().Rollup(context.Background(), "ghost")
	require.NoError(t, err)
	require.NotNil(t, gen, "aggregate is still computed")
	assert.Equal(t, models.AggregateProcessing, gen.Status)
}
